package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
)

// AuctionEngine defines the engine methods the auction handler requires. It
// is declared locally so the handler package does not depend on the concrete
// engine implementation.
type AuctionEngine interface {
	CreateAuction(ctx context.Context, seller, assetCollection common.Address, assetInstanceID *uint256.Int, paymentToken common.Address, startTime time.Time, bidPeriod, revealPeriod time.Duration, reservePrice domain.Amount) (domain.Auction, error)
	EndAuction(ctx context.Context, caller, assetCollection common.Address, assetInstanceID *uint256.Int) (domain.Auction, error)
	GetAuction(ctx context.Context, assetCollection common.Address, assetInstanceID *uint256.Int) (domain.Auction, error)
	GetAuctionAt(ctx context.Context, assetCollection common.Address, assetInstanceID *uint256.Int, index uint64) (domain.Auction, error)
	GetAllAuctions(ctx context.Context) ([]domain.Auction, error)
	GetEndedAuctions(ctx context.Context) ([]domain.Auction, error)
}

// AuctionHandler serves auction lifecycle HTTP endpoints.
type AuctionHandler struct {
	engine AuctionEngine
	clock  func() time.Time
	logger *slog.Logger
}

// NewAuctionHandler creates an AuctionHandler.
func NewAuctionHandler(engine AuctionEngine, logger *slog.Logger) *AuctionHandler {
	return &AuctionHandler{
		engine: engine,
		clock:  time.Now,
		logger: logger,
	}
}

// createAuctionRequest is the JSON body for opening an auction.
type createAuctionRequest struct {
	Seller          string `json:"seller"`
	AssetCollection string `json:"asset_collection"`
	AssetInstanceID string `json:"asset_instance_id"`
	PaymentToken    string `json:"payment_token"`
	// StartTime is RFC 3339; empty means "start now".
	StartTime        string `json:"start_time,omitempty"`
	BidPeriodSecs    int64  `json:"bid_period_secs"`
	RevealPeriodSecs int64  `json:"reveal_period_secs"`
	ReservePrice     string `json:"reserve_price"`
}

// auctionResponse decorates an auction record with its current phase.
type auctionResponse struct {
	domain.Auction
	Phase domain.Phase `json:"phase"`
}

// CreateAuction opens a new auction for an asset the caller owns.
// POST /api/auctions
func (h *AuctionHandler) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var req createAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	seller, err := resolveCaller(r, req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	collection, err := parseAddress(req.AssetCollection)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instance, err := parseInstanceID(req.AssetInstanceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payToken, err := parseAddress(req.PaymentToken)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	reserve, err := domain.ParseAmount(req.ReservePrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid reserve price")
		return
	}

	var start time.Time
	if req.StartTime != "" {
		start, err = time.Parse(time.RFC3339, req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time, want RFC 3339")
			return
		}
	}

	a, err := h.engine.CreateAuction(r.Context(), seller, collection, instance, payToken, start,
		time.Duration(req.BidPeriodSecs)*time.Second,
		time.Duration(req.RevealPeriodSecs)*time.Second,
		reserve,
	)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create auction failed",
			slog.String("seller", seller.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, h.decorate(a))
}

// ListAuctions returns every known auction, newest first.
// GET /api/auctions
func (h *AuctionHandler) ListAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.engine.GetAllAuctions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list auctions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list auctions")
		return
	}
	writeJSON(w, http.StatusOK, h.decorateAll(auctions))
}

// ListEndedAuctions returns every settled auction, newest first.
// GET /api/auctions/ended
func (h *AuctionHandler) ListEndedAuctions(w http.ResponseWriter, r *http.Request) {
	auctions, err := h.engine.GetEndedAuctions(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list ended auctions failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list ended auctions")
		return
	}
	writeJSON(w, http.StatusOK, h.decorateAll(auctions))
}

// GetAuction returns the latest auction of an asset.
// GET /api/auctions/{collection}/{instance}
func (h *AuctionHandler) GetAuction(w http.ResponseWriter, r *http.Request) {
	collection, instance, ok := h.assetParams(w, r)
	if !ok {
		return
	}

	a, err := h.engine.GetAuction(r.Context(), collection, instance)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.decorate(a))
}

// GetAuctionAt returns one specific auction round of an asset.
// GET /api/auctions/{collection}/{instance}/{index}
func (h *AuctionHandler) GetAuctionAt(w http.ResponseWriter, r *http.Request) {
	collection, instance, ok := h.assetParams(w, r)
	if !ok {
		return
	}
	index, err := parseUint(pathParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction index")
		return
	}

	a, err := h.engine.GetAuctionAt(r.Context(), collection, instance, index)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.decorate(a))
}

// endAuctionRequest is the JSON body for settlement.
type endAuctionRequest struct {
	Caller string `json:"caller"`
}

// EndAuction settles the latest auction of an asset once its reveal window
// has elapsed. Anyone may call it.
// POST /api/auctions/{collection}/{instance}/end
func (h *AuctionHandler) EndAuction(w http.ResponseWriter, r *http.Request) {
	collection, instance, ok := h.assetParams(w, r)
	if !ok {
		return
	}

	// The body is optional: signed requests carry the caller in the header.
	var req endAuctionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, err := resolveCaller(r, req.Caller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	a, err := h.engine.EndAuction(r.Context(), caller, collection, instance)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: end auction failed",
			slog.String("collection", collection.Hex()),
			slog.String("instance", instance.Dec()),
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.decorate(a))
}

// assetParams parses the {collection}/{instance} path parameters, writing an
// error response on failure.
func (h *AuctionHandler) assetParams(w http.ResponseWriter, r *http.Request) (common.Address, *uint256.Int, bool) {
	collection, err := parseAddress(pathParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, false
	}
	instance, err := parseInstanceID(pathParam(r, "instance"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return common.Address{}, nil, false
	}
	return collection, instance, true
}

func (h *AuctionHandler) decorate(a domain.Auction) auctionResponse {
	return auctionResponse{Auction: a, Phase: a.PhaseAt(h.clock())}
}

func (h *AuctionHandler) decorateAll(auctions []domain.Auction) []auctionResponse {
	now := h.clock()
	out := make([]auctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, auctionResponse{Auction: a, Phase: a.PhaseAt(now)})
	}
	return out
}
