package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
)

// BidEngine defines the engine methods the bid handler requires.
type BidEngine interface {
	CommitBid(ctx context.Context, bidder, assetCollection common.Address, assetInstanceID *uint256.Int, commitment domain.Commitment, collateral domain.Amount) error
	RevealBid(ctx context.Context, bidder, assetCollection common.Address, assetInstanceID *uint256.Int, bidValue domain.Amount, nonce domain.Nonce) error
	WithdrawCollateral(ctx context.Context, bidder, assetCollection common.Address, assetInstanceID *uint256.Int, index uint64) (domain.Amount, error)
	GetBid(ctx context.Context, assetCollection common.Address, assetInstanceID *uint256.Int, index uint64, bidder common.Address) (domain.Bid, error)
}

// BidHandler serves the commit / reveal / withdraw endpoints.
type BidHandler struct {
	engine BidEngine
	logger *slog.Logger
}

// NewBidHandler creates a BidHandler.
func NewBidHandler(engine BidEngine, logger *slog.Logger) *BidHandler {
	return &BidHandler{engine: engine, logger: logger}
}

// commitBidRequest is the JSON body for committing a sealed bid.
type commitBidRequest struct {
	Bidder          string `json:"bidder"`
	AssetCollection string `json:"asset_collection"`
	AssetInstanceID string `json:"asset_instance_id"`
	Commitment      string `json:"commitment"`
	Collateral      string `json:"collateral"`
}

// CommitBid records a sealed bid against the latest auction of an asset.
// POST /api/bids/commit
func (h *BidHandler) CommitBid(w http.ResponseWriter, r *http.Request) {
	var req commitBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bidder, err := resolveCaller(r, req.Bidder)
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
	commitment, err := domain.ParseCommitment(req.Commitment)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid commitment")
		return
	}
	collateral, err := domain.ParseAmount(req.Collateral)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid collateral amount")
		return
	}

	if err := h.engine.CommitBid(r.Context(), bidder, collection, instance, commitment, collateral); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: commit bid failed",
			slog.String("bidder", bidder.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "committed"})
}

// revealBidRequest is the JSON body for revealing a sealed bid.
type revealBidRequest struct {
	Bidder          string `json:"bidder"`
	AssetCollection string `json:"asset_collection"`
	AssetInstanceID string `json:"asset_instance_id"`
	BidValue        string `json:"bid_value"`
	Nonce           string `json:"nonce"`
}

// RevealBid opens a previously committed bid during the reveal window.
// POST /api/bids/reveal
func (h *BidHandler) RevealBid(w http.ResponseWriter, r *http.Request) {
	var req revealBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bidder, err := resolveCaller(r, req.Bidder)
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
	bidValue, err := domain.ParseAmount(req.BidValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid bid value")
		return
	}
	nonce, err := domain.ParseNonce(req.Nonce)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid nonce")
		return
	}

	if err := h.engine.RevealBid(r.Context(), bidder, collection, instance, bidValue, nonce); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: reveal bid failed",
			slog.String("bidder", bidder.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "revealed"})
}

// withdrawRequest is the JSON body for withdrawing collateral.
type withdrawRequest struct {
	Bidder          string `json:"bidder"`
	AssetCollection string `json:"asset_collection"`
	AssetInstanceID string `json:"asset_instance_id"`
	AuctionIndex    uint64 `json:"auction_index"`
}

// WithdrawCollateral returns a bidder's refundable collateral after
// settlement.
// POST /api/bids/withdraw
func (h *BidHandler) WithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}

	bidder, err := resolveCaller(r, req.Bidder)
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

	refund, err := h.engine.WithdrawCollateral(r.Context(), bidder, collection, instance, req.AuctionIndex)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: withdraw failed",
			slog.String("bidder", bidder.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "withdrawn",
		"refund": refund,
	})
}

// GetBid returns one bidder's record in one auction round. Commitments are
// public; bid values never appear unless revealed on-record.
// GET /api/auctions/{collection}/{instance}/{index}/bids/{bidder}
func (h *BidHandler) GetBid(w http.ResponseWriter, r *http.Request) {
	collection, err := parseAddress(pathParam(r, "collection"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	instance, err := parseInstanceID(pathParam(r, "instance"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	index, err := parseUint(pathParam(r, "index"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid auction index")
		return
	}
	bidder, err := parseAddress(pathParam(r, "bidder"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	bid, err := h.engine.GetBid(r.Context(), collection, instance, index, bidder)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, bid)
}
