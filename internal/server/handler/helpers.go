package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/veilbid/auctiond/internal/domain"
	"github.com/veilbid/auctiond/internal/server/middleware"
)

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}

// parseUint parses a decimal uint64 path or query parameter.
func parseUint(s string) (uint64, error) {
	return strconv.ParseUint(s, 10, 64)
}

// parseAddress validates and parses a hex account address.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// parseInstanceID parses a decimal asset instance id.
func parseInstanceID(s string) (*uint256.Int, error) {
	id, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid instance id %q", s)
	}
	return id, nil
}

// resolveCaller determines the acting account for a mutating request. A
// verified request signer always wins; a body-supplied caller must then
// match it. Unsigned requests fall back to the body field.
func resolveCaller(r *http.Request, bodyCaller string) (common.Address, error) {
	if signer, ok := middleware.SignerFromContext(r.Context()); ok {
		if bodyCaller != "" {
			claimed, err := parseAddress(bodyCaller)
			if err != nil {
				return common.Address{}, err
			}
			if claimed != signer {
				return common.Address{}, fmt.Errorf("caller does not match request signer")
			}
		}
		return signer, nil
	}
	if bodyCaller == "" {
		return common.Address{}, fmt.Errorf("missing caller address")
	}
	return parseAddress(bodyCaller)
}

// errorStatus maps engine sentinel errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNoSuchAuction),
		errors.Is(err, domain.ErrNoSuchBid),
		errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidWindow),
		errors.Is(err, domain.ErrCommitmentMismatch):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSellerNotAuthorized),
		errors.Is(err, domain.ErrSellerBlacklisted),
		errors.Is(err, domain.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrAuctionNotInBiddingPeriod),
		errors.Is(err, domain.ErrAuctionNotInRevealPeriod),
		errors.Is(err, domain.ErrAuctionNotYetEnded),
		errors.Is(err, domain.ErrAlreadyEnded),
		errors.Is(err, domain.ErrAlreadyRevealed),
		errors.Is(err, domain.ErrDuplicateBid),
		errors.Is(err, domain.ErrNothingToWithdraw):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientAllowance),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrInsufficientCollateral),
		errors.Is(err, domain.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
