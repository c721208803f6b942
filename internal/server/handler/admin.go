package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/veilbid/auctiond/internal/domain"
)

// AdminHandler serves the operator-only endpoints: seller blacklist
// management. The server guards these routes with the admin API key.
type AdminHandler struct {
	blacklist domain.Blacklist
	logger    *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(blacklist domain.Blacklist, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{blacklist: blacklist, logger: logger}
}

// blacklistRequest is the JSON body for blacklist mutations.
type blacklistRequest struct {
	Seller string `json:"seller"`
}

// AddToBlacklist bars a seller from creating auctions.
// POST /api/admin/blacklist
func (h *AdminHandler) AddToBlacklist(w http.ResponseWriter, r *http.Request) {
	var req blacklistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	seller, err := parseAddress(req.Seller)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.blacklist.Add(r.Context(), seller); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: blacklist add failed",
			slog.String("seller", seller.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update blacklist")
		return
	}

	h.logger.InfoContext(r.Context(), "seller blacklisted",
		slog.String("seller", seller.Hex()),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

// RemoveFromBlacklist lifts a seller's ban.
// DELETE /api/admin/blacklist/{seller}
func (h *AdminHandler) RemoveFromBlacklist(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress(pathParam(r, "seller"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.blacklist.Remove(r.Context(), seller); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: blacklist remove failed",
			slog.String("seller", seller.Hex()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update blacklist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

// CheckBlacklist reports whether a seller is currently barred.
// GET /api/admin/blacklist/{seller}
func (h *AdminHandler) CheckBlacklist(w http.ResponseWriter, r *http.Request) {
	seller, err := parseAddress(pathParam(r, "seller"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	banned, err := h.blacklist.Contains(r.Context(), seller)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to query blacklist")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"seller":      seller.Hex(),
		"blacklisted": banned,
	})
}
