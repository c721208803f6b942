package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilbid/auctiond/internal/domain"
)

// AuditLister provides read access to the audit log.
type AuditLister interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// ArchiveHandler serves historical queries against the durable archive.
type ArchiveHandler struct {
	archive domain.ArchiveStore
	audit   AuditLister // optional
	logger  *slog.Logger
}

// NewArchiveHandler creates an ArchiveHandler. audit may be nil when the
// audit log is not persisted.
func NewArchiveHandler(archive domain.ArchiveStore, audit AuditLister, logger *slog.Logger) *ArchiveHandler {
	return &ArchiveHandler{archive: archive, audit: audit, logger: logger}
}

// listArchiveResponse wraps the archive list output with metadata.
type listArchiveResponse struct {
	Auctions []domain.Auction `json:"auctions"`
	Total    int64            `json:"total"`
	Limit    int              `json:"limit"`
	Offset   int              `json:"offset"`
}

// ListArchived returns archived settled auctions with pagination and
// optional ?since / ?until RFC 3339 filters.
// GET /api/archive/auctions
func (h *ArchiveHandler) ListArchived(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid since, want RFC 3339")
			return
		}
		opts.Since = &t
	}
	if v := r.URL.Query().Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid until, want RFC 3339")
			return
		}
		opts.Until = &t
	}

	auctions, err := h.archive.ListEnded(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list archive failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list archived auctions")
		return
	}

	total, err := h.archive.Count(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: count archive failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to count archived auctions")
		return
	}

	writeJSON(w, http.StatusOK, listArchiveResponse{
		Auctions: auctions,
		Total:    total,
		Limit:    opts.Limit,
		Offset:   opts.Offset,
	})
}

// ListAudit returns audit log entries, newest first.
// GET /api/archive/audit
func (h *ArchiveHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusNotFound, "audit log not persisted")
		return
	}

	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
