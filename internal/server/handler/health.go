package handler

import (
	"net/http"
	"time"
)

// HealthHandler serves the liveness endpoint with enough identity for an
// operator to tell which replica and mode answered.
type HealthHandler struct {
	mode      string
	startedAt time.Time
}

// NewHealthHandler creates a HealthHandler for a process started at
// startedAt running in the given mode.
func NewHealthHandler(mode string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: startedAt}
}

// HealthCheck reports the service status.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	uptime := int64(time.Since(h.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"service":        "auctiond",
		"mode":           h.mode,
		"uptime_seconds": uptime,
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}
