// Package server hosts the HTTP + WebSocket API in front of the auction
// engine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/veilbid/auctiond/internal/domain"
	"github.com/veilbid/auctiond/internal/server/handler"
	"github.com/veilbid/auctiond/internal/server/middleware"
	"github.com/veilbid/auctiond/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// AdminAPIKey guards the /api/admin routes; empty leaves them
	// unregistered.
	AdminAPIKey string
	// RequireSignedRequests rejects unsigned mutating calls.
	RequireSignedRequests bool
	// RateLimit caps requests per client per RateLimitWindow; zero disables.
	RateLimit       int
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health   *handler.HealthHandler
	Auctions *handler.AuctionHandler
	Bids     *handler.BidHandler
	Archive  *handler.ArchiveHandler // optional
	Admin    *handler.AdminHandler   // optional
}

// Server is the headless HTTP + WebSocket API server for the auction engine.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, identity, rate limiting) and
// attaches the WebSocket hub. limiter may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// --- Register routes ---

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Auction lifecycle.
	mux.HandleFunc("GET /api/auctions", handlers.Auctions.ListAuctions)
	mux.HandleFunc("POST /api/auctions", handlers.Auctions.CreateAuction)
	mux.HandleFunc("GET /api/auctions/ended", handlers.Auctions.ListEndedAuctions)
	mux.HandleFunc("GET /api/auctions/{collection}/{instance}", handlers.Auctions.GetAuction)
	mux.HandleFunc("GET /api/auctions/{collection}/{instance}/{index}", handlers.Auctions.GetAuctionAt)
	mux.HandleFunc("POST /api/auctions/{collection}/{instance}/end", handlers.Auctions.EndAuction)

	// Sealed bids.
	mux.HandleFunc("POST /api/bids/commit", handlers.Bids.CommitBid)
	mux.HandleFunc("POST /api/bids/reveal", handlers.Bids.RevealBid)
	mux.HandleFunc("POST /api/bids/withdraw", handlers.Bids.WithdrawCollateral)
	mux.HandleFunc("GET /api/auctions/{collection}/{instance}/{index}/bids/{bidder}", handlers.Bids.GetBid)

	// Historical archive.
	if handlers.Archive != nil {
		mux.HandleFunc("GET /api/archive/auctions", handlers.Archive.ListArchived)
		mux.HandleFunc("GET /api/archive/audit", handlers.Archive.ListAudit)
	}

	// Operator endpoints, key-guarded.
	if handlers.Admin != nil && cfg.AdminAPIKey != "" {
		adminMux := http.NewServeMux()
		adminMux.HandleFunc("POST /api/admin/blacklist", handlers.Admin.AddToBlacklist)
		adminMux.HandleFunc("DELETE /api/admin/blacklist/{seller}", handlers.Admin.RemoveFromBlacklist)
		adminMux.HandleFunc("GET /api/admin/blacklist/{seller}", handlers.Admin.CheckBlacklist)
		mux.Handle("/api/admin/", middleware.AdminAuth(cfg.AdminAPIKey)(adminMux))
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux

	// Verify request signatures and stash the caller identity.
	h = middleware.Identity(cfg.RequireSignedRequests)(h)

	// Per-client rate limiting.
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateLimitWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}

	// Request logging.
	h = middleware.Logging(logger)(h)

	// CORS.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
