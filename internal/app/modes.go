package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/veilbid/auctiond/internal/engine"
	"github.com/veilbid/auctiond/internal/notify"
	"github.com/veilbid/auctiond/internal/pipeline"
	"github.com/veilbid/auctiond/internal/server"
	"github.com/veilbid/auctiond/internal/server/handler"
	"github.com/veilbid/auctiond/internal/server/ws"
)

// ServeMode runs the auction engine behind the HTTP + WebSocket API, together
// with the notification bridge and, when archival is enabled, the in-process
// archival worker.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	eng := engine.New(engine.Config{
		Escrow:            a.cfg.EscrowAccount(),
		StartGrace:        a.cfg.Engine.StartGrace.Duration,
		AllowRecommit:     a.cfg.Engine.AllowRecommit,
		ForfeitUnrevealed: a.cfg.Engine.ForfeitUnrevealed,
	}, deps.AuctionStore, deps.BidStore, deps.Payments, deps.Assets, a.logger).
		WithBus(deps.SignalBus).
		WithBlacklist(deps.Blacklist)
	if deps.AuditStore != nil {
		eng = eng.WithAudit(deps.AuditStore)
	}

	// Fan engine events out to the configured notification channels.
	bridge := notify.NewBridge(deps.SignalBus, deps.Notifier, a.logger)
	g.Go(func() error {
		return bridge.Run(ctx)
	})

	// Single-binary deployments drain the ended-auction stream in-process;
	// larger ones run a separate archive-mode replica instead.
	if a.cfg.Archive.Enabled && deps.ArchiveStore != nil {
		a.startArchiveWorker(ctx, g, deps)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// ArchiveMode runs only the archival side: the stream drainer feeding
// Postgres and S3, plus the cron-scheduled monthly rollup when snapshots are
// enabled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startArchiveWorker(ctx, g, deps)

	if deps.SnapshotWriter != nil && a.cfg.Archive.RollupCron != "" {
		rollup := pipeline.NewRollup(deps.SnapshotWriter, deps.ArchiveStore, a.logger)
		g.Go(func() error {
			return rollup.RunCron(ctx, a.cfg.Archive.RollupCron)
		})
	}

	return g.Wait()
}

// startArchiveWorker adds the ended-auction stream drainer to the errgroup.
func (a *App) startArchiveWorker(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	var snapshot pipeline.SnapshotSink
	if deps.SnapshotWriter != nil {
		snapshot = deps.SnapshotWriter
	}

	worker := pipeline.NewWorker(
		deps.SignalBus,
		deps.ArchiveStore,
		snapshot,
		deps.LockManager,
		pipeline.WorkerConfig{
			PollInterval: a.cfg.Archive.PollInterval.Duration,
			BatchSize:    a.cfg.Archive.BatchSize,
		},
		a.logger,
	)
	g.Go(func() error {
		return worker.Run(ctx)
	})
}

// startHTTPServer adds the API server and the WebSocket hub to the errgroup.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Engine) {
	started := time.Now().UTC()
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: started,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:   handler.NewHealthHandler(a.cfg.Mode, started),
		Auctions: handler.NewAuctionHandler(eng, a.logger),
		Bids:     handler.NewBidHandler(eng, a.logger),
	}
	if deps.ArchiveStore != nil {
		var audit handler.AuditLister
		if deps.AuditStore != nil {
			audit = deps.AuditStore
		}
		handlers.Archive = handler.NewArchiveHandler(deps.ArchiveStore, audit, a.logger)
	}
	if a.cfg.Server.AdminAPIKey != "" {
		handlers.Admin = handler.NewAdminHandler(deps.Blacklist, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:                  a.cfg.Server.Port,
		CORSOrigins:           a.cfg.Server.CORSOrigins,
		AdminAPIKey:           a.cfg.Server.AdminAPIKey,
		RequireSignedRequests: a.cfg.Server.RequireSignedRequests,
		RateLimit:             a.cfg.Server.RateLimit,
		RateLimitWindow:       a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
