// Package pipeline contains the archival workers that move settled auctions
// from the durable event stream into long-term storage: the stream drainer
// feeding Postgres and S3, and the cron-scheduled monthly rollup.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veilbid/auctiond/internal/domain"
)

// drainLockKey is the distributed lease guarding the ended-auction stream so
// only one worker replica drains it at a time.
const drainLockKey = "pipeline:drain"

// drainLockTTL must comfortably exceed one poll cycle.
const drainLockTTL = 2 * time.Minute

// SnapshotSink receives settled auctions for object-storage snapshots.
type SnapshotSink interface {
	WriteSnapshot(ctx context.Context, a domain.Auction, bids []domain.Bid) error
}

// Worker drains the durable ended-auction stream and archives each settled
// auction: a row set in Postgres, and optionally a JSON snapshot in object
// storage. Stream payloads are self-contained settlement records, so the
// worker runs with no access to the live store. The stream is at-least-once
// and the archive upserts, so crashing mid-batch and reprocessing is safe.
type Worker struct {
	bus      domain.SignalBus
	archive  domain.ArchiveStore
	snapshot SnapshotSink       // optional
	locks    domain.LockManager // optional
	logger   *slog.Logger

	pollInterval time.Duration
	batchSize    int

	// cursor is the last processed stream id. It is deliberately in-memory:
	// after a restart the worker re-reads from the stream start and the
	// idempotent upserts absorb the duplicates.
	cursor string
}

// WorkerConfig holds the archival worker parameters.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
}

// NewWorker creates an archival Worker. snapshot and locks may be nil.
func NewWorker(
	bus domain.SignalBus,
	archive domain.ArchiveStore,
	snapshot SnapshotSink,
	locks domain.LockManager,
	cfg WorkerConfig,
	logger *slog.Logger,
) *Worker {
	return &Worker{
		bus:          bus,
		archive:      archive,
		snapshot:     snapshot,
		locks:        locks,
		logger:       logger.With(slog.String("component", "archive_worker")),
		pollInterval: cfg.PollInterval,
		batchSize:    cfg.BatchSize,
		cursor:       "0",
	}
}

// Run polls the ended-auction stream until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "archival worker started",
		slog.Duration("poll_interval", w.pollInterval),
		slog.Int("batch_size", w.batchSize),
	)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.InfoContext(ctx, "archival worker stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := w.drainOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.ErrorContext(ctx, "drain failed", slog.String("error", err.Error()))
			}
		}
	}
}

// drainOnce reads one batch from the stream under the replica lease and
// archives every settlement record it carries.
func (w *Worker) drainOnce(ctx context.Context) error {
	if w.locks != nil {
		unlock, err := w.locks.Acquire(ctx, drainLockKey, drainLockTTL)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				// Another replica is draining.
				return nil
			}
			return fmt.Errorf("pipeline: acquire drain lease: %w", err)
		}
		defer unlock()
	}

	msgs, err := w.bus.StreamRead(ctx, domain.StreamAuctionEnded, w.cursor, w.batchSize)
	if err != nil {
		return fmt.Errorf("pipeline: read ended stream: %w", err)
	}

	for _, msg := range msgs {
		if err := w.archiveOne(ctx, msg.Payload); err != nil {
			// Stop at the failed message; the cursor stays behind it so the
			// next cycle retries.
			return err
		}
		w.cursor = msg.ID
	}

	if len(msgs) > 0 {
		w.logger.InfoContext(ctx, "archived batch",
			slog.Int("count", len(msgs)),
			slog.String("cursor", w.cursor),
		)
	}
	return nil
}

// archiveOne persists one settlement record: a Postgres upsert, then a
// best-effort object-storage snapshot.
func (w *Worker) archiveOne(ctx context.Context, payload []byte) error {
	var rec domain.SettlementRecord
	if err := json.Unmarshal(payload, &rec); err != nil {
		// A malformed payload will never parse on retry; log and skip.
		w.logger.WarnContext(ctx, "malformed settlement record, skipping",
			slog.String("error", err.Error()))
		return nil
	}
	key := rec.Auction.Key

	if err := w.archive.InsertAuction(ctx, rec.Auction, rec.Bids); err != nil {
		return fmt.Errorf("pipeline: archive auction %s/%d: %w", key, rec.Auction.Index, err)
	}

	if w.snapshot != nil {
		if err := w.snapshot.WriteSnapshot(ctx, rec.Auction, rec.Bids); err != nil {
			// Postgres already has the record; snapshots are best effort.
			w.logger.WarnContext(ctx, "snapshot failed",
				slog.String("asset", key.String()),
				slog.Uint64("index", rec.Auction.Index),
				slog.String("error", err.Error()))
		}
	}

	w.logger.InfoContext(ctx, "auction archived",
		slog.String("asset", key.String()),
		slog.Uint64("index", rec.Auction.Index),
		slog.Bool("sold", rec.Auction.Sold),
	)
	return nil
}
