package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/veilbid/auctiond/internal/blob/s3"
	"github.com/veilbid/auctiond/internal/domain"
)

// Rollup runs the monthly JSONL export of archived auctions on a cron
// schedule.
type Rollup struct {
	archiver *s3blob.SnapshotWriter
	store    domain.ArchiveStore
	logger   *slog.Logger
}

// NewRollup creates a Rollup.
func NewRollup(archiver *s3blob.SnapshotWriter, store domain.ArchiveStore, logger *slog.Logger) *Rollup {
	return &Rollup{
		archiver: archiver,
		store:    store,
		logger:   logger.With(slog.String("component", "rollup")),
	}
}

// Run executes a single rollup covering everything settled before now.
func (r *Rollup) Run(ctx context.Context) error {
	cutoff := time.Now().UTC()
	count, err := r.archiver.ArchiveMonth(ctx, r.store, cutoff)
	if err != nil {
		return fmt.Errorf("pipeline: rollup before %v: %w", cutoff, err)
	}
	r.logger.InfoContext(ctx, "rollup complete",
		slog.Time("cutoff", cutoff),
		slog.Int64("count", count),
	)
	return nil
}

// RunCron runs the rollup on a cron schedule until the context is cancelled.
// It supports cron expressions in the standard 5-field format:
// "minute hour day-of-month month day-of-week"
//
// Example: "0 3 1 * *" runs at 3:00 AM on the 1st of every month.
func (r *Rollup) RunCron(ctx context.Context, cronExpr string) error {
	r.logger.InfoContext(ctx, "rollup cron started", slog.String("cron", cronExpr))

	for {
		next, err := nextCronTime(cronExpr, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("pipeline: parse cron expression %q: %w", cronExpr, err)
		}

		waitDuration := time.Until(next)
		r.logger.InfoContext(ctx, "rollup waiting for next cron trigger",
			slog.Time("next_run", next),
			slog.Duration("wait", waitDuration),
		)

		timer := time.NewTimer(waitDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.InfoContext(ctx, "rollup cron stopped")
			return ctx.Err()
		case <-timer.C:
			if err := r.Run(ctx); err != nil {
				r.logger.ErrorContext(ctx, "rollup run failed", slog.String("error", err.Error()))
			}
		}
	}
}
