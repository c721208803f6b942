package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/veilbid/auctiond/internal/blob/s3"
	"github.com/veilbid/auctiond/internal/cache/redis"
	"github.com/veilbid/auctiond/internal/config"
	"github.com/veilbid/auctiond/internal/domain"
	"github.com/veilbid/auctiond/internal/notify"
	"github.com/veilbid/auctiond/internal/store/memory"
	"github.com/veilbid/auctiond/internal/store/postgres"
	"github.com/veilbid/auctiond/internal/token"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Live auction state and token ledgers (serve mode only).
	AuctionStore domain.AuctionStore
	BidStore     domain.BidStore
	Payments     token.FungibleLedger
	Assets       token.AssetRegistry

	// Redis
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	Blacklist   domain.Blacklist

	// Durable archive (only when archival is wired)
	ArchiveStore domain.ArchiveStore
	AuditStore   *postgres.AuditStore

	// Blob storage (only when snapshots are enabled)
	BlobWriter     domain.BlobWriter
	BlobReader     domain.BlobReader
	SnapshotWriter *s3blob.SnapshotWriter

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true when the configuration requires a database
// connection: always in archive mode, and in serve mode when the in-process
// archival pipeline is enabled.
func needsPostgres(cfg *config.Config) bool {
	if strings.ToLower(cfg.Mode) == "archive" {
		return true
	}
	return cfg.Archive.Enabled
}

// needsS3 returns true when the configuration requires object storage.
func needsS3(cfg *config.Config) bool {
	return needsPostgres(cfg) && cfg.Archive.SnapshotsEnabled
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (durable archive) ---
	if needsPostgres(cfg) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.ArchiveStore = postgres.NewArchiveStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	}

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	streamMaxLen := int64(10000)
	if cfg.Redis.StreamMaxLen > 0 {
		streamMaxLen = int64(cfg.Redis.StreamMaxLen)
	}

	deps.SignalBus = redis.NewSignalBus(redisClient, streamMaxLen)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	blacklist, err := redis.NewBlacklist(ctx, redisClient, cfg.BlacklistAccounts())
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: seed blacklist: %w", err)
	}
	deps.Blacklist = blacklist

	// --- Live stores and token ledgers (serve mode) ---
	// The in-process ledgers are the settlement boundary of the local
	// deployment; chain-backed implementations plug in through the same
	// interfaces.
	if strings.ToLower(cfg.Mode) == "serve" {
		store := memory.NewStore()
		deps.AuctionStore = store
		deps.BidStore = store
		deps.Payments = token.NewMemoryLedger()
		deps.Assets = token.NewMemoryRegistry()
	}

	// --- S3 blob storage (snapshots) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		var audit domain.AuditStore
		if deps.AuditStore != nil {
			audit = deps.AuditStore
		}
		deps.SnapshotWriter = s3blob.NewSnapshotWriter(deps.BlobWriter, audit)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Nats.Enabled {
		natsSender, err := notify.NewNatsSender(cfg.Nats.URL, cfg.Nats.SubjectOrDefault())
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: nats: %w", err)
		}
		closers = append(closers, natsSender.Close)
		senders = append(senders, natsSender)
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
