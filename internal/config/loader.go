package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies AUCTIOND_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known AUCTIOND_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setStr(&cfg.Engine.EscrowAddress, "AUCTIOND_ENGINE_ESCROW_ADDRESS")
	setBool(&cfg.Engine.AllowRecommit, "AUCTIOND_ENGINE_ALLOW_RECOMMIT")
	setBool(&cfg.Engine.ForfeitUnrevealed, "AUCTIOND_ENGINE_FORFEIT_UNREVEALED")
	setDuration(&cfg.Engine.StartGrace, "AUCTIOND_ENGINE_START_GRACE")
	setStringSlice(&cfg.Engine.Blacklist, "AUCTIOND_ENGINE_BLACKLIST")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "AUCTIOND_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "AUCTIOND_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "AUCTIOND_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "AUCTIOND_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "AUCTIOND_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "AUCTIOND_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "AUCTIOND_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "AUCTIOND_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "AUCTIOND_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "AUCTIOND_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "AUCTIOND_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "AUCTIOND_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "AUCTIOND_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "AUCTIOND_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "AUCTIOND_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "AUCTIOND_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "AUCTIOND_REDIS_STREAM_MAX_LEN")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "AUCTIOND_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "AUCTIOND_S3_REGION")
	setStr(&cfg.S3.Bucket, "AUCTIOND_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "AUCTIOND_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "AUCTIOND_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "AUCTIOND_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "AUCTIOND_S3_FORCE_PATH_STYLE")

	// ── NATS ──
	setBool(&cfg.Nats.Enabled, "AUCTIOND_NATS_ENABLED")
	setStr(&cfg.Nats.URL, "AUCTIOND_NATS_URL")
	setStr(&cfg.Nats.Subject, "AUCTIOND_NATS_SUBJECT")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "AUCTIOND_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "AUCTIOND_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "AUCTIOND_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.AdminAPIKey, "AUCTIOND_SERVER_ADMIN_API_KEY")
	setInt(&cfg.Server.RateLimit, "AUCTIOND_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "AUCTIOND_SERVER_RATE_LIMIT_WINDOW")
	setBool(&cfg.Server.RequireSignedRequests, "AUCTIOND_SERVER_REQUIRE_SIGNED_REQUESTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "AUCTIOND_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.PollInterval, "AUCTIOND_ARCHIVE_POLL_INTERVAL")
	setInt(&cfg.Archive.BatchSize, "AUCTIOND_ARCHIVE_BATCH_SIZE")
	setBool(&cfg.Archive.SnapshotsEnabled, "AUCTIOND_ARCHIVE_SNAPSHOTS_ENABLED")
	setStr(&cfg.Archive.RollupCron, "AUCTIOND_ARCHIVE_ROLLUP_CRON")

	// ── Notify ──
	setStr(&cfg.Notify.DiscordWebhookURL, "AUCTIOND_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "AUCTIOND_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "AUCTIOND_MODE")
	setStr(&cfg.LogLevel, "AUCTIOND_LOG_LEVEL")
}

// setStr overwrites dst when the environment variable is set and non-empty.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the variable parses as an integer.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setBool overwrites dst when the variable parses as a boolean.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration overwrites dst when the variable parses as a duration string.
func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setStringSlice overwrites dst with the comma-separated variable value.
func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		*dst = out
	}
}
