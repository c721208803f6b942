// Package config defines the top-level configuration for auctiond and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by AUCTIOND_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Nats     NatsConfig     `toml:"nats"`
	Server   ServerConfig   `toml:"server"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the auction engine's policy knobs.
type EngineConfig struct {
	// EscrowAddress is the engine's custody account on both token ledgers.
	EscrowAddress string `toml:"escrow_address"`
	// StartGrace is how far in the past an auction start time may lie.
	StartGrace duration `toml:"start_grace"`
	// AllowRecommit selects the double-commit policy: overwrite-and-top-up
	// when true, reject with a duplicate-bid error when false.
	AllowRecommit bool `toml:"allow_recommit"`
	// ForfeitUnrevealed selects the unrevealed-collateral policy: forfeit
	// to the seller when true, refundable after the auction when false.
	ForfeitUnrevealed bool `toml:"forfeit_unrevealed"`
	// Blacklist seeds the seller blacklist with addresses barred from
	// creating auctions.
	Blacklist []string `toml:"blacklist"`
}

// PostgresConfig holds PostgreSQL connection parameters for the archive.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the durable event streams (XADD MAXLEN ~).
	StreamMaxLen int `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for auction
// snapshots.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NatsConfig holds the optional NATS event-publisher parameters.
type NatsConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// SubjectOrDefault returns the configured NATS subject or the default.
func (n NatsConfig) SubjectOrDefault() string {
	if n.Subject == "" {
		return "auctiond.notifications"
	}
	return n.Subject
}

// ServerConfig holds HTTP/WebSocket API parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// AdminAPIKey guards the admin endpoints (blacklist management). Empty
	// disables them.
	AdminAPIKey string `toml:"admin_api_key"`
	// RateLimit caps mutating calls per caller per window; zero disables.
	RateLimit       int      `toml:"rate_limit"`
	RateLimitWindow duration `toml:"rate_limit_window"`
	// RequireSignedRequests rejects mutating calls without a valid request
	// signature. Off by default so local clients can pass callers in the body.
	RequireSignedRequests bool `toml:"require_signed_requests"`
}

// ArchiveConfig holds the archival pipeline parameters.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`
	// PollInterval is how often the worker drains the ended-auction stream.
	PollInterval duration `toml:"poll_interval"`
	// BatchSize is the maximum number of stream entries read per poll.
	BatchSize int `toml:"batch_size"`
	// SnapshotsEnabled additionally writes JSON snapshots to S3.
	SnapshotsEnabled bool `toml:"snapshots_enabled"`
	// RollupCron schedules the monthly JSONL export, standard 5-field cron.
	RollupCron string `toml:"rollup_cron"`
}

// NotifyConfig holds notification channel parameters.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration wraps time.Duration so the TOML decoder accepts strings like
// "5m" or "30s".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			StartGrace:    duration{time.Minute},
			AllowRecommit: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			StreamMaxLen: 10000,
		},
		Postgres: PostgresConfig{
			Port:         5432,
			SSLMode:      "disable",
			PoolMaxConns: 8,
			PoolMinConns: 2,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			RateLimitWindow: duration{time.Second},
		},
		Archive: ArchiveConfig{
			PollInterval: duration{5 * time.Second},
			BatchSize:    100,
			RollupCron:   "0 3 1 * *",
		},
		Mode:     "serve",
		LogLevel: "info",
	}
}

// Validate checks the configuration for internally inconsistent or missing
// values. It is called once after Load.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "serve", "archive":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Engine.EscrowAddress == "" {
		return fmt.Errorf("config: engine.escrow_address is required")
	}
	if !common.IsHexAddress(c.Engine.EscrowAddress) {
		return fmt.Errorf("config: engine.escrow_address %q is not a valid address", c.Engine.EscrowAddress)
	}
	for _, s := range c.Engine.Blacklist {
		if !common.IsHexAddress(s) {
			return fmt.Errorf("config: engine.blacklist entry %q is not a valid address", s)
		}
	}
	if c.Engine.StartGrace.Duration < 0 {
		return fmt.Errorf("config: engine.start_grace must not be negative")
	}

	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("config: server.rate_limit must not be negative")
	}

	if c.Archive.Enabled || strings.ToLower(c.Mode) == "archive" {
		if c.Postgres.DSN == "" && c.Postgres.Host == "" {
			return fmt.Errorf("config: archival requires postgres connection parameters")
		}
		if c.Archive.BatchSize <= 0 {
			return fmt.Errorf("config: archive.batch_size must be positive")
		}
		if c.Archive.PollInterval.Duration <= 0 {
			return fmt.Errorf("config: archive.poll_interval must be positive")
		}
	}

	if c.Nats.Enabled && c.Nats.URL == "" {
		return fmt.Errorf("config: nats.url is required when nats is enabled")
	}

	return nil
}

// EscrowAccount parses the configured escrow address.
func (c *Config) EscrowAccount() common.Address {
	return common.HexToAddress(c.Engine.EscrowAddress)
}

// BlacklistAccounts parses the configured blacklist seed.
func (c *Config) BlacklistAccounts() []common.Address {
	out := make([]common.Address, 0, len(c.Engine.Blacklist))
	for _, s := range c.Engine.Blacklist {
		out = append(out, common.HexToAddress(s))
	}
	return out
}
