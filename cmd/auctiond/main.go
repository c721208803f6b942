// Command auctiond runs the sealed-bid auction service in the configured
// mode: "serve" hosts the engine behind the HTTP + WebSocket API, "archive"
// drains settled auctions into Postgres and object storage.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/veilbid/auctiond/internal/app"
	"github.com/veilbid/auctiond/internal/config"
)

func main() {
	defaultPath := os.Getenv("AUCTIOND_CONFIG")
	if defaultPath == "" {
		defaultPath = "config.toml"
	}
	configPath := flag.String("config", defaultPath, "path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("auctiond exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("auctiond stopped")
}

func run(configPath string) error {
	// Bootstrap logger at info; replaced once the config names a level.
	slog.SetDefault(jsonLogger(slog.LevelInfo))

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := jsonLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Info("auctiond starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		// Cancellation is the normal shutdown path.
		if errors.Is(err, context.Canceled) {
			logger.Info("shut down gracefully")
			return nil
		}
		return err
	}
	return nil
}

func jsonLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
