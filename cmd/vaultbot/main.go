// Command vaultbot runs the vault trading engine.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mkoval/vaultbot/internal/app"
	"github.com/mkoval/vaultbot/internal/config"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		slog.Error("vault bot failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	logger.Info("vault bot starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = app.New(cfg, logger).Run(ctx)
	if errors.Is(err, context.Canceled) {
		logger.Info("vault bot stopped")
	}
	return err
}

func logLevel(name string) slog.Level {
	switch name {
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
