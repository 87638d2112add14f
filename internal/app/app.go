// Package app wires the concrete dependencies (stores, cluster provider,
// archive, notifications) and runs one of the two operating modes: run, which
// processes the price feed and drives positions, or monitor, which reads
// vault state from the database and logs it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mkoval/vaultbot/internal/config"
)

// App runs a single operating mode over a wired dependency set.
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, dispatches to the configured mode, and blocks
// until the context is cancelled. Wired resources are released before Run
// returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer cleanup()

	switch strings.ToLower(a.cfg.Mode) {
	case "run":
		return a.RunMode(ctx, deps)
	case "monitor":
		return a.MonitorMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}
