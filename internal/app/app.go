// Package app wires the engine together and runs it in the configured mode:
// analyze scans for profitable cycles, trade executes stored ones, expire
// archives and prunes old records, mintrade refreshes venue minimums, and
// full runs the first three side by side.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teusbenschop/cryptobot/internal/config"
)

// App is the root application object. It owns the configuration, the logger
// and the cleanup functions run on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies, starts the configured mode and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("starting engine",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel))
	a.logger.Debug("active configuration",
		slog.Any("config", config.RedactedConfig(a.cfg)))

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "analyze":
		return a.AnalyzeMode(ctx, deps)
	case "trade":
		return a.TradeMode(ctx, deps)
	case "expire":
		return a.ExpireMode(ctx, deps)
	case "mintrade":
		return a.MintradeMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to call
// more than once.
func (a *App) Close() {
	a.logger.Info("shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
