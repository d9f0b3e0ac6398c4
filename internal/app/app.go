// Package app provides the top-level lifecycle of the paper trading desk. It
// wires the backing services (stores, caches, blob storage, notifications),
// builds the market data and engine components, and starts the goroutines of
// the configured operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/paperdesk/internal/config"
)

// App is the root application object. It owns the configuration, logger, and a
// list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	rootLogger *slog.Logger
	startedAt  time.Time
	closers    []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "app")),
		rootLogger: logger,
		startedAt:  time.Now().UTC(),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
		slog.Any("providers", a.cfg.ProviderIDs()),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.rootLogger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	switch strings.ToLower(a.cfg.Mode) {
	case "paper":
		return a.PaperMode(ctx, deps)
	case "feed":
		return a.FeedMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
