// Package app owns the application lifecycle: it wires dependencies from
// config and runs the goroutines of the selected mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/winnerbot/internal/config"
)

// Modes.
const (
	ModeSnipe  = "snipe"
	ModeWatch  = "watch"
	ModeServer = "server"
)

// EventError is the notification event sent when a mode exits with an error.
const EventError = "error"

// App is the root application object. It owns the configuration, logger, and
// cleanup functions that run in reverse order on shutdown.
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

// Run wires dependencies, starts the configured mode and blocks until ctx
// ends or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	err = a.runMode(ctx, deps)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.alertFatal(deps, err)
	}
	return err
}

func (a *App) runMode(ctx context.Context, deps *Dependencies) error {
	switch strings.ToLower(a.cfg.Mode) {
	case ModeSnipe:
		return a.SnipeMode(ctx, deps)
	case ModeWatch:
		return a.WatchMode(ctx, deps)
	case ModeServer:
		return a.ServerMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// alertFatal tells operators the bot stopped. The run context is already
// done, so delivery gets its own deadline.
func (a *App) alertFatal(deps *Dependencies, runErr error) {
	if deps.Notifier == nil || !deps.Notifier.Enabled() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	msg := fmt.Sprintf("mode %s stopped: %v", a.cfg.Mode, runErr)
	if err := deps.Notifier.Notify(ctx, EventError, "winnerbot stopped", msg); err != nil {
		a.logger.Warn("fatal alert failed", slog.String("error", err.Error()))
	}
}

// Close tears down all resources in reverse registration order. Subsequent
// calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
