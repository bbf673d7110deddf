package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/executor"
	"github.com/alanyoungcy/winnerbot/internal/server"
	"github.com/alanyoungcy/winnerbot/internal/server/handler"
	"github.com/alanyoungcy/winnerbot/internal/server/ws"
	"github.com/alanyoungcy/winnerbot/internal/strategy"
)

const (
	statusInterval = 15 * time.Second
	archiveLockKey = "archive:submissions"
)

// SnipeMode detects target calls and submits competing transactions. With
// executor.dry_run set it behaves like WatchMode.
func (a *App) SnipeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting snipe mode",
		slog.String("contract", deps.Target.ContractAddress.Hex()),
		slog.String("selector", deps.Target.FunctionSelector.String()),
		slog.Bool("dry_run", a.cfg.Executor.DryRun),
	)
	return a.runPipeline(ctx, deps, a.cfg.Executor.DryRun)
}

// WatchMode runs detection and records every action without signing.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting watch mode",
		slog.String("contract", deps.Target.ContractAddress.Hex()),
		slog.String("selector", deps.Target.FunctionSelector.String()),
	)
	return a.runPipeline(ctx, deps, true)
}

// ServerMode serves the API over stored history and runs the archive loop.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil, nil, time.Now().UTC(), false)
	a.startArchiveLoop(ctx, g, deps)
	return g.Wait()
}

// runPipeline runs source → engine → executor plus the optional server,
// status heartbeat and archive loop.
func (a *App) runPipeline(ctx context.Context, deps *Dependencies, dryRun bool) error {
	if deps.Source == nil {
		return fmt.Errorf("app: mode %s needs a mempool source", a.cfg.Mode)
	}
	startedAt := time.Now().UTC()
	g, ctx := errgroup.WithContext(ctx)

	actionCh := make(chan domain.Action, a.cfg.Executor.QueueSize)
	engine, err := a.buildEngine(deps, actionCh)
	if err != nil {
		return err
	}

	recorder := a.buildRecorder(deps)
	var submitter domain.ActionSubmitter
	if !dryRun {
		submitter = deps.Submitter
	}
	exec := executor.NewExecutor(actionCh, submitter, deps.Dedup, recorder, executor.Options{
		MaxInFlight:   a.cfg.Executor.MaxInFlight,
		SubmitTimeout: a.cfg.Executor.SubmitTimeout.Duration,
		DedupTTL:      a.cfg.Executor.DedupTTL.Duration,
		RateLimit:     a.cfg.Executor.RateLimit,
		RateWindow:    a.cfg.Executor.RateWindow.Duration,
		DryRun:        dryRun,
	}, a.logger)
	if deps.RateLimiter != nil && a.cfg.Executor.RateLimit > 0 {
		exec.SetRateLimiter(deps.RateLimiter)
	}

	g.Go(func() error {
		return deps.Source.Run(ctx)
	})
	g.Go(func() error {
		return engine.Run(ctx)
	})
	g.Go(func() error {
		return exec.Run(ctx)
	})

	a.startHTTPServer(ctx, g, deps, engine, recorder, startedAt, dryRun)
	a.startStatusHeartbeat(ctx, g, deps, engine, recorder, startedAt)
	a.startArchiveLoop(ctx, g, deps)

	return g.Wait()
}

// buildEngine registers the strategies and activates the configured ones.
func (a *App) buildEngine(deps *Dependencies, actionCh chan<- domain.Action) (*strategy.Engine, error) {
	policy := strategy.BidPolicy{
		FeeBumpPercent:   a.cfg.Bid.FeeBumpPercent,
		DefaultFeePerGas: new(big.Int).SetUint64(a.cfg.Bid.DefaultFeePerGasWei),
		GasLimit:         a.cfg.Bid.GasLimit,
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("app: bid policy: %w", err)
	}

	reg := strategy.NewRegistry()
	reg.Register(strategy.NewWinnerSnipe(deps.Target, policy, a.logger))

	engine := strategy.NewEngine(reg, deps.Source, actionCh, a.logger)
	if deps.Bus != nil {
		engine.SetBus(deps.Bus)
	}
	if err := engine.SetActiveNames(a.cfg.Strategy.Active); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	return engine, nil
}

// buildRecorder attaches whichever outcome sinks are wired.
func (a *App) buildRecorder(deps *Dependencies) *executor.Recorder {
	rec := executor.NewRecorder(a.logger)
	if deps.Submissions != nil {
		rec.SetStore(deps.Submissions)
	}
	if deps.Audit != nil {
		rec.SetAudit(deps.Audit)
	}
	if deps.Bus != nil {
		rec.SetBus(deps.Bus)
	}
	if deps.Notifier != nil && deps.Notifier.Enabled() {
		rec.SetNotifier(deps.Notifier)
	}
	return rec
}

// startHTTPServer runs the API server when enabled. engine and recorder are
// nil in server mode.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	engine *strategy.Engine,
	recorder *executor.Recorder,
	startedAt time.Time,
	dryRun bool,
) {
	if !a.cfg.Server.Enabled {
		return
	}

	var (
		engineView  handler.EngineView
		counterView handler.CounterView
	)
	handlers := server.Handlers{
		Health: handler.NewHealthHandler(deps.HealthChecks, a.logger),
	}
	if engine != nil {
		engineView = engine
		handlers.Actions = handler.NewActionHandler(engine)
	}
	if recorder != nil {
		counterView = recorder
	}
	handlers.Status = handler.NewStatusHandler(handler.StatusInfo{
		Mode:      a.cfg.Mode,
		Target:    deps.Target,
		DryRun:    dryRun,
		StartedAt: startedAt,
	}, engineView, counterView, deps.Submissions, a.logger)
	if deps.Submissions != nil {
		handlers.Submissions = handler.NewSubmissionHandler(deps.Submissions, a.logger)
	}
	if deps.Audit != nil {
		handlers.Audit = handler.NewAuditHandler(deps.Audit, a.logger)
	}
	if deps.Archives != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archives, a.logger)
	}
	if deps.Bus != nil {
		handlers.Detections = handler.NewDetectionHandler(deps.Bus, a.logger)
	}

	var hub *ws.Hub
	if deps.Bus != nil {
		hub = ws.NewHub(deps.Bus, func() map[string]any {
			return statusPayload(a.cfg.Mode, engine, recorder, startedAt)
		}, a.logger)
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
	}, handlers, hub, deps.RateLimiter, a.logger)
	g.Go(func() error {
		return srv.Run(ctx)
	})
}

// startStatusHeartbeat publishes a status event on the bus so dashboards
// stay current between detections.
func (a *App) startStatusHeartbeat(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	engine *strategy.Engine,
	recorder *executor.Recorder,
	startedAt time.Time,
) {
	if deps.Bus == nil {
		return
	}
	g.Go(func() error {
		ticker := time.NewTicker(statusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				data, err := domain.BusEvent{
					Type:    "status",
					At:      time.Now().UTC(),
					Payload: statusPayload(a.cfg.Mode, engine, recorder, startedAt),
				}.Encode()
				if err != nil {
					a.logger.WarnContext(ctx, "encode status event", slog.String("error", err.Error()))
					continue
				}
				if err := deps.Bus.Publish(ctx, domain.ChannelStatus, data); err != nil {
					a.logger.WarnContext(ctx, "publish status event", slog.String("error", err.Error()))
				}
			}
		}
	})
}

// statusPayload summarises the running pipeline for bus and ws consumers.
func statusPayload(mode string, engine *strategy.Engine, recorder *executor.Recorder, startedAt time.Time) map[string]any {
	out := map[string]any{
		"mode":           mode,
		"uptime_seconds": int64(time.Since(startedAt).Seconds()),
	}
	if engine != nil {
		var evaluated, matched int64
		for _, s := range engine.Stats() {
			evaluated += s.Evaluated
			matched += s.Matched
		}
		out["strategies"] = engine.ActiveName()
		out["evaluated"] = evaluated
		out["matched"] = matched
	}
	if recorder != nil {
		counts := make(map[string]any)
		for status, n := range recorder.Counts() {
			counts[string(status)] = float64(n)
		}
		out["submissions"] = counts
	}
	return out
}

// startArchiveLoop periodically moves old submissions to S3. With Redis
// wired, a lock keeps replicas from archiving the same rows twice.
func (a *App) startArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	interval := a.cfg.Archive.Interval.Duration
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.archiveOnce(ctx, deps, time.Now().UTC().Add(-retention), interval)
			}
		}
	})
}

func (a *App) archiveOnce(ctx context.Context, deps *Dependencies, before time.Time, lockTTL time.Duration) {
	if deps.Locks != nil {
		unlock, err := deps.Locks.Acquire(ctx, archiveLockKey, lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			a.logger.DebugContext(ctx, "archive: another instance holds the lock")
			return
		}
		if err != nil {
			a.logger.WarnContext(ctx, "archive: acquire lock", slog.String("error", err.Error()))
			return
		}
		defer unlock()
	}

	n, err := deps.Archiver.ArchiveSubmissions(ctx, before)
	if err != nil {
		a.logger.ErrorContext(ctx, "archive: submissions", slog.String("error", err.Error()))
		return
	}
	a.logger.InfoContext(ctx, "archive: submissions archived",
		slog.Int64("rows", n),
		slog.Time("before", before),
	)
}
