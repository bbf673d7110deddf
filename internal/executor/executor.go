// Package executor turns actions emitted by the strategy engine into signed,
// broadcast transactions. Submissions run on a bounded pool so a slow node
// never stalls detection.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/metrics"
)

// Options tunes dispatch. Zero values are replaced by defaults in NewExecutor.
type Options struct {
	MaxInFlight   int
	SubmitTimeout time.Duration
	DedupTTL      time.Duration
	RateLimit     int // max submissions per RateWindow; 0 disables
	RateWindow    time.Duration
	DryRun        bool // record actions without submitting
}

func (o *Options) applyDefaults() {
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = 16
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 10 * time.Second
	}
	if o.DedupTTL <= 0 {
		o.DedupTTL = 10 * time.Minute
	}
	if o.RateWindow <= 0 {
		o.RateWindow = time.Second
	}
}

// rateLimitKey is the limiter bucket shared by every submission.
const rateLimitKey = "submit"

// Executor reads actions from a channel, applies deduplication and rate
// limiting, then hands each survivor to the submitter on a bounded pool.
// Dispatch never blocks the read loop: when the pool is saturated the action
// is dropped and recorded.
type Executor struct {
	actionCh  <-chan domain.Action
	submitter domain.ActionSubmitter
	dedup     domain.Deduplicator
	limiter   domain.RateLimiter
	recorder  *Recorder
	opts      Options
	logger    *slog.Logger

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor reading from actionCh. submitter may be nil
// only when opts.DryRun is set.
func NewExecutor(
	actionCh <-chan domain.Action,
	submitter domain.ActionSubmitter,
	dedup domain.Deduplicator,
	recorder *Recorder,
	opts Options,
	logger *slog.Logger,
) *Executor {
	opts.applyDefaults()
	return &Executor{
		actionCh:        actionCh,
		submitter:       submitter,
		dedup:           dedup,
		recorder:        recorder,
		opts:            opts,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// SetRateLimiter enables rate limiting when Options.RateLimit is positive.
func (e *Executor) SetRateLimiter(l domain.RateLimiter) {
	e.limiter = l
}

// Run processes actions until the context is cancelled or the channel is
// closed. It waits for in-flight submissions before returning.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started",
		slog.Int("max_in_flight", e.opts.MaxInFlight),
		slog.Bool("dry_run", e.opts.DryRun),
	)
	defer e.logger.Info("executor stopped")

	if e.submitter == nil && !e.opts.DryRun {
		return fmt.Errorf("executor: no submitter configured")
	}

	var pool errgroup.Group
	pool.SetLimit(e.opts.MaxInFlight)

	cleanupTicker := time.NewTicker(e.cleanupInterval)
	defer cleanupTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			_ = pool.Wait()
			return ctx.Err()

		case a, ok := <-e.actionCh:
			if !ok {
				// Channel closed; shut down.
				_ = pool.Wait()
				return nil
			}
			e.dispatch(ctx, &pool, a)

		case <-cleanupTicker.C:
			if c, ok := e.dedup.(interface{ Cleanup() }); ok {
				c.Cleanup()
			}
		}
	}
}

// dispatch filters one action and starts its submission without blocking.
func (e *Executor) dispatch(ctx context.Context, pool *errgroup.Group, a domain.Action) {
	if a.Kind != domain.ActionSubmitTransaction || a.Submit == nil {
		e.logger.Warn("unsupported action, skipping", slog.String("kind", string(a.Kind)))
		return
	}
	tx := *a.Submit
	log := e.logger.With(
		slog.String("action_id", tx.ID),
		slog.String("source_hash", tx.SourceHash.Hex()),
	)

	// 1. Deduplication on the triggering transaction.
	fresh, err := e.dedup.Claim(ctx, dedupKey(tx), e.opts.DedupTTL)
	if err != nil {
		log.Warn("dedup unavailable, submitting anyway", slog.String("error", err.Error()))
		fresh = true
	}
	if !fresh {
		e.skip(ctx, tx, domain.SubmissionDuplicate, domain.ErrDuplicate)
		return
	}

	// 2. Rate limit.
	if e.limiter != nil && e.opts.RateLimit > 0 {
		allowed, err := e.limiter.Allow(ctx, rateLimitKey, e.opts.RateLimit, e.opts.RateWindow)
		if err != nil {
			log.Warn("rate limiter unavailable, submitting anyway", slog.String("error", err.Error()))
			allowed = true
		}
		if !allowed {
			e.release(ctx, tx, log)
			e.skip(ctx, tx, domain.SubmissionRateLimited, domain.ErrRateLimited)
			return
		}
	}

	// 3. Watch-only deployments stop here.
	if e.opts.DryRun {
		e.recorder.Record(ctx, domain.NewSubmission(tx, domain.SubmissionDryRun))
		return
	}

	// 4. Fire and forget on the pool.
	started := pool.TryGo(func() error {
		e.submit(ctx, tx)
		return nil
	})
	if !started {
		e.release(ctx, tx, log)
		e.skip(ctx, tx, domain.SubmissionDropped, domain.ErrQueueFull)
	}
}

// release gives back the dedup claim of an action that was never submitted,
// so a re-broadcast of the same pending transaction can still be raced.
func (e *Executor) release(ctx context.Context, tx domain.SubmitTransaction, log *slog.Logger) {
	if err := e.dedup.Release(ctx, dedupKey(tx)); err != nil {
		log.Warn("dedup release failed", slog.String("error", err.Error()))
	}
}

// submit signs and broadcasts one transaction. The only cancellation is the
// process context plus the per-submission timeout.
func (e *Executor) submit(ctx context.Context, tx domain.SubmitTransaction) {
	metrics.InFlightSubmissions.Inc()
	defer metrics.InFlightSubmissions.Dec()

	subCtx, cancel := context.WithTimeout(ctx, e.opts.SubmitTimeout)
	defer cancel()

	res, err := e.submitter.Submit(subCtx, tx)

	recordCtx, recordCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer recordCancel()

	if err != nil {
		sub := domain.NewSubmission(tx, domain.SubmissionFailed)
		sub.Error = err.Error()
		e.recorder.Record(recordCtx, sub)
		return
	}

	if !tx.CreatedAt.IsZero() {
		metrics.SubmissionLatency.Observe(time.Since(tx.CreatedAt).Seconds())
	}
	sub := domain.NewSubmission(tx, domain.SubmissionSubmitted)
	sub.TxHash = &res.TxHash
	sub.Nonce = &res.Nonce
	if !res.SubmittedAt.IsZero() {
		sub.CompletedAt = res.SubmittedAt
	}
	e.recorder.Record(recordCtx, sub)
}

func (e *Executor) skip(ctx context.Context, tx domain.SubmitTransaction, status domain.SubmissionStatus, reason error) {
	sub := domain.NewSubmission(tx, status)
	sub.Error = reason.Error()
	e.recorder.Record(ctx, sub)
}

// drain records actions still buffered at shutdown as dropped so none vanish
// silently.
func (e *Executor) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		select {
		case a, ok := <-e.actionCh:
			if !ok {
				return
			}
			if a.Submit == nil {
				continue
			}
			e.logger.Warn("dropping action after shutdown", slog.String("action_id", a.Submit.ID))
			e.skip(ctx, *a.Submit, domain.SubmissionDropped, errShutdown)
		default:
			return
		}
	}
}

var errShutdown = errors.New("executor shutting down")

// dedupKey scopes idempotency to the strategy so two strategies may each
// answer the same pending transaction once.
func dedupKey(tx domain.SubmitTransaction) string {
	return "submit:" + tx.Strategy + ":" + tx.SourceHash.Hex()
}
