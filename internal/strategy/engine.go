package strategy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/metrics"
)

// Engine pulls pending transactions from an EventSource one at a time, hands
// each to every active strategy in order, and forwards resulting actions to
// the action channel consumed by the executor. Detection order follows the
// source's delivery order.
type Engine struct {
	registry *Registry
	source   domain.EventSource
	actionCh chan<- domain.Action
	bus      domain.SignalBus
	logger   *slog.Logger

	mu          sync.Mutex
	active      []Strategy
	stats       map[string]*StrategyInfo
	recent      []domain.Action
	recentLimit int
}

// NewEngine creates an Engine reading from source and writing to actionCh.
func NewEngine(registry *Registry, source domain.EventSource, actionCh chan<- domain.Action, logger *slog.Logger) *Engine {
	return &Engine{
		registry:    registry,
		source:      source,
		actionCh:    actionCh,
		logger:      logger.With(slog.String("component", "strategy_engine")),
		stats:       make(map[string]*StrategyInfo),
		recentLimit: 500,
	}
}

// SetBus enables publishing of detection events. Publishing is best-effort.
func (e *Engine) SetBus(bus domain.SignalBus) {
	e.bus = bus
}

// SetActiveNames selects the strategies that receive events, in order.
// Names must be registered in the registry.
func (e *Engine) SetActiveNames(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("active names cannot be empty")
	}
	active := make([]Strategy, 0, len(names))
	for _, name := range names {
		s, err := e.registry.Get(name)
		if err != nil {
			return fmt.Errorf("set active strategies: %w (registered: %s)",
				err, strings.Join(e.registry.List(), ","))
		}
		active = append(active, s)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = active
	for _, s := range active {
		if _, ok := e.stats[s.Name()]; !ok {
			e.stats[s.Name()] = &StrategyInfo{Name: s.Name(), Status: "pending"}
		}
	}
	e.logger.Info("active strategies set", slog.Any("strategies", names))
	return nil
}

// ActiveName returns a comma-separated list of active strategy names.
func (e *Engine) ActiveName() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.active))
	for _, s := range e.active {
		names = append(names, s.Name())
	}
	return strings.Join(names, ",")
}

// Stats returns a snapshot of per-strategy counters in activation order.
func (e *Engine) Stats() []StrategyInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]StrategyInfo, 0, len(e.active))
	for _, s := range e.active {
		if info, ok := e.stats[s.Name()]; ok {
			cp := *info
			if info.LastMatch != nil {
				t := *info.LastMatch
				cp.LastMatch = &t
			}
			out = append(out, cp)
		}
	}
	return out
}

// RecentActions returns up to limit most recent emitted actions, newest first.
func (e *Engine) RecentActions(limit int) []domain.Action {
	if limit <= 0 {
		limit = 20
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.recent)
	if limit > n {
		limit = n
	}
	out := make([]domain.Action, 0, limit)
	for i := n - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, e.recent[i])
	}
	return out
}

// Run initialises the active strategies and processes events until the
// context is cancelled or the source fails.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	active := append([]Strategy(nil), e.active...)
	e.mu.Unlock()
	if len(active) == 0 {
		return fmt.Errorf("strategy engine: no active strategies")
	}

	for _, s := range active {
		if err := s.Init(ctx); err != nil {
			e.setStatus(s.Name(), "error")
			return fmt.Errorf("strategy engine: init %s: %w", s.Name(), err)
		}
		e.setStatus(s.Name(), "running")
	}
	defer func() {
		for _, s := range active {
			if err := s.Close(); err != nil {
				e.logger.Warn("strategy close failed",
					slog.String("strategy", s.Name()),
					slog.String("error", err.Error()),
				)
			}
			e.setStatus(s.Name(), "stopped")
		}
	}()

	e.logger.Info("strategy engine started", slog.Int("strategies", len(active)))
	defer e.logger.Info("strategy engine stopped")

	for {
		tx, err := e.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, domain.ErrSourceClosed) {
				return nil
			}
			return fmt.Errorf("strategy engine: next event: %w", err)
		}
		if err := e.HandleTransaction(ctx, tx); err != nil {
			return err
		}
	}
}

// HandleTransaction feeds one pending transaction to every active strategy
// and emits the resulting actions. It only returns an error when the context
// ends while emitting.
func (e *Engine) HandleTransaction(ctx context.Context, tx domain.PendingTransaction) error {
	e.mu.Lock()
	active := e.active
	e.mu.Unlock()

	for _, s := range active {
		name := s.Name()
		metrics.TransactionsEvaluated.WithLabelValues(name).Inc()

		actions, err := s.OnTransaction(ctx, tx)
		if err != nil {
			metrics.StrategyErrors.WithLabelValues(name).Inc()
			e.record(name, 0, true)
			e.logger.Warn("strategy OnTransaction error",
				slog.String("strategy", name),
				slog.String("tx_hash", tx.Hash.Hex()),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.record(name, len(actions), false)
		if len(actions) == 0 {
			continue
		}
		metrics.Detections.WithLabelValues(name).Inc()
		if err := e.emit(ctx, tx, actions); err != nil {
			return err
		}
	}
	return nil
}

// emit sends each action to the action channel. It respects context
// cancellation.
func (e *Engine) emit(ctx context.Context, tx domain.PendingTransaction, actions []domain.Action) error {
	for i := range actions {
		select {
		case <-ctx.Done():
			e.logger.Warn("context cancelled while emitting actions",
				slog.Int("remaining", len(actions)-i),
			)
			return ctx.Err()
		case e.actionCh <- actions[i]:
			e.rememberAction(actions[i])
			e.publishDetection(ctx, tx, actions[i])
		}
	}
	return nil
}

func (e *Engine) record(name string, matched int, failed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.stats[name]
	if !ok {
		info = &StrategyInfo{Name: name, Status: "running"}
		e.stats[name] = info
	}
	info.Evaluated++
	if failed {
		info.ErrorCount++
	}
	if matched > 0 {
		info.Matched += int64(matched)
		now := time.Now().UTC()
		info.LastMatch = &now
	}
}

func (e *Engine) setStatus(name, status string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	info, ok := e.stats[name]
	if !ok {
		info = &StrategyInfo{Name: name}
		e.stats[name] = info
	}
	info.Status = status
}

func (e *Engine) rememberAction(a domain.Action) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recent = append(e.recent, a)
	if overflow := len(e.recent) - e.recentLimit; overflow > 0 {
		e.recent = append([]domain.Action(nil), e.recent[overflow:]...)
	}
}

func (e *Engine) publishDetection(ctx context.Context, tx domain.PendingTransaction, a domain.Action) {
	if e.bus == nil || a.Submit == nil {
		return
	}
	ev := domain.BusEvent{
		Type: domain.EventDetection,
		At:   time.Now().UTC(),
		Payload: map[string]any{
			"action_id":       a.Submit.ID,
			"strategy":        a.Submit.Strategy,
			"source_hash":     tx.Hash.Hex(),
			"from":            tx.From.Hex(),
			"to":              a.Submit.To.Hex(),
			"observed_fee":    feeString(tx),
			"bid_fee_per_gas": a.Submit.FeePerGas.String(),
			"gas_limit":       a.Submit.GasLimit,
		},
	}
	payload, err := ev.Encode()
	if err != nil {
		e.logger.Warn("encode detection event failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, domain.ChannelDetection, payload); err != nil {
		e.logger.Warn("publish detection failed", slog.String("error", err.Error()))
	}
	if err := e.bus.StreamAppend(ctx, domain.StreamDetections, payload); err != nil {
		e.logger.Warn("append detection stream failed", slog.String("error", err.Error()))
	}
}

func feeString(tx domain.PendingTransaction) string {
	if tx.FeePerGas == nil {
		return ""
	}
	return tx.FeePerGas.String()
}
