package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/strategy"
)

// EngineView is the read side of the strategy engine.
type EngineView interface {
	Stats() []strategy.StrategyInfo
	RecentActions(limit int) []domain.Action
}

// CounterView reports in-process submission outcome counts.
type CounterView interface {
	Counts() map[domain.SubmissionStatus]int64
}

// StatusInfo is the static part of the status response.
type StatusInfo struct {
	Mode      string
	Target    domain.TargetConfig
	DryRun    bool
	StartedAt time.Time
}

// StatusHandler serves the bot status for the dashboard. engine, counters
// and store are optional; server mode runs without an engine.
type StatusHandler struct {
	info     StatusInfo
	engine   EngineView
	counters CounterView
	store    domain.SubmissionStore
	logger   *slog.Logger
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(info StatusInfo, engine EngineView, counters CounterView, store domain.SubmissionStore, logger *slog.Logger) *StatusHandler {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}
	return &StatusHandler{
		info:     info,
		engine:   engine,
		counters: counters,
		store:    store,
		logger:   logHandler(logger, "status"),
	}
}

// GetStatus responds with mode, target, strategy counters and submission
// totals.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":    h.info.Mode,
		"dry_run": h.info.DryRun,
		"target": map[string]string{
			"contract_address":  h.info.Target.ContractAddress.Hex(),
			"function_selector": h.info.Target.FunctionSelector.String(),
			"own_address":       h.info.Target.OwnAddress.Hex(),
		},
		"uptime_seconds": int64(time.Since(h.info.StartedAt).Seconds()),
	}

	strategies := []strategy.StrategyInfo{}
	if h.engine != nil {
		strategies = h.engine.Stats()
	}
	resp["strategies"] = strategies

	if h.counters != nil {
		resp["session_counts"] = statusCounts(h.counters.Counts())
	}
	if h.store != nil {
		totals, err := h.store.CountByStatus(r.Context())
		if err != nil {
			h.logger.ErrorContext(r.Context(), "count submissions", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to count submissions")
			return
		}
		resp["stored_counts"] = statusCounts(totals)
	}

	writeJSON(w, http.StatusOK, resp)
}

func statusCounts(in map[domain.SubmissionStatus]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[string(k)] = v
	}
	return out
}
