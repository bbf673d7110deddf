// Package metrics exposes Prometheus collectors for the detection and
// submission pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TransactionsEvaluated counts pending transactions handed to each strategy.
	TransactionsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerbot_transactions_evaluated_total",
			Help: "Total number of pending transactions evaluated",
		},
		[]string{"strategy"},
	)

	// Detections counts transactions that matched a strategy's target.
	Detections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerbot_detections_total",
			Help: "Total number of matching pending transactions",
		},
		[]string{"strategy"},
	)

	// StrategyErrors counts errors returned by strategies.
	StrategyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerbot_strategy_errors_total",
			Help: "Total number of strategy errors",
		},
		[]string{"strategy"},
	)

	// Submissions counts handled actions by terminal status.
	Submissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "winnerbot_submissions_total",
			Help: "Total number of handled actions by outcome",
		},
		[]string{"status"},
	)

	// SubmissionLatency tracks time from action creation to broadcast.
	SubmissionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "winnerbot_submission_latency_seconds",
			Help:    "Latency between detection and broadcast in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// InFlightSubmissions tracks submissions currently running.
	InFlightSubmissions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "winnerbot_submissions_in_flight",
			Help: "Number of submissions currently in flight",
		},
	)

	// SourceReconnects counts mempool subscription reconnects.
	SourceReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "winnerbot_source_reconnects_total",
			Help: "Total number of pending-transaction subscription reconnects",
		},
	)
)
