package executor

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/metrics"
)

// Notification event names.
const (
	EventFrontrunSubmitted = "frontrun_submitted"
	EventFrontrunFailed    = "frontrun_failed"
)

// Alerter delivers operator notifications. notify.Notifier satisfies it.
type Alerter interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Recorder fans the outcome of each handled action out to the optional
// sinks: submission store, audit log, signal bus, and notifier. Sink
// failures are logged and never propagate.
type Recorder struct {
	store    domain.SubmissionStore
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Alerter
	logger   *slog.Logger

	mu     sync.Mutex
	counts map[domain.SubmissionStatus]int64
}

// NewRecorder creates a Recorder with no sinks attached.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{
		logger: logger.With(slog.String("component", "recorder")),
		counts: make(map[domain.SubmissionStatus]int64),
	}
}

// SetStore enables persisting Submission rows.
func (r *Recorder) SetStore(s domain.SubmissionStore) { r.store = s }

// SetAudit enables audit log entries.
func (r *Recorder) SetAudit(a domain.AuditStore) { r.audit = a }

// SetBus enables publishing submission events.
func (r *Recorder) SetBus(b domain.SignalBus) { r.bus = b }

// SetNotifier enables operator notifications for submitted and failed races.
func (r *Recorder) SetNotifier(n Alerter) { r.notifier = n }

// Counts returns a copy of the per-status totals seen by this process.
func (r *Recorder) Counts() map[domain.SubmissionStatus]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[domain.SubmissionStatus]int64, len(r.counts))
	for k, v := range r.counts {
		out[k] = v
	}
	return out
}

// Record stores the outcome of one action in every configured sink.
func (r *Recorder) Record(ctx context.Context, sub domain.Submission) {
	metrics.Submissions.WithLabelValues(string(sub.Status)).Inc()
	r.mu.Lock()
	r.counts[sub.Status]++
	r.mu.Unlock()

	log := r.logger.With(
		slog.String("action_id", sub.ID),
		slog.String("source_hash", sub.SourceHash.Hex()),
		slog.String("status", string(sub.Status)),
	)
	switch sub.Status {
	case domain.SubmissionSubmitted:
		log.Info("competing transaction submitted", slog.String("tx_hash", sub.TxHash.Hex()))
	case domain.SubmissionFailed:
		log.Error("competing transaction failed", slog.String("error", sub.Error))
	default:
		log.Info("action not submitted", slog.String("reason", sub.Error))
	}

	if r.store != nil {
		if err := r.store.Create(ctx, sub); err != nil {
			log.Warn("persist submission failed", slog.String("error", err.Error()))
		}
	}
	if r.audit != nil {
		if err := r.audit.Log(ctx, "submission."+string(sub.Status), submissionDetail(sub)); err != nil {
			log.Warn("audit log failed", slog.String("error", err.Error()))
		}
	}
	if r.bus != nil {
		r.publish(ctx, sub, log)
	}
	if r.notifier != nil {
		r.notify(ctx, sub, log)
	}
}

func (r *Recorder) publish(ctx context.Context, sub domain.Submission, log *slog.Logger) {
	payload, err := domain.BusEvent{
		Type:    domain.EventSubmission,
		At:      sub.CompletedAt,
		Payload: submissionDetail(sub),
	}.Encode()
	if err != nil {
		log.Warn("encode submission event failed", slog.String("error", err.Error()))
		return
	}
	if err := r.bus.Publish(ctx, domain.ChannelSubmission, payload); err != nil {
		log.Warn("publish submission event failed", slog.String("error", err.Error()))
	}
}

func (r *Recorder) notify(ctx context.Context, sub domain.Submission, log *slog.Logger) {
	var event, title string
	switch sub.Status {
	case domain.SubmissionSubmitted:
		event, title = EventFrontrunSubmitted, "Front-run submitted"
	case domain.SubmissionFailed:
		event, title = EventFrontrunFailed, "Front-run failed"
	default:
		return
	}
	msg := fmt.Sprintf("target tx %s\nfee per gas %s wei\nstrategy %s",
		sub.SourceHash.Hex(), sub.FeePerGas, sub.Strategy)
	if sub.TxHash != nil {
		msg += "\nour tx " + sub.TxHash.Hex()
	}
	if sub.Error != "" {
		msg += "\nerror " + sub.Error
	}
	if err := r.notifier.Notify(ctx, event, title, msg); err != nil {
		log.Warn("notify failed", slog.String("error", err.Error()))
	}
}

// submissionDetail flattens a Submission for the audit log and bus payload.
func submissionDetail(sub domain.Submission) map[string]any {
	d := map[string]any{
		"id":          sub.ID,
		"source_hash": sub.SourceHash.Hex(),
		"strategy":    sub.Strategy,
		"to":          sub.To.Hex(),
		"data":        "0x" + hex.EncodeToString(sub.Data),
		"gas_limit":   sub.GasLimit,
		"status":      string(sub.Status),
		"created_at":  sub.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if sub.FeePerGas != nil {
		d["fee_per_gas"] = sub.FeePerGas.String()
	}
	if sub.TxHash != nil {
		d["tx_hash"] = sub.TxHash.Hex()
	}
	if sub.Nonce != nil {
		d["nonce"] = *sub.Nonce
	}
	if sub.Error != "" {
		d["error"] = sub.Error
	}
	return d
}
