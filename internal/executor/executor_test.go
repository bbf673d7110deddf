package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/winnerbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSubmitter struct {
	mu      sync.Mutex
	calls   []domain.SubmitTransaction
	err     error
	started chan struct{}
	release chan struct{}
}

func (f *fakeSubmitter) Submit(ctx context.Context, tx domain.SubmitTransaction) (domain.SubmissionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, tx)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return domain.SubmissionResult{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.SubmissionResult{}, f.err
	}
	return domain.SubmissionResult{
		TxHash:      common.HexToHash("0xbeef"),
		Nonce:       7,
		SubmittedAt: time.Now().UTC(),
	}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type memoryStore struct {
	mu   sync.Mutex
	subs []domain.Submission
}

func (m *memoryStore) Create(_ context.Context, sub domain.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return nil
}
func (m *memoryStore) GetByID(context.Context, string) (domain.Submission, error) {
	return domain.Submission{}, domain.ErrNotFound
}
func (m *memoryStore) ListRecent(context.Context, domain.ListOpts) ([]domain.Submission, error) {
	return nil, nil
}
func (m *memoryStore) ListBefore(context.Context, time.Time) ([]domain.Submission, error) {
	return nil, nil
}
func (m *memoryStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (m *memoryStore) CountByStatus(context.Context) (map[domain.SubmissionStatus]int64, error) {
	return nil, nil
}

type recordingAlerter struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingAlerter) Notify(_ context.Context, event, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

type fixedLimiter struct{ allow bool }

func (l fixedLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allow, nil
}

type brokenDedup struct{}

func (brokenDedup) Claim(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func (brokenDedup) Release(context.Context, string) error { return errors.New("redis down") }

// sequenceLimiter answers Allow from a fixed script, then allows everything.
type sequenceLimiter struct {
	mu      sync.Mutex
	answers []bool
}

func (l *sequenceLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.answers) == 0 {
		return true, nil
	}
	ok := l.answers[0]
	l.answers = l.answers[1:]
	return ok, nil
}

func submitAction(source string) domain.Action {
	return domain.NewSubmitAction(domain.SubmitTransaction{
		ID:         "id-" + source,
		SourceHash: common.HexToHash(source),
		Strategy:   "winner_snipe",
		To:         common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9"),
		Data:       []byte{0xed, 0x05, 0x08, 0x4e},
		FeePerGas:  big.NewInt(24_000_000_000),
		GasLimit:   100_000,
		Value:      new(big.Int),
		CreatedAt:  time.Now().UTC(),
	})
}

// runToCompletion feeds actions through a closed channel and waits for Run.
func runToCompletion(t *testing.T, ex *Executor, ch chan domain.Action, actions ...domain.Action) {
	t.Helper()
	for _, a := range actions {
		ch <- a
	}
	close(ch)
	if err := ex.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestExecutorSubmitsAndRecords(t *testing.T) {
	ch := make(chan domain.Action, 4)
	sub := &fakeSubmitter{}
	store := &memoryStore{}
	alerts := &recordingAlerter{}
	rec := NewRecorder(discardLogger())
	rec.SetStore(store)
	rec.SetNotifier(alerts)

	ex := NewExecutor(ch, sub, NewDedup(0), rec, Options{}, discardLogger())
	runToCompletion(t, ex, ch, submitAction("0x01"))

	if sub.callCount() != 1 {
		t.Fatalf("submit calls = %d, want 1", sub.callCount())
	}
	if len(store.subs) != 1 {
		t.Fatalf("stored = %d, want 1", len(store.subs))
	}
	got := store.subs[0]
	if got.Status != domain.SubmissionSubmitted {
		t.Fatalf("status = %s", got.Status)
	}
	if got.TxHash == nil || *got.TxHash != common.HexToHash("0xbeef") {
		t.Fatalf("tx hash = %v", got.TxHash)
	}
	if got.Nonce == nil || *got.Nonce != 7 {
		t.Fatalf("nonce = %v", got.Nonce)
	}
	if len(alerts.events) != 1 || alerts.events[0] != EventFrontrunSubmitted {
		t.Fatalf("alerts = %v", alerts.events)
	}
}

func TestExecutorDeduplicatesBySourceHash(t *testing.T) {
	ch := make(chan domain.Action, 4)
	sub := &fakeSubmitter{}
	rec := NewRecorder(discardLogger())
	ex := NewExecutor(ch, sub, NewDedup(0), rec, Options{}, discardLogger())

	first := submitAction("0x01")
	second := submitAction("0x01")
	second.Submit.ID = "another-id"
	runToCompletion(t, ex, ch, first, second, submitAction("0x02"))

	if sub.callCount() != 2 {
		t.Fatalf("submit calls = %d, want 2", sub.callCount())
	}
	counts := rec.Counts()
	if counts[domain.SubmissionDuplicate] != 1 || counts[domain.SubmissionSubmitted] != 2 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestExecutorDryRunNeverSubmits(t *testing.T) {
	ch := make(chan domain.Action, 2)
	rec := NewRecorder(discardLogger())
	ex := NewExecutor(ch, nil, NewDedup(0), rec, Options{DryRun: true}, discardLogger())
	runToCompletion(t, ex, ch, submitAction("0x01"))

	if rec.Counts()[domain.SubmissionDryRun] != 1 {
		t.Fatalf("counts = %v", rec.Counts())
	}
}

func TestExecutorRequiresSubmitter(t *testing.T) {
	ch := make(chan domain.Action)
	ex := NewExecutor(ch, nil, NewDedup(0), NewRecorder(discardLogger()), Options{}, discardLogger())
	if err := ex.Run(context.Background()); err == nil {
		t.Fatal("expected error without submitter")
	}
}

func TestExecutorRecordsFailure(t *testing.T) {
	ch := make(chan domain.Action, 2)
	sub := &fakeSubmitter{err: errors.New("nonce too low")}
	store := &memoryStore{}
	alerts := &recordingAlerter{}
	rec := NewRecorder(discardLogger())
	rec.SetStore(store)
	rec.SetNotifier(alerts)

	ex := NewExecutor(ch, sub, NewDedup(0), rec, Options{}, discardLogger())
	runToCompletion(t, ex, ch, submitAction("0x01"))

	if len(store.subs) != 1 || store.subs[0].Status != domain.SubmissionFailed {
		t.Fatalf("stored = %+v", store.subs)
	}
	if store.subs[0].Error != "nonce too low" {
		t.Fatalf("error = %q", store.subs[0].Error)
	}
	if len(alerts.events) != 1 || alerts.events[0] != EventFrontrunFailed {
		t.Fatalf("alerts = %v", alerts.events)
	}
}

func TestExecutorRateLimited(t *testing.T) {
	ch := make(chan domain.Action, 2)
	sub := &fakeSubmitter{}
	rec := NewRecorder(discardLogger())
	ex := NewExecutor(ch, sub, NewDedup(0), rec, Options{RateLimit: 1}, discardLogger())
	ex.SetRateLimiter(fixedLimiter{allow: false})
	runToCompletion(t, ex, ch, submitAction("0x01"))

	if sub.callCount() != 0 {
		t.Fatalf("submit calls = %d, want 0", sub.callCount())
	}
	if rec.Counts()[domain.SubmissionRateLimited] != 1 {
		t.Fatalf("counts = %v", rec.Counts())
	}
}

func TestExecutorRateLimitedActionReleasesDedup(t *testing.T) {
	ch := make(chan domain.Action, 2)
	sub := &fakeSubmitter{}
	rec := NewRecorder(discardLogger())
	ex := NewExecutor(ch, sub, NewDedup(0), rec, Options{RateLimit: 1}, discardLogger())
	ex.SetRateLimiter(&sequenceLimiter{answers: []bool{false}})

	// The second delivery is a re-broadcast of the same pending transaction.
	runToCompletion(t, ex, ch, submitAction("0x01"), submitAction("0x01"))

	if sub.callCount() != 1 {
		t.Fatalf("submit calls = %d, want 1", sub.callCount())
	}
	counts := rec.Counts()
	if counts[domain.SubmissionRateLimited] != 1 || counts[domain.SubmissionSubmitted] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if counts[domain.SubmissionDuplicate] != 0 {
		t.Fatalf("re-broadcast marked duplicate, counts = %v", counts)
	}
}

func TestExecutorDedupFailureFailsOpen(t *testing.T) {
	ch := make(chan domain.Action, 2)
	sub := &fakeSubmitter{}
	ex := NewExecutor(ch, sub, brokenDedup{}, NewRecorder(discardLogger()), Options{}, discardLogger())
	runToCompletion(t, ex, ch, submitAction("0x01"))

	if sub.callCount() != 1 {
		t.Fatalf("submit calls = %d, want 1", sub.callCount())
	}
}

func TestExecutorDropsWhenPoolSaturated(t *testing.T) {
	ch := make(chan domain.Action, 2)
	sub := &fakeSubmitter{
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	rec := NewRecorder(discardLogger())
	dedup := NewDedup(0)
	ex := NewExecutor(ch, sub, dedup, rec, Options{MaxInFlight: 1}, discardLogger())

	done := make(chan error, 1)
	go func() { done <- ex.Run(context.Background()) }()

	ch <- submitAction("0x01")
	<-sub.started
	ch <- submitAction("0x02")

	deadline := time.After(2 * time.Second)
	for rec.Counts()[domain.SubmissionDropped] != 1 {
		select {
		case <-deadline:
			t.Fatalf("second action not dropped, counts = %v", rec.Counts())
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(sub.release)
	close(ch)
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sub.callCount() != 1 {
		t.Fatalf("submit calls = %d, want 1", sub.callCount())
	}
	if rec.Counts()[domain.SubmissionSubmitted] != 1 {
		t.Fatalf("counts = %v", rec.Counts())
	}
	if ok, _ := dedup.Claim(context.Background(), "submit:winner_snipe:"+common.HexToHash("0x02").Hex(), time.Minute); !ok {
		t.Fatal("dropped action still holds its dedup key")
	}
}

func TestExecutorStopsOnCancel(t *testing.T) {
	ch := make(chan domain.Action)
	ex := NewExecutor(ch, &fakeSubmitter{}, NewDedup(0), NewRecorder(discardLogger()), Options{}, discardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := ex.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
