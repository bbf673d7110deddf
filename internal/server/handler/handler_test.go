package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/winnerbot/internal/domain"
	"github.com/alanyoungcy/winnerbot/internal/strategy"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	testContract = common.HexToAddress("0xCf7Ed3AccA5a467e9e704C703E8D87F634fB0Fc9")
	testSource   = common.HexToHash("0xaa")
)

type fakeEngine struct {
	stats   []strategy.StrategyInfo
	actions []domain.Action
}

func (f *fakeEngine) Stats() []strategy.StrategyInfo { return f.stats }

func (f *fakeEngine) RecentActions(limit int) []domain.Action {
	if limit < len(f.actions) {
		return f.actions[:limit]
	}
	return f.actions
}

type fakeCounters map[domain.SubmissionStatus]int64

func (f fakeCounters) Counts() map[domain.SubmissionStatus]int64 { return f }

type fakeStore struct {
	subs     []domain.Submission
	err      error
	lastOpts domain.ListOpts
}

func (f *fakeStore) Create(context.Context, domain.Submission) error { return nil }

func (f *fakeStore) GetByID(_ context.Context, id string) (domain.Submission, error) {
	for _, s := range f.subs {
		if s.ID == id {
			return s, nil
		}
	}
	return domain.Submission{}, domain.ErrNotFound
}

func (f *fakeStore) ListRecent(_ context.Context, opts domain.ListOpts) ([]domain.Submission, error) {
	f.lastOpts = opts
	return f.subs, f.err
}

func (f *fakeStore) ListBefore(context.Context, time.Time) ([]domain.Submission, error) {
	return nil, nil
}

func (f *fakeStore) DeleteBefore(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeStore) CountByStatus(context.Context) (map[domain.SubmissionStatus]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := map[domain.SubmissionStatus]int64{}
	for _, s := range f.subs {
		out[s.Status]++
	}
	return out, nil
}

func testSubmitAction() domain.Action {
	return domain.NewSubmitAction(domain.SubmitTransaction{
		ID:         "act-1",
		SourceHash: testSource,
		Strategy:   strategy.WinnerSnipeName,
		To:         testContract,
		Data:       []byte{0xed, 0x05, 0x08, 0x4e},
		FeePerGas:  big.NewInt(24_000_000_000),
		GasLimit:   100000,
		Value:      big.NewInt(0),
		CreatedAt:  time.Unix(1700000000, 0).UTC(),
	})
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name     string
		checks   map[string]Check
		wantCode int
		wantStat string
	}{
		{"no checks", nil, http.StatusOK, "ok"},
		{"all healthy", map[string]Check{
			"postgres": func(context.Context) error { return nil },
		}, http.StatusOK, "ok"},
		{"one failing", map[string]Check{
			"postgres": func(context.Context) error { return nil },
			"redis":    func(context.Context) error { return errors.New("connection refused") },
		}, http.StatusServiceUnavailable, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.checks, discardLogger())
			rec := httptest.NewRecorder()
			h.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
			if rec.Code != tt.wantCode {
				t.Fatalf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			if got := decode(t, rec)["status"]; got != tt.wantStat {
				t.Fatalf("status = %v, want %s", got, tt.wantStat)
			}
		})
	}
}

func TestGetStatus(t *testing.T) {
	engine := &fakeEngine{stats: []strategy.StrategyInfo{{Name: strategy.WinnerSnipeName, Status: "running", Evaluated: 10, Matched: 2}}}
	store := &fakeStore{subs: []domain.Submission{
		{ID: "a", Status: domain.SubmissionSubmitted},
		{ID: "b", Status: domain.SubmissionFailed},
	}}
	info := StatusInfo{
		Mode: "snipe",
		Target: domain.TargetConfig{
			ContractAddress:  testContract,
			FunctionSelector: domain.MustParseSelector("0xed05084e"),
		},
	}
	h := NewStatusHandler(info, engine, fakeCounters{domain.SubmissionSubmitted: 3}, store, discardLogger())

	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decode(t, rec)
	if body["mode"] != "snipe" {
		t.Fatalf("mode = %v", body["mode"])
	}
	target := body["target"].(map[string]any)
	if target["function_selector"] != "0xed05084e" || target["contract_address"] != testContract.Hex() {
		t.Fatalf("target = %v", target)
	}
	if n := len(body["strategies"].([]any)); n != 1 {
		t.Fatalf("strategies = %d, want 1", n)
	}
	if got := body["session_counts"].(map[string]any)["submitted"]; got != float64(3) {
		t.Fatalf("session submitted = %v", got)
	}
	if got := body["stored_counts"].(map[string]any)["failed"]; got != float64(1) {
		t.Fatalf("stored failed = %v", got)
	}
}

func TestGetStatusWithoutEngine(t *testing.T) {
	h := NewStatusHandler(StatusInfo{Mode: "server"}, nil, nil, nil, discardLogger())
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	body := decode(t, rec)
	if _, ok := body["session_counts"]; ok {
		t.Fatal("session_counts present without counters")
	}
	if n := len(body["strategies"].([]any)); n != 0 {
		t.Fatalf("strategies = %d, want 0", n)
	}
}

func TestListRecentActions(t *testing.T) {
	engine := &fakeEngine{actions: []domain.Action{testSubmitAction(), {Kind: "unknown"}}}
	h := NewActionHandler(engine)

	rec := httptest.NewRecorder()
	h.ListRecent(rec, httptest.NewRequest(http.MethodGet, "/api/actions/recent?limit=5", nil))
	body := decode(t, rec)
	if body["count"] != float64(1) {
		t.Fatalf("count = %v, want 1", body["count"])
	}
	a := body["actions"].([]any)[0].(map[string]any)
	if a["data"] != "0xed05084e" || a["fee_per_gas"] != "24000000000" || a["value"] != "0" {
		t.Fatalf("action = %v", a)
	}
	if a["gas_limit"] != float64(100000) {
		t.Fatalf("gas_limit = %v", a["gas_limit"])
	}
}

func TestListSubmissions(t *testing.T) {
	txHash := common.HexToHash("0xbb")
	nonce := uint64(7)
	store := &fakeStore{subs: []domain.Submission{{
		ID:         "act-1",
		SourceHash: testSource,
		To:         testContract,
		Data:       []byte{0xed, 0x05, 0x08, 0x4e},
		FeePerGas:  big.NewInt(24_000_000_000),
		TxHash:     &txHash,
		Nonce:      &nonce,
		Status:     domain.SubmissionSubmitted,
	}}}
	h := NewSubmissionHandler(store, discardLogger())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/submissions?limit=1000&offset=2&since=2024-01-01T00:00:00Z&until=bad", nil)
	h.List(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if store.lastOpts.Limit != 500 || store.lastOpts.Offset != 2 {
		t.Fatalf("opts = %+v", store.lastOpts)
	}
	if store.lastOpts.Since == nil || store.lastOpts.Until != nil {
		t.Fatalf("time range = %v / %v", store.lastOpts.Since, store.lastOpts.Until)
	}
	sub := decode(t, rec)["submissions"].([]any)[0].(map[string]any)
	if sub["tx_hash"] != txHash.Hex() || sub["nonce"] != float64(7) || sub["status"] != "submitted" {
		t.Fatalf("submission = %v", sub)
	}
}

func TestListSubmissionsStoreError(t *testing.T) {
	h := NewSubmissionHandler(&fakeStore{err: errors.New("db down")}, discardLogger())
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/submissions", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d, want 500", rec.Code)
	}
}

func TestGetSubmission(t *testing.T) {
	store := &fakeStore{subs: []domain.Submission{{ID: "act-1", Status: domain.SubmissionFailed, Error: "nonce too low"}}}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/submissions/{id}", NewSubmissionHandler(store, discardLogger()).Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/submissions/act-1", nil))
	if rec.Code != http.StatusOK || decode(t, rec)["error"] != "nonce too low" {
		t.Fatalf("found: code = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/submissions/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing: code = %d, want 404", rec.Code)
	}
}

type fakeAudit struct{ entries []domain.AuditEntry }

func (f *fakeAudit) Log(context.Context, string, map[string]any) error { return nil }

func (f *fakeAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return f.entries, nil
}

func TestListAudit(t *testing.T) {
	h := NewAuditHandler(&fakeAudit{entries: []domain.AuditEntry{
		{ID: 1, Event: "archive.submissions", Detail: map[string]any{"rows": float64(4)}},
	}}, discardLogger())
	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/audit", nil))
	e := decode(t, rec)["entries"].([]any)[0].(map[string]any)
	if e["event"] != "archive.submissions" {
		t.Fatalf("entry = %v", e)
	}
}

type fakeBlobs struct {
	objects map[string]string
}

func (f *fakeBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	body, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func (f *fakeBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for path, body := range f.objects {
		if strings.HasPrefix(path, prefix) {
			out = append(out, domain.BlobInfo{Path: path, Size: int64(len(body))})
		}
	}
	return out, nil
}

func TestArchives(t *testing.T) {
	blobs := &fakeBlobs{objects: map[string]string{
		"archive/submissions/2025-02-01.jsonl": "{\"id\":\"a\"}\n",
	}}
	mux := http.NewServeMux()
	h := NewArchiveHandler(blobs, discardLogger())
	mux.HandleFunc("GET /api/archives", h.List)
	mux.HandleFunc("GET /api/archives/{day}", h.Get)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/archives", nil))
	a := decode(t, rec)["archives"].([]any)[0].(map[string]any)
	if a["day"] != "2025-02-01" || a["size"] != float64(11) {
		t.Fatalf("archive = %v", a)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/api/archives/2025-02-01", http.StatusOK},
		{"/api/archives/2025-02-02", http.StatusNotFound},
		{"/api/archives/yesterday", http.StatusBadRequest},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != tt.want {
			t.Fatalf("%s: code = %d, want %d", tt.path, rec.Code, tt.want)
		}
		if tt.want == http.StatusOK && rec.Body.String() != "{\"id\":\"a\"}\n" {
			t.Fatalf("body = %q", rec.Body.String())
		}
	}
}

type fakeStream struct {
	msgs   []domain.StreamMessage
	gotID  string
	gotMax int
}

func (f *fakeStream) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeStream) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }

func (f *fakeStream) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeStream) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.gotID, f.gotMax = lastID, count
	return f.msgs, nil
}

func TestListDetections(t *testing.T) {
	payload, err := domain.BusEvent{
		Type:    domain.EventDetection,
		At:      time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
		Payload: map[string]any{"bid_fee_per_gas": "24000000000"},
	}.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	bus := &fakeStream{msgs: []domain.StreamMessage{
		{ID: "1-0", Payload: payload},
		{ID: "2-0", Payload: []byte("not protobuf")},
	}}
	h := NewDetectionHandler(bus, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/detections?after=0-5&limit=900", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if bus.gotID != "0-5" || bus.gotMax != 500 {
		t.Fatalf("StreamRead(%q, %d)", bus.gotID, bus.gotMax)
	}
	body := decode(t, rec)
	if body["next"] != "2-0" {
		t.Fatalf("next = %v", body["next"])
	}
	items := body["detections"].([]any)
	if len(items) != 1 {
		t.Fatalf("detections = %v", items)
	}
	d := items[0].(map[string]any)
	if d["type"] != domain.EventDetection || d["payload"].(map[string]any)["bid_fee_per_gas"] != "24000000000" {
		t.Fatalf("detection = %v", d)
	}

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/detections?limit=x", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit code = %d", rec.Code)
	}
}
