package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/algomatic/dslbacktest/pkg/bus"
	"github.com/algomatic/dslbacktest/pkg/persistence"
	"github.com/algomatic/dslbacktest/pkg/pipeline"
	"github.com/algomatic/dslbacktest/pkg/runtracker"
	"github.com/algomatic/dslbacktest/pkg/types"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func makeBars(n int) []types.Bar {
	bars := make([]types.Bar, n)
	for i := range bars {
		c := float64(i + 1)
		bars[i] = types.Bar{
			Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i),
			Open:      c, High: c + 1, Low: c - 1, Close: c,
			Volume: 2_000_000,
		}
	}
	return bars
}

type fakeLoader struct {
	frame *types.Frame
	err   error
	calls int
}

func (f *fakeLoader) LoadFrame(ctx context.Context, symbol, timeframe string, start, end time.Time) (*types.Frame, error) {
	f.calls++
	return f.frame, f.err
}

type fakeStore struct {
	mu   sync.Mutex
	recs []persistence.RunRecord
	err  error
}

func (f *fakeStore) SaveRun(ctx context.Context, rec persistence.RunRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.recs = append(f.recs, rec)
	return int64(len(f.recs)), nil
}

type fakePublisher struct {
	events []*bus.Event
}

func (f *fakePublisher) Publish(ctx context.Context, event *bus.Event) error {
	f.events = append(f.events, event)
	return nil
}

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	logger := newTestLogger()
	runner, err := pipeline.NewRunner(nil, nil, logger)
	if err != nil {
		t.Fatalf("NewRunner: %v", err)
	}
	srv := NewServer(runner, runtracker.NewTracker(logger, "test-v1"), logger)
	return srv, srv.Handler()
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHandleStatus(t *testing.T) {
	srv, h := newTestServer(t)
	srv.Store = &fakeStore{}

	w := do(t, h, http.MethodGet, "/api/v1/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	resp := decode[statusResponse](t, w)
	if resp.Status != "healthy" || resp.Version != "test-v1" {
		t.Errorf("unexpected status %+v", resp)
	}
	if resp.BarSource || !resp.Persistence || resp.Events {
		t.Errorf("collaborator flags wrong: %+v", resp)
	}
	if resp.Presets == 0 {
		t.Error("expected preset count")
	}
}

func TestHandleParse(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/parse", scriptRequest{DSL: "ENTRY: price > sma(close, 20)"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		AST             map[string]any `json:"ast"`
		RequiredColumns []string       `json:"required_columns"`
		Functions       []string       `json:"functions"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	entry, _ := resp.AST["entry"].(map[string]any)
	if entry["type"] != "compare" || resp.AST["exit"] != nil {
		t.Errorf("unexpected ast %v", resp.AST)
	}
	if len(resp.RequiredColumns) != 1 || resp.RequiredColumns[0] != "close" {
		t.Errorf("required columns = %v", resp.RequiredColumns)
	}
	if len(resp.Functions) != 1 || resp.Functions[0] != "sma" {
		t.Errorf("functions = %v", resp.Functions)
	}
}

func TestHandleParseSyntaxError(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodPost, "/api/v1/parse", scriptRequest{DSL: "ENTRY: volume > 1,000,000"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	resp := decode[errorResponse](t, w)
	if resp.Line != 1 || resp.Column != 18 || resp.Token != "," {
		t.Errorf("unexpected position %+v", resp)
	}
}

func TestHandleParseBadBody(t *testing.T) {
	_, h := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/parse", strings.NewReader("{"))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestHandleValidate(t *testing.T) {
	_, h := newTestServer(t)

	tests := []struct {
		dsl   string
		valid bool
	}{
		{"ENTRY: close > sma(close, 20)", true},
		{"ENTRY: foo(close, 7) > 1", false},
		{"close > 5", false},
	}
	for _, tt := range tests {
		w := do(t, h, http.MethodPost, "/api/v1/validate", scriptRequest{DSL: tt.dsl})
		if w.Code != http.StatusOK {
			t.Fatalf("%q: expected 200, got %d", tt.dsl, w.Code)
		}
		resp := decode[validateResponse](t, w)
		if resp.Valid != tt.valid || (len(resp.Errors) == 0) != tt.valid {
			t.Errorf("%q: unexpected response %+v", tt.dsl, resp)
		}
	}
}

func TestHandleBacktestInlineBars(t *testing.T) {
	srv, h := newTestServer(t)
	store := &fakeStore{}
	events := &fakePublisher{}
	srv.Store = store
	srv.Events = events

	w := do(t, h, http.MethodPost, "/api/v1/backtest", backtestRequest{
		DSL:    "ENTRY: close > sma(close, 20) AND volume > 1000000",
		Bars:   makeBars(50),
		Symbol: "TEST",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		RunID     string        `json:"run_id"`
		RecordID  int64         `json:"record_id"`
		Result    *types.Result `json:"result"`
		Persisted bool          `json:"persisted"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Result.NumberOfTrades != 1 || resp.Result.TotalReturn != 30 {
		t.Errorf("unexpected result %+v", resp.Result)
	}
	if !resp.Persisted || resp.RecordID != 1 || len(store.recs) != 1 {
		t.Errorf("run not persisted: %+v", resp)
	}
	if len(events.events) != 1 || events.events[0].EventType != bus.EventBacktestCompleted {
		t.Errorf("unexpected events %v", events.events)
	}

	run := srv.Tracker.Get(resp.RunID)
	if run == nil || run.Status != runtracker.StatusCompleted || run.RecordID != 1 {
		t.Errorf("tracker state %+v", run)
	}
}

func TestHandleBacktestPresetWithLoader(t *testing.T) {
	srv, h := newTestServer(t)
	frame, err := types.FrameFromBars(makeBars(30))
	if err != nil {
		t.Fatal(err)
	}
	loader := &fakeLoader{frame: frame}
	srv.Bars = loader

	w := do(t, h, http.MethodPost, "/api/v1/backtest", backtestRequest{
		Strategy: "breakout_20",
		Symbol:   "AAPL",
		Start:    "2024-01-01",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	if loader.calls != 1 {
		t.Errorf("loader calls = %d", loader.calls)
	}
	if runs := srv.Tracker.List(runtracker.ListFilter{}); len(runs) != 1 || runs[0].Timeframe != "1Day" {
		t.Errorf("expected one run on the default timeframe, got %v", runs)
	}
}

func TestHandleBacktestNaNClose(t *testing.T) {
	srv, h := newTestServer(t)
	bars := makeBars(4)
	bars[0].Close = math.NaN()
	frame, err := types.FrameFromBars(bars)
	if err != nil {
		t.Fatal(err)
	}
	srv.Bars = &fakeLoader{frame: frame}

	w := do(t, h, http.MethodPost, "/api/v1/backtest", backtestRequest{
		DSL:    "ENTRY: volume > 1",
		Symbol: "AAPL",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Result *types.Result `json:"result"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("body must decode: %v", err)
	}
	// entry skips the NaN row and fills at close 2, forced close at 4
	if resp.Result.NumberOfTrades != 1 || resp.Result.TotalReturn != 2 {
		t.Errorf("unexpected result %+v", resp.Result)
	}
}

func TestWriteJSONUnencodable(t *testing.T) {
	w := httptest.NewRecorder()
	writeJSON(w, http.StatusOK, map[string]float64{"v": math.NaN()})
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "error") {
		t.Errorf("expected an error body, got %q", w.Body)
	}
}

func TestHandleBacktestErrors(t *testing.T) {
	srv, h := newTestServer(t)
	srv.Bars = &fakeLoader{err: errors.New("no bars found")}

	tests := []struct {
		name string
		req  backtestRequest
		code int
	}{
		{"no source", backtestRequest{Bars: makeBars(3)}, http.StatusBadRequest},
		{"both sources", backtestRequest{DSL: "ENTRY: close > 1", Strategy: "sma_trend", Bars: makeBars(3)}, http.StatusBadRequest},
		{"unknown preset", backtestRequest{Strategy: "nope", Bars: makeBars(3)}, http.StatusNotFound},
		{"syntax", backtestRequest{DSL: "close > 1", Bars: makeBars(3)}, http.StatusBadRequest},
		{"no data", backtestRequest{DSL: "ENTRY: close > 1"}, http.StatusBadRequest},
		{"bad start", backtestRequest{DSL: "ENTRY: close > 1", Symbol: "AAPL", Start: "soon"}, http.StatusBadRequest},
		{"loader error", backtestRequest{DSL: "ENTRY: close > 1", Symbol: "AAPL"}, http.StatusUnprocessableEntity},
		{"unsorted bars", backtestRequest{DSL: "ENTRY: close > 1", Bars: []types.Bar{makeBars(2)[1], makeBars(2)[0]}}, http.StatusUnprocessableEntity},
		{"unknown function", backtestRequest{DSL: "ENTRY: foo(close, 3) > 1", Bars: makeBars(5)}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/api/v1/backtest", tt.req)
			if w.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, w.Code, w.Body)
			}
		})
	}

	failed := srv.Tracker.List(runtracker.ListFilter{Status: runtracker.StatusFailed})
	if len(failed) != 1 || !strings.Contains(failed[0].ErrorMessage, "unknown function") {
		t.Errorf("expected the evaluator failure to be tracked, got %v", failed)
	}
}

func TestHandleBacktestNoBarSource(t *testing.T) {
	_, h := newTestServer(t)
	w := do(t, h, http.MethodPost, "/api/v1/backtest", backtestRequest{DSL: "ENTRY: close > 1", Symbol: "AAPL"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestHandleBacktestStoreFailureStillSucceeds(t *testing.T) {
	srv, h := newTestServer(t)
	srv.Store = &fakeStore{err: fmt.Errorf("db down")}

	w := do(t, h, http.MethodPost, "/api/v1/backtest", backtestRequest{DSL: "ENTRY: close > 10", Bars: makeBars(20)})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[backtestResponse](t, w)
	if resp.Persisted {
		t.Error("expected persisted=false when the store fails")
	}
}

func TestHandleRuns(t *testing.T) {
	srv, h := newTestServer(t)
	srv.Tracker.StartRun("AAPL", "1Hour", "")
	srv.Tracker.StartRun("GOOG", "1Day", "")

	w := do(t, h, http.MethodGet, "/api/v1/runs?symbol=GOOG", nil)
	resp := decode[runListResponse](t, w)
	if resp.TotalRuns != 1 || resp.Runs[0].Symbol != "GOOG" {
		t.Errorf("unexpected runs %+v", resp)
	}
	if resp.Runs[0].NumberOfTrades != nil {
		t.Error("running run should have no trade count")
	}

	w = do(t, h, http.MethodGet, "/api/v1/runs?limit=1", nil)
	if resp := decode[runListResponse](t, w); resp.TotalRuns != 1 {
		t.Errorf("expected 1 run with limit=1, got %d", resp.TotalRuns)
	}
}

func TestHandleGetRun(t *testing.T) {
	srv, h := newTestServer(t)
	runID := srv.Tracker.StartRun("AAPL", "1Hour", "ENTRY: close > 1")

	w := do(t, h, http.MethodGet, "/api/v1/runs/"+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	run := decode[runtracker.Run](t, w)
	if run.RunID != runID || run.Source != "ENTRY: close > 1" {
		t.Errorf("unexpected run %+v", run)
	}

	w = do(t, h, http.MethodGet, "/api/v1/runs/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if resp := decode[errorResponse](t, w); resp.Error != "run not found" {
		t.Errorf("unexpected error %q", resp.Error)
	}
}

func TestHandleStrategies(t *testing.T) {
	_, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/v1/strategies", nil)
	resp := decode[strategyListResponse](t, w)
	if resp.Count == 0 || resp.Count != len(resp.Strategies) {
		t.Errorf("unexpected list %+v", resp)
	}

	w = do(t, h, http.MethodGet, "/api/v1/strategies?category=breakout", nil)
	for _, p := range decode[strategyListResponse](t, w).Strategies {
		if p.Category != "breakout" {
			t.Errorf("category filter returned %s", p.Name)
		}
	}

	w = do(t, h, http.MethodGet, "/api/v1/strategies/golden_cross", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	w = do(t, h, http.MethodGet, "/api/v1/strategies/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
