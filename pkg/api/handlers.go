// Package api provides HTTP handlers for the rule backtester.
//
// Endpoints:
//
//	GET  /api/v1/status               - Service health check
//	POST /api/v1/parse                - Parse a script into its AST
//	POST /api/v1/validate             - Report semantic problems in a script
//	POST /api/v1/backtest             - Run a script or preset over bars
//	GET  /api/v1/runs                 - List runs (with optional filters)
//	GET  /api/v1/runs/{run_id}        - Run detail with result
//	GET  /api/v1/strategies           - List preset strategies
//	GET  /api/v1/strategies/{name}    - One preset strategy
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/algomatic/dslbacktest/pkg/bus"
	"github.com/algomatic/dslbacktest/pkg/persistence"
	"github.com/algomatic/dslbacktest/pkg/pipeline"
	"github.com/algomatic/dslbacktest/pkg/runtracker"
	"github.com/algomatic/dslbacktest/pkg/strategy"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// FrameLoader fetches bars for a symbol.
type FrameLoader interface {
	LoadFrame(ctx context.Context, symbol, timeframe string, start, end time.Time) (*types.Frame, error)
}

// Publisher sends run events.
type Publisher interface {
	Publish(ctx context.Context, event *bus.Event) error
}

// Server holds dependencies for the API handlers. Bars, Store and Events are
// optional.
type Server struct {
	Runner  *pipeline.Runner
	Tracker *runtracker.Tracker
	Bars    FrameLoader
	Store   persistence.Persister
	Events  Publisher
	Logger  *slog.Logger

	// DefaultTimeframe applies when a backtest request names none.
	DefaultTimeframe string
}

// NewServer creates a new API server.
func NewServer(runner *pipeline.Runner, tracker *runtracker.Tracker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		Runner:           runner,
		Tracker:          tracker,
		Logger:           logger,
		DefaultTimeframe: "1Day",
	}
}

// RegisterRoutes registers all API routes on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.HandleStatus)
	mux.HandleFunc("POST /api/v1/parse", s.HandleParse)
	mux.HandleFunc("POST /api/v1/validate", s.HandleValidate)
	mux.HandleFunc("POST /api/v1/backtest", s.HandleBacktest)
	mux.HandleFunc("GET /api/v1/runs", s.HandleListRuns)
	mux.HandleFunc("GET /api/v1/runs/{run_id}", s.HandleGetRun)
	mux.HandleFunc("GET /api/v1/strategies", s.HandleListStrategies)
	mux.HandleFunc("GET /api/v1/strategies/{name}", s.HandleGetStrategy)
}

// Handler returns a mux with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// ---------------------------------------------------------------------------
// Response types
// ---------------------------------------------------------------------------

type statusResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Version       string  `json:"version"`
	BarSource     bool    `json:"bar_source"`
	Persistence   bool    `json:"persistence"`
	Events        bool    `json:"events"`
	Presets       int     `json:"presets"`
}

type runListItem struct {
	RunID              string   `json:"run_id"`
	Symbol             string   `json:"symbol"`
	Timeframe          string   `json:"timeframe"`
	StartTime          string   `json:"start_time"`
	EndTime            *string  `json:"end_time"`
	Status             string   `json:"status"`
	NumberOfTrades     *int     `json:"number_of_trades"`
	TotalReturn        *float64 `json:"total_return"`
	ElapsedTimeSeconds float64  `json:"elapsed_time_seconds"`
}

type runListResponse struct {
	Runs      []runListItem `json:"runs"`
	TotalRuns int           `json:"total_runs"`
}

type strategyListResponse struct {
	Strategies []*strategy.Preset `json:"strategies"`
	Count      int                `json:"count"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
	Token  string `json:"token,omitempty"`
}

// ---------------------------------------------------------------------------
// Handlers
// ---------------------------------------------------------------------------

// HandleStatus returns overall service health and readiness.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		Status:        "healthy",
		UptimeSeconds: s.Tracker.UptimeSeconds(),
		Version:       s.Tracker.Version(),
		BarSource:     s.Bars != nil,
		Persistence:   s.Store != nil,
		Events:        s.Events != nil,
		Presets:       strategy.Count(),
	})
}

// HandleListRuns returns the tracked runs, newest first.
func (s *Server) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := runtracker.ListFilter{
		Status: runtracker.RunStatus(q.Get("status")),
		Symbol: q.Get("symbol"),
		Limit:  100,
	}
	if l := q.Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			filter.Limit = parsed
		}
	}

	runs := s.Tracker.List(filter)
	items := make([]runListItem, len(runs))
	for i, run := range runs {
		items[i] = buildRunListItem(run)
	}

	writeJSON(w, http.StatusOK, runListResponse{
		Runs:      items,
		TotalRuns: len(items),
	})
}

// HandleGetRun returns one run including its result.
func (s *Server) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("run_id")
	if runID == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "run_id is required"})
		return
	}

	run := s.Tracker.Get(runID)
	if run == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "run not found"})
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// HandleListStrategies returns every preset strategy.
func (s *Server) HandleListStrategies(w http.ResponseWriter, r *http.Request) {
	all := strategy.GetAll()
	if c := r.URL.Query().Get("category"); c != "" {
		all = strategy.GetByCategory(c)
	}
	writeJSON(w, http.StatusOK, strategyListResponse{Strategies: all, Count: len(all)})
}

// HandleGetStrategy returns one preset by name.
func (s *Server) HandleGetStrategy(w http.ResponseWriter, r *http.Request) {
	p := strategy.GetByName(r.PathValue("name"))
	if p == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "strategy not found"})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// writeJSON encodes v before writing the header, so an unencodable body
// becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode JSON response", "error", err)
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]string{"error": "failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func buildRunListItem(run *runtracker.Run) runListItem {
	item := runListItem{
		RunID:              run.RunID,
		Symbol:             run.Symbol,
		Timeframe:          run.Timeframe,
		StartTime:          run.StartTime.UTC().Format("2006-01-02T15:04:05Z"),
		EndTime:            formatOptionalTime(run.EndTime),
		Status:             string(run.Status),
		ElapsedTimeSeconds: run.ElapsedSeconds(),
	}
	if run.Result != nil {
		n, ret := run.Result.NumberOfTrades, run.Result.TotalReturn
		item.NumberOfTrades = &n
		item.TotalReturn = &ret
	}
	return item
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format("2006-01-02T15:04:05Z")
	return &s
}
