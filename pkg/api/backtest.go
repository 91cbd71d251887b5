package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/backtest"
	"github.com/algomatic/dslbacktest/pkg/bus"
	"github.com/algomatic/dslbacktest/pkg/dsl"
	"github.com/algomatic/dslbacktest/pkg/marketdata"
	"github.com/algomatic/dslbacktest/pkg/persistence"
	"github.com/algomatic/dslbacktest/pkg/strategy"
	"github.com/algomatic/dslbacktest/pkg/types"
)

const maxBodyBytes = 8 << 20

type scriptRequest struct {
	DSL string `json:"dsl"`
}

type parseResponse struct {
	AST             *ast.Script `json:"ast"`
	RequiredColumns []string    `json:"required_columns"`
	Functions       []string    `json:"functions"`
}

type validateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

type backtestRequest struct {
	DSL       string      `json:"dsl"`
	Strategy  string      `json:"strategy"`
	Bars      []types.Bar `json:"bars"`
	Symbol    string      `json:"symbol"`
	Timeframe string      `json:"timeframe"`
	Start     string      `json:"start"`
	End       string      `json:"end"`
}

type backtestResponse struct {
	RunID     string           `json:"run_id"`
	RecordID  int64            `json:"record_id,omitempty"`
	AST       *ast.Script      `json:"ast"`
	Result    *types.Result    `json:"result"`
	Summary   backtest.Summary `json:"summary"`
	Persisted bool             `json:"persisted"`
}

// HandleParse parses a script and returns its AST.
func (s *Server) HandleParse(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	script, err := s.Runner.Parse(r.Context(), req.DSL)
	if err != nil {
		writeSyntaxError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{
		AST:             script,
		RequiredColumns: ast.RequiredColumns(script),
		Functions:       ast.FunctionNames(script),
	})
}

// HandleValidate reports every semantic problem in a script. Syntax errors
// are reported as a single message.
func (s *Server) HandleValidate(w http.ResponseWriter, r *http.Request) {
	var req scriptRequest
	if !decodeBody(w, r, &req) {
		return
	}
	errs := dsl.ValidateText(req.DSL)
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, validateResponse{Valid: len(errs) == 0, Errors: errs})
}

// HandleBacktest runs a script or named preset over inline bars or bars
// loaded for a symbol.
func (s *Server) HandleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx := r.Context()

	source, status, err := resolveSource(req)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	script, err := s.Runner.Parse(ctx, source)
	if err != nil {
		writeSyntaxError(w, err)
		return
	}

	timeframe := req.Timeframe
	if timeframe == "" {
		timeframe = s.DefaultTimeframe
	}
	frame, status, err := s.loadFrame(ctx, req, timeframe)
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	runID := s.Tracker.StartRun(req.Symbol, timeframe, source)
	report, err := s.Runner.RunScript(ctx, script, frame)
	if err != nil {
		_ = s.Tracker.Fail(runID, err)
		s.publish(ctx, bus.NewFailedEvent(runID, req.Symbol, err))
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}
	if err := s.Tracker.Complete(runID, report.Result, report.Summary); err != nil {
		s.Logger.Warn("Could not record run completion", "run_id", runID, "error", err)
	}

	resp := backtestResponse{
		RunID:   runID,
		AST:     script,
		Result:  report.Result,
		Summary: report.Summary,
	}
	if id, ok := s.persist(ctx, runID, req.Symbol, timeframe, source, report.Script, report.Result, report.Summary); ok {
		resp.RecordID = id
		resp.Persisted = true
	}
	s.publish(ctx, bus.NewCompletedEvent(runID, req.Symbol, report.Result, report.Summary))

	writeJSON(w, http.StatusOK, resp)
}

func resolveSource(req backtestRequest) (string, int, error) {
	switch {
	case req.DSL != "" && req.Strategy != "":
		return "", http.StatusBadRequest, errors.New("dsl and strategy are mutually exclusive")
	case req.DSL != "":
		return req.DSL, 0, nil
	case req.Strategy != "":
		p := strategy.GetByName(req.Strategy)
		if p == nil {
			return "", http.StatusNotFound, fmt.Errorf("strategy %q not found", req.Strategy)
		}
		return p.DSL, 0, nil
	default:
		return "", http.StatusBadRequest, errors.New("one of dsl or strategy is required")
	}
}

func (s *Server) loadFrame(ctx context.Context, req backtestRequest, timeframe string) (*types.Frame, int, error) {
	if len(req.Bars) > 0 {
		frame, err := types.FrameFromBars(req.Bars)
		if err != nil {
			return nil, http.StatusUnprocessableEntity, fmt.Errorf("bars: %w", err)
		}
		return frame, 0, nil
	}
	if req.Symbol == "" {
		return nil, http.StatusBadRequest, errors.New("one of bars or symbol is required")
	}
	if s.Bars == nil {
		return nil, http.StatusServiceUnavailable, errors.New("no bar source configured")
	}

	start, err := parseOptionalTime(req.Start)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("start: %w", err)
	}
	end, err := parseOptionalTime(req.End)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("end: %w", err)
	}

	frame, err := s.Bars.LoadFrame(ctx, req.Symbol, timeframe, start, end)
	if err != nil {
		return nil, http.StatusUnprocessableEntity, fmt.Errorf("loading bars: %w", err)
	}
	return frame, 0, nil
}

func (s *Server) persist(
	ctx context.Context,
	runID, symbol, timeframe, source string,
	script *ast.Script,
	res *types.Result,
	summary backtest.Summary,
) (int64, bool) {
	if s.Store == nil {
		return 0, false
	}
	rec, err := persistence.NewRunRecord(runID, symbol, timeframe, source, script, res, summary)
	if err != nil {
		s.Logger.Warn("Could not build run record", "run_id", runID, "error", err)
		return 0, false
	}
	id, err := s.Store.SaveRun(ctx, rec)
	if err != nil {
		s.Logger.Warn("Could not save run", "run_id", runID, "error", err)
		return 0, false
	}
	_ = s.Tracker.SetRecordID(runID, id)
	return id, true
}

func (s *Server) publish(ctx context.Context, event *bus.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, event); err != nil {
		s.Logger.Warn("Could not publish event", "event_type", event.EventType, "run_id", event.RunID, "error", err)
	}
}

func parseOptionalTime(v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, nil
	}
	return marketdata.ParseTimestamp(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeSyntaxError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	var se *dsl.SyntaxError
	if errors.As(err, &se) {
		resp.Line, resp.Column, resp.Token = se.Line, se.Column, se.Token
	}
	status := http.StatusBadRequest
	if !errors.Is(err, dsl.ErrSyntax) {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, resp)
}
