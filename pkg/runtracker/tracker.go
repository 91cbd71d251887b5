package runtracker

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/algomatic/dslbacktest/pkg/backtest"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// ErrRunNotFound is returned for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// ErrRunFinished is returned when completing or failing a run twice.
var ErrRunFinished = errors.New("run already finished")

// Tracker provides thread-safe management of run state.
type Tracker struct {
	mu     sync.RWMutex
	runs   map[string]*Run
	logger *slog.Logger

	startedAt time.Time
	version   string
}

// NewTracker creates a new run tracker.
func NewTracker(logger *slog.Logger, version string) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if version == "" {
		version = "dev"
	}
	return &Tracker{
		runs:      make(map[string]*Run),
		logger:    logger,
		startedAt: time.Now(),
		version:   version,
	}
}

// StartedAt returns the time the tracker was created.
func (t *Tracker) StartedAt() time.Time {
	return t.startedAt
}

// Version returns the version string.
func (t *Tracker) Version() string {
	return t.version
}

// UptimeSeconds returns seconds since the tracker was created.
func (t *Tracker) UptimeSeconds() float64 {
	return time.Since(t.startedAt).Seconds()
}

// StartRun registers a running backtest and returns its run ID.
func (t *Tracker) StartRun(symbol, timeframe, source string) string {
	runID := uuid.NewString()
	run := &Run{
		RunID:     runID,
		Symbol:    symbol,
		Timeframe: timeframe,
		Source:    source,
		StartTime: time.Now(),
		Status:    StatusRunning,
	}

	t.mu.Lock()
	t.runs[runID] = run
	t.mu.Unlock()

	t.logger.Info("Run started",
		"run_id", runID,
		"symbol", symbol,
		"timeframe", timeframe,
	)
	return runID
}

// Complete records the result of a run.
func (t *Tracker) Complete(runID string, res *types.Result, summary backtest.Summary) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, err := t.runningLocked(runID)
	if err != nil {
		return err
	}
	now := time.Now()
	run.EndTime = &now
	run.Status = StatusCompleted
	run.Result = res
	run.Summary = &summary

	t.logger.Info("Run finished",
		"run_id", runID,
		"status", run.Status,
		"trades", res.NumberOfTrades,
		"elapsed_secs", run.ElapsedSeconds(),
	)
	return nil
}

// Fail marks a run as failed.
func (t *Tracker) Fail(runID string, runErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, err := t.runningLocked(runID)
	if err != nil {
		return err
	}
	now := time.Now()
	run.EndTime = &now
	run.Status = StatusFailed
	run.ErrorMessage = runErr.Error()

	t.logger.Warn("Run failed", "run_id", runID, "error", runErr)
	return nil
}

// SetRecordID links a run to its stored database row.
func (t *Tracker) SetRecordID(runID string, id int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	run, ok := t.runs[runID]
	if !ok {
		return fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	run.RecordID = id
	return nil
}

// runningLocked must be called with t.mu held.
func (t *Tracker) runningLocked(runID string) (*Run, error) {
	run, ok := t.runs[runID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", runID, ErrRunNotFound)
	}
	if run.Status != StatusRunning {
		return nil, fmt.Errorf("%s is %s: %w", runID, run.Status, ErrRunFinished)
	}
	return run, nil
}

// Get returns a snapshot of the run with the given ID, or nil if not found.
func (t *Tracker) Get(runID string) *Run {
	t.mu.RLock()
	defer t.mu.RUnlock()
	run, ok := t.runs[runID]
	if !ok {
		return nil
	}
	cp := *run
	return &cp
}

// List returns snapshots of matching runs, newest first.
func (t *Tracker) List(filter ListFilter) []*Run {
	t.mu.RLock()
	result := make([]*Run, 0, len(t.runs))
	for _, run := range t.runs {
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		if filter.Symbol != "" && run.Symbol != filter.Symbol {
			continue
		}
		cp := *run
		result = append(result, &cp)
	}
	t.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].StartTime.After(result[j].StartTime)
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result
}
