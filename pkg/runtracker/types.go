// Package runtracker keeps the state of backtest runs in memory so the API
// can report on them.
package runtracker

import (
	"time"

	"github.com/algomatic/dslbacktest/pkg/backtest"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// RunStatus represents the overall status of a run.
type RunStatus string

const (
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Run tracks one backtest of a script over one symbol.
type Run struct {
	RunID        string            `json:"run_id"`
	Symbol       string            `json:"symbol"`
	Timeframe    string            `json:"timeframe"`
	Source       string            `json:"dsl"`
	StartTime    time.Time         `json:"start_time"`
	EndTime      *time.Time        `json:"end_time"`
	Status       RunStatus         `json:"status"`
	Result       *types.Result     `json:"result,omitempty"`
	Summary      *backtest.Summary `json:"summary,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	RecordID     int64             `json:"record_id,omitempty"`
}

// ElapsedSeconds returns the run duration, or the time since start while the
// run is still going.
func (r *Run) ElapsedSeconds() float64 {
	if r.EndTime != nil {
		return r.EndTime.Sub(r.StartTime).Seconds()
	}
	return time.Since(r.StartTime).Seconds()
}

// ListFilter narrows List results. Zero fields match everything.
type ListFilter struct {
	Status RunStatus
	Symbol string
	Limit  int
}
