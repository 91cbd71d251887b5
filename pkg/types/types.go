// Package types defines core data structures for the rule backtester.
//
//   - Bar = OHLCV row as delivered by a data source
//   - Frame = time-indexed columnar price table the evaluator reads
//   - SignalTable = per-row entry/exit flags produced from a script
//   - Trade / Result = output of the backtest simulator
package types

import (
	"fmt"
	"time"
)

// Bar represents a single OHLCV bar.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Standard OHLCV column names. Frames always use these lower-case names.
const (
	ColOpen   = "open"
	ColHigh   = "high"
	ColLow    = "low"
	ColClose  = "close"
	ColVolume = "volume"
)

// OHLCVColumns lists the price table columns in canonical order.
var OHLCVColumns = []string{ColOpen, ColHigh, ColLow, ColClose, ColVolume}

// IsOHLCVColumn reports whether name is one of the five standard columns.
func IsOHLCVColumn(name string) bool {
	switch name {
	case ColOpen, ColHigh, ColLow, ColClose, ColVolume:
		return true
	}
	return false
}

// SignalTable holds the boolean entry/exit flags for each row of a Frame.
// It shares the frame's index and is never mutated by consumers.
type SignalTable struct {
	Index []time.Time `json:"index"`
	Entry []bool      `json:"entry"`
	Exit  []bool      `json:"exit"`
}

// Len returns the number of rows.
func (s *SignalTable) Len() int {
	return len(s.Index)
}

// EntryCount returns the number of rows with an entry signal.
func (s *SignalTable) EntryCount() int {
	return countTrue(s.Entry)
}

// ExitCount returns the number of rows with an exit signal.
func (s *SignalTable) ExitCount() int {
	return countTrue(s.Exit)
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}

// Exit reasons recorded on trades.
const (
	ExitSignal    = "signal"
	ExitEndOfData = "end_of_data"
)

// Trade represents a completed long trade.
type Trade struct {
	EntryDate  time.Time `json:"entry_date"`
	ExitDate   time.Time `json:"exit_date"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	PnL        float64   `json:"pnl"`
	BarsHeld   int       `json:"bars_held"`
	ExitReason string    `json:"exit_reason"`
}

// String returns a human-readable representation of the trade.
func (t Trade) String() string {
	return fmt.Sprintf(
		"long %s entry=%.4f exit=%.4f pnl=%.4f bars=%d reason=%s",
		t.EntryDate.Format("2006-01-02 15:04"),
		t.EntryPrice, t.ExitPrice, t.PnL, t.BarsHeld, t.ExitReason,
	)
}

// Result is the outcome of a single backtest run.
type Result struct {
	TotalReturn    float64   `json:"total_return"`
	MaxDrawdown    float64   `json:"max_drawdown"`
	NumberOfTrades int       `json:"number_of_trades"`
	EquityCurve    []float64 `json:"equity_curve"`
	Trades         []Trade   `json:"trades"`
}
