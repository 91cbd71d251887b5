// Package backtest simulates a single long position driven by entry/exit
// signals.
//
// Fills happen at the close of the signalling row. Only one position is open
// at a time, and a position still open after the last row is closed at the
// last close.
package backtest

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/algomatic/dslbacktest/pkg/types"
)

// ErrLengthMismatch is returned when the signal table and the frame have a
// different number of rows.
var ErrLengthMismatch = errors.New("signal rows do not match frame rows")

// State is the position state of the simulator.
type State int

const (
	Flat State = iota
	Long
)

func (s State) String() string {
	if s == Long {
		return "LONG"
	}
	return "FLAT"
}

// Simulator runs backtests. It keeps no state between runs.
type Simulator struct {
	logger *slog.Logger
}

// New creates a Simulator. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{logger: logger}
}

// Run walks frame row by row. On each row the entry check runs before the exit
// check, so the row that opens a position never closes it. Rows with a NaN or
// infinite close never fill; a forced close uses the last finite close.
func (s *Simulator) Run(frame *types.Frame, sig *types.SignalTable) (*types.Result, error) {
	if frame == nil || sig == nil {
		return nil, fmt.Errorf("backtest: frame and signals are required")
	}
	n := frame.Len()
	if len(sig.Entry) != n || len(sig.Exit) != n {
		return nil, fmt.Errorf("entry %d, exit %d, frame %d: %w", len(sig.Entry), len(sig.Exit), n, ErrLengthMismatch)
	}
	closes, err := frame.MustColumn(types.ColClose)
	if err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if n == 0 {
		s.logger.Warn("Empty frame passed to backtest")
	}

	var (
		state      = Flat
		entryIdx   int
		entryPrice float64
		equity     float64
		trades     = make([]types.Trade, 0, 16)
		curve      = make([]float64, 0, n+1)
	)

	closeTrade := func(i int, reason string) {
		exitPrice := closes[i]
		pnl := exitPrice - entryPrice
		trades = append(trades, types.Trade{
			EntryDate:  frame.Index[entryIdx],
			ExitDate:   frame.Index[i],
			EntryPrice: entryPrice,
			ExitPrice:  exitPrice,
			PnL:        pnl,
			BarsHeld:   i - entryIdx,
			ExitReason: reason,
		})
		equity += pnl
		state = Flat
		s.logger.Debug("Exited trade", "bar", i, "price", exitPrice, "pnl", pnl, "reason", reason)
	}

	lastFinite := -1
	for i := 0; i < n; i++ {
		finite := !math.IsNaN(closes[i]) && !math.IsInf(closes[i], 0)
		if finite {
			lastFinite = i
		}
		switch {
		case state == Flat && sig.Entry[i]:
			if !finite {
				s.logger.Warn("Skipping entry on non-finite close", "bar", i, "close", closes[i])
				break
			}
			state = Long
			entryIdx = i
			entryPrice = closes[i]
			s.logger.Debug("Entered trade", "bar", i, "price", entryPrice)
		case state == Long && sig.Exit[i]:
			if !finite {
				s.logger.Warn("Skipping exit on non-finite close", "bar", i, "close", closes[i])
				break
			}
			closeTrade(i, types.ExitSignal)
		}
		curve = append(curve, equity)
	}

	// The entry row has a finite close, so lastFinite >= entryIdx.
	if state == Long {
		closeTrade(lastFinite, types.ExitEndOfData)
		curve = append(curve, equity)
	}

	res := &types.Result{
		TotalReturn:    equity,
		MaxDrawdown:    MaxDrawdown(curve),
		NumberOfTrades: len(trades),
		EquityCurve:    curve,
		Trades:         trades,
	}
	s.logger.Info("Backtest completed",
		"rows", n,
		"trades", res.NumberOfTrades,
		"total_return", res.TotalReturn,
		"max_drawdown", res.MaxDrawdown,
	)
	return res, nil
}

// MaxDrawdown returns the most negative distance of the curve below its
// running maximum. It is 0 for an empty or never-declining curve.
func MaxDrawdown(curve []float64) float64 {
	if len(curve) == 0 {
		return 0
	}
	peak := math.Inf(-1)
	var worst float64
	for _, v := range curve {
		if v > peak {
			peak = v
		}
		if dd := v - peak; dd < worst {
			worst = dd
		}
	}
	return worst
}
