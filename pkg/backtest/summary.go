package backtest

import (
	"math"

	"github.com/algomatic/dslbacktest/pkg/types"
)

// Summary holds per-trade statistics of a result.
type Summary struct {
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	WinRate   float64 `json:"win_rate"`
	PnLMean   float64 `json:"pnl_mean"`
	PnLStd    float64 `json:"pnl_std"`
	BestPnL   float64 `json:"best_pnl"`
	WorstPnL  float64 `json:"worst_pnl"`
	AvgBars   float64 `json:"avg_bars_held"`
	ForcedEnd bool    `json:"forced_end"`
}

// Summarize computes trade statistics. A trade with zero pnl counts as
// neither a win nor a loss.
func Summarize(res *types.Result) Summary {
	if res == nil || len(res.Trades) == 0 {
		return Summary{}
	}

	pnls := make([]float64, len(res.Trades))
	s := Summary{BestPnL: math.Inf(-1), WorstPnL: math.Inf(1)}
	var bars int
	for i, t := range res.Trades {
		pnls[i] = t.PnL
		switch {
		case t.PnL > 0:
			s.Wins++
		case t.PnL < 0:
			s.Losses++
		}
		s.BestPnL = math.Max(s.BestPnL, t.PnL)
		s.WorstPnL = math.Min(s.WorstPnL, t.PnL)
		bars += t.BarsHeld
		if t.ExitReason == types.ExitEndOfData {
			s.ForcedEnd = true
		}
	}

	s.WinRate = float64(s.Wins) / float64(len(pnls))
	s.PnLMean = mean(pnls)
	s.PnLStd = stddev(pnls)
	s.AvgBars = float64(bars) / float64(len(pnls))
	return s
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// stddev is the population standard deviation.
func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	var ss float64
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}
