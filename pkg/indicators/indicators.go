// Package indicators implements rolling technical indicators over float64 series.
//
// Every function returns a new slice aligned to the input length. Warm-up
// follows the partial-window policy: until the window is full, the value is
// computed from whatever history is available instead of being left undefined.
// NaN inputs are skipped inside a window; a window without any finite value
// yields NaN.
package indicators

import "math"

// rsiEpsilon floors the mean downward movement so RS never divides by zero.
const rsiEpsilon = 1e-8

// SMA returns the trailing mean over [max(0, i-p+1), i]. Each window is
// summed from scratch in row order, so the result does not depend on earlier
// rows and sma(x, 1) reproduces x exactly.
func SMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range x {
		start := i - p + 1
		if start < 0 {
			start = 0
		}
		var sum float64
		var count int
		for j := start; j <= i; j++ {
			if finite(x[j]) {
				sum += x[j]
				count++
			}
		}
		if count == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = sum / float64(count)
	}
	return out
}

// EMA uses standard smoothing 2/(p+1), seeded with the first finite value so
// there is no leading gap. NaN inputs carry the previous value forward.
func EMA(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	k := 2.0 / float64(p+1)
	prev := math.NaN()
	for i, v := range x {
		switch {
		case !finite(v):
			out[i] = prev
			continue
		case math.IsNaN(prev):
			prev = v
		default:
			prev = (v-prev)*k + prev
		}
		out[i] = prev
	}
	return out
}

// RSI computes a relative-strength oscillator with simple rolling means of
// upward and downward movement. Row 0 has no change and is NaN.
func RSI(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	n := len(x)
	up := make([]float64, n)
	down := make([]float64, n)
	for i := 0; i < n; i++ {
		if i == 0 || !finite(x[i]) || !finite(x[i-1]) {
			up[i] = math.NaN()
			down[i] = math.NaN()
			continue
		}
		d := x[i] - x[i-1]
		up[i] = math.Max(d, 0)
		down[i] = math.Max(-d, 0)
	}

	meanUp := SMA(up, p)
	meanDown := SMA(down, p)

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(meanUp[i]) || math.IsNaN(meanDown[i]) {
			out[i] = math.NaN()
			continue
		}
		mu := math.Max(meanUp[i], 0)
		md := math.Max(meanDown[i], 0)
		if md == 0 {
			md = rsiEpsilon
		}
		rsi := 100 - 100/(1+mu/md)
		out[i] = math.Min(math.Max(rsi, 0), 100)
	}
	return out
}

// Lag shifts the series forward by p rows; the first p values are NaN.
func Lag(x []float64, p int) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range x {
		if i < p {
			out[i] = math.NaN()
			continue
		}
		out[i] = x[i-p]
	}
	return out
}

// Highest returns the rolling maximum over [max(0, i-p+1), i].
func Highest(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a > b })
}

// Lowest returns the rolling minimum over [max(0, i-p+1), i].
func Lowest(x []float64, p int) []float64 {
	return rollingExtreme(x, p, func(a, b float64) bool { return a < b })
}

func rollingExtreme(x []float64, p int, better func(a, b float64) bool) []float64 {
	if p <= 0 {
		return nil
	}
	out := make([]float64, len(x))
	for i := range x {
		best := math.NaN()
		start := i - p + 1
		if start < 0 {
			start = 0
		}
		for j := start; j <= i; j++ {
			if !finite(x[j]) {
				continue
			}
			if math.IsNaN(best) || better(x[j], best) {
				best = x[j]
			}
		}
		out[i] = best
	}
	return out
}

// finite returns true if the value is not NaN or Inf.
func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
