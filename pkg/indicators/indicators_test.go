package indicators

import (
	"math"
	"math/rand"
	"testing"
)

func seq(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, float64(v))
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestSMAFullWindow(t *testing.T) {
	out := SMA(seq(1, 50), 20)
	if len(out) != 50 {
		t.Fatalf("len = %d, want 50", len(out))
	}
	// mean of 1..20
	if !approx(out[19], 10.5) {
		t.Errorf("sma[19] = %f, want 10.5", out[19])
	}
	// mean of 31..50
	if !approx(out[49], 40.5) {
		t.Errorf("sma[49] = %f, want 40.5", out[49])
	}
}

func TestSMAPartialWindow(t *testing.T) {
	out := SMA(seq(1, 5), 3)
	want := []float64{1, 1.5, 2, 3, 4}
	for i := range want {
		if !approx(out[i], want[i]) {
			t.Errorf("sma[%d] = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestSMASkipsNaN(t *testing.T) {
	nan := math.NaN()
	out := SMA([]float64{nan, 2, 4, nan}, 2)
	if !math.IsNaN(out[0]) {
		t.Errorf("sma[0] = %f, want NaN (no finite value in window)", out[0])
	}
	if !approx(out[1], 2) || !approx(out[2], 3) || !approx(out[3], 4) {
		t.Errorf("unexpected output %v", out)
	}
}

func TestNonPositivePeriod(t *testing.T) {
	for name, fn := range map[string]Func{"sma": SMA, "ema": EMA, "rsi": RSI, "lag": Lag, "highest": Highest, "lowest": Lowest} {
		if out := fn(seq(1, 5), 0); out != nil {
			t.Errorf("%s with period 0 should return nil, got %v", name, out)
		}
	}
}

func TestRSIIncreasingSeries(t *testing.T) {
	out := RSI(seq(1, 50), 14)
	if !math.IsNaN(out[0]) {
		t.Errorf("rsi[0] = %f, want NaN", out[0])
	}
	for i := 1; i < len(out); i++ {
		if out[i] < 99 || out[i] > 100 {
			t.Errorf("rsi[%d] = %f, want saturated near 100", i, out[i])
		}
	}
}

func TestRSIDecreasingSeries(t *testing.T) {
	x := seq(1, 30)
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
	out := RSI(x, 14)
	for i := 1; i < len(out); i++ {
		if !approx(out[i], 0) {
			t.Errorf("rsi[%d] = %f, want 0", i, out[i])
		}
	}
}

func TestRSIKnownValue(t *testing.T) {
	// deltas: +2, -1, +1 -> window 3 at row 3: up mean 1, down mean 1/3
	out := RSI([]float64{10, 12, 11, 12}, 3)
	want := 100 - 100/(1+3.0)
	if !approx(out[3], want) {
		t.Errorf("rsi[3] = %f, want %f", out[3], want)
	}
}

func TestRSIBounded(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	x := make([]float64, 500)
	price := 100.0
	for i := range x {
		price += r.NormFloat64() * 2
		x[i] = price
	}
	for _, p := range []int{2, 5, 14, 50} {
		for i, v := range RSI(x, p) {
			if math.IsNaN(v) {
				if i != 0 {
					t.Errorf("period %d: unexpected NaN at %d", p, i)
				}
				continue
			}
			if v < 0 || v > 100 {
				t.Errorf("period %d: rsi[%d] = %f out of [0,100]", p, i, v)
			}
		}
	}
}

func TestRSIBoundedWideRange(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	x := make([]float64, 500)
	for i := range x {
		x[i] = (r.Float64() - 0.5) * 1e6
	}
	for _, p := range []int{1, 2, 3, 14} {
		for i, v := range RSI(x, p) {
			if i == 0 {
				continue
			}
			if math.IsNaN(v) || v < 0 || v > 100 {
				t.Errorf("period %d: rsi[%d] = %v out of [0,100]", p, i, v)
			}
		}
	}
}

func TestRSIPeriodOneIsExtreme(t *testing.T) {
	// with one change per window the oscillator is 0 after a fall and
	// 100 after a rise
	out := RSI([]float64{500000.25, -123456.5, 98765.125, 98765.125}, 1)
	if out[1] != 0 {
		t.Errorf("rsi after fall = %v, want 0", out[1])
	}
	if out[2] < 99.999 || out[2] > 100 {
		t.Errorf("rsi after rise = %v, want ~100", out[2])
	}
	if out[3] != 0 {
		t.Errorf("rsi on flat row = %v, want 0", out[3])
	}
}

func TestSMAPeriodOneIsIdentity(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	x := make([]float64, 2000)
	price := 100.0
	for i := range x {
		price += math.Round(r.NormFloat64()*100) / 100
		x[i] = math.Round(price*100) / 100
	}
	out := SMA(x, 1)
	for i := range x {
		if out[i] != x[i] {
			t.Fatalf("sma(x,1)[%d] = %v, want %v", i, out[i], x[i])
		}
	}
}

func TestSMAMatchesWindowMean(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	x := make([]float64, 300)
	for i := range x {
		x[i] = r.Float64() * 1e5
	}
	const p = 20
	out := SMA(x, p)
	for i := range x {
		start := max(0, i-p+1)
		var sum float64
		for _, v := range x[start : i+1] {
			sum += v
		}
		if want := sum / float64(i+1-start); out[i] != want {
			t.Fatalf("sma[%d] = %v, want %v", i, out[i], want)
		}
	}
}

func TestEMA(t *testing.T) {
	out := EMA([]float64{10, 11, 12}, 3)
	// k = 0.5: 10, 10.5, 11.25
	want := []float64{10, 10.5, 11.25}
	for i := range want {
		if !approx(out[i], want[i]) {
			t.Errorf("ema[%d] = %f, want %f", i, out[i], want[i])
		}
	}
}

func TestEMALeadingNaN(t *testing.T) {
	nan := math.NaN()
	out := EMA([]float64{nan, 4, 6}, 1)
	if !math.IsNaN(out[0]) {
		t.Errorf("ema[0] = %f, want NaN", out[0])
	}
	if out[1] != 4 || out[2] != 6 {
		t.Errorf("period 1 ema should track input, got %v", out)
	}
}

func TestLag(t *testing.T) {
	out := Lag(seq(1, 6), 2)
	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Errorf("first two values should be NaN, got %v", out[:2])
	}
	if out[2] != 1 || out[5] != 4 {
		t.Errorf("unexpected lag output %v", out)
	}
}

func TestHighestLowest(t *testing.T) {
	x := []float64{3, 1, 4, 1, 5, 9, 2, 6}
	hi := Highest(x, 3)
	lo := Lowest(x, 3)
	wantHi := []float64{3, 3, 4, 4, 5, 9, 9, 9}
	wantLo := []float64{3, 1, 1, 1, 1, 1, 2, 2}
	for i := range x {
		if hi[i] != wantHi[i] {
			t.Errorf("highest[%d] = %f, want %f", i, hi[i], wantHi[i])
		}
		if lo[i] != wantLo[i] {
			t.Errorf("lowest[%d] = %f, want %f", i, lo[i], wantLo[i])
		}
	}
}

func TestRegistry(t *testing.T) {
	for _, name := range []string{"sma", "SMA", "Rsi", "ema", "lag", "highest", "lowest"} {
		s, ok := Lookup(name)
		if !ok {
			t.Errorf("Lookup(%q) not found", name)
			continue
		}
		if s.Arity != 2 || s.Compute == nil {
			t.Errorf("Lookup(%q) = %+v", name, s)
		}
	}
	if _, ok := Lookup("foo"); ok {
		t.Error("Lookup(foo) should fail")
	}
	if len(Names()) != 6 {
		t.Errorf("Names() = %v", Names())
	}
}
