package indicators

import (
	"sort"
	"strings"
)

// Func computes an indicator over a series with an integer period.
type Func func(x []float64, period int) []float64

// Spec describes a registered indicator.
type Spec struct {
	Name    string
	Arity   int // number of DSL arguments: series and period
	Compute Func
}

var registry = map[string]Spec{
	"sma":     {Name: "sma", Arity: 2, Compute: SMA},
	"ema":     {Name: "ema", Arity: 2, Compute: EMA},
	"rsi":     {Name: "rsi", Arity: 2, Compute: RSI},
	"lag":     {Name: "lag", Arity: 2, Compute: Lag},
	"highest": {Name: "highest", Arity: 2, Compute: Highest},
	"lowest":  {Name: "lowest", Arity: 2, Compute: Lowest},
}

// Lookup returns the indicator registered under name (case-insensitive).
func Lookup(name string) (Spec, bool) {
	s, ok := registry[strings.ToLower(name)]
	return s, ok
}

// Names returns all registered indicator names sorted alphabetically.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
