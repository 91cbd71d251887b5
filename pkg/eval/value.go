package eval

import "math"

// Value is the result of evaluating a node: a Scalar, a Series or a Mask.
type Value interface {
	value()
}

// Scalar is a single number broadcast across all rows.
type Scalar float64

// Series is one number per row. NaN marks an undefined row.
type Series []float64

// Mask is one boolean per row.
type Mask []bool

func (Scalar) value() {}
func (Series) value() {}
func (Mask) value()   {}

// numeric returns v as n values. Masks are not numeric.
func numeric(v Value, n int) ([]float64, bool) {
	switch x := v.(type) {
	case Scalar:
		out := make([]float64, n)
		for i := range out {
			out[i] = float64(x)
		}
		return out, true
	case Series:
		return x, true
	}
	return nil, false
}

// ToMask coerces v to n booleans. Numbers are true when non-zero and finite,
// so NaN rows are always false.
func ToMask(v Value, n int) []bool {
	out := make([]bool, n)
	switch x := v.(type) {
	case Mask:
		copy(out, x)
	case Scalar:
		if truthy(float64(x)) {
			for i := range out {
				out[i] = true
			}
		}
	case Series:
		for i := range out {
			out[i] = truthy(x[i])
		}
	}
	return out
}

func truthy(v float64) bool {
	return v != 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}
