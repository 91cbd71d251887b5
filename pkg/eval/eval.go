// Package eval evaluates AST nodes against a price Frame.
//
// Evaluation is vectorised: every node produces a whole column at once. A
// Field yields the frame column, a Number a broadcast Scalar, a Function an
// indicator Series, and Compare / Bool / Cross yield boolean Masks. Undefined
// (NaN) rows never satisfy a comparison or a cross.
//
// Indicators use partial windows, so sma(close, 20) has a value at row 0. By
// default the evaluator hides rows before the first full window (WarmupMask);
// WarmupPartial keeps them.
package eval

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/indicators"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// Warmup selects how indicator rows before a full window are exposed.
type Warmup string

const (
	// WarmupMask treats rows before the first full window as undefined, so
	// no condition on the indicator holds there.
	WarmupMask Warmup = "mask"
	// WarmupPartial exposes the partial-window values unchanged.
	WarmupPartial Warmup = "partial"
)

// ParseWarmup converts a config value. The empty string selects WarmupMask.
func ParseWarmup(s string) (Warmup, error) {
	switch Warmup(s) {
	case "", WarmupMask:
		return WarmupMask, nil
	case WarmupPartial:
		return WarmupPartial, nil
	}
	return "", fmt.Errorf("unknown warmup policy %q (expected mask or partial)", s)
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithWarmup sets the warm-up policy. The default is WarmupMask.
func WithWarmup(w Warmup) Option {
	return func(e *Evaluator) { e.warmup = w }
}

// Evaluator computes node values. It holds no per-call state and is safe for
// concurrent use. It never modifies the frame.
type Evaluator struct {
	logger *slog.Logger
	warmup Warmup
}

// New creates an Evaluator. If logger is nil, slog.Default() is used.
func New(logger *slog.Logger, opts ...Option) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Evaluator{logger: logger, warmup: WarmupMask}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Warmup returns the configured warm-up policy.
func (e *Evaluator) Warmup() Warmup {
	return e.warmup
}

// Eval evaluates node over every row of frame. A nil node evaluates to an
// all-false Mask.
func (e *Evaluator) Eval(node ast.Node, frame *types.Frame) (Value, error) {
	return e.eval(node, frame, "$")
}

// EvalMask evaluates node and coerces the result to a boolean mask. path
// prefixes error locations.
func (e *Evaluator) EvalMask(node ast.Node, frame *types.Frame, path string) ([]bool, error) {
	v, err := e.eval(node, frame, path)
	if err != nil {
		return nil, err
	}
	return ToMask(v, frame.Len()), nil
}

func (e *Evaluator) eval(node ast.Node, frame *types.Frame, path string) (Value, error) {
	n := frame.Len()
	switch x := node.(type) {
	case nil:
		return Mask(make([]bool, n)), nil
	case *ast.Number:
		return Scalar(x.Value), nil
	case *ast.Field:
		return e.evalField(x, frame, path)
	case *ast.Function:
		return e.evalFunction(x, frame, path)
	case *ast.Compare:
		return e.evalCompare(x, frame, path)
	case *ast.Bool:
		return e.evalBool(x, frame, path)
	case *ast.Cross:
		return e.evalCross(x, frame, path)
	}
	return nil, newError(ErrUnsupportedOperator, path, "unsupported node %T", node)
}

func (e *Evaluator) evalField(f *ast.Field, frame *types.Frame, path string) (Value, error) {
	if !types.IsOHLCVColumn(f.Name) {
		return nil, newError(ErrUnknownField, path, "%q is not one of %v", f.Name, types.OHLCVColumns)
	}
	col, ok := frame.Column(f.Name)
	if !ok {
		return nil, newError(ErrColumnNotFound, path, "frame has no %q column", f.Name)
	}
	return Series(col), nil
}

func (e *Evaluator) evalFunction(f *ast.Function, frame *types.Frame, path string) (Value, error) {
	def, ok := indicators.Lookup(f.Name)
	if !ok {
		return nil, newError(ErrUnknownFunction, path, "%q", f.Name)
	}
	if len(f.Args) != def.Arity {
		return nil, newError(ErrBadArgument, path, "%s expects %d arguments, got %d", def.Name, def.Arity, len(f.Args))
	}
	period, ok := ast.PeriodValue(f.Args[1])
	if !ok {
		return nil, newError(ErrBadArgument, path+".args[1]", "%s period must be a positive integer literal", def.Name)
	}

	argPath := path + ".args[0]"
	arg, err := e.eval(f.Args[0], frame, argPath)
	if err != nil {
		return nil, err
	}
	series, ok := numeric(arg, frame.Len())
	if !ok {
		return nil, newError(ErrBadArgument, argPath, "%s needs a numeric series, got a condition", def.Name)
	}

	out := def.Compute(series, period)
	if e.warmup == WarmupMask {
		for i := 0; i < period-1 && i < len(out); i++ {
			out[i] = math.NaN()
		}
	}
	e.logger.Debug("Indicator computed", "func", def.Name, "period", period, "rows", len(out))
	return Series(out), nil
}

func (e *Evaluator) operands(left, right ast.Node, frame *types.Frame, path string) ([]float64, []float64, error) {
	lv, err := e.eval(left, frame, path+".left")
	if err != nil {
		return nil, nil, err
	}
	rv, err := e.eval(right, frame, path+".right")
	if err != nil {
		return nil, nil, err
	}
	n := frame.Len()
	l, ok := numeric(lv, n)
	if !ok {
		return nil, nil, newError(ErrBadArgument, path+".left", "operand must be numeric")
	}
	r, ok := numeric(rv, n)
	if !ok {
		return nil, nil, newError(ErrBadArgument, path+".right", "operand must be numeric")
	}
	return l, r, nil
}

func (e *Evaluator) evalCompare(c *ast.Compare, frame *types.Frame, path string) (Value, error) {
	cmp, ok := compareFuncs[c.Op]
	if !ok {
		return nil, newError(ErrUnsupportedOperator, path, "comparison %q", c.Op)
	}
	l, r, err := e.operands(c.Left, c.Right, frame, path)
	if err != nil {
		return nil, err
	}
	out := make(Mask, len(l))
	for i := range out {
		if math.IsNaN(l[i]) || math.IsNaN(r[i]) {
			continue
		}
		out[i] = cmp(l[i], r[i])
	}
	return out, nil
}

var compareFuncs = map[ast.CompareOp]func(a, b float64) bool{
	ast.OpGT: func(a, b float64) bool { return a > b },
	ast.OpLT: func(a, b float64) bool { return a < b },
	ast.OpGE: func(a, b float64) bool { return a >= b },
	ast.OpLE: func(a, b float64) bool { return a <= b },
	ast.OpEQ: func(a, b float64) bool { return a == b },
	ast.OpNE: func(a, b float64) bool { return a != b },
}

func (e *Evaluator) evalBool(b *ast.Bool, frame *types.Frame, path string) (Value, error) {
	if !ast.IsBoolOp(b.Op) {
		return nil, newError(ErrUnsupportedOperator, path, "logical operator %q", b.Op)
	}
	lv, err := e.eval(b.Left, frame, path+".left")
	if err != nil {
		return nil, err
	}
	rv, err := e.eval(b.Right, frame, path+".right")
	if err != nil {
		return nil, err
	}
	n := frame.Len()
	l, r := ToMask(lv, n), ToMask(rv, n)
	out := make(Mask, n)
	for i := range out {
		if b.Op == ast.OpAnd {
			out[i] = l[i] && r[i]
		} else {
			out[i] = l[i] || r[i]
		}
	}
	return out, nil
}

// evalCross compares each row with the one before it. Row 0 uses its own
// values as the previous row, so it never crosses.
func (e *Evaluator) evalCross(c *ast.Cross, frame *types.Frame, path string) (Value, error) {
	if !ast.IsCrossDir(c.Dir) {
		return nil, newError(ErrUnsupportedOperator, path, "cross direction %q", c.Dir)
	}
	l, r, err := e.operands(c.Left, c.Right, frame, path)
	if err != nil {
		return nil, err
	}
	out := make(Mask, len(l))
	for i := range out {
		p := i - 1
		if p < 0 {
			p = 0
		}
		currL, currR, prevL, prevR := l[i], r[i], l[p], r[p]
		if math.IsNaN(currL) || math.IsNaN(currR) || math.IsNaN(prevL) || math.IsNaN(prevR) {
			continue
		}
		if c.Dir == ast.CrossesAbove {
			out[i] = prevL <= prevR && currL > currR
		} else {
			out[i] = prevL >= prevR && currL < currR
		}
	}
	return out, nil
}

// String renders a value for logs and test failures.
func String(v Value) string {
	switch x := v.(type) {
	case Scalar:
		return fmt.Sprintf("scalar(%g)", float64(x))
	case Series:
		return fmt.Sprintf("series%v", []float64(x))
	case Mask:
		return fmt.Sprintf("mask%v", []bool(x))
	}
	return "<nil>"
}
