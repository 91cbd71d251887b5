package eval

import (
	"errors"
	"fmt"

	"github.com/algomatic/dslbacktest/pkg/types"
)

// Error kinds. Every error returned by the evaluator wraps exactly one.
var (
	ErrUnknownField        = errors.New("unknown field")
	ErrUnknownFunction     = errors.New("unknown function")
	ErrBadArgument         = errors.New("bad argument")
	ErrUnsupportedOperator = errors.New("unsupported operator")

	// ErrColumnNotFound is a data error: the field is valid but the frame
	// does not carry it.
	ErrColumnNotFound = types.ErrColumnNotFound
)

// EvalError reports a failure at a node. Path locates the node from the root,
// e.g. "$.left.args[0]".
type EvalError struct {
	Kind error
	Path string
	Msg  string
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("%s: %v: %s", e.Path, e.Kind, e.Msg)
}

func (e *EvalError) Unwrap() error {
	return e.Kind
}

func newError(kind error, path, format string, args ...any) *EvalError {
	return &EvalError{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}
