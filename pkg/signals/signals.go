// Package signals turns a parsed script into per-row entry and exit flags.
package signals

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/eval"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// Generate evaluates the entry and exit conditions of script over frame. The
// two sides are independent and run concurrently. An absent side yields an
// all-false column. The returned table shares the frame's index.
func Generate(ctx context.Context, ev *eval.Evaluator, script *ast.Script, frame *types.Frame) (*types.SignalTable, error) {
	if script == nil {
		return nil, fmt.Errorf("generate signals: nil script")
	}
	if frame == nil {
		return nil, fmt.Errorf("generate signals: nil frame")
	}

	var entry, exit []bool
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		m, err := evalSide(ctx, ev, script.Entry, frame, "entry")
		entry = m
		return err
	})
	g.Go(func() error {
		m, err := evalSide(ctx, ev, script.Exit, frame, "exit")
		exit = m
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return &types.SignalTable{Index: frame.Index, Entry: entry, Exit: exit}, nil
}

func evalSide(ctx context.Context, ev *eval.Evaluator, node ast.Node, frame *types.Frame, side string) ([]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m, err := ev.EvalMask(node, frame, side)
	if err != nil {
		return nil, fmt.Errorf("%s condition: %w", side, err)
	}
	return m, nil
}
