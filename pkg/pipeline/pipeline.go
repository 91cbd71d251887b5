// Package pipeline runs the full DSL backtest: parse, generate signals,
// simulate.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/backtest"
	"github.com/algomatic/dslbacktest/pkg/dsl"
	"github.com/algomatic/dslbacktest/pkg/eval"
	"github.com/algomatic/dslbacktest/pkg/signals"
	"github.com/algomatic/dslbacktest/pkg/trace"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// Report is everything one run produces.
type Report struct {
	Script  *ast.Script        `json:"ast"`
	Signals *types.SignalTable `json:"-"`
	Result  *types.Result      `json:"result"`
	Summary backtest.Summary   `json:"summary"`
}

// Runner wires the parser, evaluator and simulator. It is safe for
// concurrent use.
type Runner struct {
	parser    *dsl.Parser
	evaluator *eval.Evaluator
	simulator *backtest.Simulator
	tracer    *trace.Tracer
	logger    *slog.Logger
}

// NewRunner creates a Runner. tracer may be nil. If logger is nil,
// slog.Default() is used.
func NewRunner(ev *eval.Evaluator, tracer *trace.Tracer, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if ev == nil {
		ev = eval.New(logger)
	}
	p, err := dsl.NewParser()
	if err != nil {
		return nil, err
	}
	return &Runner{
		parser:    p,
		evaluator: ev,
		simulator: backtest.New(logger),
		tracer:    tracer,
		logger:    logger,
	}, nil
}

// Parse parses source inside a dsl.parse span.
func (r *Runner) Parse(ctx context.Context, source string) (*ast.Script, error) {
	_, span := r.tracer.StartSpan(ctx, "dsl.parse")
	defer span.End()

	script, err := r.parser.Parse(source)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		return nil, fmt.Errorf("parse: %w", err)
	}
	span.SetAttributes(attribute.StringSlice("dsl.columns", ast.RequiredColumns(script)))
	return script, nil
}

// Run parses source and backtests it against frame.
func (r *Runner) Run(ctx context.Context, source string, frame *types.Frame) (*Report, error) {
	script, err := r.Parse(ctx, source)
	if err != nil {
		return nil, err
	}
	return r.RunScript(ctx, script, frame)
}

// RunScript backtests an already parsed script against frame.
func (r *Runner) RunScript(ctx context.Context, script *ast.Script, frame *types.Frame) (*Report, error) {
	if frame == nil {
		return nil, fmt.Errorf("run: nil frame")
	}

	sctx, span := r.tracer.StartSpan(ctx, "signals.generate")
	span.SetAttributes(attribute.Int("frame.rows", frame.Len()))
	sig, err := signals.Generate(sctx, r.evaluator, script, frame)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "signal generation failed")
		span.End()
		return nil, fmt.Errorf("signals: %w", err)
	}
	span.SetAttributes(
		attribute.Int("signals.entries", sig.EntryCount()),
		attribute.Int("signals.exits", sig.ExitCount()),
	)
	span.End()

	_, span = r.tracer.StartSpan(ctx, "backtest.run")
	defer span.End()
	res, err := r.simulator.Run(frame, sig)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "backtest failed")
		return nil, fmt.Errorf("backtest: %w", err)
	}
	span.SetAttributes(
		attribute.Int("backtest.trades", res.NumberOfTrades),
		attribute.Float64("backtest.total_return", res.TotalReturn),
	)

	r.logger.Debug("Pipeline run finished",
		"entries", sig.EntryCount(),
		"exits", sig.ExitCount(),
		"trades", res.NumberOfTrades,
	)
	return &Report{Script: script, Signals: sig, Result: res, Summary: backtest.Summarize(res)}, nil
}
