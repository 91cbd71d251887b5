package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/dslbacktest/pkg/ast"
	"github.com/algomatic/dslbacktest/pkg/backtest"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// RunRecord holds one row of dsl_backtest_runs plus its trades.
type RunRecord struct {
	RunID       string
	Symbol      string
	Timeframe   string
	Source      string
	AST         json.RawMessage
	TotalReturn float64
	MaxDrawdown float64
	NumTrades   int
	Summary     json.RawMessage
	CreatedAt   time.Time
	Trades      []TradeRecord
}

// TradeRecord holds one row of dsl_backtest_trades.
type TradeRecord struct {
	Seq            int
	EntryTimestamp time.Time
	ExitTimestamp  time.Time
	EntryPrice     float64
	ExitPrice      float64
	PnL            float64
	BarsHeld       int
	ExitReason     string
}

// NewRunRecord builds a record from a finished backtest.
func NewRunRecord(
	runID, symbol, timeframe, source string,
	script *ast.Script,
	res *types.Result,
	summary backtest.Summary,
) (RunRecord, error) {
	if res == nil {
		return RunRecord{}, fmt.Errorf("run %s: result is required", runID)
	}
	astJSON, err := json.Marshal(script)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encoding ast: %w", err)
	}
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return RunRecord{}, fmt.Errorf("encoding summary: %w", err)
	}
	return RunRecord{
		RunID:       runID,
		Symbol:      strings.ToUpper(symbol),
		Timeframe:   timeframe,
		Source:      source,
		AST:         astJSON,
		TotalReturn: res.TotalReturn,
		MaxDrawdown: res.MaxDrawdown,
		NumTrades:   res.NumberOfTrades,
		Summary:     summaryJSON,
		CreatedAt:   time.Now().UTC(),
		Trades:      BuildTradeRecords(res.Trades),
	}, nil
}

// BuildTradeRecords numbers trades in the order they closed, starting at 1.
func BuildTradeRecords(trades []types.Trade) []TradeRecord {
	records := make([]TradeRecord, len(trades))
	for i, t := range trades {
		records[i] = TradeRecord{
			Seq:            i + 1,
			EntryTimestamp: t.EntryDate,
			ExitTimestamp:  t.ExitDate,
			EntryPrice:     t.EntryPrice,
			ExitPrice:      t.ExitPrice,
			PnL:            t.PnL,
			BarsHeld:       t.BarsHeld,
			ExitReason:     t.ExitReason,
		}
	}
	return records
}

var tradeColumns = []string{
	"run_id", "seq",
	"entry_timestamp", "exit_timestamp",
	"entry_price", "exit_price",
	"pnl", "bars_held", "exit_reason",
}

// tradeRows lays out trades for CopyFrom in tradeColumns order.
func tradeRows(runID int64, trades []TradeRecord) [][]any {
	rows := make([][]any, len(trades))
	for i, t := range trades {
		rows[i] = []any{
			runID, t.Seq,
			t.EntryTimestamp, t.ExitTimestamp,
			t.EntryPrice, t.ExitPrice,
			t.PnL, t.BarsHeld, t.ExitReason,
		}
	}
	return rows
}

// Persister stores finished runs.
type Persister interface {
	// SaveRun stores the run and its trades, returning the run row id.
	SaveRun(ctx context.Context, rec RunRecord) (int64, error)
}

// RunStore writes dsl_backtest_runs and dsl_backtest_trades.
type RunStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRunStore creates a new RunStore.
func NewRunStore(pool *pgxpool.Pool, logger *slog.Logger) *RunStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RunStore{pool: pool, logger: logger}
}

// SaveRun inserts the run row and bulk-copies its trades in one transaction.
func (s *RunStore) SaveRun(ctx context.Context, rec RunRecord) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO dsl_backtest_runs
			(run_uuid, symbol, timeframe, dsl_source, ast,
			 total_return, max_drawdown, number_of_trades, summary, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 RETURNING id`,
		rec.RunID, rec.Symbol, rec.Timeframe, rec.Source, rec.AST,
		rec.TotalReturn, rec.MaxDrawdown, rec.NumTrades, rec.Summary, rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting run: %w", err)
	}

	var copied int64
	if len(rec.Trades) > 0 {
		copied, err = tx.CopyFrom(
			ctx,
			pgx.Identifier{"dsl_backtest_trades"},
			tradeColumns,
			pgx.CopyFromRows(tradeRows(id, rec.Trades)),
		)
		if err != nil {
			return 0, fmt.Errorf("bulk inserting trades: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing run transaction: %w", err)
	}

	s.logger.Info("Saved backtest run",
		"run_id", rec.RunID,
		"db_id", id,
		"trades", copied,
	)
	return id, nil
}

var _ Persister = (*RunStore)(nil)
