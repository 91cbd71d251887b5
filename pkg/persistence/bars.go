package persistence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/dslbacktest/pkg/types"
)

// ErrNoBars is returned when a query matches no bars.
var ErrNoBars = errors.New("no bars found")

// ValidTimeframes are the only supported timeframe values.
var ValidTimeframes = map[string]bool{
	"1Min":  true,
	"15Min": true,
	"1Hour": true,
	"1Day":  true,
}

// BarRepo reads the ohlcv_bars table.
type BarRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBarRepo creates a new BarRepo.
func NewBarRepo(pool *pgxpool.Pool, logger *slog.Logger) *BarRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &BarRepo{pool: pool, logger: logger}
}

// buildBarQuery returns the bar select for a symbol. Zero start or end leaves
// that side of the range open.
func buildBarQuery(symbol, timeframe string, start, end time.Time) (string, []any, error) {
	if !ValidTimeframes[timeframe] {
		return "", nil, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	if symbol == "" {
		return "", nil, fmt.Errorf("symbol is required")
	}

	query := `SELECT b.timestamp, b.open, b.high, b.low, b.close, b.volume
		 FROM ohlcv_bars b
		 JOIN tickers t ON t.id = b.ticker_id
		 WHERE t.symbol = $1 AND b.timeframe = $2`
	args := []any{strings.ToUpper(symbol), timeframe}
	argIdx := 3

	if !start.IsZero() {
		query += fmt.Sprintf(` AND b.timestamp >= $%d`, argIdx)
		args = append(args, start)
		argIdx++
	}
	if !end.IsZero() {
		query += fmt.Sprintf(` AND b.timestamp <= $%d`, argIdx)
		args = append(args, end)
	}
	query += ` ORDER BY b.timestamp ASC`
	return query, args, nil
}

// LoadFrame returns the bars of symbol in [start, end] as a frame.
func (r *BarRepo) LoadFrame(ctx context.Context, symbol, timeframe string, start, end time.Time) (*types.Frame, error) {
	query, args, err := buildBarQuery(symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying bars: %w", err)
	}
	bars, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Bar, error) {
		var b types.Bar
		var volume int64
		err := row.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &volume)
		b.Volume = float64(volume)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning bar rows: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", symbol, timeframe, ErrNoBars)
	}

	r.logger.Info("Loaded bars from database",
		"symbol", symbol,
		"timeframe", timeframe,
		"count", len(bars),
	)
	return types.FrameFromBars(bars)
}
