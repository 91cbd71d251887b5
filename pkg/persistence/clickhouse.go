package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/algomatic/dslbacktest/pkg/config"
	"github.com/algomatic/dslbacktest/pkg/types"
)

// clickhouseIntervals maps timeframes to the interval column of the candle
// table.
var clickhouseIntervals = map[string]string{
	"1Min":  "1m",
	"15Min": "15m",
	"1Hour": "1h",
	"1Day":  "1d",
}

// ClickHouseBarRepo reads candles from a ReplacingMergeTree table keyed by
// (symbol, interval, open_time_ms).
type ClickHouseBarRepo struct {
	conn   driver.Conn
	table  string
	logger *slog.Logger
}

// OpenClickHouse connects and pings the server.
func OpenClickHouse(ctx context.Context, cfg config.ClickHouseConfig, logger *slog.Logger) (*ClickHouseBarRepo, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(60),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}

	logger.Info("Connected to ClickHouse", "addr", cfg.Addr, "database", cfg.Database, "table", cfg.Table)
	return &ClickHouseBarRepo{
		conn:   conn,
		table:  cfg.Database + "." + cfg.Table,
		logger: logger,
	}, nil
}

// Close closes the connection.
func (r *ClickHouseBarRepo) Close() error {
	return r.conn.Close()
}

// buildCandleQuery returns the candle select. FINAL collapses rows replaced
// by a later ingest version.
func buildCandleQuery(table, symbol, timeframe string, start, end time.Time) (string, []any, error) {
	interval, ok := clickhouseIntervals[timeframe]
	if !ok {
		return "", nil, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	if symbol == "" {
		return "", nil, fmt.Errorf("symbol is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT open_time_ms, open, high, low, close, volume FROM %s FINAL WHERE symbol = ? AND interval = ?", table)
	args := []any{strings.ToUpper(symbol), interval}
	if !start.IsZero() {
		b.WriteString(" AND open_time_ms >= ?")
		args = append(args, uint64(start.UnixMilli()))
	}
	if !end.IsZero() {
		b.WriteString(" AND open_time_ms <= ?")
		args = append(args, uint64(end.UnixMilli()))
	}
	b.WriteString(" ORDER BY open_time_ms ASC")
	return b.String(), args, nil
}

// LoadFrame returns the candles of symbol in [start, end] as a frame.
func (r *ClickHouseBarRepo) LoadFrame(ctx context.Context, symbol, timeframe string, start, end time.Time) (*types.Frame, error) {
	query, args, err := buildCandleQuery(r.table, symbol, timeframe, start, end)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying candles: %w", err)
	}
	defer rows.Close()

	var bars []types.Bar
	for rows.Next() {
		var (
			openMs uint64
			b      types.Bar
		)
		if err := rows.Scan(&openMs, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scanning candle: %w", err)
		}
		b.Timestamp = time.UnixMilli(int64(openMs)).UTC()
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating candles: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%s/%s: %w", symbol, timeframe, ErrNoBars)
	}

	r.logger.Info("Loaded bars from ClickHouse",
		"symbol", symbol,
		"timeframe", timeframe,
		"count", len(bars),
	)
	return types.FrameFromBars(bars)
}
