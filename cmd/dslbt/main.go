// Command dslbt backtests rule scripts from the command line or serves the
// backtest API.
//
// Usage (CSV mode):
//
//	go run ./cmd/dslbt --dsl "ENTRY: close > sma(close, 20)" --csv data.csv
//
// Usage (preset over bars from the database or the backend API):
//
//	go run ./cmd/dslbt --strategy golden_cross --symbol AAPL --timeframe 1Day \
//	    --start 2020-01-01 --end 2024-12-31
//
// Usage (API server):
//
//	go run ./cmd/dslbt --config config.yaml --serve
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/algomatic/dslbacktest/pkg/api"
	"github.com/algomatic/dslbacktest/pkg/backend"
	"github.com/algomatic/dslbacktest/pkg/bus"
	"github.com/algomatic/dslbacktest/pkg/config"
	"github.com/algomatic/dslbacktest/pkg/eval"
	"github.com/algomatic/dslbacktest/pkg/logging"
	"github.com/algomatic/dslbacktest/pkg/marketdata"
	"github.com/algomatic/dslbacktest/pkg/persistence"
	"github.com/algomatic/dslbacktest/pkg/pipeline"
	"github.com/algomatic/dslbacktest/pkg/runtracker"
	"github.com/algomatic/dslbacktest/pkg/strategy"
	"github.com/algomatic/dslbacktest/pkg/trace"
	"github.com/algomatic/dslbacktest/pkg/types"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to YAML config")
	envFile := flag.String("env-file", ".env", "Optional .env file loaded before config")

	// Script selection
	dslText := flag.String("dsl", "", "Rule script text")
	dslFile := flag.String("dsl-file", "", "Path to a rule script (default: backtest.dsl_file from config)")
	strategyName := flag.String("strategy", "", "Preset strategy name")
	listPresets := flag.Bool("list", false, "List preset strategies")

	// Data source
	csvFile := flag.String("csv", "", "Path to CSV file with OHLCV data")
	symbol := flag.String("symbol", "", "Ticker symbol to load from the database or backend")
	timeframe := flag.String("timeframe", "", "Bar timeframe (1Min, 15Min, 1Hour, 1Day)")
	startDate := flag.String("start", "", "Start date (ISO format, e.g. 2024-01-01)")
	endDate := flag.String("end", "", "End date (ISO format, e.g. 2024-06-01)")

	// Output
	outputFile := flag.String("output", "", "Path for result JSON (default: stdout)")
	persist := flag.Bool("persist", false, "Store the run in the database")
	serve := flag.Bool("serve", false, "Start the HTTP API instead of a one-shot run")

	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if *timeframe != "" {
		cfg.Backtest.Timeframe = *timeframe
	}

	logger := logging.New(cfg.Log)

	if *listPresets {
		printPresets(os.Stdout)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracer, err := trace.InitWithWriter(cfg.Tracing, os.Stderr)
	if err != nil {
		logger.Error("Failed to initialise tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	warmup, err := eval.ParseWarmup(cfg.Backtest.Warmup)
	if err != nil {
		logger.Error("Invalid warmup setting", "error", err)
		os.Exit(1)
	}
	runner, err := pipeline.NewRunner(eval.New(logger, eval.WithWarmup(warmup)), tracer, logger)
	if err != nil {
		logger.Error("Failed to build pipeline", "error", err)
		os.Exit(1)
	}

	deps, err := connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to connect collaborators", "error", err)
		os.Exit(1)
	}
	defer deps.Close()

	if *serve {
		if err := runServer(ctx, cfg, runner, deps, logger); err != nil {
			logger.Error("Server error", "error", err)
			os.Exit(1)
		}
		return
	}

	source, err := resolveSource(*dslText, *dslFile, *strategyName, cfg.Backtest.DSLFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	frame, err := loadFrame(ctx, deps, *csvFile, *symbol, cfg.Backtest.Timeframe, *startDate, *endDate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading data: %v\n", err)
		os.Exit(1)
	}
	logger.Info("Loaded bar data", "rows", frame.Len(), "columns", frame.Columns())

	report, err := runner.Run(ctx, source, frame)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if *persist {
		if deps.store == nil {
			logger.Warn("--persist requires a database; run not stored")
		} else {
			savePersisted(ctx, deps.store, *symbol, cfg.Backtest.Timeframe, source, report, logger)
		}
	}

	if err := writeReport(*outputFile, report); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing output: %v\n", err)
		os.Exit(1)
	}
}

// collaborators holds the optional external connections.
type collaborators struct {
	bars   api.FrameLoader
	store  persistence.Persister
	events *bus.Publisher
	close  []func()
}

func (c *collaborators) Close() {
	for i := len(c.close) - 1; i >= 0; i-- {
		c.close[i]()
	}
}

// connect opens the database, ClickHouse, backend client and Redis publisher
// that are configured. ClickHouse takes precedence over the database as bar source,
// and both over the HTTP backend.
func connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*collaborators, error) {
	deps := &collaborators{}

	if cfg.Database.Enabled() {
		pool, err := persistence.NewPool(ctx, cfg.Database.ConnString(), logger)
		if err != nil {
			return nil, fmt.Errorf("database: %w", err)
		}
		deps.close = append(deps.close, pool.Close)
		deps.bars = persistence.NewBarRepo(pool, logger)
		deps.store = persistence.NewRunStore(pool, logger)
	}
	if cfg.ClickHouse.Enabled() {
		repo, err := persistence.OpenClickHouse(ctx, cfg.ClickHouse, logger)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		deps.close = append(deps.close, func() { _ = repo.Close() })
		deps.bars = repo
	}
	if deps.bars == nil && cfg.Backend.URL != "" {
		deps.bars = backend.NewClient(cfg.Backend.URL, &backend.Config{
			Timeout:     cfg.Backend.Timeout,
			Logger:      logger,
			EnableCache: true,
		})
	}

	if cfg.Redis.Enabled() {
		pub := bus.NewPublisher(cfg.Redis, logger)
		if err := pub.HealthCheck(ctx); err != nil {
			pub.Close()
			deps.Close()
			return nil, fmt.Errorf("redis health check: %w", err)
		}
		deps.events = pub
		deps.close = append(deps.close, func() { _ = pub.Close() })
	}
	return deps, nil
}

func runServer(ctx context.Context, cfg *config.Config, runner *pipeline.Runner, deps *collaborators, logger *slog.Logger) error {
	tracker := runtracker.NewTracker(logger, trace.Version)
	srv := api.NewServer(runner, tracker, logger)
	srv.Bars = deps.bars
	srv.Store = deps.store
	if deps.events != nil {
		srv.Events = deps.events
	}
	srv.DefaultTimeframe = cfg.Backtest.Timeframe

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("API server listening", "addr", cfg.Server.Addr, "pid", os.Getpid())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcServer *api.GRPCServer
	if cfg.Server.GRPCPort > 0 {
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GRPCPort))
		if err != nil {
			_ = httpServer.Close()
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcServer = api.NewGRPCServer(logger)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		if grpcServer != nil {
			grpcServer.Stop()
		}
		_ = httpServer.Close()
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received, draining connections...")
	if grpcServer != nil {
		grpcServer.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("Shutdown complete")
	return nil
}

// resolveSource picks the script text from exactly one of the flags, falling
// back to the configured file.
func resolveSource(text, file, preset, defaultFile string) (string, error) {
	set := 0
	for _, v := range []string{text, file, preset} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return "", errors.New("specify only one of --dsl, --dsl-file or --strategy")
	}

	switch {
	case text != "":
		return text, nil
	case preset != "":
		p := strategy.GetByName(preset)
		if p == nil {
			return "", fmt.Errorf("strategy %q not found (see --list)", preset)
		}
		return p.DSL, nil
	case file == "":
		file = defaultFile
	}
	if file == "" {
		return "", errors.New("must specify --dsl, --dsl-file or --strategy")
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("reading script: %w", err)
	}
	return string(data), nil
}

func loadFrame(
	ctx context.Context,
	deps *collaborators,
	csvFile, symbol, timeframe, startDate, endDate string,
) (*types.Frame, error) {
	switch {
	case csvFile != "" && symbol != "":
		return nil, errors.New("specify either --csv or --symbol, not both")
	case csvFile != "":
		return marketdata.LoadCSV(csvFile)
	case symbol == "":
		return nil, errors.New("must specify --csv or --symbol for data source")
	case deps.bars == nil:
		return nil, errors.New("--symbol needs database or backend settings in the config")
	}

	var start, end time.Time
	var err error
	if startDate != "" {
		if start, err = marketdata.ParseTimestamp(startDate); err != nil {
			return nil, fmt.Errorf("invalid --start: %w", err)
		}
	}
	if endDate != "" {
		if end, err = marketdata.ParseTimestamp(endDate); err != nil {
			return nil, fmt.Errorf("invalid --end: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return deps.bars.LoadFrame(ctx, symbol, timeframe, start, end)
}

func savePersisted(
	ctx context.Context,
	store persistence.Persister,
	symbol, timeframe, source string,
	report *pipeline.Report,
	logger *slog.Logger,
) {
	runID := uuid.NewString()
	rec, err := persistence.NewRunRecord(runID, symbol, timeframe, source, report.Script, report.Result, report.Summary)
	if err != nil {
		logger.Warn("Could not build run record", "error", err)
		return
	}
	id, err := store.SaveRun(ctx, rec)
	if err != nil {
		logger.Warn("Could not save run", "error", err)
		return
	}
	logger.Info("Stored run", "run_id", runID, "record_id", id)
}

func writeReport(path string, report *pipeline.Report) error {
	var w io.Writer = os.Stdout
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func printPresets(w io.Writer) {
	fmt.Fprintf(w, "%-4s %-20s %-16s %s\n", "ID", "Name", "Category", "Rules")
	for _, p := range strategy.GetAll() {
		fmt.Fprintf(w, "%-4d %-20s %-16s %q\n", p.ID, p.Name, p.Category, p.DSL)
	}
	fmt.Fprintf(w, "\nTotal: %d presets\n", strategy.Count())
}
