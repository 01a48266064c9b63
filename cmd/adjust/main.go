// Package main provides the adjust CLI: it prints one adjusted price series
// as CSV, or the stored factor versions of a symbol.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"vprism-adjust/internal/app"
	"vprism-adjust/internal/config"
	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/reporting"
)

// Exit codes.
const (
	exitError       = 1
	exitInput       = 2
	exitUnavailable = 3
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	symbol := flag.String("symbol", "", "Symbol, e.g. 600000")
	market := flag.String("market", "", "Market, e.g. CN")
	start := flag.String("start", "", "Window start date (YYYY-MM-DD)")
	end := flag.String("end", "", "Window end date (YYYY-MM-DD)")
	mode := flag.String("mode", "qfq", "Adjustment mode: qfq, hfq, all or none")
	listVersions := flag.Bool("list-versions", false, "List stored factor versions instead of computing")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (default $POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (default $CLICKHOUSE_DSN)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage seeded from CSV files")
	pricesCSV := flag.String("prices-csv", "", "Daily closes CSV for --use-memory")
	eventsCSV := flag.String("events-csv", "", "Corporate actions CSV for --use-memory")
	output := flag.String("output", "", "Output file (default stdout)")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	logger := log.New(os.Stderr, "[adjust] ", log.LstdFlags)
	app.LoadEnvFile(".env")

	if *symbol == "" || *market == "" {
		logger.Println("--symbol and --market are required")
		flag.Usage()
		os.Exit(exitInput)
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "postgres-dsn":
			cfg.Storage.PostgresDSN = *postgresDSN
		case "clickhouse-dsn":
			cfg.Storage.ClickHouseDSN = *clickhouseDSN
		case "use-memory":
			cfg.Storage.UseMemory = *useMemory
		}
	})
	cfg.ApplyEnvDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	slogger := newSlog(*verbose)

	// Create context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage, slogger)
	if err != nil {
		logger.Fatalf("Open stores: %v", err)
	}
	defer cleanup()

	if cfg.Storage.UseMemory {
		nPrices, nEvents, err := app.SeedFromCSV(ctx, stores, *pricesCSV, *eventsCSV)
		if err != nil {
			logger.Fatalf("Seed memory stores: %v", err)
		}
		logger.Printf("Loaded %d prices and %d events", nPrices, nEvents)
	}

	rt, err := app.NewRuntime(ctx, cfg, stores, slogger, nil)
	if err != nil {
		logger.Fatalf("Create engine: %v", err)
	}
	defer func() {
		if err := rt.Close(30 * time.Second); err != nil {
			logger.Printf("Write-back shutdown: %v", err)
		}
	}()

	out := os.Stdout
	if *output != "" {
		f, err := os.Create(*output)
		if err != nil {
			logger.Fatalf("Create output: %v", err)
		}
		defer f.Close()
		out = f
	}

	if *listVersions {
		versions, err := rt.Engine.ListVersions(ctx, *symbol, *market)
		if err != nil {
			logger.Fatalf("List versions: %v", err)
		}
		fmt.Fprint(out, reporting.RenderVersionsTable(versions))
		return
	}

	req, err := buildRequest(*symbol, *market, *start, *end, *mode)
	if err != nil {
		logger.Println(err)
		os.Exit(exitInput)
	}

	series, err := rt.Engine.Compute(ctx, req)
	if err != nil {
		logger.Printf("Compute: %v", err)
		os.Exit(exitCode(err))
	}

	fmt.Fprint(out, reporting.RenderSeriesCSV(series))
	logger.Printf("%d rows, version %q, cache hit %t", len(series.Rows), series.Version, series.CacheHit)
}

// buildRequest parses flag values. An empty end defaults to today.
func buildRequest(symbol, market, start, end, mode string) (engine.Request, error) {
	if start == "" {
		return engine.Request{}, errors.New("--start is required")
	}
	startDate, err := domain.ParseDate(start)
	if err != nil {
		return engine.Request{}, err
	}

	endDate := domain.TruncateDate(time.Now())
	if end != "" {
		endDate, err = domain.ParseDate(end)
		if err != nil {
			return engine.Request{}, err
		}
	}

	m, err := domain.ParseMode(mode)
	if err != nil {
		return engine.Request{}, err
	}

	return engine.Request{Symbol: symbol, Market: market, Start: startDate, End: endDate, Mode: m}, nil
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, engine.ErrAdjustmentInput):
		return exitInput
	case errors.Is(err, engine.ErrPriceSeriesUnavailable):
		return exitUnavailable
	default:
		return exitError
	}
}

func newSlog(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
