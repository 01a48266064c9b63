// Package main provides the batch CLI: it computes adjusted series for a
// list of symbols with bounded concurrency and exposes Prometheus metrics.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vprism-adjust/internal/app"
	"vprism-adjust/internal/config"
	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/observability"
	"vprism-adjust/internal/orchestrator"
	"vprism-adjust/internal/reporting"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	symbols := flag.String("symbols", "", "Comma-separated MARKET:SYMBOL list (overrides batch.symbols)")
	start := flag.String("start", "", "Window start date (YYYY-MM-DD)")
	end := flag.String("end", "", "Window end date (YYYY-MM-DD, default today)")
	mode := flag.String("mode", "all", "Adjustment mode: qfq, hfq, all or none")
	concurrency := flag.Int("concurrency", 0, "Symbols computed in parallel (overrides batch.concurrency)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (default $POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (default $CLICKHOUSE_DSN)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage seeded from CSV files")
	pricesCSV := flag.String("prices-csv", "", "Daily closes CSV for --use-memory")
	eventsCSV := flag.String("events-csv", "", "Corporate actions CSV for --use-memory")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides metrics.addr, \"off\" disables)")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	logger := log.New(os.Stderr, "[batch] ", log.LstdFlags)
	app.LoadEnvFile(".env")

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
		case "concurrency":
			cfg.Batch.Concurrency = *concurrency
		case "metrics-addr":
			cfg.Metrics.Addr = *metricsAddr
		}
	})
	if *symbols != "" {
		refs, err := parseSymbols(*symbols)
		if err != nil {
			logger.Fatalf("Invalid --symbols: %v", err)
		}
		cfg.Batch.Symbols = refs
	}
	cfg.ApplyEnvDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}
	if len(cfg.Batch.Symbols) == 0 {
		logger.Fatal("No symbols. Use --symbols or batch.symbols")
	}

	startDate, endDate, err := parseWindow(*start, *end)
	if err != nil {
		logger.Fatalf("Invalid window: %v", err)
	}
	m, err := domain.ParseMode(*mode)
	if err != nil {
		logger.Fatalf("Invalid --mode: %v", err)
	}

	slogger := newSlog(*verbose)
	metrics := observability.NewMetrics("", nil)

	// Start metrics server if enabled
	if cfg.Metrics.Addr != "" && cfg.Metrics.Addr != "off" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(cfg.Metrics.Path), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Printf("Starting metrics server on %s", cfg.Metrics.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("Metrics server error: %v", err)
			}
		}()
		defer srv.Close()
	}

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

	rt, err := app.NewRuntime(ctx, cfg, stores, slogger, metrics)
	if err != nil {
		logger.Fatalf("Create engine: %v", err)
	}

	orch := orchestrator.New(orchestrator.Options{
		Engine:      rt.Engine,
		Start:       startDate,
		End:         endDate,
		Mode:        m,
		Concurrency: cfg.Batch.Concurrency,
		Logger:      slogger,
		Metrics:     metrics,
	})

	result, runErr := orch.Run(ctx, cfg.Batch.Symbols)

	if err := rt.Close(30 * time.Second); err != nil {
		logger.Printf("Write-back shutdown: %v", err)
	}
	if rt.Queue != nil {
		stats := rt.Queue.Stats()
		logger.Printf("Write-back: %d jobs, %d rows written, %d retries, %d dropped",
			stats.Submitted, stats.Written, stats.Retries, stats.Dropped)
	}

	fmt.Print(reporting.RenderBatchSummary(result))
	for _, e := range result.Errors {
		logger.Printf("  - %s", e)
	}

	stats := rt.Engine.Stats()
	logger.Printf("Engine: %d computes, %d cache hits, %d builds, %d write failures",
		stats.Computes, stats.CacheHits, stats.Builds, stats.WriteFailures)

	if runErr != nil {
		logger.Printf("Batch interrupted: %v", runErr)
		os.Exit(1)
	}
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// parseSymbols parses "CN:600000,US:AAPL".
func parseSymbols(s string) ([]domain.SymbolRef, error) {
	var refs []domain.SymbolRef
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		market, symbol, ok := strings.Cut(part, ":")
		if !ok || market == "" || symbol == "" {
			return nil, fmt.Errorf("expected MARKET:SYMBOL, got %q", part)
		}
		refs = append(refs, domain.SymbolRef{Symbol: symbol, Market: market})
	}
	return refs, nil
}

// parseWindow parses the window flags. An empty end defaults to today.
func parseWindow(start, end string) (time.Time, time.Time, error) {
	if start == "" {
		return time.Time{}, time.Time{}, errors.New("--start is required")
	}
	startDate, err := domain.ParseDate(start)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}

	endDate := domain.TruncateDate(time.Now())
	if end != "" {
		if endDate, err = domain.ParseDate(end); err != nil {
			return time.Time{}, time.Time{}, err
		}
	}
	return startDate, endDate, nil
}

func metricsMux(path string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(path, observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}

func newSlog(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
