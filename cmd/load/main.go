// Package main provides the load CLI: it imports daily closes into ClickHouse
// and corporate actions into PostgreSQL from CSV files.
package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"vprism-adjust/internal/app"
	"vprism-adjust/internal/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (default $POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (default $CLICKHOUSE_DSN)")
	pricesCSV := flag.String("prices-csv", "", "Daily closes CSV: market,symbol,date,close")
	eventsCSV := flag.String("events-csv", "", "Corporate actions CSV: market,symbol,effective_date,type,source[,event_id,cash,currency,ratio,ingest_time]")
	flag.Parse()

	logger := log.New(os.Stderr, "[load] ", log.LstdFlags)
	app.LoadEnvFile(".env")

	if *pricesCSV == "" && *eventsCSV == "" {
		logger.Fatal("Nothing to load. Use --prices-csv and/or --events-csv")
	}

	cfg, err := config.LoadOrDefault(*configPath)
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *postgresDSN != "" {
		cfg.Storage.PostgresDSN = *postgresDSN
	}
	if *clickhouseDSN != "" {
		cfg.Storage.ClickHouseDSN = *clickhouseDSN
	}
	cfg.Storage.UseMemory = false
	cfg.ApplyEnvDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage, slog.Default())
	if err != nil {
		logger.Fatalf("Open stores: %v", err)
	}
	defer cleanup()

	nPrices, nEvents, err := app.SeedFromCSV(ctx, stores, *pricesCSV, *eventsCSV)
	if err != nil {
		logger.Fatalf("Load: %v", err)
	}

	logger.Printf("Loaded %d prices and %d events", nPrices, nEvents)
}
