// Package main provides the verify CLI: it rebuilds factors from current
// inputs and checks them against the stored rows of the same version.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vprism-adjust/internal/app"
	"vprism-adjust/internal/config"
	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/reporting"
	"vprism-adjust/internal/verification"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to YAML config file")
	symbols := flag.String("symbols", "", "Comma-separated MARKET:SYMBOL list (overrides batch.symbols)")
	postgresDSN := flag.String("postgres-dsn", "", "PostgreSQL connection string (default $POSTGRES_DSN)")
	clickhouseDSN := flag.String("clickhouse-dsn", "", "ClickHouse connection string (default $CLICKHOUSE_DSN)")
	output := flag.String("output", "", "Markdown report file (default stdout)")
	verbose := flag.Bool("verbose", false, "Debug logging")
	flag.Parse()

	logger := log.New(os.Stderr, "[verify] ", log.LstdFlags)
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
		}
	})
	if *symbols != "" {
		refs, err := parseSymbols(*symbols)
		if err != nil {
			logger.Fatalf("Invalid --symbols: %v", err)
		}
		cfg.Batch.Symbols = refs
	}
	// Verification compares against persisted rows; memory stores start empty.
	cfg.Storage.UseMemory = false
	cfg.ApplyEnvDefaults()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}
	if len(cfg.Batch.Symbols) == 0 {
		logger.Fatal("No symbols. Use --symbols or batch.symbols")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	// Create context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, cleanup, err := app.OpenStores(ctx, cfg.Storage, slogger)
	if err != nil {
		logger.Fatalf("Open stores: %v", err)
	}
	defer cleanup()

	// Write-back is irrelevant: Rebuild never persists.
	cfg.Writeback.Enabled = false
	rt, err := app.NewRuntime(ctx, cfg, stores, slogger, nil)
	if err != nil {
		logger.Fatalf("Create engine: %v", err)
	}

	verifier := verification.NewVerifier(verification.Options{
		Rebuilder: rt.Engine,
		Store:     stores.Adjustments,
	})

	report, err := verifier.VerifyAll(ctx, cfg.Batch.Symbols)
	if err != nil {
		logger.Fatalf("Verification interrupted: %v", err)
	}

	markdown := reporting.RenderVerificationMarkdown(report, time.Now())
	if *output == "" {
		fmt.Print(markdown)
	} else if err := os.WriteFile(*output, []byte(markdown), 0644); err != nil {
		logger.Fatalf("Write report: %v", err)
	}

	logger.Printf("Verified %d symbols: %d matched, %d divergent, %d missing, %d failed",
		report.Total, report.Matched, report.Divergent, report.Missing, report.Failed)

	if report.Divergent > 0 || report.Failed > 0 {
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
