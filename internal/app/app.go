// Package app wires configuration, stores, the engine and the write-back
// queue together for the command-line tools.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"vprism-adjust/internal/config"
	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/observability"
	"vprism-adjust/internal/storage"
	chstore "vprism-adjust/internal/storage/clickhouse"
	"vprism-adjust/internal/storage/memory"
	"vprism-adjust/internal/storage/migrations"
	pgstore "vprism-adjust/internal/storage/postgres"
	"vprism-adjust/internal/writeback"
)

// Stores holds every collaborator the engine needs.
type Stores struct {
	Prices      storage.PriceSource
	PriceWriter storage.PriceWriter
	Events      storage.EventSource
	EventWriter storage.EventWriter
	Adjustments storage.AdjustmentStore
}

// OpenStores creates in-memory stores or connects to PostgreSQL and
// ClickHouse, applying migrations first. The returned cleanup closes
// connections.
func OpenStores(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*Stores, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.UseMemory {
		prices := memory.NewPriceStore()
		events := memory.NewEventStore()
		return &Stores{
			Prices:      prices,
			PriceWriter: prices,
			Events:      events,
			EventWriter: events,
			Adjustments: memory.NewAdjustmentStore(),
		}, func() {}, nil
	}

	// PostgreSQL
	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN, cfg.MaxConns)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("applied postgres migrations", "files", applied)
	}

	// ClickHouse
	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	prices := chstore.NewPriceStore(chConn)
	events := pgstore.NewEventStore(pool)
	stores := &Stores{
		Prices:      prices,
		PriceWriter: prices,
		Events:      events,
		EventWriter: events,
		Adjustments: pgstore.NewAdjustmentStore(pool),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// Runtime is a ready-to-use engine with its optional write-back queue.
type Runtime struct {
	Engine *engine.Engine
	Queue  *writeback.Queue // nil when write-back is disabled
}

// NewRuntime builds the engine from configuration. When write-back is
// enabled the queue is started with ctx and must be closed with Close.
func NewRuntime(ctx context.Context, cfg *config.Config, stores *Stores, logger *slog.Logger, metrics *observability.Metrics) (*Runtime, error) {
	markets, err := cfg.EngineMarkets()
	if err != nil {
		return nil, err
	}

	opts := engine.Options{
		Prices:           stores.Prices,
		Events:           stores.Events,
		Store:            stores.Adjustments,
		AlgorithmVersion: cfg.Engine.AlgorithmVersion,
		GapThreshold:     cfg.Engine.GapThreshold,
		Markets:          markets,
		Logger:           logger,
		Metrics:          metrics,
	}

	rt := &Runtime{}
	if cfg.Writeback.Enabled {
		rt.Queue = writeback.NewQueue(cfg.WritebackQueueConfig(), stores.Adjustments, logger, metrics)
		if err := rt.Queue.Start(ctx); err != nil {
			return nil, fmt.Errorf("start writeback queue: %w", err)
		}
		opts.Submitter = rt.Queue
	}

	rt.Engine, err = engine.New(opts)
	if err != nil {
		if rt.Queue != nil {
			_ = rt.Queue.Stop(context.Background())
		}
		return nil, err
	}
	return rt, nil
}

// Close drains the write-back queue, waiting at most timeout.
func (r *Runtime) Close(timeout time.Duration) error {
	if r.Queue == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.Queue.Stop(ctx); err != nil {
		return fmt.Errorf("drain writeback queue: %w", err)
	}
	return nil
}
