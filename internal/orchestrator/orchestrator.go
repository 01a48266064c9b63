// Package orchestrator runs the adjustment engine over a list of symbols.
// Each symbol is computed independently; one failure never aborts the others.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/observability"
)

// DefaultConcurrency is the number of symbols computed in parallel.
const DefaultConcurrency = 4

// Computer computes one adjusted series.
type Computer interface {
	Compute(ctx context.Context, req engine.Request) (*domain.AdjustedSeries, error)
}

// Options for creating Orchestrator.
type Options struct {
	Engine Computer

	// Window and mode applied to every symbol.
	Start time.Time
	End   time.Time
	Mode  domain.Mode

	Concurrency int

	Logger  *slog.Logger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// Orchestrator computes adjusted series for many symbols with bounded concurrency.
type Orchestrator struct {
	engine      Computer
	start       time.Time
	end         time.Time
	mode        domain.Mode
	concurrency int
	logger      *slog.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		engine:      opts.Engine,
		start:       opts.Start,
		end:         opts.End,
		mode:        opts.Mode,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// SymbolResult is the outcome of one symbol.
type SymbolResult struct {
	Ref      domain.SymbolRef
	Series   *domain.AdjustedSeries // nil on error
	Err      error
	Duration time.Duration
}

// RunResult contains results from one batch run.
type RunResult struct {
	SymbolsProcessed int
	Succeeded        int
	Failed           int
	CacheHits        int
	Results          []*SymbolResult // ordered by market, symbol
	Errors           []string
}

// Run computes every symbol. It returns an error only when ctx is cancelled;
// per-symbol failures are reported in the result.
func (o *Orchestrator) Run(ctx context.Context, refs []domain.SymbolRef) (*RunResult, error) {
	started := o.now()
	o.logger.Info("batch started", "symbols", len(refs), "concurrency", o.concurrency)

	var mu sync.Mutex
	results := make([]*SymbolResult, 0, len(refs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)

	for _, ref := range refs {
		if gctx.Err() != nil {
			break
		}
		ref := ref
		g.Go(func() error {
			r := o.runSymbol(gctx, ref)
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	result := summarize(results)
	duration := o.now().Sub(started)
	o.metrics.RecordBatchRun(duration.Seconds(), result.Failed, o.now().Unix())
	o.logger.Info("batch finished",
		"symbols", result.SymbolsProcessed,
		"succeeded", result.Succeeded,
		"failed", result.Failed,
		"cache_hits", result.CacheHits,
		"duration", duration,
	)

	if err := ctx.Err(); err != nil {
		return result, fmt.Errorf("batch cancelled: %w", err)
	}
	return result, nil
}

func (o *Orchestrator) runSymbol(ctx context.Context, ref domain.SymbolRef) *SymbolResult {
	started := time.Now()
	series, err := o.engine.Compute(ctx, engine.Request{
		Symbol: ref.Symbol,
		Market: ref.Market,
		Start:  o.start,
		End:    o.end,
		Mode:   o.mode,
	})

	r := &SymbolResult{Ref: ref, Series: series, Err: err, Duration: time.Since(started)}
	if err != nil {
		o.metrics.RecordBatchSymbol("failed")
		o.logger.Warn("symbol failed", "symbol", ref.Symbol, "market", ref.Market, "error", err)
		return r
	}

	o.metrics.RecordBatchSymbol("ok")
	o.logger.Debug("symbol computed",
		"symbol", ref.Symbol,
		"market", ref.Market,
		"version", series.Version,
		"rows", len(series.Rows),
		"cache_hit", series.CacheHit,
	)
	return r
}

func summarize(results []*SymbolResult) *RunResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Ref.Market != results[j].Ref.Market {
			return results[i].Ref.Market < results[j].Ref.Market
		}
		return results[i].Ref.Symbol < results[j].Ref.Symbol
	})

	out := &RunResult{SymbolsProcessed: len(results), Results: results}
	for _, r := range results {
		if r.Err != nil {
			out.Failed++
			out.Errors = append(out.Errors, fmt.Sprintf("%s: %v", r.Ref, r.Err))
			continue
		}
		out.Succeeded++
		if r.Series.CacheHit {
			out.CacheHits++
		}
	}
	return out
}
