package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/engine"
	"vprism-adjust/internal/observability"
	"vprism-adjust/internal/storage/memory"
)

// fakeComputer fails for symbols in fail and tracks peak concurrency.
type fakeComputer struct {
	fail    map[string]bool
	delay   time.Duration
	active  atomic.Int32
	peak    atomic.Int32
	mu      sync.Mutex
	symbols []string
}

func (f *fakeComputer) Compute(ctx context.Context, req engine.Request) (*domain.AdjustedSeries, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.symbols = append(f.symbols, req.Symbol)
	f.mu.Unlock()

	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if f.fail[req.Symbol] {
		return nil, errors.New("no prices")
	}
	return &domain.AdjustedSeries{Symbol: req.Symbol, Market: req.Market, Version: "1:abc"}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func refs(symbols ...string) []domain.SymbolRef {
	out := make([]domain.SymbolRef, len(symbols))
	for i, s := range symbols {
		out[i] = domain.SymbolRef{Symbol: s, Market: "CN"}
	}
	return out
}

func TestOrchestrator_Run_Empty(t *testing.T) {
	orch := New(Options{Engine: &fakeComputer{}, Logger: quietLogger()})

	result, err := orch.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if result.SymbolsProcessed != 0 || result.Failed != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestOrchestrator_Run_CollectsFailures(t *testing.T) {
	comp := &fakeComputer{fail: map[string]bool{"B": true}}
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics("test", reg)

	orch := New(Options{Engine: comp, Concurrency: 2, Logger: quietLogger(), Metrics: m})
	result, err := orch.Run(context.Background(), refs("C", "B", "A"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if result.SymbolsProcessed != 3 {
		t.Errorf("expected 3 processed, got %d", result.SymbolsProcessed)
	}
	if result.Succeeded != 2 || result.Failed != 1 {
		t.Errorf("expected 2 ok / 1 failed, got %d / %d", result.Succeeded, result.Failed)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("expected 1 error, got %v", result.Errors)
	}

	for i, want := range []string{"A", "B", "C"} {
		if result.Results[i].Ref.Symbol != want {
			t.Errorf("result %d: expected %s, got %s", i, want, result.Results[i].Ref.Symbol)
		}
	}

	if got := testutil.ToFloat64(m.BatchSymbols.WithLabelValues("failed")); got != 1 {
		t.Errorf("expected 1 failed symbol metric, got %v", got)
	}
	if got := testutil.ToFloat64(m.BatchSymbols.WithLabelValues("ok")); got != 2 {
		t.Errorf("expected 2 ok symbol metrics, got %v", got)
	}
}

func TestOrchestrator_Run_BoundedConcurrency(t *testing.T) {
	comp := &fakeComputer{delay: 10 * time.Millisecond}
	orch := New(Options{Engine: comp, Concurrency: 3, Logger: quietLogger()})

	_, err := orch.Run(context.Background(), refs("A", "B", "C", "D", "E", "F", "G", "H"))
	if err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}

	if peak := comp.peak.Load(); peak > 3 {
		t.Errorf("expected at most 3 concurrent computes, got %d", peak)
	}
	if len(comp.symbols) != 8 {
		t.Errorf("expected 8 computes, got %d", len(comp.symbols))
	}
}

func TestOrchestrator_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	orch := New(Options{Engine: &fakeComputer{delay: time.Second}, Logger: quietLogger()})
	_, err := orch.Run(ctx, refs("A", "B"))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestOrchestrator_Run_WithEngine(t *testing.T) {
	ctx := context.Background()
	prices := memory.NewPriceStore()
	store := memory.NewAdjustmentStore()

	for _, sym := range []string{"600000", "000001"} {
		var obs []*domain.PriceObservation
		for i, c := range []string{"10", "11", "12"} {
			obs = append(obs, &domain.PriceObservation{
				Symbol:   sym,
				Market:   "CN",
				Date:     domain.Date(2024, 1, i+1),
				RawClose: decimal.RequireFromString(c),
			})
		}
		if err := prices.InsertBulk(ctx, obs); err != nil {
			t.Fatalf("insert prices: %v", err)
		}
	}

	eng, err := engine.New(engine.Options{
		Prices: prices,
		Events: memory.NewEventStore(),
		Store:  store,
		Logger: quietLogger(),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	orch := New(Options{
		Engine: eng,
		Start:  domain.Date(2024, 1, 1),
		End:    domain.Date(2024, 1, 3),
		Mode:   domain.ModeQfq,
		Logger: quietLogger(),
	})

	first, err := orch.Run(ctx, refs("600000", "000001", "999999"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Succeeded != 2 || first.Failed != 1 || first.CacheHits != 0 {
		t.Errorf("first run: unexpected result %+v", first)
	}

	second, err := orch.Run(ctx, refs("600000", "000001"))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.CacheHits != 2 {
		t.Errorf("second run: expected 2 cache hits, got %d", second.CacheHits)
	}
}
