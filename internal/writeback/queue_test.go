package writeback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/storage"
	"vprism-adjust/internal/storage/memory"
)

// flakyStore fails the first n Upsert calls with a transient error.
type flakyStore struct {
	*memory.AdjustmentStore
	mu       sync.Mutex
	failures int
	calls    int
}

func (s *flakyStore) Upsert(ctx context.Context, rows []*domain.AdjustmentFactorRow) (int, error) {
	s.mu.Lock()
	s.calls++
	fail := s.calls <= s.failures
	s.mu.Unlock()

	if fail {
		return 0, errors.New("connection reset")
	}
	return s.AdjustmentStore.Upsert(ctx, rows)
}

func testRows(version, qfq string) []*domain.AdjustmentFactorRow {
	return []*domain.AdjustmentFactorRow{{
		Symbol:           "X",
		Market:           "CN",
		Date:             domain.Date(2024, 1, 2),
		AdjFactorQfq:     decimal.RequireFromString(qfq),
		AdjFactorHfq:     decimal.NewFromInt(1),
		Version:          version,
		BuildTime:        time.Unix(100, 0).UTC(),
		SourceEventsHash: "h",
	}}
}

func startQueue(t *testing.T, cfg Config, store storage.AdjustmentStore) *Queue {
	t.Helper()
	q := NewQueue(cfg, store, nil, nil)
	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})
	return q
}

func TestQueue_WritesSubmittedRows(t *testing.T) {
	store := memory.NewAdjustmentStore()
	q := startQueue(t, Config{BufferSize: 4}, store)
	ctx := context.Background()

	if err := q.Submit(ctx, testRows("1:a", "1")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	versions, _ := store.ListVersions(ctx, "X", "CN")
	if len(versions) != 1 {
		t.Fatalf("Expected 1 stored version, got %d", len(versions))
	}

	stats := q.Stats()
	if stats.Submitted != 1 || stats.Written != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	store := &flakyStore{AdjustmentStore: memory.NewAdjustmentStore(), failures: 2}
	q := startQueue(t, Config{BufferSize: 4, MaxRetries: 3, RetryBaseDelay: time.Millisecond}, store)
	ctx := context.Background()

	_ = q.Submit(ctx, testRows("1:a", "1"))
	_ = q.Flush(ctx)

	stats := q.Stats()
	if stats.Retries != 2 {
		t.Errorf("Expected 2 retries, got %d", stats.Retries)
	}
	if stats.Written != 1 || stats.Dropped != 0 {
		t.Errorf("Expected row written after retries, got %+v", stats)
	}
}

func TestQueue_DropsAfterMaxRetries(t *testing.T) {
	store := &flakyStore{AdjustmentStore: memory.NewAdjustmentStore(), failures: 10}
	q := startQueue(t, Config{BufferSize: 4, MaxRetries: 1, RetryBaseDelay: time.Millisecond}, store)
	ctx := context.Background()

	_ = q.Submit(ctx, testRows("1:a", "1"))
	_ = q.Flush(ctx)

	stats := q.Stats()
	if stats.Dropped != 1 || stats.Retries != 1 {
		t.Errorf("Expected one retry then drop, got %+v", stats)
	}
}

func TestQueue_ConflictIsNotRetried(t *testing.T) {
	store := memory.NewAdjustmentStore()
	ctx := context.Background()
	if _, err := store.Upsert(ctx, testRows("1:a", "1")); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	q := startQueue(t, Config{BufferSize: 4, MaxRetries: 5, RetryBaseDelay: time.Millisecond}, store)
	_ = q.Submit(ctx, testRows("1:a", "0.5"))
	_ = q.Flush(ctx)

	stats := q.Stats()
	if stats.Conflicts != 1 || stats.Retries != 0 {
		t.Errorf("Expected conflict without retries, got %+v", stats)
	}
}

func TestQueue_SubmitAfterStop(t *testing.T) {
	q := NewQueue(Config{}, memory.NewAdjustmentStore(), nil, nil)

	if err := q.Submit(context.Background(), testRows("1:a", "1")); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Expected ErrQueueStopped before Start, got %v", err)
	}

	_ = q.Start(context.Background())
	_ = q.Stop(context.Background())

	if err := q.Submit(context.Background(), testRows("1:a", "1")); !errors.Is(err, ErrQueueStopped) {
		t.Errorf("Expected ErrQueueStopped after Stop, got %v", err)
	}
}

func TestQueue_StopDrainsBuffer(t *testing.T) {
	store := memory.NewAdjustmentStore()
	q := NewQueue(Config{BufferSize: 8}, store, nil, nil)
	_ = q.Start(context.Background())
	ctx := context.Background()

	for _, v := range []string{"1:a", "1:b", "1:c"} {
		if err := q.Submit(ctx, testRows(v, "1")); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := q.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	versions, _ := store.ListVersions(ctx, "X", "CN")
	if len(versions) != 3 {
		t.Errorf("Expected 3 versions after drain, got %d", len(versions))
	}
}
