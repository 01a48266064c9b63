// Package writeback persists freshly built factor rows off the request path.
package writeback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"vprism-adjust/internal/domain"
	"vprism-adjust/internal/observability"
	"vprism-adjust/internal/storage"
)

// Queue errors.
var (
	ErrQueueFull    = errors.New("writeback queue full")
	ErrQueueStopped = errors.New("writeback queue stopped")
)

// Config configures a Queue.
type Config struct {
	BufferSize     int
	MaxRetries     int
	RetryBaseDelay time.Duration
}

// Stats holds queue counters.
type Stats struct {
	Submitted int64
	Written   int64 // rows inserted
	Retries   int64
	Dropped   int64
	Conflicts int64
}

type job struct {
	rows []*domain.AdjustmentFactorRow
}

// Queue is a buffered, single-worker write-back queue with retry and
// exponential backoff. It implements engine.Submitter.
type Queue struct {
	cfg     Config
	store   storage.AdjustmentStore
	logger  *slog.Logger
	metrics *observability.Metrics

	jobs    chan job
	pending sync.WaitGroup

	// Lifecycle
	mu      sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

// NewQueue creates a Queue. Call Start before Submit.
func NewQueue(cfg Config, store storage.AdjustmentStore, logger *slog.Logger, metrics *observability.Metrics) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}
	return &Queue{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: metrics,
		jobs:    make(chan job, cfg.BufferSize),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (q *Queue) Start(ctx context.Context) error {
	q.ctx, q.cancel = context.WithCancel(ctx)
	go q.run()

	q.logger.Info("writeback queue started",
		"buffer_size", q.cfg.BufferSize,
		"max_retries", q.cfg.MaxRetries,
		"retry_base_delay", q.cfg.RetryBaseDelay,
	)
	return nil
}

// Submit enqueues rows without blocking.
func (q *Queue) Submit(_ context.Context, rows []*domain.AdjustmentFactorRow) error {
	if len(rows) == 0 {
		return nil
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.stopped || q.ctx == nil {
		return ErrQueueStopped
	}

	q.pending.Add(1)
	select {
	case q.jobs <- job{rows: rows}:
		q.addStats(func(s *Stats) { s.Submitted++ })
		q.metrics.SetQueueDepth(len(q.jobs))
		return nil
	default:
		q.pending.Done()
		return ErrQueueFull
	}
}

// Flush blocks until every submitted job has been written or dropped.
func (q *Queue) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.pending.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop rejects new jobs, drains the buffer and waits for the worker.
// When ctx expires first, in-flight retries are abandoned.
func (q *Queue) Stop(ctx context.Context) error {
	q.logger.Info("stopping writeback queue")

	q.mu.Lock()
	if q.stopped || q.ctx == nil {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	close(q.jobs)
	q.mu.Unlock()

	select {
	case <-q.done:
		q.logger.Info("writeback queue stopped")
		q.cancel()
		return nil
	case <-ctx.Done():
		q.logger.Warn("writeback queue stop timed out", "pending", len(q.jobs))
		q.cancel()
		<-q.done
		return ctx.Err()
	}
}

// Stats returns current counters.
func (q *Queue) Stats() Stats {
	q.statsMu.Lock()
	defer q.statsMu.Unlock()
	return q.stats
}

func (q *Queue) run() {
	defer close(q.done)

	for j := range q.jobs {
		q.metrics.SetQueueDepth(len(q.jobs))
		q.write(j)
		q.pending.Done()
	}
}

// write upserts one job, retrying transient failures with exponential backoff.
func (q *Queue) write(j job) {
	first := j.rows[0]
	log := q.logger.With("symbol", first.Symbol, "market", first.Market, "version", first.Version)

	delay := q.cfg.RetryBaseDelay
	for attempt := 0; ; attempt++ {
		n, err := q.store.Upsert(q.ctx, j.rows)
		q.metrics.RecordStoreWrite(n, err)
		if err == nil {
			q.addStats(func(s *Stats) { s.Written += int64(n) })
			log.Debug("rows written", "rows", n, "attempt", attempt+1)
			return
		}

		if errors.Is(err, storage.ErrConflictingRow) {
			q.addStats(func(s *Stats) { s.Conflicts++; s.Dropped++ })
			q.metrics.RecordDropped()
			log.Error("conflicting rows dropped", "rows", len(j.rows), "error", err)
			return
		}

		if attempt >= q.cfg.MaxRetries || q.ctx.Err() != nil {
			q.addStats(func(s *Stats) { s.Dropped++ })
			q.metrics.RecordDropped()
			log.Error("write dropped after retries", "rows", len(j.rows), "attempts", attempt+1, "error", err)
			return
		}

		q.addStats(func(s *Stats) { s.Retries++ })
		q.metrics.RecordRetry()
		log.Warn("write failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)

		select {
		case <-q.ctx.Done():
		case <-time.After(delay):
		}
		delay *= 2
	}
}

func (q *Queue) addStats(fn func(*Stats)) {
	q.statsMu.Lock()
	fn(&q.stats)
	q.statsMu.Unlock()
}
