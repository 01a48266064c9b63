// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Engine metrics
	ComputeRequests        *prometheus.CounterVec
	ComputeDuration        *prometheus.HistogramVec
	CacheLookups           *prometheus.CounterVec
	FactorBuilds           prometheus.Counter
	FactorBuildDuration    prometheus.Histogram
	NormalizationConflicts prometheus.Counter

	// Store metrics
	RowsWritten      prometheus.Counter
	StoreWriteErrors prometheus.Counter

	// Write-back queue metrics
	WritebackQueueDepth prometheus.Gauge
	WritebackRetries    prometheus.Counter
	WritebackDropped    prometheus.Counter

	// Batch and verification metrics
	BatchSymbols        *prometheus.CounterVec
	BatchDuration       prometheus.Histogram
	VerificationResults *prometheus.CounterVec
	LastSuccessfulBatch prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "vprism_adjust"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Engine metrics
		ComputeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compute_requests_total",
			Help:      "Total number of compute requests by mode and outcome",
		}, []string{"mode", "outcome"}),
		ComputeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "compute_duration_seconds",
			Help:      "Compute request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
		CacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "cache_lookups_total",
			Help:      "Total number of stored-version lookups by result",
		}, []string{"result"}),
		FactorBuilds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "factor_builds_total",
			Help:      "Total number of factor series built from scratch",
		}),
		FactorBuildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "factor_build_duration_seconds",
			Help:      "Factor build latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		NormalizationConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "normalization_conflicts_total",
			Help:      "Total number of event units with conflicting source reports",
		}),

		// Store metrics
		RowsWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "rows_written_total",
			Help:      "Total number of adjustment rows inserted",
		}),
		StoreWriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Total number of failed adjustment writes",
		}),

		// Write-back queue metrics
		WritebackQueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "writeback",
			Name:      "queue_depth",
			Help:      "Current number of pending write-back jobs",
		}),
		WritebackRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writeback",
			Name:      "retries_total",
			Help:      "Total number of write-back retries",
		}),
		WritebackDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "writeback",
			Name:      "dropped_total",
			Help:      "Total number of write-back jobs dropped after exhausting retries",
		}),

		// Batch and verification metrics
		BatchSymbols: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "symbols_total",
			Help:      "Total number of symbols processed by batch runs, by status",
		}, []string{"status"}),
		BatchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "batch",
			Name:      "duration_seconds",
			Help:      "Batch run duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		VerificationResults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "results_total",
			Help:      "Total number of verified symbols by status",
		}, []string{"status"}),
		LastSuccessfulBatch: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_batch_timestamp",
			Help:      "Unix timestamp of last batch run without failures",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCompute records one compute request.
func (m *Metrics) RecordCompute(mode, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ComputeRequests.WithLabelValues(mode, outcome).Inc()
	m.ComputeDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordCacheLookup records whether a stored version satisfied a request.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

// RecordBuild records one factor build.
func (m *Metrics) RecordBuild(seconds float64) {
	if m == nil {
		return
	}
	m.FactorBuilds.Inc()
	m.FactorBuildDuration.Observe(seconds)
}

// RecordConflicts adds n conflicting event units.
func (m *Metrics) RecordConflicts(n int) {
	if m == nil || n == 0 {
		return
	}
	m.NormalizationConflicts.Add(float64(n))
}

// RecordStoreWrite records the outcome of one adjustment write.
func (m *Metrics) RecordStoreWrite(rows int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.StoreWriteErrors.Inc()
		return
	}
	m.RowsWritten.Add(float64(rows))
}

// SetQueueDepth updates the write-back queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.WritebackQueueDepth.Set(float64(n))
}

// RecordRetry increments the write-back retry counter.
func (m *Metrics) RecordRetry() {
	if m == nil {
		return
	}
	m.WritebackRetries.Inc()
}

// RecordDropped increments the write-back dropped counter.
func (m *Metrics) RecordDropped() {
	if m == nil {
		return
	}
	m.WritebackDropped.Inc()
}

// RecordBatchSymbol records the status of one symbol in a batch run.
func (m *Metrics) RecordBatchSymbol(status string) {
	if m == nil {
		return
	}
	m.BatchSymbols.WithLabelValues(status).Inc()
}

// RecordBatchRun records a finished batch run.
func (m *Metrics) RecordBatchRun(seconds float64, failed int, finishedUnix int64) {
	if m == nil {
		return
	}
	m.BatchDuration.Observe(seconds)
	if failed == 0 {
		m.LastSuccessfulBatch.Set(float64(finishedUnix))
	}
}

// RecordVerification records the status of one verified symbol.
func (m *Metrics) RecordVerification(status string) {
	if m == nil {
		return
	}
	m.VerificationResults.WithLabelValues(status).Inc()
}
