package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics("test", prometheus.NewRegistry())

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordStoreWrite(3, nil)
	m.RecordStoreWrite(5, errors.New("boom"))
	m.RecordConflicts(2)

	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")); got != 2 {
		t.Errorf("cache misses = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RowsWritten); got != 3 {
		t.Errorf("rows written = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.StoreWriteErrors); got != 1 {
		t.Errorf("write errors = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.NormalizationConflicts); got != 2 {
		t.Errorf("conflicts = %v, want 2", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordCompute("qfq", "ok", 0.1)
	m.RecordCacheLookup(true)
	m.RecordBuild(0.1)
	m.RecordStoreWrite(1, nil)
	m.SetQueueDepth(3)
	m.RecordBatchRun(1, 0, 0)
}
