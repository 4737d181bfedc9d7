package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/templock"
	"github.com/MrEthical07/templock/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeSource struct {
	snapshot templock.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() templock.MetricsSnapshot { return f.snapshot }
func (f fakeSource) EventsDropped() uint64                     { return f.dropped }

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: templock.MetricsSnapshot{
			Counters:   map[templock.MetricID]uint64{},
			Histograms: map[templock.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp); n != 0 {
		t.Fatalf("expected no metrics for disabled source, got %d", n)
	}
}

func TestCollectIncludesCounterAndHistogram(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: templock.MetricsSnapshot{
			Counters: map[templock.MetricID]uint64{
				templock.MetricLockTriggered: 7,
			},
			Histograms: map[templock.MetricID][]uint64{
				templock.MetricAddAttemptLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
			HistogramSums: map[templock.MetricID]float64{
				templock.MetricAddAttemptLatency: 1.5,
			},
		},
		dropped: 2,
	})

	expected := `
# HELP templock_locks_total Lock transitions, threshold-triggered or direct.
# TYPE templock_locks_total counter
templock_locks_total 7
# HELP templock_events_dropped_total Lock events dropped due to dispatcher backpressure.
# TYPE templock_events_dropped_total counter
templock_events_dropped_total 2
# HELP templock_add_attempt_latency_seconds AddAttempt latency histogram.
# TYPE templock_add_attempt_latency_seconds histogram
templock_add_attempt_latency_seconds_bucket{le="0.005"} 1
templock_add_attempt_latency_seconds_bucket{le="0.01"} 3
templock_add_attempt_latency_seconds_bucket{le="0.025"} 6
templock_add_attempt_latency_seconds_bucket{le="0.05"} 10
templock_add_attempt_latency_seconds_bucket{le="0.1"} 15
templock_add_attempt_latency_seconds_bucket{le="0.25"} 21
templock_add_attempt_latency_seconds_bucket{le="0.5"} 28
templock_add_attempt_latency_seconds_bucket{le="+Inf"} 36
templock_add_attempt_latency_seconds_sum 1.5
templock_add_attempt_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(exp, strings.NewReader(expected),
		"templock_locks_total",
		"templock_events_dropped_total",
		"templock_add_attempt_latency_seconds",
	)
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollectSkipsHistogramWhenLatencyDisabled(t *testing.T) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: templock.MetricsSnapshot{
			Counters:   map[templock.MetricID]uint64{templock.MetricUnlock: 1},
			Histograms: map[templock.MetricID][]uint64{},
		},
	})

	if n := testutil.CollectAndCount(exp, "templock_add_attempt_latency_seconds"); n != 0 {
		t.Fatalf("expected no histogram, got %d series", n)
	}
}

func TestHandlerServesEngineMetrics(t *testing.T) {
	engine, err := templock.New().
		WithStrategies(templock.BuildStrategy(templock.MainCategory, 1, time.Minute)).
		WithStorage(storage.NewMemory()).
		WithMetricsEnabled(true).
		Build()
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if err := engine.AddAttempt(context.Background(), "alice"); err != nil {
		t.Fatalf("AddAttempt failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	NewExporter(engine).Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "templock_locks_total 1") {
		t.Fatalf("expected lock counter in output, got:\n%s", body)
	}
}

func BenchmarkCollect(b *testing.B) {
	exp := NewExporterFromSource(fakeSource{
		snapshot: templock.MetricsSnapshot{
			Counters: map[templock.MetricID]uint64{
				templock.MetricAttemptRecorded:    1000,
				templock.MetricCounterIncremented: 2400,
				templock.MetricLockTriggered:      40,
				templock.MetricLockCheck:          8000,
				templock.MetricLockedHit:          300,
			},
			Histograms: map[templock.MetricID][]uint64{
				templock.MetricAddAttemptLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(exp)
	}
}
