package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/templock"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot templock.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() templock.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := templock.MetricsSnapshot{
		Counters:      make(map[templock.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms:    make(map[templock.MetricID][]uint64, len(f.snapshot.Histograms)),
		HistogramSums: make(map[templock.MetricID]float64, len(f.snapshot.HistogramSums)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	for k, v := range f.snapshot.HistogramSums {
		out.HistogramSums[k] = v
	}
	return out
}

func (f *fakeSource) EventsDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	out := make(map[string]metricdata.Aggregation)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("templock-test")

	src := &fakeSource{
		snapshot: templock.MetricsSnapshot{
			Counters: map[templock.MetricID]uint64{
				templock.MetricLockTriggered: 3,
			},
			Histograms: map[templock.MetricID][]uint64{
				templock.MetricAddAttemptLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
			HistogramSums: map[templock.MetricID]float64{
				templock.MetricAddAttemptLatency: 0.25,
			},
		},
		dropped: 1,
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	data := collect(t, reader)

	locks, ok := data["templock_locks_total"].(metricdata.Sum[int64])
	if !ok || len(locks.DataPoints) != 1 || locks.DataPoints[0].Value != 3 {
		t.Fatalf("unexpected templock_locks_total: %#v", data["templock_locks_total"])
	}
	inf, ok := data["templock_add_attempt_latency_seconds_bucket_le_inf"].(metricdata.Gauge[int64])
	if !ok || len(inf.DataPoints) != 1 || inf.DataPoints[0].Value != 8 {
		t.Fatalf("unexpected +Inf bucket: %#v", data["templock_add_attempt_latency_seconds_bucket_le_inf"])
	}
	sum, ok := data["templock_add_attempt_latency_seconds_sum"].(metricdata.Gauge[float64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 0.25 {
		t.Fatalf("unexpected sum: %#v", data["templock_add_attempt_latency_seconds_sum"])
	}
	dropped, ok := data["templock_events_dropped_total"].(metricdata.Sum[int64])
	if !ok || len(dropped.DataPoints) != 1 || dropped.DataPoints[0].Value != 1 {
		t.Fatalf("unexpected dropped counter: %#v", data["templock_events_dropped_total"])
	}
}

func TestExporterRejectsNilInputs(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("templock-test")

	if _, err := NewExporterFromSource(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource, got %v", err)
	}
	if _, err := NewExporter(meter, nil); err != ErrNilSource {
		t.Fatalf("expected ErrNilSource for nil engine, got %v", err)
	}
	if _, err := NewExporterFromSource(nil, &fakeSource{}); err != ErrNilMeter {
		t.Fatalf("expected ErrNilMeter, got %v", err)
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("templock-test")

	src := &fakeSource{
		snapshot: templock.MetricsSnapshot{
			Counters: map[templock.MetricID]uint64{
				templock.MetricAttemptRecorded: 1,
			},
			Histograms: map[templock.MetricID][]uint64{
				templock.MetricAddAttemptLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[templock.MetricAttemptRecorded] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
