package internaldefs

import (
	"math"

	"github.com/MrEthical07/templock"
)

// CounterDef maps an engine counter to its exported name.
type CounterDef struct {
	ID   templock.MetricID
	Name string
	Help string
}

// HistogramDef maps an engine histogram to its exported name.
type HistogramDef struct {
	ID   templock.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: templock.MetricAttemptRecorded, Name: "templock_attempts_total", Help: "AddAttempt calls whose counter increments landed."},
	{ID: templock.MetricCounterIncremented, Name: "templock_counter_increments_total", Help: "Per-category attempt counter increments."},
	{ID: templock.MetricLockTriggered, Name: "templock_locks_total", Help: "Lock transitions, threshold-triggered or direct."},
	{ID: templock.MetricLockDegraded, Name: "templock_locks_degraded_total", Help: "Lock transitions whose counter cleanup failed."},
	{ID: templock.MetricLockCheck, Name: "templock_lock_checks_total", Help: "IsLocked calls."},
	{ID: templock.MetricLockedHit, Name: "templock_locked_hits_total", Help: "IsLocked calls that found a lock."},
	{ID: templock.MetricUnlock, Name: "templock_unlocks_total", Help: "Explicit unlocks."},
	{ID: templock.MetricCountersReset, Name: "templock_counter_resets_total", Help: "ResetCounters calls."},
	{ID: templock.MetricStorageFailure, Name: "templock_storage_failures_total", Help: "Storage backend errors returned to callers."},
	{ID: templock.MetricListenerFailure, Name: "templock_listener_failures_total", Help: "Lock listeners that returned an error or panicked."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: templock.MetricAddAttemptLatency, Name: "templock_add_attempt_latency_seconds", Help: "AddAttempt latency histogram."},
}

// EventsDroppedName is the counter for events the async dispatcher discarded.
const (
	EventsDroppedName = "templock_events_dropped_total"
	EventsDroppedHelp = "Lock events dropped due to dispatcher backpressure."
)

// HistogramBounds are the bucket upper bounds in seconds. The last is +Inf.
var HistogramBounds = [8]float64{
	0.005,
	0.01,
	0.025,
	0.05,
	0.1,
	0.25,
	0.5,
	math.Inf(1),
}

// HistogramBoundSuffix names each bucket for exporters that encode the bound in
// the instrument name.
var HistogramBoundSuffix = [8]string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw snapshot buckets to eight.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
