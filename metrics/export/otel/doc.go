// Package otel binds templock engine metrics to OpenTelemetry observable
// instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine counter and a
// gauge per histogram bucket, plus count and sum gauges. One callback reads
// [templock.Engine.MetricsSnapshot] on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate engine state.
package otel
