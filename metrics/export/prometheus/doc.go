// Package prometheus exposes templock engine metrics through
// prometheus/client_golang.
//
// [Exporter] is a prometheus.Collector: register it on your own registry, or
// mount [Exporter.Handler], which serves it from a private one. Counter names
// are templock_*_total; the single histogram is
// templock_add_attempt_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in the global Prometheus registry.
//   - Mutate engine state.
package prometheus
