// Package prometheus provides Prometheus collectors for warden metrics.
//
// [NewPrometheusExporter] accepts a [warden.Engine] and exposes an [http.Handler]
// that renders all warden counters and histograms in Prometheus text exposition
// format. Counter names are prefixed warden_*_total; the single histogram is
// warden_introspect_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry; callers mount the Handler.
//   - Mutate engine state.
package prometheus
