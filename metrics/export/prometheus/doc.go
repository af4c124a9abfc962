// Package prometheus exposes portal engine counters through client_golang.
//
// [Exporter] implements prometheus.Collector over any number of engines and sums
// their snapshots at scrape time. Counter names are portal_*_total and the
// resolution latency histogram is portal_resolution_latency_seconds.
//
// # What this package must NOT do
//
//   - Register in the global Prometheus registry. Callers mount [Exporter.Handler]
//     or register the exporter themselves.
//   - Mutate engine state.
package prometheus
