// Package otel binds portal counters to OpenTelemetry observable instruments.
//
// [NewExporter] creates one Int64ObservableCounter per engine counter, a
// cumulative bucket gauge with an "le" attribute for resolution latency, and,
// when the source counts engines, an engines-active up-down counter. A single
// callback reads the [Source] on each collection. Pass the Prometheus exporter as
// the source to report a whole fleet of engines through one set of instruments.
//
// # What this package must NOT do
//
//   - Own the MeterProvider. Callers supply the Meter and shut the provider down.
//   - Mutate engine state.
package otel
