// Package otel exports gatewarden engine counters through OpenTelemetry
// observable instruments.
//
// [NewExporter] registers an Int64ObservableCounter per engine metric
// and a single callback that reads the engine's metrics snapshot on each
// collection cycle. Callers own the MeterProvider; this package never
// mutates engine state.
package otel
