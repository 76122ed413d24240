// Package otel provides OpenTelemetry metric bindings for engine
// counters and histograms.
//
// [NewExporter] registers Int64ObservableCounter instruments for each
// counter and Int64ObservableGauge per histogram bucket. A single
// callback reads a metrics snapshot on each collection cycle.
//
// The exporter never owns the OTel MeterProvider; callers supply the
// Meter.
package otel
