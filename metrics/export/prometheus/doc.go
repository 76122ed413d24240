// Package prometheus renders engine metrics in Prometheus text
// exposition format.
//
// [NewExporter] accepts a [MetricsSource] (the engine facade qualifies)
// and exposes an http.Handler. Counter names are prefixed
// authcore_*_total; the single histogram is
// authcore_validate_latency_seconds.
//
// The exporter never registers in a global Prometheus registry; callers
// mount the Handler themselves.
package prometheus
