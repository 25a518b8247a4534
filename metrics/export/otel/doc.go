// Package otel publishes apiguard engine counters through an OpenTelemetry
// meter supplied by the caller. One callback reads Engine.MetricsSnapshot per
// collection; latency buckets are a single gauge labelled "le".
//
// LogExporter and NewLogMeterProvider push the collected points to slog for
// deployments without a collector.
package otel
