// Package observability provides an OpenTelemetry-based lifecycle metrics
// extension. The MetricsExtension implements ext hooks to record
// system-wide counters for step enqueue, completion, failure, retry,
// throttle, DLQ, provider ban, and cron events.
//
// For per-execution latency histograms and tracing, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
