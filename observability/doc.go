// Package observability provides an OpenTelemetry-based metrics
// extension for sluice. The MetricsExtension implements lifecycle hooks
// to record dispatcher-wide counters for request submission, admission,
// retry, rejection, and terminal outcomes by status, plus a gauge of
// requests between submission and outcome.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
