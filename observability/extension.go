package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sluicelabs/sluice/ext"
	"github.com/sluicelabs/sluice/task"
)

// meterName is the instrumentation scope name for sluice metrics.
const meterName = "github.com/sluicelabs/sluice"

// Compile-time interface checks.
var (
	_ ext.Extension        = (*MetricsExtension)(nil)
	_ ext.RequestSubmitted = (*MetricsExtension)(nil)
	_ ext.RequestAdmitted  = (*MetricsExtension)(nil)
	_ ext.RequestRetrying  = (*MetricsExtension)(nil)
	_ ext.RequestFinished  = (*MetricsExtension)(nil)
	_ ext.RequestRejected  = (*MetricsExtension)(nil)
)

// MetricsExtension records dispatcher-wide lifecycle metrics.
// Register it as a sluice extension to automatically track submission
// rates, admissions, retries, rejections, and outcome counts by status.
//
// Instruments:
//   - sluice.request.submitted (Int64Counter)
//   - sluice.request.admitted (Int64Counter)
//   - sluice.request.retried (Int64Counter)
//   - sluice.request.rejected (Int64Counter)
//   - sluice.request.finished (Int64Counter), with attribute: status
//   - sluice.requests.active (Int64UpDownCounter): requests between
//     submission and terminal outcome
type MetricsExtension struct {
	submitted metric.Int64Counter
	admitted  metric.Int64Counter
	retried   metric.Int64Counter
	rejected  metric.Int64Counter
	finished  metric.Int64Counter
	active    metric.Int64UpDownCounter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If no MeterProvider is configured, noop instruments
// are used and the extension records nothing.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// Instrument creation errors leave noop instruments in place, so
	// the extension degrades gracefully without a MeterProvider.
	m := &MetricsExtension{}
	m.submitted, _ = meter.Int64Counter(
		"sluice.request.submitted",
		metric.WithDescription("Total requests accepted for dispatch"),
		metric.WithUnit("{request}"),
	)
	m.admitted, _ = meter.Int64Counter(
		"sluice.request.admitted",
		metric.WithDescription("Total requests granted an admission permit"),
		metric.WithUnit("{request}"),
	)
	m.retried, _ = meter.Int64Counter(
		"sluice.request.retried",
		metric.WithDescription("Total retry attempts scheduled"),
		metric.WithUnit("{retry}"),
	)
	m.rejected, _ = meter.Int64Counter(
		"sluice.request.rejected",
		metric.WithDescription("Total requests refused by admission or the queue"),
		metric.WithUnit("{request}"),
	)
	m.finished, _ = meter.Int64Counter(
		"sluice.request.finished",
		metric.WithDescription("Total terminal outcomes by status"),
		metric.WithUnit("{request}"),
	)
	m.active, _ = meter.Int64UpDownCounter(
		"sluice.requests.active",
		metric.WithDescription("Requests between submission and terminal outcome"),
		metric.WithUnit("{request}"),
	)
	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Request lifecycle hooks ─────────────────────────

// OnRequestSubmitted implements ext.RequestSubmitted.
func (m *MetricsExtension) OnRequestSubmitted(ctx context.Context, _ *task.Request) error {
	m.submitted.Add(ctx, 1)
	m.active.Add(ctx, 1)
	return nil
}

// OnRequestAdmitted implements ext.RequestAdmitted.
func (m *MetricsExtension) OnRequestAdmitted(ctx context.Context, _ *task.Request) error {
	m.admitted.Add(ctx, 1)
	return nil
}

// OnRequestRetrying implements ext.RequestRetrying.
func (m *MetricsExtension) OnRequestRetrying(ctx context.Context, _ *task.Request, _ int, _ time.Duration) error {
	m.retried.Add(ctx, 1)
	return nil
}

// OnRequestRejected implements ext.RequestRejected.
func (m *MetricsExtension) OnRequestRejected(ctx context.Context, _ *task.Request, _ error) error {
	m.rejected.Add(ctx, 1)
	return nil
}

// OnRequestFinished implements ext.RequestFinished.
func (m *MetricsExtension) OnRequestFinished(ctx context.Context, _ *task.Request, out *task.Outcome) error {
	m.finished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(out.Status)),
	))
	m.active.Add(ctx, -1)
	return nil
}
