package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/martingalian/stepflow/ext"
	"github.com/martingalian/stepflow/id"
	"github.com/martingalian/stepflow/step"
)

// meterName is the instrumentation scope name for lifecycle metrics.
const meterName = "github.com/martingalian/stepflow/observability"

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.StepEnqueued   = (*MetricsExtension)(nil)
	_ ext.StepCompleted  = (*MetricsExtension)(nil)
	_ ext.StepFailed     = (*MetricsExtension)(nil)
	_ ext.StepRetrying   = (*MetricsExtension)(nil)
	_ ext.StepThrottled  = (*MetricsExtension)(nil)
	_ ext.StepDLQ        = (*MetricsExtension)(nil)
	_ ext.ProviderBanned = (*MetricsExtension)(nil)
	_ ext.CronFired      = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters. Register it as
// an engine extension to track enqueue rates, completion counts, failure
// rates, retries, throttle reschedules, DLQ entries, provider bans, and
// cron fires. All counters carry step_name and queue attributes where a
// step is in scope.
type MetricsExtension struct {
	enqueued  metric.Int64Counter
	completed metric.Int64Counter
	failed    metric.Int64Counter
	retried   metric.Int64Counter
	throttled metric.Int64Counter
	dlq       metric.Int64Counter
	banned    metric.Int64Counter
	cronFired metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. With no provider configured the instruments are noops.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided
// meter. Use this variant to inject a specific MeterProvider in tests.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	m := &MetricsExtension{}

	// On error the OTel API returns noop instruments, so the extension
	// degrades gracefully.
	m.enqueued, _ = meter.Int64Counter("stepflow.step.enqueued",
		metric.WithDescription("Steps enqueued"), metric.WithUnit("{step}"))
	m.completed, _ = meter.Int64Counter("stepflow.step.completed",
		metric.WithDescription("Steps completed successfully"), metric.WithUnit("{step}"))
	m.failed, _ = meter.Int64Counter("stepflow.step.failed",
		metric.WithDescription("Steps failed terminally"), metric.WithUnit("{step}"))
	m.retried, _ = meter.Int64Counter("stepflow.step.retried",
		metric.WithDescription("Retry reschedules"), metric.WithUnit("{step}"))
	m.throttled, _ = meter.Int64Counter("stepflow.step.throttled",
		metric.WithDescription("Throttle reschedules"), metric.WithUnit("{step}"))
	m.dlq, _ = meter.Int64Counter("stepflow.step.dlq",
		metric.WithDescription("Steps moved to the dead letter queue"), metric.WithUnit("{step}"))
	m.banned, _ = meter.Int64Counter("stepflow.provider.banned",
		metric.WithDescription("Provider ban windows observed"), metric.WithUnit("{ban}"))
	m.cronFired, _ = meter.Int64Counter("stepflow.cron.fired",
		metric.WithDescription("Cron entries fired"), metric.WithUnit("{fire}"))

	return m
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnStepEnqueued implements ext.StepEnqueued.
func (m *MetricsExtension) OnStepEnqueued(ctx context.Context, s *step.Step) error {
	m.enqueued.Add(ctx, 1, stepAttrs(s))
	return nil
}

// OnStepCompleted implements ext.StepCompleted.
func (m *MetricsExtension) OnStepCompleted(ctx context.Context, s *step.Step, _ time.Duration) error {
	m.completed.Add(ctx, 1, stepAttrs(s))
	return nil
}

// OnStepFailed implements ext.StepFailed.
func (m *MetricsExtension) OnStepFailed(ctx context.Context, s *step.Step, _ error) error {
	m.failed.Add(ctx, 1, stepAttrs(s))
	return nil
}

// OnStepRetrying implements ext.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, s *step.Step, _ int, _ time.Time) error {
	m.retried.Add(ctx, 1, stepAttrs(s))
	return nil
}

// OnStepThrottled implements ext.StepThrottled.
func (m *MetricsExtension) OnStepThrottled(ctx context.Context, s *step.Step, _ time.Duration) error {
	m.throttled.Add(ctx, 1, stepAttrs(s))
	return nil
}

// OnStepDLQ implements ext.StepDLQ.
func (m *MetricsExtension) OnStepDLQ(ctx context.Context, s *step.Step, _ error) error {
	m.dlq.Add(ctx, 1, stepAttrs(s))
	return nil
}

// OnProviderBanned implements ext.ProviderBanned.
func (m *MetricsExtension) OnProviderBanned(ctx context.Context, providerName string, _ time.Time) error {
	m.banned.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", providerName),
	))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string, _ id.StepID) error {
	m.cronFired.Add(ctx, 1, metric.WithAttributes(
		attribute.String("entry", entryName),
	))
	return nil
}

func stepAttrs(s *step.Step) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("step_name", s.Name),
		attribute.String("queue", s.Queue),
	)
}
