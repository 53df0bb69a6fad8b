package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/martingalian/stepflow/step"
)

// tracerName is the instrumentation scope name for stepflow tracing.
const tracerName = "github.com/martingalian/stepflow"

// Tracing returns middleware that wraps step execution in an OpenTelemetry span.
// If no TracerProvider is configured globally, the default noop tracer is used
// and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: stepflow.step.id, stepflow.step.name,
// stepflow.queue, stepflow.retry_count, stepflow.block.
// On error, the span status is set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, s *step.Step, next Handler) error {
		ctx, span := tracer.Start(ctx, "stepflow.step.execute",
			trace.WithAttributes(
				attribute.String("stepflow.step.id", s.ID.String()),
				attribute.String("stepflow.step.name", s.Name),
				attribute.String("stepflow.queue", s.Queue),
				attribute.Int("stepflow.retry_count", s.RetryCount),
				attribute.String("stepflow.block", s.Block.String()),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
