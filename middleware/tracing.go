package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sluicelabs/sluice/task"
)

// tracerName is the instrumentation scope name for sluice tracing.
const tracerName = "github.com/sluicelabs/sluice"

// Tracing returns middleware that wraps request processing in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a pass-through
// with zero overhead.
//
// Span attributes include: sluice.request.id, sluice.request.attempt,
// sluice.request.payload_bytes. On error, the span status is set to
// codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req *task.Request, next Handler) error {
		ctx, span := tracer.Start(ctx, "sluice.request.process",
			trace.WithAttributes(
				attribute.String("sluice.request.id", req.ID.String()),
				attribute.Int("sluice.request.attempt", task.AttemptFrom(ctx)),
				attribute.Int("sluice.request.payload_bytes", len(req.Payload)),
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
