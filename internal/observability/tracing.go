package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/vantasec/redloop"

// Tracer returns the orchestrator tracer from the globally configured
// provider. With no provider installed this is a no-op tracer, so span
// helpers are safe to call unconditionally.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartStep opens a span for one agent step.
func StartStep(ctx context.Context, operationID string, step int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "session.step",
		trace.WithAttributes(
			attribute.String("operation.id", operationID),
			attribute.Int("step", step),
		))
}

// StartModelCall opens a span for a model backend request.
func StartModelCall(ctx context.Context, provider, model string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "model.complete",
		trace.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("model", model),
		))
}

// StartToolCall opens a span for a tool invocation.
func StartToolCall(ctx context.Context, tool string, fallback bool) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "tool.execute",
		trace.WithAttributes(
			attribute.String("tool", tool),
			attribute.Bool("fallback", fallback),
		))
}

// EndSpan records err (if any) and ends the span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
