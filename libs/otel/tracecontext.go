package otelx

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// TraceContextStrings serializes the active trace context into the two W3C
// header values, for persisting alongside outbox rows.
func TraceContextStrings(ctx context.Context) (traceparent, tracestate string) {
	m := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, m)
	return m["traceparent"], m["tracestate"]
}

// ContextWithTraceContext restores a trace context persisted with
// TraceContextStrings, so a message published later continues the original
// request's trace.
func ContextWithTraceContext(ctx context.Context, traceparent, tracestate string) context.Context {
	if traceparent == "" && tracestate == "" {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier{
		"traceparent": traceparent,
		"tracestate":  tracestate,
	})
}
