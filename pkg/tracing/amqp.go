package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// InjectTraceContext writes the current trace context into AMQP message
// headers. The headers table is created when nil.
func InjectTraceContext(ctx context.Context, headers map[string]interface{}) map[string]interface{} {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil {
		return headers
	}
	if headers == nil {
		headers = make(map[string]interface{})
	}

	propagator.Inject(ctx, amqpHeaderCarrier(headers))
	return headers
}

// ExtractTraceContext restores the trace context carried by AMQP headers.
func ExtractTraceContext(ctx context.Context, headers map[string]interface{}) context.Context {
	propagator := otel.GetTextMapPropagator()
	if propagator == nil || headers == nil {
		return ctx
	}
	return propagator.Extract(ctx, amqpHeaderCarrier(headers))
}

type amqpHeaderCarrier map[string]interface{}

func (c amqpHeaderCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c amqpHeaderCarrier) Set(key, value string) {
	c[key] = value
}

func (c amqpHeaderCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// StartSpanFromDelivery extracts the trace context of a consumed message and
// starts a span for its handling.
func StartSpanFromDelivery(ctx context.Context, operationName string, headers map[string]interface{}) (context.Context, trace.Span) {
	ctx = ExtractTraceContext(ctx, headers)

	tracer := GetTracer("chatapp-bus")
	return tracer.Start(ctx, operationName)
}
