package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope every span in this process is
// recorded under; it has no bearing on the service.name resource
// attribute, which InitTracer sets per call.
const tracerName = "github.com/knirvcorp/syncbase"

// InitTracer builds and registers the process-wide TracerProvider,
// exporting spans to the Jaeger collector at jaegerEndpoint (a
// collector HTTP endpoint, e.g. "http://localhost:14268/api/traces").
// An unreachable collector does not make this fail — Jaeger's HTTP
// exporter only contacts the endpoint on an actual export attempt, not
// on construction, so a down collector at startup never blocks a node
// from coming up. If the exporter itself cannot be built, InitTracer
// returns a nil provider and that error.
func InitTracer(serviceName, jaegerEndpoint string) (*sdktrace.TracerProvider, error) {
	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerEndpoint)))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			"",
			attribute.String("service.name", serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartSpan opens a span named name as a child of any span already in
// ctx, tagging it with attrs. Callers must call span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer(tracerName)
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}
