// Package otelhelper provides distributed tracing setup for capability resolution.
package otelhelper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otlptracehttp "go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Common attribute keys.
	WorkflowIDKey     = "capgraph.workflow.id"
	RunIDKey          = "capgraph.run.id"
	NodeIDKey         = "capgraph.node.id"
	NodeNameKey       = "capgraph.node.name"
	NodeTypeKey       = "capgraph.node.type"
	ConnectionTypeKey = "capgraph.connection.type"
	OperationKey      = "capgraph.operation"
	CallIDKey         = "capgraph.call.id"
)

// ProviderOption customizes the tracer provider built by NewTracer.
type ProviderOption func(*providerConfig)

type providerConfig struct {
	exporter sdktrace.SpanExporter
	ratio    float64
	global   bool
}

// WithExporter replaces the OTLP/HTTP exporter, which is configured from the standard
// OTEL_EXPORTER_OTLP_* variables.
func WithExporter(exporter sdktrace.SpanExporter) ProviderOption {
	return func(c *providerConfig) {
		c.exporter = exporter
	}
}

// WithSampleRatio samples root spans at the given ratio; child spans follow their parent.
func WithSampleRatio(ratio float64) ProviderOption {
	return func(c *providerConfig) {
		c.ratio = ratio
	}
}

// WithoutGlobal keeps the provider out of the otel globals.
func WithoutGlobal() ProviderOption {
	return func(c *providerConfig) {
		c.global = false
	}
}

// NewTracer builds a tracer provider for the service, installs it globally and returns a
// tracer together with the provider, which the caller must shut down.
// nolint:ireturn // Returning interface is intentional for OpenTelemetry tracing
func NewTracer(ctx context.Context, serviceName string, opts ...ProviderOption) (trace.Tracer, *sdktrace.TracerProvider, error) {
	cfg := providerConfig{ratio: 1, global: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	provider, err := newTracerProvider(ctx, serviceName, cfg)
	if err != nil {
		return nil, nil, err
	}

	return provider.Tracer(serviceName), provider, nil
}

// nolint:ireturn,spancheck // Returning interface is intentional for OpenTelemetry tracing
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func newTracerProvider(ctx context.Context, serviceName string, cfg providerConfig) (*sdktrace.TracerProvider, error) {
	r, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, err
	}

	exporter := cfg.exporter
	if exporter == nil {
		exporter, err = otlptracehttp.New(ctx)
		if err != nil {
			return nil, err
		}
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(r),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio))),
	)

	if cfg.global {
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	}

	return tp, nil
}
