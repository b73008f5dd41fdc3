package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError marks the span as failed and attaches the given attributes to the error event.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.AddEvent("capability_error", trace.WithAttributes(attrs...))
}

// SetOK marks the span as successful.
func SetOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
