package tracing

import (
	"context"
	"errors"
	"sync"

	"github.com/dukex/capgraph/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// OTelSink turns each traced call into an OpenTelemetry span. The input event opens the span
// and the output event with the same CallID closes it.
type OTelSink struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span
}

// NewOTelSink creates a sink backed by the given tracer.
func NewOTelSink(tracer trace.Tracer) *OTelSink {
	return &OTelSink{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

// Record opens or closes the span of the event's call. Data events become span events.
func (s *OTelSink) Record(ctx context.Context, event Event) {
	if event.Operation == OperationData {
		s.addEvent(event)

		return
	}

	switch event.Direction {
	case DirectionInput:
		_, span := otelhelper.StartSpan(ctx, s.tracer, spanName(event), attributes(event)...)

		s.mu.Lock()
		s.spans[event.CallID] = span
		s.mu.Unlock()
	case DirectionOutput:
		s.mu.Lock()
		span, ok := s.spans[event.CallID]
		delete(s.spans, event.CallID)
		s.mu.Unlock()

		if !ok {
			_, span = otelhelper.StartSpan(ctx, s.tracer, spanName(event), attributes(event)...)
		}

		if event.Failed() {
			otelhelper.SetError(span, errors.New(event.Error), attributes(event)...)
		} else {
			otelhelper.SetOK(span)
		}

		span.End()
	}
}

func (s *OTelSink) addEvent(event Event) {
	s.mu.Lock()
	span, ok := s.spans[event.CallID]
	s.mu.Unlock()

	if !ok {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("direction", string(event.Direction))}
	if event.Failed() {
		attrs = append(attrs, attribute.String("error", event.Error))
	}

	span.AddEvent("capability_data", trace.WithAttributes(attrs...))
}

// Open returns the number of spans that were started but not finished.
func (s *OTelSink) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.spans)
}

func spanName(event Event) string {
	return string(event.ConnectionType) + "." + event.Operation
}

func attributes(event Event) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(otelhelper.RunIDKey, event.RunID),
		attribute.String(otelhelper.WorkflowIDKey, event.WorkflowID),
		attribute.String(otelhelper.NodeIDKey, event.NodeID),
		attribute.String(otelhelper.NodeNameKey, event.NodeName),
		attribute.String(otelhelper.NodeTypeKey, event.NodeType),
		attribute.String(otelhelper.ConnectionTypeKey, string(event.ConnectionType)),
		attribute.String(otelhelper.OperationKey, event.Operation),
		attribute.String(otelhelper.CallIDKey, event.CallID),
	}
}
