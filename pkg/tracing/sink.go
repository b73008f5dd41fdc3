package tracing

import (
	"context"
	"log/slog"
	"sync"
)

// Multi fans every event out to all given sinks.
func Multi(sinks ...Sink) Sink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}

	return SinkFunc(func(ctx context.Context, event Event) {
		for _, s := range filtered {
			s.Record(ctx, event)
		}
	})
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Record stores the event.
func (r *Recorder) Record(_ context.Context, event Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

// Events returns a snapshot of the recorded events in recording order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := make([]Event, len(r.events))
	copy(events, r.events)

	return events
}

// Filter returns the recorded events matching the predicate.
func (r *Recorder) Filter(match func(Event) bool) []Event {
	var out []Event

	for _, e := range r.Events() {
		if match(e) {
			out = append(out, e)
		}
	}

	return out
}

// Operation returns the recorded events for one operation name.
func (r *Recorder) Operation(name string) []Event {
	return r.Filter(func(e Event) bool { return e.Operation == name })
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = nil
}

// LogSink writes events to a slog logger.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a sink logging at the given level.
func NewLogSink(logger *slog.Logger, level slog.Level) *LogSink {
	return &LogSink{logger: logger, level: level}
}

// Record logs the event.
func (s *LogSink) Record(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("run_id", event.RunID),
		slog.String("node_id", event.NodeID),
		slog.String("node_name", event.NodeName),
		slog.String("connection_type", string(event.ConnectionType)),
		slog.String("operation", event.Operation),
		slog.String("direction", string(event.Direction)),
		slog.String("call_id", event.CallID),
	}

	level := s.level
	if event.Failed() {
		level = slog.LevelWarn
		attrs = append(attrs, slog.String("error", event.Error))
	} else if event.Data != nil {
		attrs = append(attrs, slog.Any("data", event.Data))
	}

	if event.Direction == DirectionOutput {
		attrs = append(attrs, slog.Duration("duration", event.Duration))
	}

	s.logger.LogAttrs(ctx, level, "Capability trace", attrs...)
}
