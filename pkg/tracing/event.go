// Package tracing records call-in/call-out events for capability objects and the ports that carry them.
package tracing

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/dukex/capgraph/pkg/models"
)

// Direction tells whether an event was recorded on the way in or on the way out of a call.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

const (
	// OperationSupplyData names the events recorded around a port resolution.
	OperationSupplyData = "supplyData"

	// OperationData names the events a node records while supplying, attached to the open call.
	OperationData = "data"
)

// Source identifies where a traced object lives in the graph.
type Source struct {
	RunID          string                `json:"run_id"`
	WorkflowID     string                `json:"workflow_id"`
	NodeID         string                `json:"node_id"`
	NodeName       string                `json:"node_name"`
	NodeType       string                `json:"node_type"`
	ConnectionType models.ConnectionType `json:"connection_type"`
}

// Event is a single trace record. Input and output events of the same call share a CallID.
type Event struct {
	Source

	CallID    string        `json:"call_id"`
	Direction Direction     `json:"direction"`
	Operation string        `json:"operation"`
	Data      any           `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Failed reports whether the event records an error.
func (e Event) Failed() bool {
	return e.Error != ""
}

// Sink receives trace events. Implementations must be safe for concurrent use and must not block for long.
type Sink interface {
	Record(ctx context.Context, event Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, event Event)

// Record calls f.
func (f SinkFunc) Record(ctx context.Context, event Event) {
	f(ctx, event)
}

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) {})

var callSeq atomic.Uint64

func nextCallID() string {
	return strconv.FormatUint(callSeq.Add(1), 36)
}

// Call is an open traced call. Finish records its output event.
type Call struct {
	sink      Sink
	source    Source
	id        string
	operation string
	started   time.Time
}

// Begin records the input event of a call and returns a handle used to record its output.
func Begin(ctx context.Context, sink Sink, source Source, operation string, data any) *Call {
	if sink == nil {
		sink = Nop
	}

	c := &Call{
		sink:      sink,
		source:    source,
		id:        nextCallID(),
		operation: operation,
		started:   time.Now(),
	}

	sink.Record(ctx, Event{
		Source:    source,
		CallID:    c.id,
		Direction: DirectionInput,
		Operation: operation,
		Data:      data,
		Timestamp: c.started,
	})

	return c
}

// Finish records the output event of the call, carrying either the result summary or the error.
func (c *Call) Finish(ctx context.Context, data any, err error) {
	event := Event{
		Source:    c.source,
		CallID:    c.id,
		Direction: DirectionOutput,
		Operation: c.operation,
		Duration:  time.Since(c.started),
		Timestamp: time.Now(),
	}

	if err != nil {
		event.Error = err.Error()
	} else {
		event.Data = data
	}

	c.sink.Record(ctx, event)
}

// ID returns the call identifier shared by all events of the call.
func (c *Call) ID() string {
	return c.id
}

// Record adds a data event to the open call without finishing it.
func (c *Call) Record(ctx context.Context, direction Direction, data any, err error) {
	event := Event{
		Source:    c.source,
		CallID:    c.id,
		Direction: direction,
		Operation: OperationData,
		Data:      data,
		Timestamp: time.Now(),
	}

	if err != nil {
		event.Error = err.Error()
		event.Data = nil
	}

	c.sink.Record(ctx, event)
}
