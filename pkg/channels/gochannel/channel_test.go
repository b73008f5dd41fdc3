package gochannel

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	events chan tracing.Event
}

func (s *recordingSink) Record(_ context.Context, event tracing.Event) {
	s.events <- event
}

func TestNew_CarriesTraceEvents(t *testing.T) {
	pubSub := New(watermill.NopLogger{}, Options{Buffer: 10, Persistent: true, BlockUntilAck: true})

	defer func() { _ = pubSub.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	messages, err := pubSub.Subscribe(ctx, tracing.DefaultTopic)
	require.NoError(t, err)

	sink := tracing.NewBusSink(pubSub, "", slog.Default())

	go sink.Record(ctx, tracing.Event{
		Source:    tracing.Source{RunID: "run-1", NodeID: "store"},
		Operation: tracing.OperationSupplyData,
		Direction: tracing.DirectionOutput,
	})

	select {
	case msg := <-messages:
		msg.Ack()

		event, err := tracing.DecodeEvent(msg)
		require.NoError(t, err)
		assert.Equal(t, "run-1", event.RunID)
		assert.Equal(t, "store", msg.Metadata.Get(tracing.NodeIDMetadataKey))
	case <-ctx.Done():
		t.Fatal("trace event was not delivered")
	}
}

func TestLoopback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	consumer := &recordingSink{events: make(chan tracing.Event, 1)}

	sink, closeSink, err := Loopback(ctx, slog.Default(), "capgraph.test.traces", consumer)
	require.NoError(t, err)

	defer func() { _ = closeSink() }()

	sink.Record(ctx, tracing.Event{
		Source:    tracing.Source{RunID: "run-2", NodeID: "emb"},
		Operation: tracing.OperationSupplyData,
		Direction: tracing.DirectionInput,
	})

	select {
	case event := <-consumer.events:
		assert.Equal(t, "run-2", event.RunID)
		assert.Equal(t, "emb", event.NodeID)
		assert.Equal(t, tracing.DirectionInput, event.Direction)
	case <-ctx.Done():
		t.Fatal("trace event was not replayed")
	}
}
