package tracing

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

const (
	// DefaultTopic is the topic trace events are published to.
	DefaultTopic = "capgraph.traces"

	// Metadata keys set on every published trace message.
	RunIDMetadataKey     = "run_id"
	NodeIDMetadataKey    = "node_id"
	DirectionMetadataKey = "direction"
)

// BusSink publishes trace events as JSON messages on a watermill publisher.
// Publish failures are logged and never reach the traced call.
type BusSink struct {
	publisher message.Publisher
	topic     string
	logger    *slog.Logger
}

// NewBusSink creates a sink publishing to topic (DefaultTopic when empty).
func NewBusSink(publisher message.Publisher, topic string, logger *slog.Logger) *BusSink {
	if topic == "" {
		topic = DefaultTopic
	}

	return &BusSink{
		publisher: publisher,
		topic:     topic,
		logger:    logger.With("module", "trace_bus"),
	}
}

// Record publishes the event.
func (s *BusSink) Record(ctx context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to encode trace event", "error", err, "operation", event.Operation)

		return
	}

	msg := message.NewMessage(watermill.NewULID(), payload)
	msg.Metadata.Set(RunIDMetadataKey, event.RunID)
	msg.Metadata.Set(NodeIDMetadataKey, event.NodeID)
	msg.Metadata.Set(DirectionMetadataKey, string(event.Direction))

	err = s.publisher.Publish(s.topic, msg)
	if err != nil {
		s.logger.WarnContext(ctx, "Failed to publish trace event", "error", err, "topic", s.topic)
	}
}

// DecodeEvent decodes a message produced by BusSink.
func DecodeEvent(msg *message.Message) (Event, error) {
	var event Event

	err := json.Unmarshal(msg.Payload, &event)

	return event, err
}

// Consume decodes the trace messages of a subscription and forwards them to sink until the
// channel closes or ctx is done. Undecodable messages are logged and acked.
func Consume(ctx context.Context, messages <-chan *message.Message, sink Sink, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			event, err := DecodeEvent(msg)
			if err != nil {
				logger.WarnContext(ctx, "Dropping undecodable trace message", "error", err, "message_id", msg.UUID)
			} else {
				sink.Record(ctx, event)
			}

			msg.Ack()
		}
	}
}
