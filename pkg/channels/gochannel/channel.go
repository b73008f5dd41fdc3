// Package gochannel provides the in-process message channel trace events are published on
// when no broker is configured.
package gochannel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/dukex/capgraph/pkg/tracing"
)

const defaultBuffer = 1000

// Options tunes the in-process channel.
type Options struct {
	// Buffer is the per-subscriber output buffer. Zero selects a default.
	Buffer int64
	// Persistent keeps published messages so late subscribers still receive them.
	Persistent bool
	// BlockUntilAck makes Publish wait for the subscriber to ack.
	BlockUntilAck bool
}

// New creates a GoChannel. The same instance publishes and subscribes.
func New(logger watermill.LoggerAdapter, opts Options) *gochannel.GoChannel {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}

	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            opts.Buffer,
		Persistent:                     opts.Persistent,
		BlockPublishUntilSubscriberAck: opts.BlockUntilAck,
	}, logger)
}

// Loopback returns a sink that publishes events on topic and feeds them back, decoded,
// into consumer. Consumption stops when ctx ends or the returned close function runs.
func Loopback(ctx context.Context, logger *slog.Logger, topic string, consumer tracing.Sink) (tracing.Sink, func() error, error) {
	if topic == "" {
		topic = tracing.DefaultTopic
	}

	pubSub := New(watermill.NewSlogLogger(logger), Options{})

	messages, err := pubSub.Subscribe(ctx, topic)
	if err != nil {
		_ = pubSub.Close()

		return nil, nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go tracing.Consume(ctx, messages, consumer, logger)

	return tracing.NewBusSink(pubSub, topic, logger), pubSub.Close, nil
}
