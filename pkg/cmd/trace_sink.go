package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/capgraph/pkg/channels/gochannel"
	"github.com/dukex/capgraph/pkg/channels/kafka"
	"github.com/dukex/capgraph/pkg/config"
	"github.com/dukex/capgraph/pkg/tracing"
	"go.opentelemetry.io/otel/trace"
)

// NewTraceSink combines the configured sinks. The gochannel sink publishes on an in-process
// channel drained into the log in the background, so tracing never waits on the logger.
// The returned close function stops the publishers.
func NewTraceSink(ctx context.Context, cfg config.Config, tracer trace.Tracer, logger *slog.Logger) (tracing.Sink, func() error, error) {
	var (
		sinks   []tracing.Sink
		closers []func() error
	)

	closeAll := func() error {
		var firstErr error

		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil && firstErr == nil {
				firstErr = err
			}
		}

		return firstErr
	}

	traceLogger := logger.With("module", "trace")

	for _, name := range cfg.TraceSinks {
		switch name {
		case config.TraceSinkLog:
			sinks = append(sinks, tracing.NewLogSink(traceLogger, slog.LevelInfo))

		case config.TraceSinkOTel:
			sinks = append(sinks, tracing.NewOTelSink(tracer))

		case config.TraceSinkKafka:
			pub, err := kafka.CreatePublisher(watermill.NewSlogLogger(logger), cfg.KafkaBrokers)
			if err != nil {
				_ = closeAll()

				return nil, nil, fmt.Errorf("failed to create kafka trace publisher: %w", err)
			}

			closers = append(closers, pub.Close)
			sinks = append(sinks, tracing.NewBusSink(pub, cfg.TraceTopic, logger))

		case config.TraceSinkGoChannel:
			sink, closeSink, err := gochannel.Loopback(ctx, logger, cfg.TraceTopic, tracing.NewLogSink(traceLogger, slog.LevelInfo))
			if err != nil {
				_ = closeAll()

				return nil, nil, err
			}

			closers = append(closers, closeSink)
			sinks = append(sinks, sink)

		default:
			_ = closeAll()

			return nil, nil, fmt.Errorf("unknown trace sink %q", name)
		}
	}

	if len(sinks) == 0 {
		return tracing.Nop, closeAll, nil
	}

	return tracing.Multi(sinks...), closeAll, nil
}
