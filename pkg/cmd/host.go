package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/config"
	"github.com/dukex/capgraph/pkg/credentials"
	"github.com/dukex/capgraph/pkg/metrics"
	"github.com/dukex/capgraph/pkg/otelhelper"
	"github.com/dukex/capgraph/pkg/registry"
	"github.com/dukex/capgraph/pkg/resolver"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/dukex/capgraph/pkg/workflow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Host is a fully wired capability host.
type Host struct {
	Config      config.Config
	Registry    *registry.Registry
	Cache       *cache.Manager
	Credentials credentials.Store
	Sink        tracing.Sink
	Metrics     *metrics.Collectors
	Prometheus  *prometheus.Registry
	Executor    *workflow.Executor

	logger  *slog.Logger
	closers []func(context.Context) error
}

// NewHost builds every component of the host. On error the components built so far are closed.
func NewHost(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	h := &Host{
		Config:     cfg,
		logger:     logger,
		Prometheus: prometheus.NewRegistry(),
	}

	h.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	h.Metrics = metrics.New(h.Prometheus)

	if err := h.build(ctx); err != nil {
		_ = h.Close(context.WithoutCancel(ctx))

		return nil, err
	}

	return h, nil
}

func (h *Host) build(ctx context.Context) error {
	var err error

	h.Registry, err = NewRegistry(ctx, h.logger, h.Config.PluginsPath)
	if err != nil {
		return err
	}

	tracer := trace.Tracer(noop.NewTracerProvider().Tracer(h.Config.ServiceName))

	if slices.Contains(h.Config.TraceSinks, config.TraceSinkOTel) {
		var provider *sdktrace.TracerProvider

		tracer, provider, err = otelhelper.NewTracer(ctx, h.Config.ServiceName, otelhelper.WithSampleRatio(h.Config.TraceSample))
		if err != nil {
			return fmt.Errorf("failed to initialize tracer: %w", err)
		}

		h.closers = append(h.closers, provider.Shutdown)
	}

	sink, closeSink, err := NewTraceSink(ctx, h.Config, tracer, h.logger)
	if err != nil {
		return err
	}

	h.Sink = sink
	h.closers = append(h.closers, func(context.Context) error { return closeSink() })

	store, closeStore, err := NewCredentialStore(ctx, h.logger, h.Config.CredentialsURL)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}

	h.Credentials = store
	h.closers = append(h.closers, func(context.Context) error { return closeStore() })

	h.Cache, err = NewCache(h.Config.Cache, h.logger, h.Metrics.Cache())
	if err != nil {
		return err
	}

	h.closers = append(h.closers, h.Cache.Close)

	h.Executor = workflow.NewExecutor(h.Registry,
		workflow.WithLogger(h.logger),
		workflow.WithTracer(tracer),
		workflow.WithRunOptions(
			resolver.WithCache(h.Cache),
			resolver.WithCredentials(h.Credentials),
			resolver.WithSink(h.Sink),
			resolver.WithMetrics(h.Metrics),
		),
	)

	return nil
}

// NewCache creates the instance cache and starts its idle janitor when an idle timeout is set.
func NewCache(cfg config.Cache, logger *slog.Logger, observer cache.Metrics) (*cache.Manager, error) {
	opts := []cache.Option{cache.WithLogger(logger), cache.WithMetrics(observer)}

	if cfg.MaxEntries > 0 {
		opts = append(opts, cache.WithMaxEntries(cfg.MaxEntries))
	}

	if cfg.IdleTimeout > 0 {
		opts = append(opts, cache.WithIdleTimeout(cfg.IdleTimeout))
	}

	c := cache.New(opts...)

	if cfg.IdleTimeout > 0 {
		if err := c.StartJanitor(cfg.JanitorSchedule); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// Close releases the components in reverse construction order.
func (h *Host) Close(ctx context.Context) error {
	var errs []error

	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}

	h.closers = nil

	return errors.Join(errs...)
}
