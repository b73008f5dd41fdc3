// Package workflow runs a node of a workflow over a batch of items, resolving its capability
// ports through a fresh resolver run.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/otelhelper"
	"github.com/dukex/capgraph/pkg/resolver"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// ErrNotExecutable is returned when the requested root node only supplies capabilities.
var ErrNotExecutable = errors.New("node cannot be executed")

// Result is the output of one execution.
type Result struct {
	RunID    string        `json:"run_id"`
	Items    []models.Item `json:"items"`
	Duration time.Duration `json:"duration"`
}

type Option func(*Executor)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		e.logger = logger
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithRunOptions sets the options every run is started with, such as the shared instance
// cache, the credential store and the trace sink.
func WithRunOptions(opts ...resolver.Option) Option {
	return func(e *Executor) {
		e.runOptions = append(e.runOptions, opts...)
	}
}

type Executor struct {
	dispatcher resolver.Dispatcher
	logger     *slog.Logger
	tracer     trace.Tracer
	runOptions []resolver.Option
}

func NewExecutor(dispatcher resolver.Dispatcher, opts ...Option) *Executor {
	e := &Executor{
		dispatcher: dispatcher,
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer("workflow"),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Validate builds the graph of a workflow without running it.
func (e *Executor) Validate(workflow *models.Workflow) (*resolver.Graph, error) {
	return resolver.NewGraph(workflow, e.dispatcher)
}

// Execute validates the workflow and runs its root node over the items.
func (e *Executor) Execute(ctx context.Context, workflow *models.Workflow, rootNodeID string, items []models.Item) (*Result, error) {
	graph, err := e.Validate(workflow)
	if err != nil {
		return nil, err
	}

	return e.ExecuteGraph(ctx, graph, rootNodeID, items)
}

// ExecuteGraph runs the root node of an already validated graph. The run is closed before
// returning, whether the node succeeded or not.
func (e *Executor) ExecuteGraph(ctx context.Context, graph *resolver.Graph, rootNodeID string, items []models.Item) (*Result, error) {
	impl, err := graph.Implementation(rootNodeID)
	if err != nil {
		return nil, err
	}

	node, ok := impl.Executor()
	if !ok {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotExecutable, rootNodeID, impl.TypeID)
	}

	opts := slices.Concat([]resolver.Option{resolver.WithLogger(e.logger)}, e.runOptions, []resolver.Option{resolver.WithItems(items)})
	run := resolver.NewRun(graph, opts...)

	logger := e.logger.With("module", "workflow_executor", "run_id", run.ID(), "workflow_id", graph.Workflow().ID, "node_id", rootNodeID, "node_type", impl.TypeID)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, graph.Workflow().ID),
		attribute.String(otelhelper.RunIDKey, run.ID()),
		attribute.String(otelhelper.NodeIDKey, rootNodeID),
		attribute.String(otelhelper.NodeTypeKey, impl.TypeID),
	)
	defer span.End()

	defer func() {
		if err := run.Close(context.WithoutCancel(ctx)); err != nil {
			logger.WarnContext(ctx, "Failed to close run", "error", err)
		}
	}()

	fns, err := run.Functions(rootNodeID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	logger.InfoContext(ctx, "Executing workflow node", "items", len(items), "version", impl.Version)

	start := time.Now()

	out, err := node.Execute(ctx, fns)
	if err != nil {
		otelhelper.SetError(span, err)
		logger.ErrorContext(ctx, "Workflow node failed", "error", err)

		return nil, fmt.Errorf("execute node %s: %w", rootNodeID, err)
	}

	otelhelper.SetOK(span)

	duration := time.Since(start)
	logger.InfoContext(ctx, "Executed workflow node", "items", len(out), "duration", duration)

	return &Result{RunID: run.ID(), Items: out, Duration: duration}, nil
}
