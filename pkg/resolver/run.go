package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/credentials"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/google/uuid"
)

// Metrics observes resolutions.
type Metrics interface {
	Resolved(kind models.ConnectionType, duration time.Duration, err error)
	MemoHit(kind models.ConnectionType)
}

type nopMetrics struct{}

func (nopMetrics) Resolved(models.ConnectionType, time.Duration, error) {}

func (nopMetrics) MemoHit(models.ConnectionType) {}

// Option configures a Run.
type Option func(*Run)

// WithCache shares capability instances through the given cache. Without it the run uses a
// private cache released by Close.
func WithCache(c protocol.InstanceCache) Option {
	return func(r *Run) {
		r.cache = c
	}
}

// WithCredentials sets the store node credentials are read from.
func WithCredentials(store credentials.Store) Option {
	return func(r *Run) {
		r.credentials = store
	}
}

// WithSink sets where trace events go.
func WithSink(sink tracing.Sink) Option {
	return func(r *Run) {
		r.sink = sink
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Run) {
		r.logger = logger
	}
}

func WithMetrics(metrics Metrics) Option {
	return func(r *Run) {
		r.metrics = metrics
	}
}

// WithItems sets the data items parameter expressions are evaluated against.
func WithItems(items []models.Item) Option {
	return func(r *Run) {
		r.items = items
	}
}

func WithRunID(id string) Option {
	return func(r *Run) {
		r.id = id
	}
}

type memoKey struct {
	portKey
	edge int
}

// promise is a construction in progress; done is closed once value or err is set.
type promise struct {
	done  chan struct{}
	value any
	err   error
}

type closer struct {
	nodeID string
	fn     func(ctx context.Context) error
}

// Run is one execution of a graph. It memoizes every resolved connection so that all callers
// asking for the same connection during the run get the same wrapped instance, even when they
// ask concurrently. A Run must be closed to release what its sub-nodes acquired.
type Run struct {
	graph       *Graph
	id          string
	cache       protocol.InstanceCache
	ownCache    *cache.Manager
	credentials credentials.Store
	sink        tracing.Sink
	logger      *slog.Logger
	metrics     Metrics
	items       []models.Item

	mu      sync.Mutex
	memo    map[memoKey]*promise
	closers []closer
	closed  bool
}

// NewRun starts a run of the graph.
func NewRun(graph *Graph, opts ...Option) *Run {
	r := &Run{
		graph:   graph,
		id:      uuid.NewString(),
		sink:    tracing.Nop,
		logger:  slog.Default(),
		metrics: nopMetrics{},
		memo:    make(map[memoKey]*promise),
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.cache == nil {
		r.ownCache = cache.New(cache.WithLogger(r.logger))
		r.cache = r.ownCache
	}

	if r.credentials == nil {
		r.credentials = credentials.NewMemory(nil)
	}

	r.logger = r.logger.With("module", "resolver", "run_id", r.id, "workflow_id", graph.workflow.ID)

	return r
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Graph returns the graph being run.
func (r *Run) Graph() *Graph {
	return r.graph
}

// Resolve returns the capability connected to an input port of the consumer node. Ports
// accepting a single connection yield the object, or nil when the port is optional and
// unconnected. Other ports yield a []any ordered as the connections were declared.
func (r *Run) Resolve(ctx context.Context, consumerID, port string, itemIndex int) (any, error) {
	return r.resolve(ctx, nil, consumerID, port, itemIndex)
}

// ResolveAll resolves every capability input port of the consumer node, keyed by port name.
func (r *Run) ResolveAll(ctx context.Context, consumerID string, itemIndex int) (map[string]any, error) {
	consumer, ok := r.graph.nodes[consumerID]
	if !ok {
		return nil, &ResolutionError{NodeID: consumerID, Err: ErrUnknownNode}
	}

	resolved := make(map[string]any)

	for _, port := range consumer.impl.Description.Inputs {
		if !port.IsCapability() {
			continue
		}

		obj, err := r.resolve(ctx, nil, consumerID, port.Name, itemIndex)
		if err != nil {
			return nil, err
		}

		resolved[port.Name] = obj
	}

	return resolved, nil
}

// Functions returns the host functions for running a node outside of a resolution, such as
// the root node executing over the run's items.
func (r *Run) Functions(nodeID string) (protocol.ExecuteFunctions, error) {
	n, ok := r.graph.nodes[nodeID]
	if !ok {
		return nil, &ResolutionError{NodeID: nodeID, Err: ErrUnknownNode}
	}

	return r.functions(n, nil), nil
}

// Close runs the close functions returned by SupplyData in reverse construction order and
// releases the private cache, if the run has one. Resolutions requested afterwards fail.
func (r *Run) Close(ctx context.Context) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return nil
	}

	r.closed = true
	closers := r.closers
	r.closers = nil
	r.memo = make(map[memoKey]*promise)

	r.mu.Unlock()

	var errs []error

	for _, c := range slices.Backward(closers) {
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close capability of node %s: %w", c.nodeID, err))
		}
	}

	if r.ownCache != nil {
		if err := r.ownCache.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		r.logger.WarnContext(ctx, "Failed to release capabilities", "error", errors.Join(errs...))
	}

	return errors.Join(errs...)
}

// callChain is the stack of ports being resolved by one chain of nested SupplyData calls.
type callChain struct {
	key    portKey
	parent *callChain
}

func (c *callChain) push(key portKey) *callChain {
	return &callChain{key: key, parent: c}
}

func (c *callChain) contains(key portKey) bool {
	for ; c != nil; c = c.parent {
		if c.key == key {
			return true
		}
	}

	return false
}

func (c *callChain) path(key portKey) string {
	var keys []string
	for ; c != nil; c = c.parent {
		keys = append(keys, c.key.String())
	}

	slices.Reverse(keys)

	return strings.Join(append(keys, key.String()), " -> ")
}

func (r *Run) resolve(ctx context.Context, chain *callChain, consumerID, portName string, itemIndex int) (any, error) {
	consumer, ok := r.graph.nodes[consumerID]
	if !ok {
		return nil, &ResolutionError{NodeID: consumerID, Port: portName, Err: ErrUnknownNode}
	}

	annotate := func(err error) error {
		return &ResolutionError{
			NodeID:   consumerID,
			NodeName: consumer.node.Name,
			NodeType: consumer.node.Type,
			Port:     portName,
			Err:      err,
		}
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return nil, annotate(ErrRunClosed)
	}

	port, ok := consumer.impl.Description.Input(portName)
	if !ok {
		return nil, annotate(ErrUnknownPort)
	}

	if !port.IsCapability() {
		return nil, annotate(fmt.Errorf("%w: %s carries data items, not capabilities", ErrPortKindMismatch, port.Type))
	}

	key := portKey{nodeID: consumerID, port: portName}

	if chain.contains(key) {
		return nil, annotate(fmt.Errorf("%w: %s", ErrCyclicCapabilityDependency, chain.path(key)))
	}

	edges := r.graph.incoming[key]

	single := port.MaxConnections == 1

	if len(edges) == 0 {
		if port.Required {
			return nil, annotate(ErrMissingRequiredCapability)
		}

		if single {
			return nil, nil
		}

		return []any{}, nil
	}

	chain = chain.push(key)

	objs := make([]any, 0, len(edges))

	for _, e := range edges {
		obj, err := r.resolveEdge(ctx, chain, key, port, e, itemIndex)
		if err != nil {
			return nil, err
		}

		objs = append(objs, obj)
	}

	if single {
		return objs[0], nil
	}

	return objs, nil
}

// resolveEdge returns the memoized object of a connection, supplying it on first use.
// Failed constructions are not memoized: callers already waiting share the error, later
// callers try again.
func (r *Run) resolveEdge(ctx context.Context, chain *callChain, key portKey, port models.PortDeclaration, e edge, itemIndex int) (any, error) {
	mk := memoKey{portKey: key, edge: e.index}

	r.mu.Lock()

	if p, ok := r.memo[mk]; ok {
		r.mu.Unlock()

		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		if p.err != nil {
			return nil, p.err
		}

		r.metrics.MemoHit(port.Type)

		return p.value, nil
	}

	p := &promise{done: make(chan struct{})}
	r.memo[mk] = p

	r.mu.Unlock()

	supplied := false

	// Waiters are released even when the supplier panics.
	defer func() {
		if !supplied {
			p.value, p.err = nil, fmt.Errorf("%w: supplier of %s panicked", ErrCapabilityConstructionFailure, key)
		}

		if p.err != nil {
			r.mu.Lock()
			if r.memo[mk] == p {
				delete(r.memo, mk)
			}
			r.mu.Unlock()
		}

		close(p.done)
	}()

	p.value, p.err = r.supply(ctx, chain, key, port, e, itemIndex)
	supplied = true

	return p.value, p.err
}

func (r *Run) supply(ctx context.Context, chain *callChain, consumer portKey, port models.PortDeclaration, e edge, itemIndex int) (any, error) {
	supplier := e.source
	source := supplier.source(r.id, r.graph.workflow.ID, port.Type)

	annotate := func(err error) error {
		return &ResolutionError{
			NodeID:   supplier.node.ID,
			NodeName: supplier.node.Name,
			NodeType: supplier.node.Type,
			Port:     e.sourcePort.Name,
			Err:      err,
		}
	}

	provider, ok := supplier.impl.SupplyDataProvider()
	if !ok {
		return nil, annotate(ErrNotSupplier)
	}

	call := tracing.Begin(ctx, r.sink, source, tracing.OperationSupplyData, map[string]any{
		"item_index": itemIndex,
		"consumer":   consumer.String(),
		"version":    supplier.impl.Version,
	})

	fns := &supplyFunctions{nodeFunctions: r.functions(supplier, chain), call: call}

	started := time.Now()

	data, err := provider.SupplyData(ctx, fns, itemIndex)

	if data != nil && data.Close != nil {
		r.addCloser(ctx, supplier.node.ID, data.Close)
	}

	if err == nil && (data == nil || data.Response == nil) {
		err = errors.New("no capability supplied")
	}

	var wrapped any
	if err == nil {
		wrapped, err = tracing.Wrap(port.Type, data.Response, r.sink, source)
	} else {
		err = fmt.Errorf("%w: %w", ErrCapabilityConstructionFailure, err)
	}

	r.metrics.Resolved(port.Type, time.Since(started), err)

	if err != nil {
		call.Finish(ctx, nil, err)

		r.logger.DebugContext(ctx, "Capability resolution failed",
			"node_id", supplier.node.ID, "consumer", consumer.String(), "error", err)

		return nil, annotate(err)
	}

	call.Finish(ctx, map[string]any{"type": fmt.Sprintf("%T", data.Response)}, nil)

	r.logger.DebugContext(ctx, "Capability supplied",
		"node_id", supplier.node.ID, "consumer", consumer.String(), "connection_type", port.Type, "version", supplier.impl.Version)

	return wrapped, nil
}

func (r *Run) addCloser(ctx context.Context, nodeID string, fn func(context.Context) error) {
	r.mu.Lock()

	if !r.closed {
		r.closers = append(r.closers, closer{nodeID: nodeID, fn: fn})
		r.mu.Unlock()

		return
	}

	r.mu.Unlock()

	// The run ended while this capability was being built.
	if err := fn(ctx); err != nil {
		r.logger.WarnContext(ctx, "Failed to release capability", "node_id", nodeID, "error", err)
	}
}
