package protocol

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
)

// ErrParameterNotFound is returned by Parameter when the node has no value and no fallback is given.
var ErrParameterNotFound = errors.New("parameter not found")

// InstanceCache is the view of the capability instance cache given to node implementations.
type InstanceCache interface {
	GetOrCreate(ctx context.Context, scope, name string, factory cache.Factory) (any, error)
	GetOrCreateWithSource(ctx context.Context, scope, name string, source any, factory cache.Factory) (any, error)
}

// NodeFunctions is what the host exposes to a node while it runs.
type NodeFunctions interface {
	// Node returns the workflow node being run.
	Node() *models.WorkflowNode

	// Description returns the merged description of the dispatched version.
	Description() models.NodeDescription

	// WorkflowID is the scope for capability instances shared across runs.
	WorkflowID() string
	RunID() string

	// Logger is already annotated with the run and the node.
	Logger() *slog.Logger

	// Items returns the data items the run was started with.
	Items() []models.Item

	// Parameter returns the value of a node parameter for an item. Dotted names walk nested
	// objects. Expressions are rendered against the item. The fallback is returned when
	// the parameter is not set; a nil fallback makes a missing parameter an error.
	Parameter(name string, itemIndex int, fallback any) (any, error)

	// DecodeParameters renders every parameter for an item and decodes them into out.
	DecodeParameters(itemIndex int, out any) error

	// Credentials returns the credential of the given type bound to the node.
	Credentials(ctx context.Context, credentialType string) (map[string]any, error)

	// InputConnectionData resolves the capabilities connected to an input port. A port that
	// accepts a single connection yields the object itself, or nil when it is optional and
	// unconnected; any other port yields a []any in connection order.
	InputConnectionData(ctx context.Context, port string, itemIndex int) (any, error)

	// Instances is the process-wide capability instance cache.
	Instances() InstanceCache
}

// SupplyFunctions is passed to SupplyData.
type SupplyFunctions interface {
	NodeFunctions

	// RecordInput attaches data to the input trace event of the port being supplied.
	RecordInput(ctx context.Context, data any)

	// RecordOutput attaches data, or an error, to the output trace event of the port being supplied.
	RecordOutput(ctx context.Context, data any, err error)
}

// ExecuteFunctions is passed to Execute.
type ExecuteFunctions interface {
	NodeFunctions
}

// Input resolves a single-connection capability port into the interface T.
// ok is false when the port is optional and nothing is connected.
func Input[T any](ctx context.Context, fns NodeFunctions, port string, itemIndex int) (T, bool, error) {
	var zero T

	obj, err := fns.InputConnectionData(ctx, port, itemIndex)
	if err != nil {
		return zero, false, err
	}

	if obj == nil {
		return zero, false, nil
	}

	v, err := capability.As[T](obj)
	if err != nil {
		return zero, false, err
	}

	return v, true, nil
}

// Inputs resolves a multi-connection capability port into a slice of T, in connection order.
func Inputs[T any](ctx context.Context, fns NodeFunctions, port string, itemIndex int) ([]T, error) {
	obj, err := fns.InputConnectionData(ctx, port, itemIndex)
	if err != nil {
		return nil, err
	}

	var objs []any

	switch v := obj.(type) {
	case nil:
	case []any:
		objs = v
	default:
		objs = []any{v}
	}

	out := make([]T, 0, len(objs))

	for _, o := range objs {
		c, err := capability.As[T](o)
		if err != nil {
			return nil, err
		}

		out = append(out, c)
	}

	return out, nil
}
