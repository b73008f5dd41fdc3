// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/dukex/capgraph/pkg/models"
)

// NodeType is one version of a node implementation.
type NodeType interface {
	// Description returns the version-specific description. The registry merges it over
	// the shared base description of the node type.
	Description() models.NodeDescription
}

// SupplyDataProvider is implemented by sub-nodes: nodes that hand a capability object to the
// node consuming their output instead of emitting data items.
type SupplyDataProvider interface {
	NodeType

	// SupplyData builds the capability object for the item at itemIndex. Capabilities the node
	// needs from further upstream are requested through fns.
	SupplyData(ctx context.Context, fns SupplyFunctions, itemIndex int) (*SupplyData, error)
}

// Executor is implemented by nodes that turn input items into output items.
type Executor interface {
	NodeType

	Execute(ctx context.Context, fns ExecuteFunctions) ([]models.Item, error)
}

// SupplyData is the result of a SupplyData call.
type SupplyData struct {
	// Response is the capability object. It must implement the interface of the output port kind.
	Response any

	// Close, when set, releases resources acquired for Response. The host calls it once when
	// the run ends, whether the run succeeded or not.
	Close func(ctx context.Context) error
}
