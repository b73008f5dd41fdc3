package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/capgraph/pkg/credentials"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
	"github.com/dukex/capgraph/pkg/template"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/mitchellh/mapstructure"
)

var (
	_ protocol.ExecuteFunctions = (*nodeFunctions)(nil)
	_ protocol.SupplyFunctions  = (*supplyFunctions)(nil)
)

// nodeFunctions implements protocol.ExecuteFunctions for one node of a run.
type nodeFunctions struct {
	run    *Run
	node   *graphNode
	chain  *callChain
	logger *slog.Logger
}

func (r *Run) functions(n *graphNode, chain *callChain) *nodeFunctions {
	return &nodeFunctions{
		run:   r,
		node:  n,
		chain: chain,
		logger: r.logger.With(
			"node_id", n.node.ID,
			"node_type", n.node.Type,
			"node_version", n.impl.Version,
		),
	}
}

func (f *nodeFunctions) Node() *models.WorkflowNode {
	return f.node.node
}

func (f *nodeFunctions) Description() models.NodeDescription {
	return f.node.impl.Description
}

func (f *nodeFunctions) WorkflowID() string {
	return f.run.graph.workflow.ID
}

func (f *nodeFunctions) RunID() string {
	return f.run.id
}

func (f *nodeFunctions) Logger() *slog.Logger {
	return f.logger
}

func (f *nodeFunctions) Items() []models.Item {
	return f.run.items
}

func (f *nodeFunctions) Instances() protocol.InstanceCache {
	return f.run.cache
}

func (f *nodeFunctions) scope() template.Scope {
	return template.Scope{
		WorkflowID: f.run.graph.workflow.ID,
		RunID:      f.run.id,
		NodeID:     f.node.node.ID,
		Variables:  f.run.graph.workflow.Variables,
		Items:      f.run.items,
	}
}

func (f *nodeFunctions) Parameter(name string, itemIndex int, fallback any) (any, error) {
	value, ok := lookup(f.node.node.Parameters, name)
	if !ok {
		if fallback != nil {
			return fallback, nil
		}

		return nil, fmt.Errorf("%w: %s", protocol.ErrParameterNotFound, name)
	}

	evaluated, err := template.Evaluate(value, f.scope(), itemIndex)
	if err != nil {
		return nil, fmt.Errorf("parameter %s: %w", name, err)
	}

	return evaluated, nil
}

func (f *nodeFunctions) DecodeParameters(itemIndex int, out any) error {
	parameters := f.node.node.Parameters
	if parameters == nil {
		parameters = map[string]any{}
	}

	evaluated, err := template.Evaluate(parameters, f.scope(), itemIndex)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(evaluated); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	return nil
}

func (f *nodeFunctions) Credentials(ctx context.Context, credentialType string) (map[string]any, error) {
	id, ok := f.node.node.Credentials[credentialType]
	if !ok {
		return nil, fmt.Errorf("%w: node %s has no %s credential", credentials.ErrCredentialsNotFound, f.node.node.ID, credentialType)
	}

	return f.run.credentials.Get(ctx, id)
}

func (f *nodeFunctions) InputConnectionData(ctx context.Context, port string, itemIndex int) (any, error) {
	return f.run.resolve(ctx, f.chain, f.node.node.ID, port, itemIndex)
}

// supplyFunctions implements protocol.SupplyFunctions for a node being supplied.
type supplyFunctions struct {
	*nodeFunctions

	call *tracing.Call
}

func (f *supplyFunctions) RecordInput(ctx context.Context, data any) {
	f.call.Record(ctx, tracing.DirectionInput, data, nil)
}

func (f *supplyFunctions) RecordOutput(ctx context.Context, data any, err error) {
	f.call.Record(ctx, tracing.DirectionOutput, data, err)
}

// lookup walks dotted parameter names through nested objects.
func lookup(parameters map[string]any, name string) (any, bool) {
	var current any = parameters

	for _, part := range strings.Split(name, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
