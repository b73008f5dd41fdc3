package testutil

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/credentials"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
	"github.com/dukex/capgraph/pkg/template"
	"github.com/mitchellh/mapstructure"
)

var _ protocol.SupplyFunctions = (*Functions)(nil)

// Functions is an in-memory protocol.SupplyFunctions for testing a node implementation
// without building a graph. Connected holds what InputConnectionData returns per port.
type Functions struct {
	WorkflowNode *models.WorkflowNode
	NodeType     models.NodeDescription
	Workflow     string
	Run          string
	InputItems   []models.Item
	Credential   map[string]map[string]any
	Connected    map[string]any
	Cache        protocol.InstanceCache

	mu      sync.Mutex
	inputs  []any
	outputs []any
}

// NewFunctions creates functions for a node with the given parameters.
func NewFunctions(parameters map[string]any) *Functions {
	return &Functions{
		WorkflowNode: CreateTestNode(WithID("node"), WithParameters(parameters)),
		Workflow:     "workflow",
		Run:          "run",
		Credential:   map[string]map[string]any{},
		Connected:    map[string]any{},
		Cache:        cache.New(),
	}
}

func (f *Functions) Node() *models.WorkflowNode {
	return f.WorkflowNode
}

func (f *Functions) Description() models.NodeDescription {
	return f.NodeType
}

func (f *Functions) WorkflowID() string {
	return f.Workflow
}

func (f *Functions) RunID() string {
	return f.Run
}

func (f *Functions) Logger() *slog.Logger {
	return slog.Default()
}

func (f *Functions) Items() []models.Item {
	return f.InputItems
}

func (f *Functions) Instances() protocol.InstanceCache {
	return f.Cache
}

func (f *Functions) scope() template.Scope {
	return template.Scope{WorkflowID: f.Workflow, RunID: f.Run, NodeID: f.WorkflowNode.ID, Items: f.InputItems}
}

func (f *Functions) Parameter(name string, itemIndex int, fallback any) (any, error) {
	var value any = f.WorkflowNode.Parameters

	for _, part := range strings.Split(name, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			value = nil

			break
		}

		value = m[part]
	}

	if value == nil {
		if fallback != nil {
			return fallback, nil
		}

		return nil, fmt.Errorf("%w: %s", protocol.ErrParameterNotFound, name)
	}

	return template.Evaluate(value, f.scope(), itemIndex)
}

func (f *Functions) DecodeParameters(itemIndex int, out any) error {
	evaluated, err := template.Evaluate(f.WorkflowNode.Parameters, f.scope(), itemIndex)
	if err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: out, WeaklyTypedInput: true})
	if err != nil {
		return err
	}

	return decoder.Decode(evaluated)
}

func (f *Functions) Credentials(_ context.Context, credentialType string) (map[string]any, error) {
	values, ok := f.Credential[credentialType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", credentials.ErrCredentialsNotFound, credentialType)
	}

	return values, nil
}

func (f *Functions) InputConnectionData(_ context.Context, port string, _ int) (any, error) {
	obj, ok := f.Connected[port]
	if !ok {
		return nil, nil
	}

	if err, ok := obj.(error); ok {
		return nil, err
	}

	return obj, nil
}

func (f *Functions) RecordInput(_ context.Context, data any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.inputs = append(f.inputs, data)
}

func (f *Functions) RecordOutput(_ context.Context, data any, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err != nil {
		data = err
	}

	f.outputs = append(f.outputs, data)
}

// Recorded returns the data passed to RecordInput and RecordOutput, in call order.
func (f *Functions) Recorded() (inputs, outputs []any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]any(nil), f.inputs...), append([]any(nil), f.outputs...)
}
