// Package memory provides an in-process vector store sub-node. Stores live in the capability
// instance cache, so every run of a workflow using the same memory key sees the same documents.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore"
	"github.com/dukex/capgraph/pkg/protocol"
)

const (
	NodeName         = "vectorStoreInMemory"
	DefaultMemoryKey = "vector_store_key"
)

// New returns the versioned node type. Version 2 can load documents on supply and clear the store.
func New() *protocol.Versioned {
	base := models.NodeDescription{
		Name:           NodeName,
		DisplayName:    "In-Memory Vector Store",
		Description:    "Work with your data in an in-memory vector store",
		Categories:     []string{"AI", "Vector Stores"},
		DefaultVersion: 2,
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiVectorStore, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Vector Store")),
		},
	}

	return protocol.NewVersioned(base, map[int]protocol.NodeType{
		1: &Node{version: 1},
		2: &Node{version: 2},
	})
}

type Node struct {
	version int
}

func (n *Node) Description() models.NodeDescription {
	inputs := []models.PortDeclaration{
		models.MustDeclarePort(models.ConnectionTypeAiEmbedding, models.PortDirectionInput, true, 1,
			models.WithDisplayName("Embedding")),
	}

	properties := map[string]any{
		"memoryKey": map[string]any{
			"type":        "string",
			"minLength":   1,
			"default":     DefaultMemoryKey,
			"description": "Key of the store; nodes sharing a key within a workflow share documents",
		},
	}

	if n.version >= 2 {
		inputs = append(inputs, models.MustDeclarePort(models.ConnectionTypeAiDocument, models.PortDirectionInput, false, 1,
			models.WithDisplayName("Document")))

		properties["clearStore"] = map[string]any{
			"type":        "boolean",
			"default":     false,
			"description": "Remove every document from the store before inserting",
		}
	}

	return models.NodeDescription{
		Version: n.version,
		Inputs:  inputs,
		Schema:  map[string]any{"type": "object", "properties": properties},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	embeddings, ok, err := protocol.Input[capability.Embeddings](ctx, fns, string(models.ConnectionTypeAiEmbedding), itemIndex)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%s: no embeddings connected", NodeName)
	}

	key, err := fns.Parameter("memoryKey", 0, DefaultMemoryKey)
	if err != nil {
		return nil, err
	}

	memoryKey := fmt.Sprint(key)

	obj, err := fns.Instances().GetOrCreateWithSource(ctx, fns.WorkflowID(), memoryKey,
		map[string]any{"node_id": fns.Node().ID, "node_type": NodeName},
		func(context.Context) (any, error) { return NewMemory(), nil })
	if err != nil {
		return nil, err
	}

	backend, ok := obj.(*Memory)
	if !ok {
		return nil, fmt.Errorf("%s: cached instance %q is a %T", NodeName, memoryKey, obj)
	}

	store := vectorstore.New(backend, embeddings)

	if n.version >= 2 {
		if err := n.load(ctx, fns, itemIndex, backend, store); err != nil {
			fns.RecordOutput(ctx, nil, err)

			return nil, err
		}
	}

	fns.Logger().DebugContext(ctx, "Supplying in-memory vector store", "memory_key", memoryKey, "documents", backend.Len())

	return &protocol.SupplyData{Response: store}, nil
}

func (n *Node) load(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int, backend *Memory, store *vectorstore.Store) error {
	value, err := fns.Parameter("clearStore", itemIndex, false)
	if err != nil {
		return err
	}

	clearStore, _ := value.(bool)
	if clearStore {
		backend.Clear()
	}

	loader, ok, err := protocol.Input[capability.DocumentLoader](ctx, fns, string(models.ConnectionTypeAiDocument), itemIndex)
	if err != nil || !ok {
		return err
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}

	fns.RecordInput(ctx, map[string]any{"documents": len(docs), "clear": clearStore})

	if err := store.AddDocuments(ctx, docs); err != nil {
		return err
	}

	fns.RecordOutput(ctx, map[string]any{"inserted": len(docs), "total": backend.Len()}, nil)

	return nil
}

var _ vectorstore.Backend = (*Memory)(nil)

// Memory keeps entries in insertion order and searches them exhaustively.
type Memory struct {
	mu      sync.RWMutex
	entries []vectorstore.Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Add(_ context.Context, entries []vectorstore.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, entries...)

	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, k int) ([]capability.ScoredDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return vectorstore.Rank(vector, m.entries, k), nil
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}
