// Package retrievalsearch provides a root node querying a connected retriever once per item.
package retrievalsearch

import (
	"context"
	"fmt"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore"
	"github.com/dukex/capgraph/pkg/protocol"
)

const NodeName = "retrievalSearch"

// New returns the versioned node type. Version 2 drops documents scoring under scoreThreshold.
func New() *protocol.Versioned {
	base := models.NodeDescription{
		Name:           NodeName,
		DisplayName:    "Retrieval Search",
		Description:    "Search documents through a retriever for every item",
		Categories:     []string{"AI", "Chains"},
		DefaultVersion: 2,
		Inputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeMain, models.PortDirectionInput, false, models.UnlimitedConnections),
			models.MustDeclarePort(models.ConnectionTypeAiRetriever, models.PortDirectionInput, true, 1,
				models.WithDisplayName("Retriever")),
		},
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeMain, models.PortDirectionOutput, false, models.UnlimitedConnections),
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
	properties := map[string]any{
		"query": map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": "Text to search for; usually an expression over the item",
		},
	}

	if n.version >= 2 {
		properties["scoreThreshold"] = map[string]any{
			"type":        "number",
			"minimum":     0,
			"maximum":     1,
			"default":     0,
			"description": "Documents scoring below this value are dropped",
		}
	}

	return models.NodeDescription{
		Version: n.version,
		Schema: map[string]any{
			"type":       "object",
			"required":   []any{"query"},
			"properties": properties,
		},
	}
}

// Execute emits one item per matched document. With no input items the node runs once.
func (n *Node) Execute(ctx context.Context, fns protocol.ExecuteFunctions) ([]models.Item, error) {
	items := fns.Items()
	if len(items) == 0 {
		items = []models.Item{{JSON: map[string]any{}}}
	}

	var out []models.Item

	for i := range items {
		query, err := fns.Parameter("query", i, nil)
		if err != nil {
			return nil, err
		}

		threshold, err := n.threshold(fns, i)
		if err != nil {
			return nil, err
		}

		retriever, ok, err := protocol.Input[capability.Retriever](ctx, fns, string(models.ConnectionTypeAiRetriever), i)
		if err != nil {
			return nil, err
		}

		if !ok {
			return nil, fmt.Errorf("%s: no retriever connected", NodeName)
		}

		docs, err := retriever.GetRelevantDocuments(ctx, fmt.Sprint(query))
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}

		matched := 0

		for _, doc := range docs {
			if threshold > 0 && score(doc) < threshold {
				continue
			}

			matched++

			out = append(out, models.Item{JSON: map[string]any{
				"query":       query,
				"pageContent": doc.PageContent,
				"metadata":    doc.Metadata,
				"itemIndex":   i,
			}})
		}

		fns.Logger().DebugContext(ctx, "Retrieved documents", "item_index", i, "retrieved", len(docs), "matched", matched)
	}

	return out, nil
}

func (n *Node) threshold(fns protocol.ExecuteFunctions, itemIndex int) (float64, error) {
	if n.version < 2 {
		return 0, nil
	}

	value, err := fns.Parameter("scoreThreshold", itemIndex, 0.0)
	if err != nil {
		return 0, err
	}

	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%s: scoreThreshold must be a number, got %T", NodeName, value)
	}
}

// score reads the similarity score a vector store retriever attached to the document.
// Documents without one score zero.
func score(doc capability.Document) float64 {
	switch v := doc.Metadata[vectorstore.ScoreKey].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	default:
		return 0
	}
}
