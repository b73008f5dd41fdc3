// Package defaultdata provides a document loader sub-node turning the items of the run into
// documents.
package defaultdata

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
)

const (
	NodeName         = "documentDefaultDataLoader"
	DefaultTextField = "text"
)

type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "Default Data Loader",
		Description: "Load data from previous step in the workflow",
		Categories:  []string{"AI", "Document Loaders"},
		Version:     1,
		Inputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiTextSplitter, models.PortDirectionInput, false, 1,
				models.WithDisplayName("Text Splitter")),
		},
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiDocument, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Document")),
		},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"textField": map[string]any{
					"type":        "string",
					"default":     DefaultTextField,
					"description": "Item field holding the document text. The whole item is used when it is missing.",
				},
				"metadata": map[string]any{
					"type":        "object",
					"description": "Metadata attached to every document; values may be expressions",
				},
			},
		},
	}
}

// SupplyData builds one document per item of the run. Metadata expressions are rendered
// against the item each document comes from.
func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, _ int) (*protocol.SupplyData, error) {
	splitter, _, err := protocol.Input[capability.TextSplitter](ctx, fns, string(models.ConnectionTypeAiTextSplitter), 0)
	if err != nil {
		return nil, err
	}

	items := fns.Items()
	docs := make([]capability.Document, 0, len(items))

	for i, item := range items {
		field, err := fns.Parameter("textField", i, DefaultTextField)
		if err != nil {
			return nil, err
		}

		metadata, err := fns.Parameter("metadata", i, map[string]any{})
		if err != nil {
			return nil, err
		}

		meta, ok := metadata.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("metadata must be an object, got %T", metadata)
		}

		text, err := itemText(item, fmt.Sprint(field))
		if err != nil {
			return nil, err
		}

		doc := capability.Document{PageContent: text, Metadata: map[string]any{"item_index": i}}
		for k, v := range meta {
			doc.Metadata[k] = v
		}

		docs = append(docs, doc)
	}

	if splitter != nil {
		if docs, err = splitter.SplitDocuments(ctx, docs); err != nil {
			return nil, err
		}
	}

	fns.RecordOutput(ctx, map[string]any{"documents": len(docs)}, nil)

	return &protocol.SupplyData{Response: capability.StaticDocuments(docs)}, nil
}

func itemText(item models.Item, field string) (string, error) {
	value, ok := item.JSON[field]
	if !ok {
		data, err := json.Marshal(item.JSON)
		if err != nil {
			return "", fmt.Errorf("failed to encode item: %w", err)
		}

		return string(data), nil
	}

	if s, ok := value.(string); ok {
		return s, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode field %s: %w", field, err)
	}

	return string(data), nil
}
