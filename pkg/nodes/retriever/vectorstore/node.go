// Package vectorstore provides a retriever sub-node reading from a connected vector store.
package vectorstore

import (
	"context"
	"fmt"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
)

const (
	NodeName    = "retrieverVectorStore"
	DefaultTopK = 4
)

type Config struct {
	TopK int `mapstructure:"topK"`
}

type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "Vector Store Retriever",
		Description: "Use a vector store as a retriever",
		Categories:  []string{"AI", "Retrievers"},
		Version:     1,
		Inputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiVectorStore, models.PortDirectionInput, true, 1,
				models.WithDisplayName("Vector Store")),
		},
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiRetriever, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Retriever")),
		},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topK": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"default":     DefaultTopK,
					"description": "Number of documents to return",
				},
			},
		},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	config := Config{TopK: DefaultTopK}

	if err := fns.DecodeParameters(itemIndex, &config); err != nil {
		return nil, err
	}

	if config.TopK < 1 {
		return nil, fmt.Errorf("%s: topK must be at least 1, got %d", NodeName, config.TopK)
	}

	store, ok, err := protocol.Input[capability.VectorStore](ctx, fns, string(models.ConnectionTypeAiVectorStore), itemIndex)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%s: no vector store connected", NodeName)
	}

	return &protocol.SupplyData{Response: store.AsRetriever(config.TopK)}, nil
}
