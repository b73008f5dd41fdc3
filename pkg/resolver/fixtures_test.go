package resolver

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
	"github.com/dukex/capgraph/pkg/registry"
	"github.com/stretchr/testify/require"
)

type stubEmbeddings struct {
	name string
}

func (s *stubEmbeddings) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}

	return out, nil
}

func (s *stubEmbeddings) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text))}, nil
}

type stubVectorStore struct {
	version    int
	embeddings capability.Embeddings
}

func (s *stubVectorStore) AddDocuments(context.Context, []capability.Document) error {
	return nil
}

func (s *stubVectorStore) SimilaritySearch(context.Context, string, int) ([]capability.ScoredDocument, error) {
	return nil, nil
}

func (s *stubVectorStore) AsRetriever(int) capability.Retriever {
	return nil
}

// supplier is a sub-node whose SupplyData behavior is set per test.
type supplier struct {
	description models.NodeDescription
	calls       atomic.Int32
	supply      func(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error)
}

func (s *supplier) Description() models.NodeDescription {
	return s.description
}

func (s *supplier) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	s.calls.Add(1)

	return s.supply(ctx, fns, itemIndex)
}

// root is a node that only consumes capabilities.
type root struct {
	description models.NodeDescription
}

func (r *root) Description() models.NodeDescription {
	return r.description
}

func in(kind models.ConnectionType, required bool, maxConnections int) models.PortDeclaration {
	return models.MustDeclarePort(kind, models.PortDirectionInput, required, maxConnections)
}

func out(kind models.ConnectionType) models.PortDeclaration {
	return models.MustDeclarePort(kind, models.PortDirectionOutput, false, models.UnlimitedConnections)
}

func embeddingsSupplier(name string) *supplier {
	return &supplier{
		description: models.NodeDescription{
			Outputs: []models.PortDeclaration{out(models.ConnectionTypeAiEmbedding)},
		},
		supply: func(context.Context, protocol.SupplyFunctions, int) (*protocol.SupplyData, error) {
			return &protocol.SupplyData{Response: &stubEmbeddings{name: name}}, nil
		},
	}
}

func vectorStoreSupplier(version int) *supplier {
	return &supplier{
		description: models.NodeDescription{
			Inputs:  []models.PortDeclaration{in(models.ConnectionTypeAiEmbedding, true, 1)},
			Outputs: []models.PortDeclaration{out(models.ConnectionTypeAiVectorStore)},
		},
		supply: func(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
			emb, _, err := protocol.Input[capability.Embeddings](ctx, fns, string(models.ConnectionTypeAiEmbedding), itemIndex)
			if err != nil {
				return nil, err
			}

			return &protocol.SupplyData{Response: &stubVectorStore{version: version, embeddings: emb}}, nil
		},
	}
}

type fixtures struct {
	registry    *registry.Registry
	embeddings  *supplier
	vectorStore map[int]*supplier
}

// newFixtures registers:
//   - "embeddings": supplies ai_embedding
//   - "vectorStore" v1 and v2 (default 2): requires one ai_embedding, supplies ai_vectorStore
//   - "consumer": requires one ai_vectorStore, accepts any number of ai_embedding, takes a
//     "topK" integer parameter
func newFixtures(t *testing.T) *fixtures {
	t.Helper()

	f := &fixtures{
		registry:    registry.NewRegistry(slog.Default()),
		embeddings:  embeddingsSupplier("default"),
		vectorStore: map[int]*supplier{1: vectorStoreSupplier(1), 2: vectorStoreSupplier(2)},
	}

	require.NoError(t, f.registry.Register("embeddings", models.NodeDescription{DisplayName: "Embeddings"},
		map[int]protocol.NodeType{1: f.embeddings}))

	require.NoError(t, f.registry.Register("vectorStore", models.NodeDescription{DisplayName: "Vector Store", DefaultVersion: 2},
		map[int]protocol.NodeType{1: f.vectorStore[1], 2: f.vectorStore[2]}))

	require.NoError(t, f.registry.RegisterNode(&root{description: models.NodeDescription{
		Name: "consumer",
		Inputs: []models.PortDeclaration{
			in(models.ConnectionTypeMain, false, models.UnlimitedConnections),
			in(models.ConnectionTypeAiVectorStore, true, 1),
			in(models.ConnectionTypeAiEmbedding, false, models.UnlimitedConnections),
			in(models.ConnectionTypeAiRetriever, false, 1),
		},
		Outputs: []models.PortDeclaration{out(models.ConnectionTypeMain)},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"topK": map[string]any{"type": "integer", "minimum": 1},
			},
			"required": []string{"topK"},
		},
	}}))

	return f
}
