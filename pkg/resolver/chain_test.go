package resolver

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/registry"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retrievalWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:   "retrieval",
		Name: "Retrieval",
		Nodes: []*models.WorkflowNode{
			{ID: "emb", Name: "Embeddings", Type: "embeddingsHashing", Parameters: map[string]any{}},
			{ID: "vs", Name: "Store", Type: "vectorStoreInMemory", Parameters: map[string]any{"memoryKey": "docs"}},
			{ID: "retriever", Name: "Retriever", Type: "retrieverVectorStore", Parameters: map[string]any{"topK": 2}},
			{ID: "search", Name: "Search", Type: "retrievalSearch", Parameters: map[string]any{"query": "hello"}},
		},
		Connections: []*models.Connection{
			{ID: "c1", SourcePort: "emb:ai_embedding", TargetPort: "vs:ai_embedding"},
			{ID: "c2", SourcePort: "vs:ai_vectorStore", TargetPort: "retriever:ai_vectorStore"},
			{ID: "c3", SourcePort: "retriever:ai_retriever", TargetPort: "search:ai_retriever"},
		},
	}
}

func TestResolve_RetrieverOverTracedStoreTracesEachSearchOnce(t *testing.T) {
	reg := registry.NewRegistry(slog.Default())
	require.NoError(t, reg.RegisterDefaultNodes())

	g, err := NewGraph(retrievalWorkflow(), reg)
	require.NoError(t, err)

	recorder := tracing.NewRecorder()
	ctx := context.Background()

	run := NewRun(g, WithSink(recorder))
	defer run.Close(ctx)

	obj, err := run.Resolve(ctx, "search", retrieverPort, 0)
	require.NoError(t, err)

	retriever, ok := obj.(capability.Retriever)
	require.True(t, ok, "resolved %T", obj)

	_, err = retriever.GetRelevantDocuments(ctx, "hello")
	require.NoError(t, err)

	searches := recorder.Operation("similaritySearch")
	require.Len(t, searches, 2)

	assert.Equal(t, tracing.DirectionInput, searches[0].Direction)
	assert.Equal(t, tracing.DirectionOutput, searches[1].Direction)
	assert.Equal(t, searches[0].CallID, searches[1].CallID)
	assert.False(t, searches[1].Failed())

	for _, e := range searches {
		assert.Equal(t, "vs", e.NodeID)
		assert.Equal(t, run.ID(), e.RunID)
	}

	assert.Empty(t, recorder.Operation("asRetriever"))
}
