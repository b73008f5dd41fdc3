package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/dukex/capgraph/pkg/cache"
	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes/embeddings/hashing"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore"
	"github.com/dukex/capgraph/pkg/protocol"
	"github.com/dukex/capgraph/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	embeddingPort = string(models.ConnectionTypeAiEmbedding)
	documentPort  = string(models.ConnectionTypeAiDocument)
)

func version(t *testing.T, v int) *Node {
	t.Helper()

	node, ok := New().NodeVersions()[v].(*Node)
	require.True(t, ok)

	return node
}

func newFunctions(instances *cache.Manager, parameters map[string]any) *testutil.Functions {
	fns := testutil.NewFunctions(parameters)
	fns.Cache = instances
	fns.Connected[embeddingPort] = &hashing.Embeddings{Dimensions: 512}

	return fns
}

func supply(t *testing.T, node *Node, fns *testutil.Functions) *vectorstore.Store {
	t.Helper()

	data, err := node.SupplyData(context.Background(), fns, 0)
	require.NoError(t, err)

	store, ok := data.Response.(*vectorstore.Store)
	require.True(t, ok)
	require.NoError(t, capability.Conforms(models.ConnectionTypeAiVectorStore, store))

	return store
}

func TestNew_Versions(t *testing.T) {
	versioned := New()
	assert.Equal(t, 2, versioned.BaseDescription().DefaultVersion)

	v1 := models.Merge(versioned.BaseDescription(), version(t, 1).Description())
	assert.Len(t, v1.Inputs, 1)
	assert.NotContains(t, v1.Schema["properties"], "clearStore")

	v2 := models.Merge(versioned.BaseDescription(), version(t, 2).Description())
	require.Len(t, v2.Inputs, 2)
	assert.Equal(t, documentPort, v2.Inputs[1].Name)
	assert.False(t, v2.Inputs[1].Required)
	assert.Contains(t, v2.Schema["properties"], "clearStore")
	assert.Equal(t, NodeName, v2.Name)
	assert.Len(t, v2.Outputs, 1)
}

func TestNode_SharesStoreByMemoryKey(t *testing.T) {
	instances := cache.New()
	ctx := context.Background()

	first := supply(t, version(t, 1), newFunctions(instances, map[string]any{}))
	require.NoError(t, first.AddDocuments(ctx, []capability.Document{
		{PageContent: "the cat sat on the mat"},
		{PageContent: "stock prices fell sharply"},
	}))

	// a later run of the same workflow sees the documents
	second := supply(t, version(t, 1), newFunctions(instances, map[string]any{}))
	results, err := second.SimilaritySearch(ctx, "a cat on a mat", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "the cat sat on the mat", results[0].PageContent)

	entry, ok := instances.Get("workflow", DefaultMemoryKey)
	require.True(t, ok)
	assert.Equal(t, "workflow__vector_store_key", entry.Key.String())

	// other keys and other workflows are isolated
	other := supply(t, version(t, 1), newFunctions(instances, map[string]any{"memoryKey": "other"}))
	results, err = other.SimilaritySearch(ctx, "cat", 4)
	require.NoError(t, err)
	assert.Empty(t, results)

	fns := newFunctions(instances, map[string]any{})
	fns.Workflow = "another-workflow"
	results, err = supply(t, version(t, 1), fns).SimilaritySearch(ctx, "cat", 4)
	require.NoError(t, err)
	assert.Empty(t, results)

	assert.Equal(t, 3, instances.Len())
}

func TestNode_V2_InsertsConnectedDocuments(t *testing.T) {
	instances := cache.New()
	ctx := context.Background()

	fns := newFunctions(instances, map[string]any{"memoryKey": "docs"})
	fns.Connected[documentPort] = capability.StaticDocuments{
		{PageContent: "go is a programming language", Metadata: map[string]any{"id": 1}},
		{PageContent: "bread is baked in an oven", Metadata: map[string]any{"id": 2}},
	}

	store := supply(t, version(t, 2), fns)

	docs, err := store.AsRetriever(1).GetRelevantDocuments(ctx, "programming language")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, 1, docs[0].Metadata["id"])
	assert.Contains(t, docs[0].Metadata, vectorstore.ScoreKey)

	inputs, outputs := fns.Recorded()
	assert.Equal(t, []any{map[string]any{"documents": 2, "clear": false}}, inputs)
	assert.Equal(t, []any{map[string]any{"inserted": 2, "total": 2}}, outputs)

	// supplying again appends
	supply(t, version(t, 2), fns)

	obj, ok := instances.Get("workflow", "docs")
	require.True(t, ok)
	assert.Equal(t, 4, obj.Value.(*Memory).Len())

	// clearStore starts over
	fns.WorkflowNode.Parameters["clearStore"] = true
	supply(t, version(t, 2), fns)
	assert.Equal(t, 2, obj.Value.(*Memory).Len())
}

func TestNode_Errors(t *testing.T) {
	t.Run("embeddings not connected", func(t *testing.T) {
		fns := testutil.NewFunctions(map[string]any{})

		_, err := version(t, 2).SupplyData(context.Background(), fns, 0)
		assert.ErrorContains(t, err, "no embeddings connected")
	})

	t.Run("embeddings fail to resolve", func(t *testing.T) {
		boom := errors.New("upstream failed")
		fns := testutil.NewFunctions(map[string]any{})
		fns.Connected[embeddingPort] = boom

		_, err := version(t, 2).SupplyData(context.Background(), fns, 0)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("document loader fails", func(t *testing.T) {
		boom := errors.New("load failed")
		fns := newFunctions(cache.New(), map[string]any{})
		fns.Connected[documentPort] = failingLoader{err: boom}

		_, err := version(t, 2).SupplyData(context.Background(), fns, 0)
		require.ErrorIs(t, err, boom)

		_, outputs := fns.Recorded()
		require.Len(t, outputs, 1)
		assert.ErrorIs(t, outputs[0].(error), boom)
	})

	t.Run("key taken by another kind of instance", func(t *testing.T) {
		instances := cache.New()
		_, err := instances.GetOrCreate(context.Background(), "workflow", DefaultMemoryKey, func(context.Context) (any, error) {
			return "not a store", nil
		})
		require.NoError(t, err)

		_, err = version(t, 1).SupplyData(context.Background(), newFunctions(instances, map[string]any{}), 0)
		assert.ErrorContains(t, err, "cached instance")
	})
}

type failingLoader struct {
	err error
}

func (f failingLoader) Load(context.Context) ([]capability.Document, error) {
	return nil, f.err
}

var _ protocol.SupplyDataProvider = (*Node)(nil)
