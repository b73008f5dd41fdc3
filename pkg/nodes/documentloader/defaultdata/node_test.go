package defaultdata

import (
	"context"
	"testing"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes/textsplitter/character"
	"github.com/dukex/capgraph/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, fns *testutil.Functions) []capability.Document {
	t.Helper()

	data, err := New().SupplyData(context.Background(), fns, 0)
	require.NoError(t, err)

	docs, err := data.Response.(capability.DocumentLoader).Load(context.Background())
	require.NoError(t, err)

	return docs
}

func TestNode_SupplyData(t *testing.T) {
	fns := testutil.NewFunctions(map[string]any{
		"textField": "body",
		"metadata":  map[string]any{"source": "={{ .json.id }}", "kind": "note"},
	})
	fns.InputItems = []models.Item{
		{JSON: map[string]any{"id": "a", "body": "first note"}},
		{JSON: map[string]any{"id": "b", "body": map[string]any{"nested": true}}},
		{JSON: map[string]any{"id": "c"}},
	}

	docs := load(t, fns)
	require.Len(t, docs, 3)

	assert.Equal(t, "first note", docs[0].PageContent)
	assert.Equal(t, map[string]any{"item_index": 0, "source": "a", "kind": "note"}, docs[0].Metadata)
	assert.JSONEq(t, `{"nested": true}`, docs[1].PageContent)
	assert.Equal(t, "b", docs[1].Metadata["source"])
	assert.JSONEq(t, `{"id": "c"}`, docs[2].PageContent)

	_, outputs := fns.Recorded()
	assert.Equal(t, []any{map[string]any{"documents": 3}}, outputs)
}

func TestNode_SupplyData_Defaults(t *testing.T) {
	fns := testutil.NewFunctions(map[string]any{})
	fns.InputItems = []models.Item{{JSON: map[string]any{"text": "hello there"}}}

	docs := load(t, fns)
	assert.Equal(t, []capability.Document{{PageContent: "hello there", Metadata: map[string]any{"item_index": 0}}}, docs)

	assert.Empty(t, load(t, testutil.NewFunctions(map[string]any{})))
}

func TestNode_SupplyData_WithTextSplitter(t *testing.T) {
	splitter, err := character.NewSplitter(character.Config{Separator: " ", ChunkSize: 5})
	require.NoError(t, err)

	fns := testutil.NewFunctions(map[string]any{})
	fns.InputItems = []models.Item{{JSON: map[string]any{"text": "hello there"}}}
	fns.Connected[string(models.ConnectionTypeAiTextSplitter)] = splitter

	docs := load(t, fns)
	require.Len(t, docs, 2)
	assert.Equal(t, "hello", docs[0].PageContent)
	assert.Equal(t, "there", docs[1].PageContent)
	assert.Equal(t, 1, docs[1].Metadata["chunk"])
}

func TestNode_SupplyData_InvalidMetadata(t *testing.T) {
	fns := testutil.NewFunctions(map[string]any{"metadata": "not an object"})
	fns.InputItems = []models.Item{{JSON: map[string]any{"text": "x"}}}

	_, err := New().SupplyData(context.Background(), fns, 0)
	assert.ErrorContains(t, err, "metadata must be an object")
}
