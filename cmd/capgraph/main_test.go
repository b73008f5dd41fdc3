package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dukex/capgraph/pkg/registry"
	"github.com/dukex/capgraph/pkg/web"
	"github.com/dukex/capgraph/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cli "github.com/urfave/cli/v3"
)

const workflowYAML = `
id: cli
name: CLI workflow
nodes:
  - {id: emb, name: Embeddings, type: embeddingsHashing, parameters: {dimensions: 128}}
  - {id: loader, name: Loader, type: documentDefaultDataLoader, parameters: {}}
  - {id: store, name: Store, type: vectorStoreInMemory, type_version: 2, parameters: {memoryKey: docs}}
  - {id: retriever, name: Retriever, type: retrieverVectorStore, parameters: {topK: 1}}
  - {id: search, name: Search, type: retrievalSearch, parameters: {query: "={{ .json.text }}"}}
connections:
  - {source_port: "emb:ai_embedding", target_port: "store:ai_embedding"}
  - {source_port: "loader:ai_document", target_port: "store:ai_document"}
  - {source_port: "store:ai_vectorStore", target_port: "retriever:ai_vectorStore"}
  - {source_port: "retriever:ai_retriever", target_port: "search:ai_retriever"}
`

func run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()

	var out bytes.Buffer

	app := newApp()
	app.Writer = &out

	base := []string{"capgraph", "--plugins-path", t.TempDir(), "--workflows-path", t.TempDir()}
	err := app.Run(context.Background(), append(base, args...))

	return out.Bytes(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestNodeTypesCommand(t *testing.T) {
	out, err := run(t, "node-types")
	require.NoError(t, err)

	var infos []registry.NodeTypeInfo
	require.NoError(t, json.Unmarshal(out, &infos))
	assert.NotEmpty(t, infos)

	out, err = run(t, "node-types", "--name", "retrievalSearch", "--version", "1")
	require.NoError(t, err)

	var nodeType web.NodeTypeResponse
	require.NoError(t, json.Unmarshal(out, &nodeType))
	assert.Equal(t, 1, nodeType.Version)
	assert.Equal(t, 2, nodeType.DefaultVersion)
	assert.False(t, nodeType.SubNode)

	_, err = run(t, "node-types", "--name", "nope")
	require.ErrorIs(t, err, registry.ErrUnknownNodeType)
}

func TestValidateCommand(t *testing.T) {
	out, err := run(t, "validate", "-f", writeFile(t, "wf.yaml", workflowYAML))
	require.NoError(t, err)
	assert.JSONEq(t, `{"valid": true}`, string(out))

	broken := writeFile(t, "broken.yaml", `
id: broken
name: Broken workflow
nodes:
  - {id: search, name: Search, type: retrievalSearch, parameters: {query: q}}
connections: []
`)

	out, err = run(t, "validate", "-f", broken)
	require.ErrorContains(t, err, "workflow broken is invalid")

	var resp web.ValidationResponse
	require.NoError(t, json.Unmarshal(out, &resp))
	require.Len(t, resp.Problems, 1)
	assert.Contains(t, resp.Problems[0], "missing required capability")

	_, err = run(t, "validate")
	require.ErrorContains(t, err, "either --file or --id is required")
}

func TestRunCommand(t *testing.T) {
	wf := writeFile(t, "wf.yaml", workflowYAML)
	items := writeFile(t, "items.json", `[{"text": "first document"}, {"json": {"text": "second document"}}]`)

	out, err := run(t, "--trace-sink", "log", "run", "-f", wf, "--node", "search", "--items", items)
	require.NoError(t, err)

	var result workflow.Result
	require.NoError(t, json.Unmarshal(out, &result))
	require.Len(t, result.Items, 2)
	assert.Equal(t, "first document", result.Items[0].JSON["pageContent"])
	assert.Equal(t, "second document", result.Items[1].JSON["query"])

	_, err = run(t, "run", "-f", wf, "--node", "store")
	require.ErrorIs(t, err, workflow.ErrNotExecutable)
}

func TestLoadConfig_FileAndFlags(t *testing.T) {
	path := writeFile(t, "capgraph.yaml", "log_level: debug\ntrace_sinks: [log]\ncache:\n  max_entries: 5\n")

	app := newApp()
	app.Writer = &bytes.Buffer{}

	var loaded bool

	for _, c := range app.Commands {
		if c.Name != "node-types" {
			continue
		}

		c.Action = func(_ context.Context, command *cli.Command) error {
			cfg, err := loadConfig(command)
			require.NoError(t, err)

			assert.Equal(t, "debug", cfg.LogLevel)
			assert.Equal(t, []string{"log"}, cfg.TraceSinks)
			assert.Equal(t, 7, cfg.Cache.MaxEntries)

			loaded = true

			return nil
		}
	}

	require.NoError(t, app.Run(context.Background(), []string{"capgraph", "--config", path, "--cache-max-entries", "7", "node-types"}))
	assert.True(t, loaded)
}
