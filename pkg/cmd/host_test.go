package cmd

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dukex/capgraph/pkg/config"
	"github.com/dukex/capgraph/pkg/credentials"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/persistence/file"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.PluginsPath = t.TempDir()
	cfg.WorkflowsPath = t.TempDir()

	return cfg
}

func TestNewHost_ExecutesWorkflows(t *testing.T) {
	ctx := context.Background()

	credentialsPath := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(credentialsPath, []byte("redis-1:\n  host: localhost\n  port: 6379\n"), 0o600))

	cfg := testConfig(t)
	cfg.CredentialsURL = "file://" + credentialsPath
	cfg.TraceSinks = []string{config.TraceSinkLog, config.TraceSinkGoChannel}
	cfg.Cache.MaxEntries = 10
	cfg.Cache.IdleTimeout = time.Hour

	host, err := NewHost(ctx, cfg, slog.Default())
	require.NoError(t, err)

	defer func() { require.NoError(t, host.Close(ctx)) }()

	values, err := host.Credentials.Get(ctx, "redis-1")
	require.NoError(t, err)
	assert.Equal(t, "localhost", values["host"])

	wf, err := file.DecodeWorkflow([]byte(`
id: indexed
name: Indexed items
nodes:
  - {id: emb, name: Embeddings, type: embeddingsHashing, parameters: {dimensions: 128}}
  - {id: loader, name: Loader, type: documentDefaultDataLoader, parameters: {}}
  - {id: store, name: Store, type: vectorStoreInMemory, parameters: {memoryKey: docs}}
  - {id: retriever, name: Retriever, type: retrieverVectorStore, parameters: {topK: 1}}
  - {id: search, name: Search, type: retrievalSearch, parameters: {query: "={{ .json.text }}"}}
connections:
  - {source_port: "emb:ai_embedding", target_port: "store:ai_embedding"}
  - {source_port: "loader:ai_document", target_port: "store:ai_document"}
  - {source_port: "store:ai_vectorStore", target_port: "retriever:ai_vectorStore"}
  - {source_port: "retriever:ai_retriever", target_port: "search:ai_retriever"}
`), file.FormatYAML)
	require.NoError(t, err)

	result, err := host.Executor.Execute(ctx, wf, "search", []models.Item{{JSON: map[string]any{"text": "hello world"}}})
	require.NoError(t, err)
	require.Len(t, result.Items, 1)
	assert.Equal(t, "hello world", result.Items[0].JSON["pageContent"])

	// the store is shared through the host cache and counted in its metrics
	assert.Equal(t, 1, host.Cache.Len())

	families, err := host.Prometheus.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}

	assert.Contains(t, names, "capgraph_resolutions_total")
	assert.Contains(t, names, "capgraph_cache_lookups_total")
}

func TestNewHost_InvalidConfiguration(t *testing.T) {
	cfg := testConfig(t)
	cfg.TraceSinks = []string{config.TraceSinkKafka}

	_, err := NewHost(context.Background(), cfg, slog.Default())
	require.ErrorContains(t, err, "invalid configuration")

	cfg = testConfig(t)
	cfg.CredentialsURL = "vault://secrets"

	_, err = NewHost(context.Background(), cfg, slog.Default())
	require.ErrorContains(t, err, `unsupported credential store "vault"`)
}

func TestNewCredentialStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		store, closeStore, err := NewCredentialStore(ctx, slog.Default(), "")
		require.NoError(t, err)
		require.NoError(t, closeStore())

		_, err = store.Get(ctx, "missing")
		assert.ErrorIs(t, err, credentials.ErrCredentialsNotFound)
	})

	t.Run("redis", func(t *testing.T) {
		server := miniredis.RunT(t)

		store, closeStore, err := NewCredentialStore(ctx, slog.Default(), "redis://"+server.Addr()+"/0")
		require.NoError(t, err)

		defer func() { require.NoError(t, closeStore()) }()

		require.NoError(t, store.(*credentials.RedisStore).Set(ctx, "openai", map[string]any{"apiKey": "sk-1"}))

		values, err := store.Get(ctx, "openai")
		require.NoError(t, err)
		assert.Equal(t, "sk-1", values["apiKey"])
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := NewCredentialStore(ctx, slog.Default(), "file://"+filepath.Join(t.TempDir(), "nope.yaml"))
		require.ErrorContains(t, err, "failed to read credentials file")
	})
}

func TestNewTraceSink(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink, closeSink, err := NewTraceSink(ctx, testConfig(t), nil, slog.Default())
	require.NoError(t, err)
	assert.NotNil(t, sink)
	require.NoError(t, closeSink())

	cfg := testConfig(t)
	cfg.TraceSinks = []string{config.TraceSinkGoChannel}

	sink, closeSink, err = NewTraceSink(ctx, cfg, nil, slog.Default())
	require.NoError(t, err)

	sink.Record(ctx, tracing.Event{Source: tracing.Source{RunID: "r"}, Operation: tracing.OperationSupplyData})
	require.NoError(t, closeSink())

	cfg.TraceSinks = []string{"stdout"}

	_, _, err = NewTraceSink(ctx, cfg, nil, slog.Default())
	require.ErrorContains(t, err, `unknown trace sink "stdout"`)
}

func TestNewPersistence(t *testing.T) {
	p, err := NewPersistence("file://" + t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.HealthCheck(context.Background()))

	_, err = NewPersistence("postgres://localhost/db")
	require.ErrorContains(t, err, "unsupported workflow persistence")
}
