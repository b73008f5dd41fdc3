// Package openai provides an embeddings sub-node backed by the OpenAI embeddings API.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes"
	"github.com/dukex/capgraph/pkg/protocol"
	goopenai "github.com/sashabaranov/go-openai"
)

const (
	NodeName         = "embeddingsOpenAi"
	CredentialType   = "openAiApi"
	DefaultModel     = string(goopenai.SmallEmbedding3)
	DefaultBatchSize = 512
)

var ErrMissingAPIKey = errors.New("openAiApi credential has no apiKey")

// Client is the part of the go-openai client the node uses.
type Client interface {
	CreateEmbeddings(ctx context.Context, conv goopenai.EmbeddingRequestConverter) (goopenai.EmbeddingResponse, error)
}

type Config struct {
	Model      string `mapstructure:"model"`
	Dimensions int    `mapstructure:"dimensions"`
	BatchSize  int    `mapstructure:"batchSize"`
}

type credential struct {
	APIKey string `mapstructure:"apiKey"`
	URL    string `mapstructure:"url"`
}

// Node supplies Embeddings through its ai_embedding output.
type Node struct {
	newClient func(apiKey, baseURL string) Client
}

func New() *Node {
	return &Node{newClient: defaultClient}
}

func defaultClient(apiKey, baseURL string) Client {
	config := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return goopenai.NewClientWithConfig(config)
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "Embeddings OpenAI",
		Description: "Use OpenAI embedding models",
		Categories:  []string{"AI", "Embeddings"},
		Version:     1,
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiEmbedding, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Embeddings")),
		},
		Credentials: []models.CredentialRequirement{{Name: CredentialType, Required: true}},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"model": map[string]any{
					"type":    "string",
					"default": DefaultModel,
				},
				"dimensions": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"description": "Length of the returned vectors. Only text-embedding-3 models accept it.",
				},
				"batchSize": map[string]any{
					"type":    "integer",
					"minimum": 1,
					"maximum": 2048,
					"default": DefaultBatchSize,
				},
			},
		},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	config := Config{Model: DefaultModel, BatchSize: DefaultBatchSize}

	if err := fns.DecodeParameters(itemIndex, &config); err != nil {
		return nil, err
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}

	values, err := fns.Credentials(ctx, CredentialType)
	if err != nil {
		return nil, err
	}

	var cred credential
	if err := nodes.DecodeCredential(values, &cred); err != nil {
		return nil, err
	}

	if cred.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	fns.Logger().DebugContext(ctx, "Supplying OpenAI embeddings", "model", config.Model, "dimensions", config.Dimensions)

	return &protocol.SupplyData{Response: &Embeddings{
		client: n.newClient(cred.APIKey, cred.URL),
		config: config,
	}}, nil
}

// Embeddings calls the embeddings endpoint, at most BatchSize texts per request.
type Embeddings struct {
	client Client
	config Config
}

func (e *Embeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))

	for start := 0; start < len(texts); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(texts))

		batch, err := e.embed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}

		vectors = append(vectors, batch...)
	}

	return vectors, nil
}

func (e *Embeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (e *Embeddings) embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Input:      texts,
		Model:      goopenai.EmbeddingModel(e.config.Model),
		Dimensions: e.config.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d texts", len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))

	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embeddings response index %d out of range", d.Index)
		}

		vectors[d.Index] = d.Embedding
	}

	return vectors, nil
}
