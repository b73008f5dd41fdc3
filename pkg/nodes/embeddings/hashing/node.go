// Package hashing provides an embeddings sub-node that needs no model: texts are turned into
// vectors by feature hashing their lower-cased tokens.
package hashing

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
)

const (
	NodeName          = "embeddingsHashing"
	DefaultDimensions = 64
)

type Config struct {
	Dimensions int `mapstructure:"dimensions"`
}

// Node supplies Embeddings through its ai_embedding output.
type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "Hashing Embeddings",
		Description: "Deterministic embeddings computed locally by feature hashing",
		Categories:  []string{"AI", "Embeddings"},
		Version:     1,
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiEmbedding, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Embeddings")),
		},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"dimensions": map[string]any{
					"type":        "integer",
					"minimum":     1,
					"maximum":     4096,
					"default":     DefaultDimensions,
					"description": "Length of the produced vectors",
				},
			},
		},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	config := Config{Dimensions: DefaultDimensions}

	if err := fns.DecodeParameters(itemIndex, &config); err != nil {
		return nil, err
	}

	if config.Dimensions <= 0 {
		config.Dimensions = DefaultDimensions
	}

	fns.Logger().DebugContext(ctx, "Supplying hashing embeddings", "dimensions", config.Dimensions)

	return &protocol.SupplyData{Response: &Embeddings{Dimensions: config.Dimensions}}, nil
}

// Embeddings hashes each token into one of Dimensions buckets with a hash-derived sign,
// then normalizes the vector to unit length. Equal texts always get equal vectors.
type Embeddings struct {
	Dimensions int
}

func (e *Embeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vectors[i] = e.embed(text)
	}

	return vectors, nil
}

func (e *Embeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return e.embed(text), nil
}

func (e *Embeddings) embed(text string) []float32 {
	vector := make([]float32, e.Dimensions)

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})

	for _, token := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		bucket := sum % uint64(e.Dimensions)
		if sum>>63 == 1 {
			vector[bucket]--
		} else {
			vector[bucket]++
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}

	if norm == 0 {
		return vector
	}

	scale := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= scale
	}

	return vector
}
