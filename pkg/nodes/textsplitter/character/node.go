// Package character provides a text splitter sub-node that cuts text on a separator and packs
// the pieces into chunks of bounded length.
package character

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
)

const (
	NodeName            = "textSplitterCharacterTextSplitter"
	DefaultSeparator    = "\n\n"
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 0
)

var ErrInvalidChunkOverlap = errors.New("chunk overlap must be smaller than chunk size")

type Config struct {
	Separator    string `mapstructure:"separator"`
	ChunkSize    int    `mapstructure:"chunkSize"`
	ChunkOverlap int    `mapstructure:"chunkOverlap"`
}

type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "Character Text Splitter",
		Description: "Split text into chunks by characters",
		Categories:  []string{"AI", "Text Splitters"},
		Version:     1,
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiTextSplitter, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Text Splitter")),
		},
		Schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"separator":    map[string]any{"type": "string", "default": DefaultSeparator},
				"chunkSize":    map[string]any{"type": "integer", "minimum": 1, "default": DefaultChunkSize},
				"chunkOverlap": map[string]any{"type": "integer", "minimum": 0, "default": DefaultChunkOverlap},
			},
		},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	config := Config{Separator: DefaultSeparator, ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}

	if err := fns.DecodeParameters(itemIndex, &config); err != nil {
		return nil, err
	}

	splitter, err := NewSplitter(config)
	if err != nil {
		return nil, err
	}

	fns.Logger().DebugContext(ctx, "Supplying character text splitter", "chunk_size", config.ChunkSize, "chunk_overlap", config.ChunkOverlap)

	return &protocol.SupplyData{Response: splitter}, nil
}

// Splitter implements capability.TextSplitter.
type Splitter struct {
	config Config
}

func NewSplitter(config Config) (*Splitter, error) {
	if config.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSize)
	}

	if config.ChunkOverlap < 0 || config.ChunkOverlap >= config.ChunkSize {
		return nil, fmt.Errorf("%w: overlap %d, size %d", ErrInvalidChunkOverlap, config.ChunkOverlap, config.ChunkSize)
	}

	return &Splitter{config: config}, nil
}

func (s *Splitter) SplitText(_ context.Context, text string) ([]string, error) {
	var splits []string

	if s.config.Separator == "" {
		for _, r := range text {
			splits = append(splits, string(r))
		}
	} else {
		splits = strings.Split(text, s.config.Separator)
	}

	nonEmpty := splits[:0]
	for _, split := range splits {
		if split != "" {
			nonEmpty = append(nonEmpty, split)
		}
	}

	return s.merge(nonEmpty), nil
}

// merge packs splits into chunks no longer than ChunkSize (a single split longer than that
// becomes its own chunk), carrying up to ChunkOverlap characters of trailing splits into the
// next chunk.
func (s *Splitter) merge(splits []string) []string {
	var (
		chunks  []string
		current []string
		total   int
	)

	sepLen := len(s.config.Separator)

	joinedLen := func(extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}

		return total + extra
	}

	for _, split := range splits {
		length := len(split)

		if joinedLen(length) > s.config.ChunkSize && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, s.config.Separator)); chunk != "" {
				chunks = append(chunks, chunk)
			}

			for total > s.config.ChunkOverlap || (joinedLen(length) > s.config.ChunkSize && total > 0) {
				total -= len(current[0])
				if len(current) > 1 {
					total -= sepLen
				}

				current = current[1:]
			}
		}

		current = append(current, split)
		total += length

		if len(current) > 1 {
			total += sepLen
		}
	}

	if chunk := strings.TrimSpace(strings.Join(current, s.config.Separator)); chunk != "" {
		chunks = append(chunks, chunk)
	}

	return chunks
}

// SplitDocuments splits every document, copying its metadata onto each chunk.
func (s *Splitter) SplitDocuments(ctx context.Context, docs []capability.Document) ([]capability.Document, error) {
	var out []capability.Document

	for _, doc := range docs {
		chunks, err := s.SplitText(ctx, doc.PageContent)
		if err != nil {
			return nil, err
		}

		for i, chunk := range chunks {
			metadata := maps.Clone(doc.Metadata)
			if metadata == nil {
				metadata = map[string]any{}
			}

			metadata["chunk"] = i

			out = append(out, capability.Document{PageContent: chunk, Metadata: metadata})
		}
	}

	return out, nil
}
