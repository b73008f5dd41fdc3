// Package vectorstore holds what the vector store sub-nodes share: the capability object handed
// to consumers and similarity ranking.
package vectorstore

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/dukex/capgraph/pkg/capability"
)

// ScoreKey is the metadata key similarity scores are attached under.
const ScoreKey = "score"

// Entry is a stored document with its vector.
type Entry struct {
	capability.Document
	Vector []float32 `json:"vector"`
}

// Backend persists entries and searches them by vector.
type Backend interface {
	Add(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float32, k int) ([]capability.ScoredDocument, error)
}

var _ capability.VectorStore = (*Store)(nil)

// Store implements capability.VectorStore over a backend, embedding with the embeddings of the
// run that supplied it. Several Stores may share one backend.
type Store struct {
	backend    Backend
	embeddings capability.Embeddings
}

func New(backend Backend, embeddings capability.Embeddings) *Store {
	return &Store{backend: backend, embeddings: embeddings}
}

func (s *Store) AddDocuments(ctx context.Context, docs []capability.Document) error {
	if len(docs) == 0 {
		return nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}

	vectors, err := s.embeddings.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed documents: %w", err)
	}

	if len(vectors) != len(docs) {
		return fmt.Errorf("embeddings returned %d vectors for %d documents", len(vectors), len(docs))
	}

	entries := make([]Entry, len(docs))
	for i, d := range docs {
		entries[i] = Entry{Document: d, Vector: vectors[i]}
	}

	return s.backend.Add(ctx, entries)
}

func (s *Store) SimilaritySearch(ctx context.Context, query string, k int) ([]capability.ScoredDocument, error) {
	vector, err := s.embeddings.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	return s.backend.Search(ctx, vector, k)
}

func (s *Store) AsRetriever(k int) capability.Retriever {
	return capability.NewStoreRetriever(s, k)
}

// Cosine returns the cosine similarity of two vectors, or 0 when either is all zeros or their
// lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, na, nb float64

	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 0
	}

	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Rank scores entries against the vector and returns the k best, highest score first. Ties keep
// insertion order. A non-positive k returns every entry.
func Rank(vector []float32, entries []Entry, k int) []capability.ScoredDocument {
	scored := make([]capability.ScoredDocument, len(entries))

	for i, e := range entries {
		score := Cosine(vector, e.Vector)

		metadata := maps.Clone(e.Metadata)
		if metadata == nil {
			metadata = map[string]any{}
		}

		metadata[ScoreKey] = score

		scored[i] = capability.ScoredDocument{
			Document: capability.Document{PageContent: e.PageContent, Metadata: metadata},
			Score:    score,
		}
	}

	slices.SortStableFunc(scored, func(a, b capability.ScoredDocument) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if k > 0 && len(scored) > k {
		scored = scored[:k]
	}

	return scored
}
