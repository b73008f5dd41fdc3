// Package capability defines the interfaces of the live objects supplied through capability ports.
// Every capability kind has a fixed method set; consumers depend only on these interfaces.
package capability

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/capgraph/pkg/models"
)

// ErrContractViolation is returned when an object does not implement the interface of its port kind.
var ErrContractViolation = errors.New("capability does not satisfy port contract")

// Document is a piece of text with arbitrary metadata.
type Document struct {
	PageContent string         `json:"page_content"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// ScoredDocument is a document returned by a similarity search.
type ScoredDocument struct {
	Document
	Score float64 `json:"score"`
}

// DocumentLoader supplies documents through ai_document ports.
type DocumentLoader interface {
	Load(ctx context.Context) ([]Document, error)
}

// Embeddings turns text into vectors. Supplied through ai_embedding ports.
type Embeddings interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// TextSplitter chunks text. Supplied through ai_textSplitter ports.
type TextSplitter interface {
	SplitText(ctx context.Context, text string) ([]string, error)
	SplitDocuments(ctx context.Context, docs []Document) ([]Document, error)
}

// Retriever returns documents relevant to a query. Supplied through ai_retriever ports.
type Retriever interface {
	GetRelevantDocuments(ctx context.Context, query string) ([]Document, error)
}

// VectorStore stores embedded documents and searches them. Supplied through ai_vectorStore ports.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []Document) error
	SimilaritySearch(ctx context.Context, query string, k int) ([]ScoredDocument, error)
	AsRetriever(k int) Retriever
}

// StoreRetriever is the retriever view of a vector store: it returns the k documents most
// similar to the query. Searches go through the store it was built over, so a traced store
// traces them too.
type StoreRetriever struct {
	store VectorStore
	k     int
}

func NewStoreRetriever(store VectorStore, k int) *StoreRetriever {
	return &StoreRetriever{store: store, k: k}
}

func (r *StoreRetriever) GetRelevantDocuments(ctx context.Context, query string) ([]Document, error) {
	scored, err := r.store.SimilaritySearch(ctx, query, r.k)
	if err != nil {
		return nil, err
	}

	docs := make([]Document, len(scored))
	for i, s := range scored {
		docs[i] = s.Document
	}

	return docs, nil
}

// Conforms checks that obj implements the interface bound to the given connection type.
func Conforms(kind models.ConnectionType, obj any) error {
	var ok bool

	switch kind {
	case models.ConnectionTypeAiDocument:
		_, ok = obj.(DocumentLoader)
	case models.ConnectionTypeAiEmbedding:
		_, ok = obj.(Embeddings)
	case models.ConnectionTypeAiTextSplitter:
		_, ok = obj.(TextSplitter)
	case models.ConnectionTypeAiVectorStore:
		_, ok = obj.(VectorStore)
	case models.ConnectionTypeAiRetriever:
		_, ok = obj.(Retriever)
	default:
		return fmt.Errorf("%w: %q is not a capability kind", ErrContractViolation, kind)
	}

	if !ok {
		return fmt.Errorf("%w: %T is not a valid %s", ErrContractViolation, obj, kind.DisplayName())
	}

	return nil
}

// As converts a resolved capability into the interface T.
func As[T any](obj any) (T, error) {
	v, ok := obj.(T)
	if !ok {
		var zero T

		return zero, fmt.Errorf("%w: %T does not implement %T", ErrContractViolation, obj, &zero)
	}

	return v, nil
}

// StaticDocuments is a DocumentLoader over an already loaded set of documents.
type StaticDocuments []Document

// Load returns a copy of the documents.
func (s StaticDocuments) Load(_ context.Context) ([]Document, error) {
	docs := make([]Document, len(s))
	copy(docs, s)

	return docs, nil
}
