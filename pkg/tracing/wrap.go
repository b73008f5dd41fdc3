package tracing

import (
	"context"
	"fmt"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
)

// Wrapper is implemented by every traced proxy.
type Wrapper interface {
	Unwrap() any
}

// Unwrap returns the object behind a traced proxy, or obj itself when it is not wrapped.
func Unwrap(obj any) any {
	for {
		w, ok := obj.(Wrapper)
		if !ok {
			return obj
		}

		obj = w.Unwrap()
	}
}

// Wrap returns a forwarding proxy implementing the capability interface of kind. Every
// operation on the proxy records exactly one input and one output event to sink; results
// and errors from the wrapped object are returned unchanged.
func Wrap(kind models.ConnectionType, obj any, sink Sink, source Source) (any, error) {
	if err := capability.Conforms(kind, obj); err != nil {
		return nil, err
	}

	if sink == nil {
		sink = Nop
	}

	source.ConnectionType = kind
	t := tracer{sink: sink, source: source}

	switch kind {
	case models.ConnectionTypeAiDocument:
		return &documentLoader{tracer: t, next: obj.(capability.DocumentLoader)}, nil
	case models.ConnectionTypeAiEmbedding:
		return &embeddings{tracer: t, next: obj.(capability.Embeddings)}, nil
	case models.ConnectionTypeAiTextSplitter:
		return &textSplitter{tracer: t, next: obj.(capability.TextSplitter)}, nil
	case models.ConnectionTypeAiVectorStore:
		return &vectorStore{tracer: t, next: obj.(capability.VectorStore)}, nil
	case models.ConnectionTypeAiRetriever:
		return &retriever{tracer: t, next: obj.(capability.Retriever)}, nil
	default:
		return nil, fmt.Errorf("%w: no tracer for %q", capability.ErrContractViolation, kind)
	}
}

// WrapAs is Wrap for callers that know the capability interface statically.
func WrapAs[T any](kind models.ConnectionType, obj T, sink Sink, source Source) (T, error) {
	wrapped, err := Wrap(kind, obj, sink, source)
	if err != nil {
		var zero T

		return zero, err
	}

	return capability.As[T](wrapped)
}

type tracer struct {
	sink   Sink
	source Source
}

// invoke runs call between an input and an output event. A panicking call still records its
// output event, as a failure, before the panic continues.
func invoke[T any](ctx context.Context, t tracer, operation string, in any, call func(context.Context) (T, error), summarize func(T) any) (out T, err error) {
	c := Begin(ctx, t.sink, t.source, operation, in)

	finished := false

	defer func() {
		if finished {
			return
		}

		r := recover()
		c.Finish(ctx, nil, fmt.Errorf("panic: %v", r))

		panic(r)
	}()

	out, err = call(ctx)

	var data any
	if err == nil && summarize != nil {
		data = summarize(out)
	}

	finished = true

	c.Finish(ctx, data, err)

	return out, err
}

func summarizeDocuments(docs []capability.Document) any {
	return map[string]any{"count": len(docs), "documents": docs}
}

func summarizeVectors(vectors [][]float32) any {
	dims := 0
	if len(vectors) > 0 {
		dims = len(vectors[0])
	}

	return map[string]any{"count": len(vectors), "dimensions": dims}
}

type documentLoader struct {
	tracer
	next capability.DocumentLoader
}

func (d *documentLoader) Unwrap() any { return d.next }

func (d *documentLoader) Load(ctx context.Context) ([]capability.Document, error) {
	return invoke(ctx, d.tracer, "load", nil, d.next.Load, summarizeDocuments)
}

type embeddings struct {
	tracer
	next capability.Embeddings
}

func (e *embeddings) Unwrap() any { return e.next }

func (e *embeddings) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return invoke(ctx, e.tracer, "embedDocuments", map[string]any{"texts": texts},
		func(ctx context.Context) ([][]float32, error) { return e.next.EmbedDocuments(ctx, texts) },
		summarizeVectors,
	)
}

func (e *embeddings) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return invoke(ctx, e.tracer, "embedQuery", map[string]any{"query": text},
		func(ctx context.Context) ([]float32, error) { return e.next.EmbedQuery(ctx, text) },
		func(v []float32) any { return map[string]any{"dimensions": len(v)} },
	)
}

type textSplitter struct {
	tracer
	next capability.TextSplitter
}

func (s *textSplitter) Unwrap() any { return s.next }

func (s *textSplitter) SplitText(ctx context.Context, text string) ([]string, error) {
	return invoke(ctx, s.tracer, "splitText", map[string]any{"length": len(text)},
		func(ctx context.Context) ([]string, error) { return s.next.SplitText(ctx, text) },
		func(chunks []string) any { return map[string]any{"chunks": chunks} },
	)
}

func (s *textSplitter) SplitDocuments(ctx context.Context, docs []capability.Document) ([]capability.Document, error) {
	return invoke(ctx, s.tracer, "splitDocuments", map[string]any{"count": len(docs)},
		func(ctx context.Context) ([]capability.Document, error) { return s.next.SplitDocuments(ctx, docs) },
		summarizeDocuments,
	)
}

type vectorStore struct {
	tracer
	next capability.VectorStore
}

func (v *vectorStore) Unwrap() any { return v.next }

func (v *vectorStore) AddDocuments(ctx context.Context, docs []capability.Document) error {
	_, err := invoke(ctx, v.tracer, "addDocuments", map[string]any{"count": len(docs)},
		func(ctx context.Context) (struct{}, error) { return struct{}{}, v.next.AddDocuments(ctx, docs) },
		func(struct{}) any { return map[string]any{"added": len(docs)} },
	)

	return err
}

func (v *vectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]capability.ScoredDocument, error) {
	return invoke(ctx, v.tracer, "similaritySearch", map[string]any{"query": query, "k": k},
		func(ctx context.Context) ([]capability.ScoredDocument, error) {
			return v.next.SimilaritySearch(ctx, query, k)
		},
		func(docs []capability.ScoredDocument) any {
			return map[string]any{"count": len(docs), "documents": docs}
		},
	)
}

// AsRetriever searches through the proxy, so retrieval is traced as similaritySearch calls.
func (v *vectorStore) AsRetriever(k int) capability.Retriever {
	return capability.NewStoreRetriever(v, k)
}

type retriever struct {
	tracer
	next capability.Retriever
}

func (r *retriever) Unwrap() any { return r.next }

func (r *retriever) GetRelevantDocuments(ctx context.Context, query string) ([]capability.Document, error) {
	return invoke(ctx, r.tracer, "getRelevantDocuments", map[string]any{"query": query},
		func(ctx context.Context) ([]capability.Document, error) {
			return r.next.GetRelevantDocuments(ctx, query)
		},
		summarizeDocuments,
	)
}
