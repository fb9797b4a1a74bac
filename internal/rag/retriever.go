package rag

import (
	"context"
	"fmt"
	"sort"
)

// Embedder turns text into vectors. Satisfied by the ai providers.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// VectorSearcher is the search side of the chunk store.
type VectorSearcher interface {
	Search(ctx context.Context, portfolioID uint64, embedding []float32, topK int) ([]RetrievedChunk, error)
}

// Retriever embeds a query and searches one portfolio's chunks.
type Retriever struct {
	embedder Embedder
	searcher VectorSearcher
}

func NewRetriever(embedder Embedder, searcher VectorSearcher) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher}
}

// Retrieve returns up to topK chunks scoring at or above threshold, sorted
// by score descending. Failures come back as *RetrievalError so callers
// can degrade instead of aborting the whole response.
func (r *Retriever) Retrieve(ctx context.Context, portfolioID uint64, query string, topK int, threshold float64) ([]RetrievedChunk, error) {
	if query == "" {
		return nil, &RetrievalError{Stage: "embed", Err: fmt.Errorf("empty query")}
	}
	if topK <= 0 {
		return nil, nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, &RetrievalError{Stage: "embed", Err: err}
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, &RetrievalError{Stage: "embed", Err: fmt.Errorf("embedder returned no vector")}
	}

	chunks, err := r.searcher.Search(ctx, portfolioID, vectors[0], topK)
	if err != nil {
		return nil, &RetrievalError{Stage: "search", Err: err}
	}

	filtered := chunks[:0]
	for _, c := range chunks {
		if c.Score >= threshold {
			filtered = append(filtered, c)
		}
	}
	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Score > filtered[j].Score
	})
	return filtered, nil
}
