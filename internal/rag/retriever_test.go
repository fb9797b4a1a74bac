package rag

import (
	"context"
	"errors"
	"testing"
)

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.vectors, nil
}

type fakeSearcher struct {
	chunks []RetrievedChunk
	err    error
	topK   int
}

func (f *fakeSearcher) Search(_ context.Context, _ uint64, _ []float32, topK int) ([]RetrievedChunk, error) {
	f.topK = topK
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks, nil
}

func TestRetrieveFiltersByThreshold(t *testing.T) {
	searcher := &fakeSearcher{chunks: []RetrievedChunk{
		{ChunkID: "a", Score: 0.91},
		{ChunkID: "b", Score: 0.55},
		{ChunkID: "c", Score: 0.74},
	}}
	r := NewRetriever(&fakeEmbedder{vectors: [][]float32{{0.1, 0.2}}}, searcher)

	chunks, err := r.Retrieve(context.Background(), 1, "what stack did you use", 5, 0.7)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks above threshold, got %d", len(chunks))
	}
	if chunks[0].ChunkID != "a" || chunks[1].ChunkID != "c" {
		t.Fatalf("expected score-descending order, got %q then %q", chunks[0].ChunkID, chunks[1].ChunkID)
	}
	if searcher.topK != 5 {
		t.Fatalf("expected topK 5 passed through, got %d", searcher.topK)
	}
}

func TestRetrieveZeroTopKSkipsSearch(t *testing.T) {
	searcher := &fakeSearcher{err: errors.New("should not be called")}
	r := NewRetriever(&fakeEmbedder{vectors: [][]float32{{0.1}}}, searcher)

	chunks, err := r.Retrieve(context.Background(), 1, "hi there", 0, 0.7)
	if err != nil {
		t.Fatalf("retrieve: %v", err)
	}
	if chunks != nil {
		t.Fatalf("expected nil chunks for topK 0, got %v", chunks)
	}
}

func TestRetrieveEmbedErrorIsRetrievalError(t *testing.T) {
	r := NewRetriever(&fakeEmbedder{err: errors.New("quota exceeded")}, &fakeSearcher{})

	_, err := r.Retrieve(context.Background(), 1, "tell me about the project", 3, 0.7)
	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RetrievalError, got %T", err)
	}
	if re.Stage != "embed" {
		t.Fatalf("expected stage embed, got %q", re.Stage)
	}
}

func TestRetrieveSearchErrorIsRetrievalError(t *testing.T) {
	r := NewRetriever(
		&fakeEmbedder{vectors: [][]float32{{0.3, 0.4}}},
		&fakeSearcher{err: errors.New("connection refused")},
	)

	_, err := r.Retrieve(context.Background(), 1, "tell me about the project", 3, 0.7)
	var re *RetrievalError
	if !errors.As(err, &re) {
		t.Fatalf("expected *RetrievalError, got %T", err)
	}
	if re.Stage != "search" {
		t.Fatalf("expected stage search, got %q", re.Stage)
	}
}
