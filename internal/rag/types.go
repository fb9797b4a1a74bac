package rag

import "fmt"

// RetrievedChunk is a raw vector-search hit. Ephemeral: it only survives a
// request as a citation on the persisted turn.
type RetrievedChunk struct {
	ChunkID     string  `json:"chunk_id"`
	SourceTable string  `json:"source_table"`
	SourceID    uint64  `json:"source_id"`
	SourceField string  `json:"source_field"`
	PartIndex   int     `json:"part_index"`
	Version     int     `json:"version"`
	Text        string  `json:"text"`
	Score       float64 `json:"score"`
}

// Citation is a chunk enriched with display metadata. Derived and safe to
// recompute.
type Citation struct {
	SourceTable string         `json:"source_table"`
	SourceID    uint64         `json:"source_id"`
	Title       string         `json:"title"`
	Type        string         `json:"type"`
	URL         string         `json:"url,omitempty"`
	Preview     string         `json:"preview"`
	Text        string         `json:"-"`
	Score       float64        `json:"score"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// RetrievalError marks an embedding or vector-search failure. The
// orchestrator degrades to a "no information" answer instead of failing the
// turn.
type RetrievalError struct {
	Stage string
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
