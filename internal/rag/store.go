package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// Chunk is a stored, embedded fragment of portfolio content.
type Chunk struct {
	ID          string
	PortfolioID uint64
	SourceTable string
	SourceID    uint64
	SourceField string
	PartIndex   int
	Version     int
	Text        string
	Embedding   []float32
	Metadata    map[string]any
}

// ChunkStore persists and searches portfolio_chunks. Search requires the
// pgvector extension; writes happen from the indexer worker only.
type ChunkStore struct {
	db *gorm.DB
}

func NewChunkStore(db *gorm.DB) *ChunkStore {
	return &ChunkStore{db: db}
}

// Search returns the topK chunks of one portfolio by cosine similarity,
// descending. Postgres ordering by the distance operator is stable, which
// keeps equal-score ties in insertion order.
func (s *ChunkStore) Search(ctx context.Context, portfolioID uint64, embedding []float32, topK int) ([]RetrievedChunk, error) {
	if portfolioID == 0 {
		return nil, errors.New("portfolio id is required")
	}
	if len(embedding) == 0 {
		return nil, errors.New("embedding is required")
	}
	if topK <= 0 {
		topK = 5
	}

	vec := pgvector.NewVector(embedding)
	rows, err := s.db.WithContext(ctx).Raw(`
		SELECT id,
			source_table,
			source_id,
			source_field,
			part_index,
			version,
			chunk_text,
			1 - (embedding <=> ?) AS score
		FROM portfolio_chunks
		WHERE portfolio_id = ?
		ORDER BY embedding <=> ?
		LIMIT ?
	`, vec, portfolioID, vec, topK).Rows()
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	var chunks []RetrievedChunk
	for rows.Next() {
		var c RetrievedChunk
		if err := rows.Scan(
			&c.ChunkID,
			&c.SourceTable,
			&c.SourceID,
			&c.SourceField,
			&c.PartIndex,
			&c.Version,
			&c.Text,
			&c.Score,
		); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// Upsert replaces a source row's chunks: delete then insert, in one
// transaction, so a reindex never leaves mixed versions behind.
func (s *ChunkStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	type sourceKey struct {
		portfolioID uint64
		table       string
		id          uint64
	}
	sources := make(map[sourceKey]struct{})
	for _, c := range chunks {
		if c.PortfolioID == 0 {
			return errors.New("portfolio id is required for chunk")
		}
		if c.SourceTable == "" {
			return errors.New("source table is required for chunk")
		}
		sources[sourceKey{c.PortfolioID, c.SourceTable, c.SourceID}] = struct{}{}
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for key := range sources {
			if err := tx.Exec(`
				DELETE FROM portfolio_chunks
				WHERE portfolio_id = ? AND source_table = ? AND source_id = ?
			`, key.portfolioID, key.table, key.id).Error; err != nil {
				return fmt.Errorf("delete existing chunks: %w", err)
			}
		}
		for _, c := range chunks {
			metadata, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("encode chunk metadata: %w", err)
			}
			if err := tx.Exec(`
				INSERT INTO portfolio_chunks (
					id,
					portfolio_id,
					source_table,
					source_id,
					source_field,
					part_index,
					version,
					chunk_text,
					embedding,
					metadata
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, c.ID, c.PortfolioID, c.SourceTable, c.SourceID, c.SourceField,
				c.PartIndex, c.Version, c.Text, pgvector.NewVector(c.Embedding), metadata,
			).Error; err != nil {
				return fmt.Errorf("insert chunk: %w", err)
			}
		}
		return nil
	})
}

func (s *ChunkStore) DeleteByPortfolio(ctx context.Context, portfolioID uint64) error {
	if portfolioID == 0 {
		return errors.New("portfolio id is required")
	}
	if err := s.db.WithContext(ctx).Exec(`
		DELETE FROM portfolio_chunks WHERE portfolio_id = ?
	`, portfolioID).Error; err != nil {
		return fmt.Errorf("delete portfolio chunks: %w", err)
	}
	return nil
}
