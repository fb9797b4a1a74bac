package indexer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/common"
	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
	"github.com/showfolio/showfolio/internal/rag"
)

// Job asks for one portfolio's content to be re-embedded. A zero
// SourceTable means the whole portfolio.
type Job struct {
	PortfolioID uint64 `json:"portfolio_id"`
	SourceTable string `json:"source_table,omitempty"`
	SourceID    uint64 `json:"source_id,omitempty"`
}

// ChunkUpserter is the write side of the chunk store.
type ChunkUpserter interface {
	Upsert(ctx context.Context, chunks []rag.Chunk) error
}

// sourceText is one embeddable field of one content row.
type sourceText struct {
	table string
	id    uint64
	field string
	text  string
}

// Service rebuilds a portfolio's chunk index: load content rows, window
// the text, embed in one batch, replace the stored chunks.
type Service struct {
	db       *gorm.DB
	store    ChunkUpserter
	embedder rag.Embedder
	log      logging.Logger
	maxWords int
	overlap  int
}

func NewService(db *gorm.DB, store ChunkUpserter, embedder rag.Embedder, log logging.Logger) *Service {
	return &Service{
		db:       db,
		store:    store,
		embedder: embedder,
		log:      log,
		maxWords: defaultMaxWords,
		overlap:  defaultOverlapWords,
	}
}

// Reindex runs one job. Returns how many chunks were written.
func (s *Service) Reindex(ctx context.Context, job Job) (int, error) {
	if job.PortfolioID == 0 {
		return 0, fmt.Errorf("portfolio id is required")
	}

	sources, err := s.loadSources(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("load content rows: %w", err)
	}
	if len(sources) == 0 {
		s.log.WithFields(logging.Fields{"portfolio_id": job.PortfolioID}).Info("no content to index")
		return 0, nil
	}

	version := int(time.Now().Unix())
	var chunks []rag.Chunk
	var texts []string
	for _, src := range sources {
		for i, window := range SplitWords(src.text, s.maxWords, s.overlap) {
			id, err := common.NewULID()
			if err != nil {
				return 0, err
			}
			chunks = append(chunks, rag.Chunk{
				ID:          id,
				PortfolioID: job.PortfolioID,
				SourceTable: src.table,
				SourceID:    src.id,
				SourceField: src.field,
				PartIndex:   i,
				Version:     version,
				Text:        window,
			})
			texts = append(texts, window)
		}
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedding mismatch: %d chunks, %d vectors", len(chunks), len(vectors))
	}
	for i := range chunks {
		chunks[i].Embedding = vectors[i]
	}

	if err := s.store.Upsert(ctx, chunks); err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}
	s.log.WithFields(logging.Fields{
		"portfolio_id": job.PortfolioID,
		"chunks":       len(chunks),
		"sources":      len(sources),
	}).Info("portfolio reindexed")
	return len(chunks), nil
}

func (s *Service) loadSources(ctx context.Context, job Job) ([]sourceText, error) {
	var out []sourceText
	add := func(table string, id uint64, field, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		out = append(out, sourceText{table: table, id: id, field: field, text: text})
	}

	wantTable := func(table string) bool {
		return job.SourceTable == "" || job.SourceTable == table
	}
	scope := func(q *gorm.DB) *gorm.DB {
		q = q.Where("portfolio_id = ?", job.PortfolioID)
		if job.SourceID != 0 {
			q = q.Where("id = ?", job.SourceID)
		}
		return q
	}

	if wantTable("categories") {
		var rows []portfolio.Category
		if err := scope(s.db.WithContext(ctx)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			add("categories", r.ID, "description", r.Name+". "+r.Description)
		}
	}
	if wantTable("skills") {
		var rows []portfolio.Skill
		if err := scope(s.db.WithContext(ctx)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			text := r.Name
			if r.Level != "" {
				text += " (" + r.Level + ")"
			}
			if r.Description != "" {
				text += ". " + r.Description
			}
			add("skills", r.ID, "description", text)
		}
	}
	if wantTable("experiences") {
		var rows []portfolio.Experience
		if err := scope(s.db.WithContext(ctx)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			text := r.Company
			if r.Role != "" {
				text = r.Role + " at " + r.Company
			}
			if r.Summary != "" {
				text += ". " + r.Summary
			}
			add("experiences", r.ID, "summary", text)
		}
	}
	if wantTable("sections") {
		var rows []portfolio.Section
		if err := scope(s.db.WithContext(ctx)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			add("sections", r.ID, "body", r.Title+". "+r.Body)
		}
	}
	if wantTable("links") {
		var rows []portfolio.Link
		if err := scope(s.db.WithContext(ctx)).Find(&rows).Error; err != nil {
			return nil, err
		}
		for _, r := range rows {
			add("links", r.ID, "url", r.Label+": "+r.URL)
		}
	}
	return out, nil
}
