package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
)

const previewRunes = 160

// CitationEnricher resolves retrieved chunks back to the content rows they
// came from. Every lookup runs in its own session: one broken row never
// poisons the other citations.
type CitationEnricher struct {
	db  *gorm.DB
	log logging.Logger
}

func NewCitationEnricher(db *gorm.DB, log logging.Logger) *CitationEnricher {
	return &CitationEnricher{db: db, log: log}
}

// Enrich builds one citation per chunk, preserving input order. Lookup
// failures and deleted rows degrade to a bare "{table} #{id}" citation.
func (e *CitationEnricher) Enrich(ctx context.Context, chunks []RetrievedChunk) []Citation {
	citations := make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		citation, err := e.lookup(ctx, c)
		if err != nil {
			e.log.WithFields(logging.Fields{
				"source_table": c.SourceTable,
				"source_id":    c.SourceID,
				"error":        err.Error(),
			}).Warn("citation lookup failed, using fallback")
			citation = fallbackCitation(c)
		}
		citations = append(citations, citation)
	}
	return citations
}

func (e *CitationEnricher) lookup(ctx context.Context, c RetrievedChunk) (Citation, error) {
	session := e.db.WithContext(ctx).Session(&gorm.Session{NewDB: true})

	citation := Citation{
		SourceTable: c.SourceTable,
		SourceID:    c.SourceID,
		Text:        c.Text,
		Score:       c.Score,
	}

	switch c.SourceTable {
	case "categories":
		var row portfolio.Category
		if err := session.First(&row, c.SourceID).Error; err != nil {
			return Citation{}, err
		}
		citation.Title = row.Name
		citation.Type = "category"
		citation.Preview = preview(row.Description)
	case "skills":
		var row portfolio.Skill
		if err := session.First(&row, c.SourceID).Error; err != nil {
			return Citation{}, err
		}
		citation.Title = row.Name
		citation.Type = "skill"
		citation.Preview = preview(row.Description)
		if row.Level != "" {
			citation.Metadata = map[string]any{"level": row.Level}
		}
	case "experiences":
		var row portfolio.Experience
		if err := session.First(&row, c.SourceID).Error; err != nil {
			return Citation{}, err
		}
		citation.Title = row.Company
		if row.Role != "" {
			citation.Title = row.Role + " at " + row.Company
		}
		citation.Type = "experience"
		citation.Preview = preview(row.Summary)
	case "sections":
		var row portfolio.Section
		if err := session.First(&row, c.SourceID).Error; err != nil {
			return Citation{}, err
		}
		citation.Title = row.Title
		citation.Type = "section"
		citation.Preview = preview(row.Body)
	case "links":
		var row portfolio.Link
		if err := session.First(&row, c.SourceID).Error; err != nil {
			return Citation{}, err
		}
		citation.Title = row.Label
		citation.Type = "link"
		citation.URL = row.URL
	default:
		return Citation{}, fmt.Errorf("unknown source table %q", c.SourceTable)
	}
	return citation, nil
}

func fallbackCitation(c RetrievedChunk) Citation {
	return Citation{
		SourceTable: c.SourceTable,
		SourceID:    c.SourceID,
		Title:       fmt.Sprintf("%s #%d", c.SourceTable, c.SourceID),
		Type:        c.SourceTable,
		Text:        c.Text,
		Score:       c.Score,
	}
}

func preview(text string) string {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewRunes]) + "…"
}

// Dedup keeps the highest-scoring citation per source row and returns the
// survivors sorted by score descending. Running it twice is a no-op.
func Dedup(citations []Citation) []Citation {
	type key struct {
		table string
		id    uint64
	}
	best := make(map[key]Citation, len(citations))
	for _, c := range citations {
		k := key{c.SourceTable, c.SourceID}
		if existing, ok := best[k]; !ok || c.Score > existing.Score {
			best[k] = c
		}
	}
	out := make([]Citation, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if out[i].SourceTable != out[j].SourceTable {
			return out[i].SourceTable < out[j].SourceTable
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}
