package rag

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
)

func newEnricherDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&portfolio.Category{},
		&portfolio.Skill{},
		&portfolio.Experience{},
		&portfolio.Section{},
		&portfolio.Link{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func TestEnrichResolvesSourceRows(t *testing.T) {
	db := newEnricherDB(t)
	db.Create(&portfolio.Skill{ID: 7, PortfolioID: 1, Name: "Go", Level: "advanced", Description: "Backend services and tooling"})
	db.Create(&portfolio.Experience{ID: 3, PortfolioID: 1, Company: "Acme", Role: "Engineer", Summary: "Built the billing pipeline"})
	db.Create(&portfolio.Link{ID: 9, PortfolioID: 1, Label: "GitHub", URL: "https://github.com/example"})

	e := NewCitationEnricher(db, logging.New())
	citations := e.Enrich(context.Background(), []RetrievedChunk{
		{SourceTable: "skills", SourceID: 7, Text: "go text", Score: 0.9},
		{SourceTable: "experiences", SourceID: 3, Text: "acme text", Score: 0.8},
		{SourceTable: "links", SourceID: 9, Text: "link text", Score: 0.7},
	})

	if len(citations) != 3 {
		t.Fatalf("expected 3 citations, got %d", len(citations))
	}
	if citations[0].Title != "Go" || citations[0].Type != "skill" {
		t.Fatalf("unexpected skill citation: %+v", citations[0])
	}
	if citations[0].Metadata["level"] != "advanced" {
		t.Fatalf("expected skill level metadata, got %v", citations[0].Metadata)
	}
	if citations[1].Title != "Engineer at Acme" {
		t.Fatalf("unexpected experience title: %q", citations[1].Title)
	}
	if citations[2].URL != "https://github.com/example" {
		t.Fatalf("unexpected link url: %q", citations[2].URL)
	}
}

func TestEnrichMissingRowFallsBack(t *testing.T) {
	db := newEnricherDB(t)
	db.Create(&portfolio.Section{ID: 1, PortfolioID: 1, Title: "About", Body: "A long intro"})

	e := NewCitationEnricher(db, logging.New())
	citations := e.Enrich(context.Background(), []RetrievedChunk{
		{SourceTable: "sections", SourceID: 404, Text: "stale", Score: 0.6},
		{SourceTable: "sections", SourceID: 1, Text: "about text", Score: 0.5},
	})

	if len(citations) != 2 {
		t.Fatalf("expected 2 citations, got %d", len(citations))
	}
	if citations[0].Type != "sections" || citations[0].Title != "sections #404" {
		t.Fatalf("expected fallback citation, got %+v", citations[0])
	}
	if citations[1].Title != "About" {
		t.Fatalf("expected the good lookup to survive, got %+v", citations[1])
	}
}

func TestEnrichUnknownTableFallsBack(t *testing.T) {
	e := NewCitationEnricher(newEnricherDB(t), logging.New())
	citations := e.Enrich(context.Background(), []RetrievedChunk{
		{SourceTable: "widgets", SourceID: 2, Score: 0.4},
	})
	if citations[0].Type != "widgets" {
		t.Fatalf("expected fallback for unknown table, got %+v", citations[0])
	}
}

func TestDedupKeepsBestPerSource(t *testing.T) {
	in := []Citation{
		{SourceTable: "skills", SourceID: 1, Score: 0.5},
		{SourceTable: "skills", SourceID: 1, Score: 0.9},
		{SourceTable: "sections", SourceID: 2, Score: 0.7},
	}
	out := Dedup(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 after dedup, got %d", len(out))
	}
	if out[0].SourceTable != "skills" || out[0].Score != 0.9 {
		t.Fatalf("expected best skill citation first, got %+v", out[0])
	}

	again := Dedup(out)
	if len(again) != len(out) {
		t.Fatalf("dedup is not idempotent: %d then %d", len(out), len(again))
	}
	for i := range again {
		if again[i].SourceTable != out[i].SourceTable || again[i].SourceID != out[i].SourceID {
			t.Fatalf("dedup reordered on second pass at %d", i)
		}
	}
}
