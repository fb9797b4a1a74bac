package rag

import (
	"strings"
)

const chunkSeparator = "\n\n---\n\n"

// EstimateTokens approximates token count at 4 characters per token,
// rounding up. Close enough for budgeting; never used for billing.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// AssembleContext joins chunks into one grounding block under maxTokens.
// Chunks are taken greedily in the given order; a chunk that does not fit
// whole is skipped, never truncated. Returns the block and how many chunks
// made it in.
func AssembleContext(chunks []RetrievedChunk, maxTokens int) (string, int) {
	if len(chunks) == 0 || maxTokens <= 0 {
		return "", 0
	}

	sepTokens := EstimateTokens(chunkSeparator)
	var b strings.Builder
	used := 0
	remaining := maxTokens
	for _, c := range chunks {
		block := sourceLabel(c) + "\n" + strings.TrimSpace(c.Text)
		cost := EstimateTokens(block)
		if used > 0 {
			cost += sepTokens
		}
		if cost > remaining {
			continue
		}
		if used > 0 {
			b.WriteString(chunkSeparator)
		}
		b.WriteString(block)
		remaining -= cost
		used++
	}
	return b.String(), used
}

func sourceLabel(c RetrievedChunk) string {
	var b strings.Builder
	b.WriteString("[source: ")
	b.WriteString(c.SourceTable)
	if c.SourceField != "" {
		b.WriteString(".")
		b.WriteString(c.SourceField)
	}
	b.WriteString("]")
	return b.String()
}
