package indexer

import "strings"

const (
	defaultMaxWords     = 180
	defaultOverlapWords = 30
)

// SplitWords cuts text into word windows of at most maxWords, each window
// carrying the last overlap words of its predecessor. Overlap keeps a fact
// that straddles a boundary retrievable from either side.
func SplitWords(text string, maxWords, overlap int) []string {
	if maxWords <= 0 {
		maxWords = defaultMaxWords
	}
	if overlap < 0 || overlap >= maxWords {
		overlap = defaultOverlapWords
		if overlap >= maxWords {
			overlap = maxWords / 4
		}
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= maxWords {
		return []string{strings.Join(words, " ")}
	}

	var chunks []string
	step := maxWords - overlap
	for start := 0; start < len(words); start += step {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
