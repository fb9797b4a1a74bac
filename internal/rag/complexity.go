package rag

import "strings"

// Tier is a coarse classification of question specificity used to size
// retrieval parameters.
type Tier string

const (
	TierTrivial  Tier = "trivial"
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierComplex  Tier = "complex"
)

type Analysis struct {
	Tier             Tier
	TopK             int
	MaxContextTokens int
}

// smalltalk covers greetings and acknowledgements that need no retrieval.
var smalltalk = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "yo": {}, "hiya": {}, "howdy": {},
	"thanks": {}, "thank": {}, "thx": {}, "ty": {},
	"bye": {}, "goodbye": {}, "cya": {},
	"ok": {}, "okay": {}, "cool": {}, "nice": {}, "great": {}, "sure": {},
	"good": {}, "morning": {}, "afternoon": {}, "evening": {},
	"you": {}, "there": {}, "how": {}, "are": {}, "doing": {},
}

// questionCues raise specificity: the asker wants something concrete.
var questionCues = map[string]struct{}{
	"what": {}, "which": {}, "when": {}, "where": {}, "why": {}, "who": {},
	"describe": {}, "explain": {}, "tell": {}, "show": {}, "list": {},
	"compare": {}, "detail": {}, "summarize": {},
}

// Analyze classifies a message and derives retrieval parameters. It is a pure
// function of the message: identical input always yields identical output, so
// cache keys built from TopK stay stable.
func Analyze(message string) Analysis {
	words := tokenize(message)
	if len(words) == 0 {
		return Analysis{Tier: TierTrivial}
	}

	if isSmalltalk(words) {
		return Analysis{Tier: TierTrivial}
	}

	score := len(words)
	for _, w := range words {
		if _, ok := questionCues[w]; ok {
			score += 3
		}
	}
	if strings.Contains(message, "?") {
		score += 2
	}

	switch {
	case score < 8:
		return Analysis{Tier: TierSimple, TopK: 3, MaxContextTokens: 800}
	case score < 18:
		return Analysis{Tier: TierModerate, TopK: 5, MaxContextTokens: 1600}
	default:
		return Analysis{Tier: TierComplex, TopK: 8, MaxContextTokens: 2400}
	}
}

func isSmalltalk(words []string) bool {
	if len(words) > 6 {
		return false
	}
	for _, w := range words {
		if _, ok := smalltalk[w]; !ok {
			return false
		}
	}
	return true
}

func tokenize(message string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return ' '
		}
	}, strings.ToLower(message))
	return strings.Fields(cleaned)
}
