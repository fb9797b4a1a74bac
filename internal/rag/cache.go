package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/showfolio/showfolio/internal/logging"
)

// CacheBackend is the key-value surface the response cache rides on.
// Get returns ok=false for a clean miss.
type CacheBackend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedAnswer is a previously generated reply with its citations.
type CachedAnswer struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// ResponseCache caches full answers and retrieved chunk sets. Every backend
// failure is logged and treated as a miss; the cache can never fail a turn.
type ResponseCache struct {
	backend     CacheBackend
	log         logging.Logger
	responseTTL time.Duration
	chunkTTL    time.Duration
}

func NewResponseCache(backend CacheBackend, log logging.Logger, responseTTL, chunkTTL time.Duration) *ResponseCache {
	if responseTTL <= 0 {
		responseTTL = time.Hour
	}
	if chunkTTL <= 0 {
		chunkTTL = 30 * time.Minute
	}
	return &ResponseCache{backend: backend, log: log, responseTTL: responseTTL, chunkTTL: chunkTTL}
}

// CacheKey covers every parameter that can change the answer. Leaving one
// out leaks answers across tenants or languages.
func CacheKey(kind string, agentID, portfolioID uint64, language string, topK int, query string) string {
	sum := sha256.Sum256([]byte(normalizeQuery(query)))
	return fmt.Sprintf("rag:%s:%d:%d:%s:%d:%s",
		kind, agentID, portfolioID, normalizeLanguage(language), topK, hex.EncodeToString(sum[:]))
}

func normalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

func normalizeLanguage(l string) string {
	l = strings.ToLower(strings.TrimSpace(l))
	if l == "" {
		return "default"
	}
	return l
}

func (c *ResponseCache) GetResponse(ctx context.Context, agentID, portfolioID uint64, language string, topK int, query string) (*CachedAnswer, bool) {
	key := CacheKey("resp", agentID, portfolioID, language, topK, query)
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.WithFields(logging.Fields{"key": key, "error": err.Error()}).Warn("response cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var answer CachedAnswer
	if err := json.Unmarshal([]byte(raw), &answer); err != nil {
		c.log.WithFields(logging.Fields{"key": key, "error": err.Error()}).Warn("response cache entry corrupt")
		return nil, false
	}
	return &answer, true
}

func (c *ResponseCache) SetResponse(ctx context.Context, agentID, portfolioID uint64, language string, topK int, query string, answer CachedAnswer) {
	raw, err := json.Marshal(answer)
	if err != nil {
		c.log.WithFields(logging.Fields{"error": err.Error()}).Warn("response cache encode failed")
		return
	}
	key := CacheKey("resp", agentID, portfolioID, language, topK, query)
	if err := c.backend.Set(ctx, key, string(raw), c.responseTTL); err != nil {
		c.log.WithFields(logging.Fields{"key": key, "error": err.Error()}).Warn("response cache write failed")
	}
}

func (c *ResponseCache) GetChunks(ctx context.Context, agentID, portfolioID uint64, language string, topK int, query string) ([]RetrievedChunk, bool) {
	key := CacheKey("chunks", agentID, portfolioID, language, topK, query)
	raw, ok, err := c.backend.Get(ctx, key)
	if err != nil {
		c.log.WithFields(logging.Fields{"key": key, "error": err.Error()}).Warn("chunk cache read failed")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var chunks []RetrievedChunk
	if err := json.Unmarshal([]byte(raw), &chunks); err != nil {
		c.log.WithFields(logging.Fields{"key": key, "error": err.Error()}).Warn("chunk cache entry corrupt")
		return nil, false
	}
	return chunks, true
}

func (c *ResponseCache) SetChunks(ctx context.Context, agentID, portfolioID uint64, language string, topK int, query string, chunks []RetrievedChunk) {
	raw, err := json.Marshal(chunks)
	if err != nil {
		c.log.WithFields(logging.Fields{"error": err.Error()}).Warn("chunk cache encode failed")
		return
	}
	key := CacheKey("chunks", agentID, portfolioID, language, topK, query)
	if err := c.backend.Set(ctx, key, string(raw), c.chunkTTL); err != nil {
		c.log.WithFields(logging.Fields{"key": key, "error": err.Error()}).Warn("chunk cache write failed")
	}
}
