package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/showfolio/showfolio/internal/ai"
	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
	"github.com/showfolio/showfolio/internal/rag"
)

type stubProvider struct {
	reply     string
	chatErr   error
	chatCalls int
	last      []ai.Message
}

func (p *stubProvider) Chat(_ context.Context, messages []ai.Message) (string, error) {
	p.chatCalls++
	p.last = append([]ai.Message(nil), messages...)
	if p.chatErr != nil {
		return "", p.chatErr
	}
	return p.reply, nil
}

func (p *stubProvider) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	out := make([][]float32, len(inputs))
	for i := range out {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type stubSearcher struct {
	chunks []rag.RetrievedChunk
	err    error
	calls  int
}

func (s *stubSearcher) Search(_ context.Context, _ uint64, _ []float32, _ int) ([]rag.RetrievedChunk, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.chunks, nil
}

type stubEnricher struct{}

func (stubEnricher) Enrich(_ context.Context, chunks []rag.RetrievedChunk) []rag.Citation {
	citations := make([]rag.Citation, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, rag.Citation{
			SourceTable: c.SourceTable,
			SourceID:    c.SourceID,
			Title:       c.SourceTable,
			Text:        c.Text,
			Score:       c.Score,
		})
	}
	return citations
}

type stubCredentials struct{}

func (stubCredentials) DecryptAgentAPIKey(_, _ string) (string, error) { return "test-key", nil }

type mapBackend struct {
	data map[string]string
}

func newMapBackend() *mapBackend { return &mapBackend{data: make(map[string]string)} }

func (m *mapBackend) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *mapBackend) Set(_ context.Context, key, value string, _ time.Duration) error {
	m.data[key] = value
	return nil
}

type testEnv struct {
	db       *gorm.DB
	svc      *Service
	provider *stubProvider
	searcher *stubSearcher
	backend  *mapBackend
	repo     *Repo
	agents   *portfolio.Repo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}, &portfolio.Portfolio{}, &portfolio.Agent{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	provider := &stubProvider{reply: "ok"}
	reg := ai.NewRegistry()
	reg.Register("fake", func(_ context.Context, _, _, _ string) (ai.Provider, error) {
		return provider, nil
	})

	searcher := &stubSearcher{}
	backend := newMapBackend()
	log := logging.New()
	repo := NewRepo(db)
	agents := portfolio.NewRepo(db)

	svc := NewService(ServiceDeps{
		Repo:        repo,
		Agents:      agents,
		Registry:    reg,
		Credentials: stubCredentials{},
		Searcher:    searcher,
		Enricher:    stubEnricher{},
		Cache:       rag.NewResponseCache(backend, log, time.Hour, time.Hour),
		Prompts:     rag.NewPromptBuilder(12),
		Log:         log,
	})

	return &testEnv{db: db, svc: svc, provider: provider, searcher: searcher, backend: backend, repo: repo, agents: agents}
}

func (e *testEnv) seedAgent(t *testing.T) *portfolio.Agent {
	t.Helper()
	agent := &portfolio.Agent{
		Name:             "primary",
		Provider:         "fake",
		ChatModel:        "test-model",
		EmbeddingModel:   "test-embed",
		TopK:             5,
		ScoreThreshold:   0.3,
		MaxContextTokens: 1600,
		Style:            "professional",
		IsActive:         true,
	}
	if err := e.db.Create(agent).Error; err != nil {
		t.Fatalf("seed agent: %v", err)
	}
	return agent
}

func (e *testEnv) messageCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	if err := e.db.Model(&Message{}).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return n
}

func TestRespondTrivialGreetingSkipsRetrieval(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.provider.reply = "Hello! Ask me anything about this portfolio."

	res, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "hi",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if env.searcher.calls != 0 {
		t.Fatalf("trivial message must not hit vector search, got %d calls", env.searcher.calls)
	}
	if len(res.Citations) != 0 {
		t.Fatalf("trivial message must carry no citations, got %d", len(res.Citations))
	}
	if res.SessionID == "" {
		t.Fatalf("expected a lazily created session id")
	}
	if env.messageCount(t) != 2 {
		t.Fatalf("expected user+assistant persisted, got %d messages", env.messageCount(t))
	}
}

func TestRespondGroundedQuestion(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.searcher.chunks = []rag.RetrievedChunk{
		{ChunkID: "c1", SourceTable: "experiences", SourceID: 4, Text: "Led Snowflake warehouse migration", Score: 0.88},
	}
	env.provider.reply = "I led a Snowflake warehouse migration."

	res, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "Tell me about your Snowflake experience",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(res.Citations) != 1 {
		t.Fatalf("expected 1 citation, got %d", len(res.Citations))
	}
	if !strings.Contains(res.Answer, "Snowflake") {
		t.Fatalf("answer should mention the grounded fact: %q", res.Answer)
	}
	if !strings.Contains(env.provider.last[0].Content, "Snowflake") {
		t.Fatalf("system prompt should carry the retrieved context")
	}
}

func TestRespondOutOfContextQuestion(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.searcher.chunks = nil
	env.provider.reply = "I don't have that information in this portfolio."

	res, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "What is your favorite quantum algorithm implementation detail?",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if len(res.Citations) != 0 {
		t.Fatalf("expected no citations, got %d", len(res.Citations))
	}
	if !strings.Contains(env.provider.last[0].Content, "No portfolio context was found") {
		t.Fatalf("empty retrieval should produce the admit-ignorance prompt")
	}
}

func TestRespondNoPersistOnProviderFailure(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.provider.chatErr = errors.New("upstream 500")

	before := env.messageCount(t)
	_, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "Describe your most complex project in detail",
	})
	if err == nil {
		t.Fatalf("expected provider error")
	}
	if env.messageCount(t) != before {
		t.Fatalf("provider failure must not persist a turn")
	}
	var sessions int64
	env.db.Model(&Session{}).Count(&sessions)
	if sessions != 0 {
		t.Fatalf("provider failure must not create a session")
	}
}

func TestRespondCacheHitSkipsProvider(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.searcher.chunks = []rag.RetrievedChunk{
		{ChunkID: "c1", SourceTable: "skills", SourceID: 1, Text: "Go services", Score: 0.9},
	}
	env.provider.reply = "I build Go services."

	req := Request{PortfolioID: 1, AgentID: agent.ID, Message: "What do you build with Go and why does it matter"}
	first, err := env.svc.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("first respond: %v", err)
	}
	if first.Cached {
		t.Fatalf("first answer must not be cached")
	}

	second, err := env.svc.Respond(context.Background(), req)
	if err != nil {
		t.Fatalf("second respond: %v", err)
	}
	if !second.Cached {
		t.Fatalf("second answer should replay from cache")
	}
	if second.Answer != first.Answer {
		t.Fatalf("cached answer diverged: %q vs %q", second.Answer, first.Answer)
	}
	if env.provider.chatCalls != 1 {
		t.Fatalf("cache hit must skip the provider, got %d calls", env.provider.chatCalls)
	}
	// cache hits still persist the turn
	if env.messageCount(t) != 4 {
		t.Fatalf("expected both turns persisted, got %d messages", env.messageCount(t))
	}
}

func TestRespondRetrievalFailureDegrades(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.searcher.err = errors.New("pgvector down")

	res, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "Which databases have you worked with in production",
	})
	if err != nil {
		t.Fatalf("retrieval failure must degrade, not fail: %v", err)
	}
	if res.Answer != degradedAnswer {
		t.Fatalf("expected degraded answer, got %q", res.Answer)
	}
	if len(res.Citations) != 0 {
		t.Fatalf("degraded answer carries no citations")
	}
	if env.provider.chatCalls != 0 {
		t.Fatalf("degraded turn must not call the provider")
	}
	if len(env.backend.data) != 0 {
		t.Fatalf("degraded answer must not be cached")
	}
	if env.messageCount(t) != 2 {
		t.Fatalf("degraded turn is still persisted whole")
	}
}

func TestRespondHistoryFlowsToProvider(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.provider.reply = "Sure."

	first, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "Summarize your backend experience for me please",
	})
	if err != nil {
		t.Fatalf("first respond: %v", err)
	}

	_, err = env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, SessionID: first.SessionID,
		Message: "Now compare that with your frontend experience",
	})
	if err != nil {
		t.Fatalf("second respond: %v", err)
	}
	// system + 2 history + current question
	if len(env.provider.last) != 4 {
		t.Fatalf("expected history in provider messages, got %d", len(env.provider.last))
	}
	if env.provider.last[1].Content != "Summarize your backend experience for me please" {
		t.Fatalf("history order wrong: %q", env.provider.last[1].Content)
	}
}

func TestRespondUnknownSessionFails(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	_, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, SessionID: "01UNKNOWNSESSION0000000000",
		Message: "hello there, what projects have you shipped",
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestRespondCitationsNeverNull(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.provider.reply = "Hello!"

	res, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "hi",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	raw, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("marshal result: %v", err)
	}
	if !strings.Contains(string(raw), `"citations":[]`) {
		t.Fatalf("citations must marshal as an empty array, got %s", raw)
	}

	// cached replay goes through a JSON round trip that drops empty slices
	res, err = env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "hi",
	})
	if err != nil {
		t.Fatalf("cached respond: %v", err)
	}
	if !res.Cached {
		t.Fatalf("expected a cache hit on the second call")
	}
	if res.Citations == nil {
		t.Fatalf("cached result must carry an empty citation slice, not nil")
	}
}

func TestRespondSessionScopedToPortfolio(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	first, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID,
		Message: "Summarize the confidential migration project",
	})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	calls := env.provider.chatCalls

	_, err = env.svc.Respond(context.Background(), Request{
		PortfolioID: 2, AgentID: agent.ID, SessionID: first.SessionID,
		Message: "What did the previous message say",
	})
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("foreign portfolio must not resume the session, got %v", err)
	}
	if env.provider.chatCalls != calls {
		t.Fatalf("provider must not be called for a foreign session")
	}
	if env.messageCount(t) != 2 {
		t.Fatalf("rejected request must not append to the session, got %d messages", env.messageCount(t))
	}
}

func TestRespondInactiveAgentRejected(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)
	env.db.Model(agent).Update("is_active", false)

	_, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "hi",
	})
	if !errors.Is(err, ErrAgentInactive) {
		t.Fatalf("expected ErrAgentInactive, got %v", err)
	}
}

func TestRespondEmptyMessageRejected(t *testing.T) {
	env := newTestEnv(t)
	agent := env.seedAgent(t)

	_, err := env.svc.Respond(context.Background(), Request{
		PortfolioID: 1, AgentID: agent.ID, Message: "   ",
	})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
}
