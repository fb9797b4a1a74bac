package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/ai"
	"github.com/showfolio/showfolio/internal/common"
	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
	"github.com/showfolio/showfolio/internal/rag"
)

var (
	ErrEmptyMessage  = errors.New("message is empty")
	ErrAgentInactive = errors.New("agent is not active")
)

// degradedAnswer is returned when retrieval is down. Deterministic on
// purpose: a retrieval outage often means the embedding provider is down
// too, so no further provider call is attempted.
const degradedAnswer = "I don't have information about that in this portfolio right now. Please try again in a moment."

// AgentSource reads agent configuration rows.
type AgentSource interface {
	GetAgent(ctx context.Context, id uint64) (*portfolio.Agent, error)
	ListActiveAgents(ctx context.Context, limit int) ([]portfolio.Agent, error)
}

// Enricher resolves chunks to citations.
type Enricher interface {
	Enrich(ctx context.Context, chunks []rag.RetrievedChunk) []rag.Citation
}

// CredentialOpener resolves one agent's provider API key.
type CredentialOpener interface {
	DecryptAgentAPIKey(sealed, envFallback string) (string, error)
}

type Request struct {
	PortfolioID uint64
	AgentID     uint64
	Message     string
	SessionID   string
	Language    string
}

type Result struct {
	Answer    string         `json:"answer"`
	Citations []rag.Citation `json:"citations"`
	AgentID   uint64         `json:"agent_id"`
	SessionID string         `json:"session_id"`
	Cached    bool           `json:"cached"`
}

// ServiceDeps wires the orchestrator. Everything is injected; the service
// holds no ambient state.
type ServiceDeps struct {
	Repo        *Repo
	Agents      AgentSource
	Registry    *ai.Registry
	Credentials CredentialOpener
	Searcher    rag.VectorSearcher
	Enricher    Enricher
	Cache       *rag.ResponseCache
	Prompts     *rag.PromptBuilder
	Log         logging.Logger

	// Env fallback when an agent carries no sealed credential.
	FallbackAPIKey string
}

// Service runs one agent's chat turn end to end: complexity, cache,
// retrieval, enrichment, prompt, provider, persistence.
type Service struct {
	repo        *Repo
	agents      AgentSource
	registry    *ai.Registry
	credentials CredentialOpener
	searcher    rag.VectorSearcher
	enricher    Enricher
	cache       *rag.ResponseCache
	prompts     *rag.PromptBuilder
	log         logging.Logger
	fallbackKey string
}

func NewService(d ServiceDeps) *Service {
	return &Service{
		repo:        d.Repo,
		agents:      d.Agents,
		registry:    d.Registry,
		credentials: d.Credentials,
		searcher:    d.Searcher,
		enricher:    d.Enricher,
		cache:       d.Cache,
		prompts:     d.Prompts,
		log:         d.Log,
		fallbackKey: d.FallbackAPIKey,
	}
}

// Respond runs the synchronous turn. The assistant turn is persisted only
// after the answer fully exists; a provider failure leaves the session
// untouched.
func (s *Service) Respond(ctx context.Context, req Request) (*Result, error) {
	turn, err := s.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	if cached, ok := s.cache.GetResponse(ctx, turn.agent.ID, req.PortfolioID, req.Language, turn.topK, turn.message); ok {
		sessionID, err := s.persistTurn(ctx, turn, cached.Answer, cached.Citations, true)
		if err != nil {
			return nil, err
		}
		return &Result{
			Answer:    cached.Answer,
			Citations: ensureCitations(cached.Citations),
			AgentID:   turn.agent.ID,
			SessionID: sessionID,
			Cached:    true,
		}, nil
	}

	answer, citations, degraded, err := s.generate(ctx, turn)
	if err != nil {
		return nil, err
	}

	sessionID, err := s.persistTurn(ctx, turn, answer, citations, false)
	if err != nil {
		return nil, err
	}
	if !degraded {
		s.cache.SetResponse(ctx, turn.agent.ID, req.PortfolioID, req.Language, turn.topK, turn.message,
			rag.CachedAnswer{Answer: answer, Citations: citations})
	}
	return &Result{
		Answer:    answer,
		Citations: ensureCitations(citations),
		AgentID:   turn.agent.ID,
		SessionID: sessionID,
	}, nil
}

// ensureCitations keeps the wire shape stable: no citations marshals as
// an empty array, never null.
func ensureCitations(citations []rag.Citation) []rag.Citation {
	if citations == nil {
		return []rag.Citation{}
	}
	return citations
}

// turnState carries everything resolved before the provider call.
type turnState struct {
	req       Request
	message   string
	agent     *portfolio.Agent
	analysis  rag.Analysis
	topK      int
	maxTokens int
	session   *Session
	history   []rag.Turn
}

func (s *Service) prepare(ctx context.Context, req Request) (*turnState, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, ErrEmptyMessage
	}

	agent, err := s.agents.GetAgent(ctx, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !agent.IsActive {
		return nil, ErrAgentInactive
	}

	analysis := rag.Analyze(message)
	topK := analysis.TopK
	if agent.TopK > 0 && agent.TopK < topK {
		topK = agent.TopK
	}
	maxTokens := analysis.MaxContextTokens
	if agent.MaxContextTokens > 0 && agent.MaxContextTokens < maxTokens {
		maxTokens = agent.MaxContextTokens
	}

	turn := &turnState{
		req:       req,
		message:   message,
		agent:     agent,
		analysis:  analysis,
		topK:      topK,
		maxTokens: maxTokens,
	}

	if req.SessionID != "" {
		session, err := s.repo.GetSessionBySessionID(ctx, req.SessionID)
		if err != nil {
			return nil, err
		}
		// Sessions belong to one portfolio. A session id presented against
		// another portfolio is treated as unknown, not as an ownership error,
		// so the endpoint leaks nothing about foreign sessions.
		if session.PortfolioID != req.PortfolioID {
			return nil, gorm.ErrRecordNotFound
		}
		turn.session = session
		history, err := s.loadHistory(ctx, session.SessionID)
		if err != nil {
			return nil, err
		}
		turn.history = history
	}
	return turn, nil
}

// generate produces the answer and citations for a cache-missed turn.
// degraded answers must not be cached.
func (s *Service) generate(ctx context.Context, turn *turnState) (answer string, citations []rag.Citation, degraded bool, err error) {
	provider, err := s.providerForAgent(ctx, turn.agent)
	if err != nil {
		return "", nil, false, err
	}
	msgs, citations, degraded, err := s.compose(ctx, provider, turn)
	if err != nil {
		return "", nil, false, err
	}
	if degraded {
		return degradedAnswer, nil, true, nil
	}
	answer, err = provider.Chat(ctx, msgs)
	if err != nil {
		return "", nil, false, err
	}
	return answer, citations, false, nil
}

// compose resolves everything up to the provider call: retrieval,
// enrichment, context assembly, prompt. degraded=true means retrieval is
// down and the caller should emit the canned answer without a provider
// call.
func (s *Service) compose(ctx context.Context, provider ai.Provider, turn *turnState) (msgs []ai.Message, citations []rag.Citation, degraded bool, err error) {
	if turn.analysis.Tier == rag.TierTrivial {
		return s.prompts.BuildConversational(turn.message, turn.agent.Style, turn.req.Language, turn.history), nil, false, nil
	}

	chunks, err := s.retrieve(ctx, provider, turn)
	if err != nil {
		var re *rag.RetrievalError
		if !errors.As(err, &re) {
			return nil, nil, false, err
		}
		s.log.WithFields(logging.Fields{
			"agent_id":     turn.agent.ID,
			"portfolio_id": turn.req.PortfolioID,
			"stage":        re.Stage,
			"error":        re.Err.Error(),
		}).Warn("retrieval failed, degrading answer")
		return nil, nil, true, nil
	}

	if len(chunks) > 0 {
		citations = rag.Dedup(s.enricher.Enrich(ctx, chunks))
	}
	contextBlock, _ := rag.AssembleContext(chunks, turn.maxTokens)
	msgs = s.prompts.BuildRAG(turn.message, contextBlock, turn.agent.Style, turn.req.Language, turn.agent.Instructions, turn.history)
	return msgs, citations, false, nil
}

func (s *Service) retrieve(ctx context.Context, provider ai.Provider, turn *turnState) ([]rag.RetrievedChunk, error) {
	if cached, ok := s.cache.GetChunks(ctx, turn.agent.ID, turn.req.PortfolioID, turn.req.Language, turn.topK, turn.message); ok {
		return cached, nil
	}
	retriever := rag.NewRetriever(provider, s.searcher)
	chunks, err := retriever.Retrieve(ctx, turn.req.PortfolioID, turn.message, turn.topK, turn.agent.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	s.cache.SetChunks(ctx, turn.agent.ID, turn.req.PortfolioID, turn.req.Language, turn.topK, turn.message, chunks)
	return chunks, nil
}

func (s *Service) providerForAgent(ctx context.Context, agent *portfolio.Agent) (ai.Provider, error) {
	apiKey, err := s.credentials.DecryptAgentAPIKey(agent.EncryptedAPIKey, s.fallbackKey)
	if err != nil {
		return nil, err
	}
	return s.registry.Get(ctx, agent.Provider, agent.ChatModel, agent.EmbeddingModel, apiKey)
}

func (s *Service) loadHistory(ctx context.Context, sessionID string) ([]rag.Turn, error) {
	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, sessionID, s.prompts.HistoryWindow)
	if err != nil {
		return nil, err
	}
	// reverse to ASC (oldest -> newest)
	history := make([]rag.Turn, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		history = append(history, rag.Turn{Role: m.Role, Content: m.Content})
	}
	return history, nil
}

// persistTurn creates the session if this is its first turn, then writes
// both message halves atomically.
func (s *Service) persistTurn(ctx context.Context, turn *turnState, answer string, citations []rag.Citation, cached bool) (string, error) {
	sessionID := ""
	if turn.session != nil {
		sessionID = turn.session.SessionID
		if err := s.repo.TouchSession(ctx, sessionID); err != nil {
			s.log.WithFields(logging.Fields{
				"session_id": sessionID,
				"error":      err.Error(),
			}).Warn("failed to touch session")
		}
	} else {
		sid, err := common.NewULID()
		if err != nil {
			return "", err
		}
		session := &Session{
			SessionID:   sid,
			PortfolioID: turn.req.PortfolioID,
			AgentID:     turn.agent.ID,
			Language:    turn.req.Language,
		}
		if err := s.repo.CreateSession(ctx, session); err != nil {
			return "", err
		}
		turn.session = session
		sessionID = sid
	}

	citationsJSON := ""
	if len(citations) > 0 {
		raw, err := json.Marshal(citations)
		if err != nil {
			return "", err
		}
		citationsJSON = string(raw)
	}

	userMsg := &Message{SessionID: sessionID, Role: "user", Content: turn.message}
	assistantMsg := &Message{
		SessionID: sessionID,
		Role:      "assistant",
		Content:   answer,
		Citations: citationsJSON,
		Cached:    cached,
	}
	if err := s.repo.InsertTurn(ctx, userMsg, assistantMsg); err != nil {
		return "", err
	}
	return sessionID, nil
}

func (s *Service) ListMessages(ctx context.Context, sessionID string, limit int, beforeID uint64) ([]Message, error) {
	return s.repo.ListMessages(ctx, sessionID, limit, beforeID)
}

func (s *Service) ListSessions(ctx context.Context, portfolioID uint64, limit int, beforeID uint64) ([]Session, error) {
	return s.repo.ListSessions(ctx, portfolioID, limit, beforeID)
}
