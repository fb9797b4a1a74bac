package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
)

type stubPortfolios struct {
	p *portfolio.Portfolio
}

func (s *stubPortfolios) GetPortfolio(_ context.Context, _ uint64) (*portfolio.Portfolio, error) {
	return s.p, nil
}

type stubAgents struct {
	agents []portfolio.Agent
}

func (s *stubAgents) GetAgent(_ context.Context, id uint64) (*portfolio.Agent, error) {
	for i := range s.agents {
		if s.agents[i].ID == id {
			return &s.agents[i], nil
		}
	}
	return nil, errors.New("agent not found")
}

func (s *stubAgents) ListActiveAgents(_ context.Context, limit int) ([]portfolio.Agent, error) {
	out := s.agents
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type scriptedOrchestrator struct {
	failing  map[uint64]error
	requests []Request
}

func (o *scriptedOrchestrator) Respond(_ context.Context, req Request) (*Result, error) {
	o.requests = append(o.requests, req)
	if err, ok := o.failing[req.AgentID]; ok {
		return nil, err
	}
	return &Result{Answer: "ok", AgentID: req.AgentID, SessionID: "S1"}, nil
}

func defaultAgentID(id uint64) *uint64 { return &id }

func agentsFixture() []portfolio.Agent {
	return []portfolio.Agent{
		{ID: 1, IsActive: true}, {ID: 2, IsActive: true}, {ID: 3, IsActive: true}, {ID: 4, IsActive: true},
	}
}

func TestFallbackUsesDefaultAgentFirst(t *testing.T) {
	orch := &scriptedOrchestrator{}
	c := NewFallbackCoordinator(
		&stubPortfolios{p: &portfolio.Portfolio{ID: 1, DefaultAgentID: defaultAgentID(3)}},
		&stubAgents{agents: agentsFixture()},
		orch, 3, logging.New(),
	)

	res, err := c.Chat(context.Background(), 1, "hello, what have you built", "", "")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if res.AgentID != 3 {
		t.Fatalf("expected default agent 3 to answer, got %d", res.AgentID)
	}
	if !res.UsedDefaultAgent || res.FallbackAgentUsed {
		t.Fatalf("unexpected flags: %+v", res)
	}
	if len(orch.requests) != 1 {
		t.Fatalf("expected a single attempt, got %d", len(orch.requests))
	}
}

func TestFallbackBoundedAttempts(t *testing.T) {
	boom := errors.New("provider down")
	orch := &scriptedOrchestrator{failing: map[uint64]error{1: boom, 2: boom, 3: boom, 4: boom}}
	c := NewFallbackCoordinator(
		&stubPortfolios{p: &portfolio.Portfolio{ID: 1, DefaultAgentID: defaultAgentID(1)}},
		&stubAgents{agents: agentsFixture()},
		orch, 3, logging.New(),
	)

	_, err := c.Chat(context.Background(), 1, "question about projects", "", "")
	if err == nil {
		t.Fatalf("expected exhausted failure")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *ExhaustedError, got %T", err)
	}
	// default + 3 fallbacks
	if len(orch.requests) != 4 {
		t.Fatalf("expected at most 4 attempts, got %d", len(orch.requests))
	}
	if len(exhausted.Attempts) != 4 {
		t.Fatalf("expected 4 recorded attempts, got %d", len(exhausted.Attempts))
	}
}

func TestFallbackSessionOnlyToFirstAttempt(t *testing.T) {
	orch := &scriptedOrchestrator{failing: map[uint64]error{1: errors.New("down")}}
	c := NewFallbackCoordinator(
		&stubPortfolios{p: &portfolio.Portfolio{ID: 1, DefaultAgentID: defaultAgentID(1)}},
		&stubAgents{agents: agentsFixture()},
		orch, 3, logging.New(),
	)

	res, err := c.Chat(context.Background(), 1, "question", "EXISTING-SESSION", "en")
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if orch.requests[0].SessionID != "EXISTING-SESSION" {
		t.Fatalf("first attempt must carry the session id")
	}
	if orch.requests[1].SessionID != "" {
		t.Fatalf("fallback attempts must start fresh sessions, got %q", orch.requests[1].SessionID)
	}
	if !res.FallbackAgentUsed || res.UsedDefaultAgent {
		t.Fatalf("expected fallback flags, got %+v", res)
	}
	if orch.requests[1].Language != "en" {
		t.Fatalf("language must flow to every attempt")
	}
}

func TestFallbackNoDuplicateDefault(t *testing.T) {
	boom := errors.New("down")
	orch := &scriptedOrchestrator{failing: map[uint64]error{1: boom, 2: boom, 3: boom, 4: boom}}
	c := NewFallbackCoordinator(
		&stubPortfolios{p: &portfolio.Portfolio{ID: 1, DefaultAgentID: defaultAgentID(2)}},
		&stubAgents{agents: agentsFixture()},
		orch, 3, logging.New(),
	)

	c.Chat(context.Background(), 1, "question", "", "")
	seen := make(map[uint64]int)
	for _, r := range orch.requests {
		seen[r.AgentID]++
	}
	for id, n := range seen {
		if n > 1 {
			t.Fatalf("agent %d attempted %d times", id, n)
		}
	}
	if orch.requests[0].AgentID != 2 {
		t.Fatalf("default agent must go first, got %d", orch.requests[0].AgentID)
	}
}

func TestFallbackNoAgents(t *testing.T) {
	orch := &scriptedOrchestrator{}
	c := NewFallbackCoordinator(
		&stubPortfolios{p: &portfolio.Portfolio{ID: 1}},
		&stubAgents{},
		orch, 3, logging.New(),
	)

	_, err := c.Chat(context.Background(), 1, "question", "", "")
	if !errors.Is(err, ErrNoAgents) {
		t.Fatalf("expected ErrNoAgents, got %v", err)
	}
}
