package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
)

var ErrNoAgents = errors.New("no agents available for portfolio")

// Orchestrator is the single-agent turn runner the coordinator retries
// over.
type Orchestrator interface {
	Respond(ctx context.Context, req Request) (*Result, error)
}

// PortfolioSource reads portfolio rows.
type PortfolioSource interface {
	GetPortfolio(ctx context.Context, id uint64) (*portfolio.Portfolio, error)
}

// FallbackResult is a Result annotated with which candidate answered.
type FallbackResult struct {
	Result
	UsedDefaultAgent  bool `json:"used_default_agent"`
	FallbackAgentUsed bool `json:"fallback_agent_used"`
}

// AttemptError records one failed candidate for diagnostics.
type AttemptError struct {
	AgentID uint64
	Err     error
}

// ExhaustedError aggregates every failed attempt. It is logged server-side
// and never shown verbatim to the end user.
type ExhaustedError struct {
	Attempts []AttemptError
}

func (e *ExhaustedError) Error() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("all %d agents failed:", len(e.Attempts)))
	for _, a := range e.Attempts {
		b.WriteString(fmt.Sprintf(" [agent %d: %v]", a.AgentID, a.Err))
	}
	return b.String()
}

// FallbackCoordinator fronts the public chat endpoint: it tries the
// portfolio's default agent first, then other active agents in ascending
// id order, until one answers.
type FallbackCoordinator struct {
	portfolios PortfolioSource
	agents     AgentSource
	svc        Orchestrator
	limit      int
	log        logging.Logger
}

// NewFallbackCoordinator caps fallback attempts at limit agents beyond the
// default.
func NewFallbackCoordinator(portfolios PortfolioSource, agents AgentSource, svc Orchestrator, limit int, log logging.Logger) *FallbackCoordinator {
	if limit < 0 {
		limit = 0
	}
	return &FallbackCoordinator{
		portfolios: portfolios,
		agents:     agents,
		svc:        svc,
		limit:      limit,
		log:        log,
	}
}

// Chat runs one public turn. The supplied session id is only forwarded to
// the first candidate; fallback candidates start fresh sessions so
// histories never mix across differently configured agents.
func (c *FallbackCoordinator) Chat(ctx context.Context, portfolioID uint64, message, sessionID, language string) (*FallbackResult, error) {
	p, err := c.portfolios.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	candidates, err := c.candidates(ctx, p)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, ErrNoAgents
	}

	defaultID := uint64(0)
	if p.DefaultAgentID != nil {
		defaultID = *p.DefaultAgentID
	}

	var attempts []AttemptError
	for i, agentID := range candidates {
		req := Request{
			PortfolioID: portfolioID,
			AgentID:     agentID,
			Message:     message,
			Language:    language,
		}
		if i == 0 {
			req.SessionID = sessionID
		}

		result, err := c.svc.Respond(ctx, req)
		if err != nil {
			attempts = append(attempts, AttemptError{AgentID: agentID, Err: err})
			c.log.WithFields(logging.Fields{
				"portfolio_id": portfolioID,
				"agent_id":     agentID,
				"attempt":      i + 1,
				"error":        err.Error(),
			}).Warn("agent attempt failed, trying next candidate")
			if ctx.Err() != nil {
				break
			}
			continue
		}

		return &FallbackResult{
			Result:            *result,
			UsedDefaultAgent:  agentID == defaultID,
			FallbackAgentUsed: i > 0,
		}, nil
	}
	return nil, &ExhaustedError{Attempts: attempts}
}

// FirstCandidate resolves which agent a streaming request should use.
// Streams cannot switch agents mid-flight, so only the head of the
// candidate list matters.
func (c *FallbackCoordinator) FirstCandidate(ctx context.Context, portfolioID uint64) (uint64, error) {
	p, err := c.portfolios.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return 0, err
	}
	candidates, err := c.candidates(ctx, p)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		return 0, ErrNoAgents
	}
	return candidates[0], nil
}

// candidates returns agent ids in attempt order: default first, then up to
// limit other active agents ascending by id, no duplicates.
func (c *FallbackCoordinator) candidates(ctx context.Context, p *portfolio.Portfolio) ([]uint64, error) {
	var ids []uint64
	seen := make(map[uint64]struct{})
	if p.DefaultAgentID != nil && *p.DefaultAgentID != 0 {
		ids = append(ids, *p.DefaultAgentID)
		seen[*p.DefaultAgentID] = struct{}{}
	}

	active, err := c.agents.ListActiveAgents(ctx, c.limit+len(seen))
	if err != nil {
		return nil, err
	}
	others := 0
	for _, a := range active {
		if others >= c.limit {
			break
		}
		if _, dup := seen[a.ID]; dup {
			continue
		}
		ids = append(ids, a.ID)
		seen[a.ID] = struct{}{}
		others++
	}
	return ids, nil
}
