package chat

import (
	"context"
	"strings"

	"github.com/showfolio/showfolio/internal/ai"
	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/rag"
)

// replayChunkRunes sizes the fake token chunks used when a cached answer is
// replayed over the stream.
const replayChunkRunes = 48

// RespondStream runs one turn as an event stream. The channel carries zero
// or more token events and exactly one terminal done or error event, then
// closes. Client cancellation persists whatever was streamed so far and
// stops without a terminal event, since nobody is reading anymore.
func (s *Service) RespondStream(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent, 16)
	go func() {
		defer close(out)
		s.streamTurn(ctx, req, out)
	}()
	return out
}

func (s *Service) streamTurn(ctx context.Context, req Request, out chan<- StreamEvent) {
	turn, err := s.prepare(ctx, req)
	if err != nil {
		s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
		return
	}

	if cached, ok := s.cache.GetResponse(ctx, turn.agent.ID, req.PortfolioID, req.Language, turn.topK, turn.message); ok {
		sessionID, err := s.persistTurn(ctx, turn, cached.Answer, cached.Citations, true)
		if err != nil {
			s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
			return
		}
		for _, piece := range splitForReplay(cached.Answer) {
			if !s.emit(ctx, out, StreamEvent{Type: EventToken, Content: piece}) {
				return
			}
		}
		s.emit(ctx, out, StreamEvent{
			Type:      EventDone,
			Answer:    cached.Answer,
			Citations: ensureCitations(cached.Citations),
			AgentID:   turn.agent.ID,
			SessionID: sessionID,
			Cached:    true,
		})
		return
	}

	provider, err := s.providerForAgent(ctx, turn.agent)
	if err != nil {
		s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
		return
	}

	msgs, citations, degraded, err := s.compose(ctx, provider, turn)
	if err != nil {
		s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
		return
	}

	if degraded {
		sessionID, err := s.persistTurn(ctx, turn, degradedAnswer, nil, false)
		if err != nil {
			s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
			return
		}
		if !s.emit(ctx, out, StreamEvent{Type: EventToken, Content: degradedAnswer}) {
			return
		}
		s.emit(ctx, out, StreamEvent{
			Type:      EventDone,
			Answer:    degradedAnswer,
			Citations: []rag.Citation{},
			AgentID:   turn.agent.ID,
			SessionID: sessionID,
		})
		return
	}

	sp, streams := provider.(ai.StreamProvider)
	if !streams {
		// non-streaming provider: one big token, same terminal contract
		answer, err := provider.Chat(ctx, msgs)
		if err != nil {
			s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
			return
		}
		s.finishStream(ctx, out, turn, answer, citations)
		return
	}

	pChunks, pErrs := sp.StreamChat(ctx, msgs)
	var b strings.Builder
	for c := range pChunks {
		b.WriteString(c)
		if !s.emit(ctx, out, StreamEvent{Type: EventToken, Content: c}) {
			s.persistPartial(ctx, turn, b.String(), citations)
			return
		}
	}

	select {
	case err := <-pErrs:
		if err != nil {
			if ctx.Err() != nil {
				s.persistPartial(ctx, turn, b.String(), citations)
				return
			}
			s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
			return
		}
	default:
	}

	s.finishStream(ctx, out, turn, b.String(), citations)
}

func (s *Service) finishStream(ctx context.Context, out chan<- StreamEvent, turn *turnState, answer string, citations []rag.Citation) {
	sessionID, err := s.persistTurn(ctx, turn, answer, citations, false)
	if err != nil {
		s.emit(ctx, out, StreamEvent{Type: EventError, Error: err.Error()})
		return
	}
	s.cache.SetResponse(ctx, turn.agent.ID, turn.req.PortfolioID, turn.req.Language, turn.topK, turn.message,
		rag.CachedAnswer{Answer: answer, Citations: citations})
	s.emit(ctx, out, StreamEvent{
		Type:      EventDone,
		Answer:    answer,
		Citations: ensureCitations(citations),
		AgentID:   turn.agent.ID,
		SessionID: sessionID,
	})
}

// persistPartial saves what the client saw before disconnecting. The
// request context is already dead, so persistence runs detached.
func (s *Service) persistPartial(ctx context.Context, turn *turnState, partial string, citations []rag.Citation) {
	if strings.TrimSpace(partial) == "" {
		return
	}
	if _, err := s.persistTurn(context.WithoutCancel(ctx), turn, partial, citations, false); err != nil {
		s.log.WithFields(logging.Fields{
			"agent_id": turn.agent.ID,
			"error":    err.Error(),
		}).Warn("failed to persist partial streamed turn")
	}
}

func (s *Service) emit(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// splitForReplay cuts a cached answer into word-boundary chunks so replay
// looks like a live stream to the client.
func splitForReplay(answer string) []string {
	if answer == "" {
		return nil
	}
	words := strings.SplitAfter(answer, " ")
	var pieces []string
	var b strings.Builder
	for _, w := range words {
		b.WriteString(w)
		if len([]rune(b.String())) >= replayChunkRunes {
			pieces = append(pieces, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		pieces = append(pieces, b.String())
	}
	return pieces
}
