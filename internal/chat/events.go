package chat

import "github.com/showfolio/showfolio/internal/rag"

const (
	EventToken = "token"
	EventDone  = "done"
	EventError = "error"
)

// StreamEvent is one SSE payload. A stream is zero or more token events
// followed by exactly one done or error event, never both.
type StreamEvent struct {
	Type      string         `json:"type"`
	Content   string         `json:"content,omitempty"`
	Answer    string         `json:"answer,omitempty"`
	Citations []rag.Citation `json:"citations,omitempty"`
	AgentID   uint64         `json:"agent_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Cached    bool           `json:"cached,omitempty"`
	Error     string         `json:"error,omitempty"`
}
