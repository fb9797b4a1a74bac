package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/chat"
	"github.com/showfolio/showfolio/internal/common"
	"github.com/showfolio/showfolio/internal/logging"
)

type publicChatReq struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"session_id"`
	Language  string `json:"language_id"`
}

// PublicChat answers one visitor question through the fallback
// coordinator.
func (h *Handler) PublicChat(c *gin.Context) {
	portfolioID, err := strconv.ParseUint(c.Param("portfolio_id"), 10, 64)
	if err != nil || portfolioID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid portfolio id")
		return
	}

	var req publicChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	res, err := h.Coordinator.Chat(c.Request.Context(), portfolioID, req.Message, req.SessionID, req.Language)
	if err != nil {
		h.failChat(c, portfolioID, err)
		return
	}

	common.OK(c, gin.H{
		"answer":              res.Answer,
		"citations":           res.Citations,
		"agent_id":            res.AgentID,
		"session_id":          res.SessionID,
		"cached":              res.Cached,
		"used_default_agent":  res.UsedDefaultAgent,
		"fallback_agent_used": res.FallbackAgentUsed,
	})
}

func (h *Handler) failChat(c *gin.Context, portfolioID uint64, err error) {
	var exhausted *chat.ExhaustedError
	switch {
	case errors.As(err, &exhausted):
		// full attempt detail stays server-side
		h.Log.WithFields(logging.Fields{
			"portfolio_id": portfolioID,
			"error":        exhausted.Error(),
		}).Error("all agents failed")
		common.Fail(c, http.StatusBadGateway, 50201, "assistant temporarily unavailable")
	case errors.Is(err, chat.ErrNoAgents):
		common.Fail(c, http.StatusServiceUnavailable, 50301, "no assistant configured")
	case errors.Is(err, gorm.ErrRecordNotFound):
		common.Fail(c, http.StatusNotFound, 40401, "portfolio not found")
	case errors.Is(err, chat.ErrEmptyMessage):
		common.Fail(c, http.StatusBadRequest, 10003, "message is empty")
	default:
		h.Log.WithFields(logging.Fields{
			"portfolio_id": portfolioID,
			"error":        err.Error(),
		}).Error("chat failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "chat failed")
	}
}

// PublicChatStream is the SSE variant. Fallback applies only to agent
// selection before the stream starts; once tokens flow the chosen agent
// owns the request.
func (h *Handler) PublicChatStream(c *gin.Context) {
	portfolioID, err := strconv.ParseUint(c.Param("portfolio_id"), 10, 64)
	if err != nil || portfolioID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid portfolio id")
		return
	}

	var req publicChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	agentID, err := h.Coordinator.FirstCandidate(c.Request.Context(), portfolioID)
	if err != nil {
		h.failChat(c, portfolioID, err)
		return
	}

	// SSE headers
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // helpful if behind nginx
	c.Status(http.StatusOK)

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"streaming unsupported\"}\n\n")
		return
	}

	writeEvent := func(name string, payload any) {
		b, err := json.Marshal(payload)
		if err != nil {
			fmt.Fprintf(c.Writer, "event: error\ndata: {\"type\":\"error\",\"message\":\"encode failed\"}\n\n")
			flusher.Flush()
			return
		}
		fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", name, b)
		flusher.Flush()
	}

	ctx := c.Request.Context()
	events := h.ChatSvc.RespondStream(ctx, chat.Request{
		PortfolioID: portfolioID,
		AgentID:     agentID,
		Message:     req.Message,
		SessionID:   req.SessionID,
		Language:    req.Language,
	})

	// heartbeat keeps idle proxies from cutting the connection
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Type {
			case chat.EventToken:
				writeEvent("token", gin.H{"type": "token", "content": ev.Content})
			case chat.EventDone:
				payload := gin.H{
					"type":       "done",
					"citations":  ev.Citations,
					"agent_id":   ev.AgentID,
					"session_id": ev.SessionID,
				}
				if ev.Cached {
					payload["cached"] = true
				}
				writeEvent("done", payload)
				return
			case chat.EventError:
				writeEvent("error", gin.H{"type": "error", "message": ev.Error})
				return
			}

		case <-ticker.C:
			writeEvent("ping", gin.H{"type": "ping", "ts": time.Now().Unix()})

		case <-ctx.Done():
			return
		}
	}
}
