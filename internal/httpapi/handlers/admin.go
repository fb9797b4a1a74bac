package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/common"
	"github.com/showfolio/showfolio/internal/indexer"
	"github.com/showfolio/showfolio/internal/logging"
)

// ListSessions pages a portfolio's chat sessions for the admin dashboard.
func (h *Handler) ListSessions(c *gin.Context) {
	portfolioID, err := strconv.ParseUint(c.Param("portfolio_id"), 10, 64)
	if err != nil || portfolioID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid portfolio id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	sessions, err := h.ChatSvc.ListSessions(c.Request.Context(), portfolioID, limit, beforeID)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}

	var nextBeforeID uint64
	if len(sessions) > 0 {
		nextBeforeID = sessions[len(sessions)-1].ID
	}
	common.OK(c, gin.H{
		"sessions":       sessions,
		"next_before_id": nextBeforeID,
	})
}

// ListSessionMessages pages one session's transcript, newest first.
func (h *Handler) ListSessionMessages(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid session id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if v := c.Query("before_id"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.ChatSvc.ListMessages(c.Request.Context(), sessionID, limit, beforeID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "session not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}

	var nextBeforeID uint64
	if len(msgs) > 0 {
		nextBeforeID = msgs[len(msgs)-1].ID
	}
	common.OK(c, gin.H{
		"messages":       msgs,
		"next_before_id": nextBeforeID,
	})
}

type reindexReq struct {
	SourceTable string `json:"source_table"`
	SourceID    uint64 `json:"source_id"`
}

// TriggerReindex enqueues a reindex job for the portfolio. The indexer
// worker picks it up from the queue.
func (h *Handler) TriggerReindex(c *gin.Context) {
	portfolioID, err := strconv.ParseUint(c.Param("portfolio_id"), 10, 64)
	if err != nil || portfolioID == 0 {
		common.Fail(c, http.StatusBadRequest, 10002, "invalid portfolio id")
		return
	}
	if h.Publisher == nil {
		common.Fail(c, http.StatusServiceUnavailable, 50302, "indexing queue unavailable")
		return
	}

	var req reindexReq
	_ = c.ShouldBindJSON(&req) // allow empty body: full reindex

	job := indexer.Job{
		PortfolioID: portfolioID,
		SourceTable: req.SourceTable,
		SourceID:    req.SourceID,
	}
	if err := h.Publisher.PublishReindex(c.Request.Context(), job); err != nil {
		h.Log.WithFields(logging.Fields{
			"portfolio_id": portfolioID,
			"error":        err.Error(),
		}).Error("reindex publish failed")
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to enqueue reindex")
		return
	}
	common.OK(c, gin.H{"queued": true})
}

// Healthz reports process liveness plus dependency reachability.
func (h *Handler) Healthz(c *gin.Context) {
	status := gin.H{"status": "ok"}
	if h.Redis != nil {
		if err := h.Redis.Ping(c.Request.Context()); err != nil {
			status["redis"] = "down"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["redis"] = "ok"
	}
	if h.DB != nil {
		sqlDB, err := h.DB.DB()
		if err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status["db"] = "down"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["db"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}
