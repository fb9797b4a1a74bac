package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/common"
	"github.com/showfolio/showfolio/internal/config"
	"github.com/showfolio/showfolio/internal/httpapi/handlers"
	"github.com/showfolio/showfolio/internal/httpapi/middleware"
	"github.com/showfolio/showfolio/internal/store/redisstore"
)

func NewRouter(db *gorm.DB, cfg config.Config, rds *redisstore.Store, publisher handlers.ReindexPublisher) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Logger())
	r.Use(middleware.Recovery())

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.Use(middleware.RequestID())

	h := handlers.NewHandler(db, cfg, rds, publisher)

	r.GET("/healthz", h.Healthz)

	// public visitor chat
	r.POST("/api/chat/portfolios/:portfolio_id", h.PublicChat)
	r.POST("/api/chat/portfolios/:portfolio_id/stream", h.PublicChatStream)

	// admin (JWT required)
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired(cfg.JWTSecret))
	admin.GET("/portfolios/:portfolio_id/sessions", h.ListSessions)
	admin.GET("/sessions/:session_id/messages", h.ListSessionMessages)
	admin.POST("/portfolios/:portfolio_id/reindex", h.TriggerReindex)

	return r
}
