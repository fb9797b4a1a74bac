package handlers

import (
	"context"
	"log"

	"gorm.io/gorm"

	"github.com/showfolio/showfolio/internal/ai"
	"github.com/showfolio/showfolio/internal/chat"
	"github.com/showfolio/showfolio/internal/config"
	"github.com/showfolio/showfolio/internal/crypto"
	"github.com/showfolio/showfolio/internal/indexer"
	"github.com/showfolio/showfolio/internal/logging"
	"github.com/showfolio/showfolio/internal/portfolio"
	"github.com/showfolio/showfolio/internal/rag"
	"github.com/showfolio/showfolio/internal/store/redisstore"
)

// ReindexPublisher enqueues reindex jobs. Nil-able in tests.
type ReindexPublisher interface {
	PublishReindex(ctx context.Context, job indexer.Job) error
}

type Handler struct {
	DB          *gorm.DB
	Cfg         config.Config
	Redis       *redisstore.Store
	ChatSvc     *chat.Service
	Coordinator *chat.FallbackCoordinator
	Publisher   ReindexPublisher
	Log         logging.Logger
}

func NewHandler(db *gorm.DB, cfg config.Config, rds *redisstore.Store, publisher ReindexPublisher) *Handler {
	logger := logging.NewWithService("showfolio-api")

	keystore, err := crypto.NewKeystore(cfg.KeystoreSecret)
	if err != nil {
		log.Fatalf("keystore: %v", err)
	}

	reg := ai.NewRegistry()
	reg.Register("openai", func(_ context.Context, chatModel, embedModel, apiKey string) (ai.Provider, error) {
		if chatModel == "" {
			chatModel = cfg.ChatModel
		}
		if embedModel == "" {
			embedModel = cfg.EmbeddingModel
		}
		return ai.NewOpenAIProvider(cfg.OpenAIBaseURL, apiKey, chatModel, embedModel, cfg.ProviderTimeout), nil
	})
	reg.Register("ollama", func(_ context.Context, chatModel, embedModel, _ string) (ai.Provider, error) {
		if chatModel == "" {
			chatModel = cfg.ChatModel
		}
		if embedModel == "" {
			embedModel = cfg.EmbeddingModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, chatModel, embedModel, cfg.ProviderTimeout), nil
	})

	agents := portfolio.NewRepo(db)
	chatSvc := chat.NewService(chat.ServiceDeps{
		Repo:           chat.NewRepo(db),
		Agents:         agents,
		Registry:       reg,
		Credentials:    keystore,
		Searcher:       rag.NewChunkStore(db),
		Enricher:       rag.NewCitationEnricher(db, logger),
		Cache:          rag.NewResponseCache(rds, logger, cfg.ResponseCacheTTL, cfg.ChunkCacheTTL),
		Prompts:        rag.NewPromptBuilder(cfg.HistoryWindow),
		Log:            logger,
		FallbackAPIKey: cfg.AgentProviderKey,
	})
	coordinator := chat.NewFallbackCoordinator(agents, agents, chatSvc, cfg.FallbackAgentLimit, logger)

	return &Handler{
		DB:          db,
		Cfg:         cfg,
		Redis:       rds,
		ChatSvc:     chatSvc,
		Coordinator: coordinator,
		Publisher:   publisher,
		Log:         logger,
	}
}
