package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/analytics"
	"github.com/botblocks/backend/internal/api/handlers"
	cacheredis "github.com/botblocks/backend/internal/cache/redis"
	"github.com/botblocks/backend/internal/ingestion"
	"github.com/botblocks/backend/internal/llm"
	"github.com/botblocks/backend/internal/metrics"
	"github.com/botblocks/backend/internal/middleware/ratelimit"
	"github.com/botblocks/backend/internal/middleware/security"
	"github.com/botblocks/backend/internal/rag"
	"github.com/botblocks/backend/internal/storage/sqlite"
	"github.com/botblocks/backend/internal/vector/milvus"
	"github.com/botblocks/backend/pkg/config"
	appLogger "github.com/botblocks/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting BotBlocks API server")

	repo, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer repo.Close()

	if err := repo.InitSchema(); err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	vectorClient, err := milvus.NewClient(cfg.Milvus.Endpoint, cfg.Milvus.APIKey, cfg.Milvus.VectorDim)
	if err != nil {
		appLogger.Fatal("Failed to create Milvus client", zap.Error(err))
	}
	defer vectorClient.Close()

	var embeddingCache *cacheredis.Client
	if cfg.Redis.Enabled {
		embeddingCache, err = cacheredis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, embedding cache disabled", zap.Error(err))
			embeddingCache = nil
		}
		defer embeddingCache.Close()
	}

	llmClient := llm.NewClient(
		cfg.LLM.APIKey,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		cfg.LLM.Temperature,
		cfg.LLM.MaxTokens,
		cfg.LLM.TimeoutSec,
	)

	policy := rag.GuardPolicy{
		ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
		StrongBestScore:     cfg.Pipeline.StrongBestScore,
		StrictThreshold:     cfg.Pipeline.StrictThreshold,
		LenientThreshold:    cfg.Pipeline.LenientThreshold,
	}

	retriever := rag.NewRetriever(vectorClient, llmClient, embeddingCache, policy)
	guard := rag.NewGuard(llmClient, policy)
	pipeline := rag.NewPipeline(retriever, guard, llmClient, repo)

	healthEngine := analytics.NewEngine(repo, analytics.HealthConfig{
		TTL:               time.Duration(cfg.Analytics.HealthTTLMinutes) * time.Minute,
		GapWindowDays:     cfg.Analytics.GapWindowDays,
		AssumedConfidence: cfg.Analytics.AssumedConfidence,
	})

	analyst := analytics.NewAnalyst(repo, llmClient, analytics.InsightConfig{
		TTL:              time.Duration(cfg.Analytics.InsightTTLHours) * time.Hour,
		GapWindowDays:    cfg.Analytics.GapWindowDays,
		MaxGapFetch:      cfg.Analytics.MaxGapFetch,
		MaxPromptQueries: cfg.Analytics.MaxPromptQueries,
	})

	chunker := ingestion.NewChunker(cfg.Ingestion.ChunkSize, cfg.Ingestion.ChunkOverlap)
	processor := ingestion.NewProcessor(vectorClient, llmClient, chunker)

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	botHandler := handlers.NewBotHandler(repo, vectorClient)
	chatHandler := handlers.NewChatHandler(repo, pipeline)
	wsHandler := handlers.NewWebSocketHandler(repo, pipeline)
	knowledgeHandler := handlers.NewKnowledgeHandler(repo, processor)
	analyticsHandler := handlers.NewAnalyticsHandler(repo, healthEngine, analyst)

	api := app.Group("/api/v1", security.HeadersMiddleware(security.HeadersConfig{}))

	api.Post("/bots", botHandler.CreateBot)
	api.Get("/bots", botHandler.ListBots)
	api.Get("/bots/:id", botHandler.GetBot)
	api.Put("/bots/:id", botHandler.UpdateBot)
	api.Delete("/bots/:id", botHandler.DeleteBot)

	api.Post("/bots/:id/knowledge/text", knowledgeHandler.IngestText)
	api.Post("/bots/:id/knowledge/file", knowledgeHandler.UploadFile)
	api.Post("/bots/:id/knowledge/url", knowledgeHandler.IngestURL)
	api.Get("/bots/:id/knowledge/sources", knowledgeHandler.ListSources)
	api.Delete("/bots/:id/knowledge/sources", knowledgeHandler.DeleteSource)
	api.Get("/bots/:id/knowledge/stats", knowledgeHandler.Stats)

	api.Get("/bots/:id/dashboard", analyticsHandler.Dashboard)
	api.Post("/bots/:id/gaps/resolve", analyticsHandler.ResolveGap)
	api.Get("/bots/:id/insights", analyticsHandler.Insights)

	// Widget routes are public: keyed rate limiting plus headers that allow
	// embedding in customer pages.
	widget := app.Group("/widget/:public_id",
		security.HeadersMiddleware(security.HeadersConfig{AllowEmbedding: true}),
		limiter.Middleware(),
	)
	widget.Get("/config", botHandler.WidgetConfig)
	widget.Post("/chat", chatHandler.HandleChat)
	widget.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	widget.Get("/ws", websocket.New(wsHandler.HandleConnection))

	app.Get("/metrics", metrics.Handler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
