package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/analytics"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/internal/storage/sqlite"
	"github.com/botblocks/backend/pkg/logger"
)

type AnalyticsHandler struct {
	repo    *sqlite.Client
	engine  *analytics.Engine
	analyst *analytics.Analyst
}

func NewAnalyticsHandler(repo *sqlite.Client, engine *analytics.Engine, analyst *analytics.Analyst) *AnalyticsHandler {
	return &AnalyticsHandler{
		repo:    repo,
		engine:  engine,
		analyst: analyst,
	}
}

// Dashboard assembles one owner-facing view: current health, windowed gap
// statistics and the most recent flagged interactions.
func (h *AnalyticsHandler) Dashboard(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	score, err := h.engine.HealthScore(bot)
	if err != nil {
		logger.Error("Failed to compute health score", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute health",
		})
	}

	stats, err := h.engine.Stats(bot)
	if err != nil {
		logger.Error("Failed to load gap stats", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load statistics",
		})
	}

	recent, err := h.repo.RecentGaps(bot.ID, 20)
	if err != nil {
		logger.Error("Failed to load recent gaps", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load recent gaps",
		})
	}

	gaps := make([]fiber.Map, 0, len(recent))
	for _, e := range recent {
		gaps = append(gaps, fiber.Map{
			"id":         e.ID,
			"query":      e.UserQuery,
			"response":   e.BotResponse,
			"confidence": e.ConfidenceScore,
			"resolved":   e.IsResolved,
			"created_at": e.CreatedAt.Unix(),
		})
	}

	topFailed := make([]fiber.Map, 0, len(stats.TopFailedQueries))
	for _, fq := range stats.TopFailedQueries {
		topFailed = append(topFailed, fiber.Map{
			"query":     fq.Query,
			"count":     fq.Count,
			"last_seen": fq.LastSeen.Unix(),
		})
	}

	insights := h.analyst.Cached(bot)
	if insights == nil {
		insights = []models.InsightTopic{}
	}

	return c.JSON(fiber.Map{
		"health_score": score,
		"insights":     insights,
		"stats": fiber.Map{
			"window_days":        stats.WindowDays,
			"gap_count":          stats.GapCount,
			"unresolved_count":   stats.UnresolvedCount,
			"avg_gap_confidence": stats.AvgGapConfidence,
			"weighted_avg_conf":  stats.WeightedAvgConf,
			"total_queries":      stats.TotalQueries,
		},
		"top_failed_queries": topFailed,
		"recent_gaps":        gaps,
	})
}

// ResolveGap marks every open gap with the given query text as resolved.
// Resolving the same text twice reports zero without erroring.
func (h *AnalyticsHandler) ResolveGap(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	var req struct {
		Query string `json:"query"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "query is required",
		})
	}

	resolved, err := h.repo.ResolveGapsByQuery(bot.ID, req.Query)
	if err != nil {
		logger.Error("Failed to resolve gaps", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to resolve gaps",
		})
	}

	return c.JSON(fiber.Map{"resolved": resolved})
}

// Insights serves the clustered gap topics. ?refresh=true bypasses the cache.
func (h *AnalyticsHandler) Insights(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	force := c.Query("refresh") == "true"

	topics, err := h.analyst.Topics(c.Context(), bot, force)
	if err != nil {
		logger.Error("Failed to load insights", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load insights",
		})
	}

	if topics == nil {
		topics = []models.InsightTopic{}
	}

	var generatedAt int64
	if bot.InsightGeneratedAt != nil {
		generatedAt = bot.InsightGeneratedAt.Unix()
	}

	return c.JSON(fiber.Map{
		"topics":       topics,
		"generated_at": generatedAt,
	})
}

func (h *AnalyticsHandler) lookupBot(c *fiber.Ctx) (*models.Bot, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid bot id",
		})
	}

	bot, err := h.repo.GetBot(int64(id))
	if err != nil {
		status := fiber.StatusInternalServerError
		msg := "Failed to load bot"
		if err == sqlite.ErrBotNotFound {
			status = fiber.StatusNotFound
			msg = "Bot not found"
		}
		return nil, c.Status(status).JSON(fiber.Map{"error": msg})
	}

	return bot, nil
}
