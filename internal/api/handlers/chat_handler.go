package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/rag"
	"github.com/botblocks/backend/internal/storage/sqlite"
	"github.com/botblocks/backend/pkg/logger"
)

type ChatHandler struct {
	repo     *sqlite.Client
	pipeline *rag.Pipeline
}

func NewChatHandler(repo *sqlite.Client, pipeline *rag.Pipeline) *ChatHandler {
	return &ChatHandler{
		repo:     repo,
		pipeline: pipeline,
	}
}

// HandleChat answers one widget question. The bot is addressed by its public
// id; numeric ids never leave the dashboard.
func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var req struct {
		Message string `json:"message"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Message == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Message is required",
		})
	}

	bot, err := h.repo.GetBotByPublicID(c.Params("public_id"))
	if errors.Is(err, sqlite.ErrBotNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Bot not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load bot for chat", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load bot",
		})
	}

	started := time.Now()

	result, err := h.pipeline.Answer(c.Context(), bot, req.Message)
	if err != nil {
		logger.Error("Failed to answer question", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process message",
		})
	}

	return c.JSON(chatResponse(result, time.Since(started)))
}

func chatResponse(result *rag.Result, latency time.Duration) fiber.Map {
	sources := make([]fiber.Map, 0, len(result.Sources))
	for _, s := range result.Sources {
		entry := fiber.Map{
			"name": s.Name,
			"type": string(s.Type),
		}
		if s.URL != "" {
			entry["url"] = s.URL
		}
		if s.Title != "" {
			entry["title"] = s.Title
		}
		sources = append(sources, entry)
	}

	return fiber.Map{
		"response":     result.Response,
		"confidence":   result.Confidence,
		"route":        result.Route.String(),
		"out_of_scope": result.OutOfScope,
		"sources":      sources,
		"latency_ms":   latency.Milliseconds(),
	}
}
