package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/internal/storage/sqlite"
	"github.com/botblocks/backend/internal/vector/milvus"
	"github.com/botblocks/backend/pkg/logger"
)

const (
	defaultPersona        = "You are a helpful assistant."
	defaultThemeColor     = "#0f766e"
	defaultInitialMessage = "Hello! How can I help you today?"
	defaultAvatar         = "🤖"
)

type BotHandler struct {
	repo   *sqlite.Client
	vector *milvus.Client
}

func NewBotHandler(repo *sqlite.Client, vector *milvus.Client) *BotHandler {
	return &BotHandler{
		repo:   repo,
		vector: vector,
	}
}

type botConfigRequest struct {
	Name           string `json:"name"`
	SystemPersona  string `json:"system_persona"`
	ThemeColor     string `json:"theme_color"`
	InitialMessage string `json:"initial_message"`
	BotAvatar      string `json:"bot_avatar"`
}

func (h *BotHandler) CreateBot(c *fiber.Ctx) error {
	var req botConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		req.Name = "My Bot"
	}
	if req.SystemPersona == "" {
		req.SystemPersona = defaultPersona
	}
	if req.ThemeColor == "" {
		req.ThemeColor = defaultThemeColor
	}
	if req.InitialMessage == "" {
		req.InitialMessage = defaultInitialMessage
	}
	if req.BotAvatar == "" {
		req.BotAvatar = defaultAvatar
	}

	bot := &models.Bot{
		PublicID:       uuid.New().String(),
		Name:           req.Name,
		SystemPersona:  req.SystemPersona,
		ThemeColor:     req.ThemeColor,
		InitialMessage: req.InitialMessage,
		BotAvatar:      req.BotAvatar,
		CreatedAt:      time.Now(),
	}

	if err := h.repo.CreateBot(bot); err != nil {
		logger.Error("Failed to create bot", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create bot",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(botResponse(bot))
}

func (h *BotHandler) ListBots(c *fiber.Ctx) error {
	bots, err := h.repo.ListBots()
	if err != nil {
		logger.Error("Failed to list bots", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list bots",
		})
	}

	out := make([]fiber.Map, 0, len(bots))
	for i := range bots {
		out = append(out, botResponse(&bots[i]))
	}

	return c.JSON(fiber.Map{"bots": out})
}

func (h *BotHandler) GetBot(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}
	return c.JSON(botResponse(bot))
}

func (h *BotHandler) UpdateBot(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	var req botConfigRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Name == "" {
		req.Name = bot.Name
	}
	if req.SystemPersona == "" {
		req.SystemPersona = bot.SystemPersona
	}
	if req.ThemeColor == "" {
		req.ThemeColor = bot.ThemeColor
	}
	if req.InitialMessage == "" {
		req.InitialMessage = bot.InitialMessage
	}
	if req.BotAvatar == "" {
		req.BotAvatar = bot.BotAvatar
	}

	err = h.repo.UpdateBotConfig(bot.ID, req.Name, req.SystemPersona, req.ThemeColor, req.InitialMessage, req.BotAvatar)
	if err != nil {
		logger.Error("Failed to update bot", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update bot",
		})
	}

	bot, err = h.repo.GetBot(bot.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load bot",
		})
	}

	return c.JSON(botResponse(bot))
}

// DeleteBot removes the bot row (the audit log cascades) and drops its vector
// collection. A failed drop is logged but does not resurrect the bot.
func (h *BotHandler) DeleteBot(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	if err := h.repo.DeleteBot(bot.ID); err != nil {
		logger.Error("Failed to delete bot", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete bot",
		})
	}

	ctx, cancel := context.WithTimeout(c.Context(), 10*time.Second)
	defer cancel()

	if err := h.vector.DropCollection(ctx, bot.PublicID); err != nil {
		logger.Error("Failed to drop collection for deleted bot",
			zap.String("public_id", bot.PublicID),
			zap.Error(err),
		)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// WidgetConfig is the public, unauthenticated view of a bot: just what the
// embedded widget needs to render itself.
func (h *BotHandler) WidgetConfig(c *fiber.Ctx) error {
	bot, err := h.repo.GetBotByPublicID(c.Params("public_id"))
	if errors.Is(err, sqlite.ErrBotNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Bot not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load widget config", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load bot",
		})
	}

	return c.JSON(fiber.Map{
		"name":            bot.Name,
		"theme_color":     bot.ThemeColor,
		"initial_message": bot.InitialMessage,
		"bot_avatar":      bot.BotAvatar,
	})
}

// lookupBot resolves the :id route param. A nil bot means the error response
// was already written; the caller just returns the error value.
func (h *BotHandler) lookupBot(c *fiber.Ctx) (*models.Bot, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return nil, c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid bot id",
		})
	}

	bot, err := h.repo.GetBot(int64(id))
	if errors.Is(err, sqlite.ErrBotNotFound) {
		return nil, c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Bot not found",
		})
	}
	if err != nil {
		logger.Error("Failed to load bot", zap.Error(err))
		return nil, c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load bot",
		})
	}

	return bot, nil
}

func botResponse(bot *models.Bot) fiber.Map {
	return fiber.Map{
		"id":              bot.ID,
		"public_id":       bot.PublicID,
		"name":            bot.Name,
		"system_persona":  bot.SystemPersona,
		"theme_color":     bot.ThemeColor,
		"initial_message": bot.InitialMessage,
		"bot_avatar":      bot.BotAvatar,
		"health_score":    bot.HealthScore,
		"total_queries":   bot.TotalQueries,
		"created_at":      bot.CreatedAt.Unix(),
	}
}
