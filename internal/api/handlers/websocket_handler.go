package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/rag"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/internal/storage/sqlite"
	"github.com/botblocks/backend/pkg/logger"
)

const wsAnswerTimeout = 60 * time.Second

// WebSocketHandler serves the persistent widget channel. Each connection is
// bound to one bot; every inbound chat message runs the full answer pipeline
// and the reply is delivered as a single message.
type WebSocketHandler struct {
	repo     *sqlite.Client
	pipeline *rag.Pipeline
}

func NewWebSocketHandler(repo *sqlite.Client, pipeline *rag.Pipeline) *WebSocketHandler {
	return &WebSocketHandler{
		repo:     repo,
		pipeline: pipeline,
	}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	publicID := c.Params("public_id")

	defer func() {
		c.Close()
		logger.Info("Widget connection closed", zap.String("public_id", publicID))
	}()

	bot, err := h.repo.GetBotByPublicID(publicID)
	if err != nil {
		h.sendError(c, "Bot not found")
		return
	}

	logger.Info("Widget connection established",
		zap.Int64("bot_id", bot.ID),
		zap.String("public_id", publicID),
	)

	for {
		var msg struct {
			Type    string `json:"type"`
			Content string `json:"content"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "ping":
			c.WriteJSON(map[string]interface{}{"type": "pong"})
		case "chat":
			if msg.Content == "" {
				h.sendError(c, "Message is required")
				continue
			}
			h.answer(c, bot, msg.Content)
		}
	}
}

func (h *WebSocketHandler) answer(c *websocket.Conn, bot *models.Bot, message string) {
	ctx, cancel := context.WithTimeout(context.Background(), wsAnswerTimeout)
	defer cancel()

	started := time.Now()

	result, err := h.pipeline.Answer(ctx, bot, message)
	if err != nil {
		logger.Error("Failed to answer widget message", zap.Int64("bot_id", bot.ID), zap.Error(err))
		h.sendError(c, "Failed to process message")
		return
	}

	reply := chatResponse(result, time.Since(started))
	reply["type"] = "response"

	if err := c.WriteJSON(reply); err != nil {
		logger.Error("Failed to write widget reply", zap.Int64("bot_id", bot.ID), zap.Error(err))
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	c.WriteJSON(map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	})
}
