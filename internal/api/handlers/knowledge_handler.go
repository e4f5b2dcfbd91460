package handlers

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/ingestion"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/internal/storage/sqlite"
	"github.com/botblocks/backend/pkg/logger"
)

type KnowledgeHandler struct {
	repo      *sqlite.Client
	processor *ingestion.Processor
}

func NewKnowledgeHandler(repo *sqlite.Client, processor *ingestion.Processor) *KnowledgeHandler {
	return &KnowledgeHandler{
		repo:      repo,
		processor: processor,
	}
}

func (h *KnowledgeHandler) IngestText(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	var req struct {
		SourceName string `json:"source_name"`
		Text       string `json:"text"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.SourceName == "" || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "source_name and text are required",
		})
	}

	source := models.ContentSource{Name: req.SourceName, Type: models.SourceFile}

	chunks, err := h.processor.IngestText(c.Context(), bot.PublicID, source, req.Text)
	if err != nil {
		logger.Error("Failed to ingest text", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest source",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"source": req.SourceName,
		"chunks": chunks,
	})
}

// UploadFile accepts a multipart upload. HTML files are stripped to their
// visible text; everything else is treated as plain text.
func (h *KnowledgeHandler) UploadFile(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "file is required",
		})
	}

	f, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to open uploaded file",
		})
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	source := models.ContentSource{Name: fileHeader.Filename, Type: models.SourceFile}

	var chunks int
	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if ext == ".html" || ext == ".htm" {
		chunks, err = h.processor.IngestHTML(c.Context(), bot.PublicID, source, string(raw))
	} else {
		chunks, err = h.processor.IngestText(c.Context(), bot.PublicID, source, string(raw))
	}
	if err != nil {
		logger.Error("Failed to ingest file",
			zap.Int64("bot_id", bot.ID),
			zap.String("file", fileHeader.Filename),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to ingest file",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"source": fileHeader.Filename,
		"chunks": chunks,
	})
}

func (h *KnowledgeHandler) IngestURL(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	var req struct {
		URL string `json:"url"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "url must be an http(s) address",
		})
	}

	chunks, err := h.processor.IngestURL(c.Context(), bot.PublicID, req.URL)
	if err != nil {
		logger.Error("Failed to ingest URL",
			zap.Int64("bot_id", bot.ID),
			zap.String("url", req.URL),
			zap.Error(err),
		)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to fetch or ingest page",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"source": req.URL,
		"chunks": chunks,
	})
}

func (h *KnowledgeHandler) ListSources(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	sources, err := h.processor.ListSources(c.Context(), bot.PublicID)
	if err != nil {
		logger.Error("Failed to list sources", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list sources",
		})
	}

	out := make([]fiber.Map, 0, len(sources))
	for _, s := range sources {
		entry := fiber.Map{
			"name": s.Name,
			"type": string(s.Type),
		}
		if s.Type == models.SourceWeb {
			entry["url"] = s.URL
			entry["title"] = s.Title
			if !s.ScrapedAt.IsZero() {
				entry["scraped_at"] = s.ScrapedAt.Unix()
			}
		}
		out = append(out, entry)
	}

	return c.JSON(fiber.Map{"sources": out})
}

func (h *KnowledgeHandler) DeleteSource(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	name := c.Query("name")
	if name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "name query parameter is required",
		})
	}

	if err := h.processor.DeleteSource(c.Context(), bot.PublicID, name); err != nil {
		logger.Error("Failed to delete source",
			zap.Int64("bot_id", bot.ID),
			zap.String("source", name),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete source",
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *KnowledgeHandler) Stats(c *fiber.Ctx) error {
	bot, err := h.lookupBot(c)
	if bot == nil {
		return err
	}

	stats, err := h.processor.Stats(c.Context(), bot.PublicID)
	if err != nil {
		logger.Error("Failed to load knowledge stats", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load stats",
		})
	}

	return c.JSON(fiber.Map{
		"total_chunks": stats.TotalChunks,
		"file_chunks":  stats.FileChunks,
		"web_chunks":   stats.WebChunks,
		"sources":      stats.Sources,
	})
}

func (h *KnowledgeHandler) lookupBot(c *fiber.Ctx) (*models.Bot, error) {
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
