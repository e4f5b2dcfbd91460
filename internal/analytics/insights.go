package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/llm"
	"github.com/botblocks/backend/internal/metrics"
	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/pkg/logger"
)

type InsightRepo interface {
	UnresolvedGapsSince(botID int64, since time.Time, limit int) ([]models.AuditLogEntry, error)
	UpdateBotInsights(botID int64, summary string, generatedAt time.Time) error
}

type Summarizer interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

type InsightConfig struct {
	TTL              time.Duration
	GapWindowDays    int
	MaxGapFetch      int
	MaxPromptQueries int
}

func DefaultInsightConfig() InsightConfig {
	return InsightConfig{
		TTL:              24 * time.Hour,
		GapWindowDays:    30,
		MaxGapFetch:      50,
		MaxPromptQueries: 30,
	}
}

// Analyst clusters open knowledge gaps into named topics with remediation
// advice. Clustering is a model call, so results are cached on the bot row and
// refreshed at most once per TTL unless the caller forces it.
type Analyst struct {
	repo       InsightRepo
	summarizer Summarizer
	cfg        InsightConfig
	now        func() time.Time
}

func NewAnalyst(repo InsightRepo, summarizer Summarizer, cfg InsightConfig) *Analyst {
	return &Analyst{
		repo:       repo,
		summarizer: summarizer,
		cfg:        cfg,
		now:        time.Now,
	}
}

// Topics returns the clustered gap topics for a bot. A fresh cached summary is
// decoded and returned without a model call; when the cache is stale or force
// is set, the open gaps are pre-filtered and re-clustered. A clustering
// failure returns no topics and leaves the previous cache untouched.
func (a *Analyst) Topics(ctx context.Context, bot *models.Bot, force bool) ([]models.InsightTopic, error) {
	if !force && bot.InsightGeneratedAt != nil && a.now().Sub(*bot.InsightGeneratedAt) < a.cfg.TTL {
		return decodeTopics(bot.CachedInsightSummary), nil
	}

	since := a.now().AddDate(0, 0, -a.cfg.GapWindowDays)
	entries, err := a.repo.UnresolvedGapsSince(bot.ID, since, a.cfg.MaxGapFetch)
	if err != nil {
		return nil, fmt.Errorf("failed to load open gaps: %w", err)
	}

	queries := make([]string, 0, len(entries))
	for _, e := range entries {
		queries = append(queries, e.UserQuery)
	}
	queries = filterQueries(queries, a.cfg.MaxPromptQueries)

	if len(queries) == 0 {
		return nil, a.cacheTopics(bot, nil)
	}

	raw, err := a.summarizer.Generate(ctx, buildClusterPrompt(bot.SystemPersona, queries))
	if err != nil {
		logger.Error("Gap clustering failed", zap.Int64("bot_id", bot.ID), zap.Error(err))
		return nil, nil
	}

	topics, err := llm.DecodeJSON[[]models.InsightTopic](raw)
	if err != nil {
		logger.Warn("Gap clustering returned malformed topics",
			zap.Int64("bot_id", bot.ID),
			zap.Error(err),
		)
		return nil, nil
	}

	if err := a.cacheTopics(bot, topics); err != nil {
		return nil, err
	}

	metrics.InsightRefreshes.Inc()

	logger.Info("Gap insights refreshed",
		zap.Int64("bot_id", bot.ID),
		zap.Int("queries", len(queries)),
		zap.Int("topics", len(topics)),
	)

	return topics, nil
}

// Cached returns whatever summary is on the bot row without ever triggering a
// clustering run. The dashboard uses it so a stale cache never blocks the page
// on a model call.
func (a *Analyst) Cached(bot *models.Bot) []models.InsightTopic {
	return decodeTopics(bot.CachedInsightSummary)
}

func (a *Analyst) cacheTopics(bot *models.Bot, topics []models.InsightTopic) error {
	if topics == nil {
		topics = []models.InsightTopic{}
	}

	encoded, err := json.Marshal(topics)
	if err != nil {
		return fmt.Errorf("failed to encode topics: %w", err)
	}

	generatedAt := a.now()
	if err := a.repo.UpdateBotInsights(bot.ID, string(encoded), generatedAt); err != nil {
		return fmt.Errorf("failed to cache topics: %w", err)
	}

	bot.CachedInsightSummary = string(encoded)
	bot.InsightGeneratedAt = &generatedAt

	return nil
}

func decodeTopics(cached string) []models.InsightTopic {
	if cached == "" {
		return nil
	}

	var topics []models.InsightTopic
	if err := json.Unmarshal([]byte(cached), &topics); err != nil {
		logger.Warn("Cached insight summary is unreadable, ignoring", zap.Error(err))
		return nil
	}
	return topics
}

// personaExcerpt caps how much of the persona travels in the clustering
// prompt; the opening sentences carry the bot's scope.
const personaExcerpt = 200

func buildClusterPrompt(persona string, queries []string) string {
	var b strings.Builder

	b.WriteString("You analyze unanswered questions for a knowledge-base chatbot with this role:\n")
	if len(persona) > personaExcerpt {
		persona = persona[:personaExcerpt]
	}
	b.WriteString(persona)
	b.WriteString("\n\n")

	b.WriteString(`Group the questions below into topics. Discard questions unrelated to the bot's role above; spam and off-topic noise must not become a topic.

For each topic report:
- "topic": a short name for the theme
- "count": how many of the questions belong to it
- "sample_queries": up to 3 representative questions, verbatim
- "advice": one sentence telling the bot owner what content to add
- "priority": "high" if the topic has 5 or more questions, "medium" for 2-4, "low" for 1

Reply with a JSON array of these objects and nothing else. If the questions share no themes, return one topic per question.

QUESTIONS:
`)

	for _, q := range queries {
		b.WriteString("- ")
		b.WriteString(q)
		b.WriteString("\n")
	}

	return b.String()
}
