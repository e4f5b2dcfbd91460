package analytics

import (
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/pkg/logger"
)

// HealthRepo is the repository slice the health engine reads and repairs.
type HealthRepo interface {
	CountUnresolvedGaps(botID int64) (int64, error)
	CountLoggedEntries(botID int64) (int64, error)
	GapWindowStats(botID int64, since time.Time) (int64, float64, error)
	TopFailedQueries(botID int64, since time.Time, limit int) ([]models.FailedQuery, error)
	SetTotalQueries(botID, total int64) error
	UpdateBotHealth(botID int64, score float64, checkedAt time.Time) error
}

type HealthConfig struct {
	TTL               time.Duration
	GapWindowDays     int
	AssumedConfidence float64
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		TTL:               10 * time.Minute,
		GapWindowDays:     30,
		AssumedConfidence: 0.95,
	}
}

// Engine computes lazily cached bot health. Scores are recomputed at most once
// per TTL and persisted back onto the bot row, so dashboard reads stay cheap.
type Engine struct {
	repo HealthRepo
	cfg  HealthConfig
	now  func() time.Time
}

func NewEngine(repo HealthRepo, cfg HealthConfig) *Engine {
	return &Engine{
		repo: repo,
		cfg:  cfg,
		now:  time.Now,
	}
}

// HealthScore returns the cached score when it is still fresh, otherwise
// recomputes round((1 - unresolvedGaps/totalQueries) * 100, 1) and persists
// it. A bot that has never answered a question is perfectly healthy.
func (e *Engine) HealthScore(bot *models.Bot) (float64, error) {
	if bot.HealthCheckedAt != nil && e.now().Sub(*bot.HealthCheckedAt) < e.cfg.TTL {
		return bot.HealthScore, nil
	}

	gaps, err := e.repo.CountUnresolvedGaps(bot.ID)
	if err != nil {
		return 0, err
	}

	total := bot.TotalQueries

	// A gap count exceeding the lifetime counter means the counter drifted
	// (imports, manual edits, partial restores). Repair the counter rather
	// than reporting negative health.
	if gaps > total {
		logger.Warn("Query counter behind gap count, repairing",
			zap.Int64("bot_id", bot.ID),
			zap.Int64("total_queries", total),
			zap.Int64("gaps", gaps),
		)
		total = gaps
		if err := e.repo.SetTotalQueries(bot.ID, total); err != nil {
			return 0, err
		}
		bot.TotalQueries = total
	}

	score := 100.0
	if total > 0 {
		score = round1((1 - float64(gaps)/float64(total)) * 100)
	}

	checkedAt := e.now()
	if err := e.repo.UpdateBotHealth(bot.ID, score, checkedAt); err != nil {
		return 0, err
	}

	bot.HealthScore = score
	bot.HealthCheckedAt = &checkedAt

	logger.Info("Health score refreshed",
		zap.Int64("bot_id", bot.ID),
		zap.Float64("score", score),
		zap.Int64("gaps", gaps),
		zap.Int64("total_queries", total),
	)

	return score, nil
}

// Stats assembles the windowed dashboard view. Confidence is blended: logged
// gap entries contribute their recorded confidence, while the unlogged
// remainder of lifetime traffic is assumed to have answered cleanly at the
// configured confidence.
func (e *Engine) Stats(bot *models.Bot) (*models.GapStats, error) {
	since := e.now().AddDate(0, 0, -e.cfg.GapWindowDays)

	gapCount, avgConf, err := e.repo.GapWindowStats(bot.ID, since)
	if err != nil {
		return nil, err
	}

	unresolved, err := e.repo.CountUnresolvedGaps(bot.ID)
	if err != nil {
		return nil, err
	}

	logged, err := e.repo.CountLoggedEntries(bot.ID)
	if err != nil {
		return nil, err
	}

	top, err := e.repo.TopFailedQueries(bot.ID, since, 10)
	if err != nil {
		return nil, err
	}

	unlogged := bot.TotalQueries - logged
	if unlogged < 0 {
		unlogged = 0
	}

	weighted := e.cfg.AssumedConfidence
	if denom := float64(unlogged) + float64(gapCount); denom > 0 {
		weighted = (float64(unlogged)*e.cfg.AssumedConfidence + float64(gapCount)*avgConf) / denom
	}

	return &models.GapStats{
		WindowDays:       e.cfg.GapWindowDays,
		GapCount:         int(gapCount),
		UnresolvedCount:  int(unresolved),
		AvgGapConfidence: round3(avgConf),
		WeightedAvgConf:  round3(weighted),
		TotalQueries:     bot.TotalQueries,
		TopFailedQueries: top,
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
