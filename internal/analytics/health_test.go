package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botblocks/backend/internal/storage/models"
)

type fakeHealthRepo struct {
	unresolved    int64
	logged        int64
	windowCount   int64
	windowAvg     float64
	topFailed     []models.FailedQuery
	setTotalCalls []int64
	healthUpdates []float64
}

func (f *fakeHealthRepo) CountUnresolvedGaps(botID int64) (int64, error) {
	return f.unresolved, nil
}

func (f *fakeHealthRepo) CountLoggedEntries(botID int64) (int64, error) {
	return f.logged, nil
}

func (f *fakeHealthRepo) GapWindowStats(botID int64, since time.Time) (int64, float64, error) {
	return f.windowCount, f.windowAvg, nil
}

func (f *fakeHealthRepo) TopFailedQueries(botID int64, since time.Time, limit int) ([]models.FailedQuery, error) {
	return f.topFailed, nil
}

func (f *fakeHealthRepo) SetTotalQueries(botID, total int64) error {
	f.setTotalCalls = append(f.setTotalCalls, total)
	return nil
}

func (f *fakeHealthRepo) UpdateBotHealth(botID int64, score float64, checkedAt time.Time) error {
	f.healthUpdates = append(f.healthUpdates, score)
	return nil
}

func newTestEngine(repo *fakeHealthRepo) *Engine {
	return NewEngine(repo, DefaultHealthConfig())
}

func TestHealthScoreFreshBot(t *testing.T) {
	repo := &fakeHealthRepo{unresolved: 0}
	e := newTestEngine(repo)

	score, err := e.HealthScore(&models.Bot{ID: 1, TotalQueries: 0})
	require.NoError(t, err)
	assert.Equal(t, 100.0, score)
}

func TestHealthScoreComputation(t *testing.T) {
	repo := &fakeHealthRepo{unresolved: 3}
	e := newTestEngine(repo)

	bot := &models.Bot{ID: 1, TotalQueries: 40}
	score, err := e.HealthScore(bot)
	require.NoError(t, err)

	// 1 - 3/40 = 0.925 -> 92.5
	assert.Equal(t, 92.5, score)
	assert.Equal(t, 92.5, bot.HealthScore)
	require.Len(t, repo.healthUpdates, 1)
	assert.Equal(t, 92.5, repo.healthUpdates[0])
	assert.NotNil(t, bot.HealthCheckedAt)
}

func TestHealthScoreRoundsToOneDecimal(t *testing.T) {
	repo := &fakeHealthRepo{unresolved: 1}
	e := newTestEngine(repo)

	bot := &models.Bot{ID: 1, TotalQueries: 3}
	score, err := e.HealthScore(bot)
	require.NoError(t, err)

	// 1 - 1/3 = 0.6666... -> 66.7
	assert.Equal(t, 66.7, score)
}

func TestHealthScoreUsesCacheInsideTTL(t *testing.T) {
	repo := &fakeHealthRepo{unresolved: 5}
	e := newTestEngine(repo)

	checked := time.Now().Add(-time.Minute)
	bot := &models.Bot{ID: 1, TotalQueries: 10, HealthScore: 88.8, HealthCheckedAt: &checked}

	score, err := e.HealthScore(bot)
	require.NoError(t, err)
	assert.Equal(t, 88.8, score)
	assert.Empty(t, repo.healthUpdates, "fresh cache must not trigger a recompute")
}

func TestHealthScoreRecomputesAfterTTL(t *testing.T) {
	repo := &fakeHealthRepo{unresolved: 5}
	e := newTestEngine(repo)

	checked := time.Now().Add(-time.Hour)
	bot := &models.Bot{ID: 1, TotalQueries: 10, HealthScore: 88.8, HealthCheckedAt: &checked}

	score, err := e.HealthScore(bot)
	require.NoError(t, err)
	assert.Equal(t, 50.0, score)
	require.Len(t, repo.healthUpdates, 1)
}

func TestHealthScoreRepairsDriftedCounter(t *testing.T) {
	repo := &fakeHealthRepo{unresolved: 12}
	e := newTestEngine(repo)

	bot := &models.Bot{ID: 1, TotalQueries: 7}
	score, err := e.HealthScore(bot)
	require.NoError(t, err)

	// Gaps exceed the counter: the denominator is corrected to the gap
	// count, persisted, and the score bottoms out at zero instead of
	// going negative.
	assert.Equal(t, 0.0, score)
	assert.Equal(t, int64(12), bot.TotalQueries)
	require.Len(t, repo.setTotalCalls, 1)
	assert.Equal(t, int64(12), repo.setTotalCalls[0])
}

func TestStatsBlendsAssumedSuccesses(t *testing.T) {
	repo := &fakeHealthRepo{
		unresolved:  4,
		logged:      10,
		windowCount: 10,
		windowAvg:   0.2,
		topFailed: []models.FailedQuery{
			{Query: "pricing tiers", Count: 4},
		},
	}
	e := newTestEngine(repo)

	bot := &models.Bot{ID: 1, TotalQueries: 100}
	stats, err := e.Stats(bot)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.GapCount)
	assert.Equal(t, 4, stats.UnresolvedCount)
	assert.Equal(t, int64(100), stats.TotalQueries)
	assert.Equal(t, 0.2, stats.AvgGapConfidence)

	// 90 unlogged at 0.95 plus 10 gaps at 0.2: (90*0.95 + 10*0.2)/100 = 0.875
	assert.Equal(t, 0.875, stats.WeightedAvgConf)
	require.Len(t, stats.TopFailedQueries, 1)
	assert.Equal(t, "pricing tiers", stats.TopFailedQueries[0].Query)
}

func TestStatsWithNoTraffic(t *testing.T) {
	repo := &fakeHealthRepo{}
	e := newTestEngine(repo)

	stats, err := e.Stats(&models.Bot{ID: 1})
	require.NoError(t, err)

	assert.Zero(t, stats.GapCount)
	assert.Equal(t, 0.95, stats.WeightedAvgConf, "no evidence means the assumed confidence stands")
}

func TestStatsCounterBehindLoggedEntries(t *testing.T) {
	// More logged entries than counted queries: the unlogged share clamps
	// to zero rather than subtracting confidence that never existed.
	repo := &fakeHealthRepo{logged: 20, windowCount: 20, windowAvg: 0.3}
	e := newTestEngine(repo)

	stats, err := e.Stats(&models.Bot{ID: 1, TotalQueries: 5})
	require.NoError(t, err)
	assert.Equal(t, 0.3, stats.WeightedAvgConf)
}
