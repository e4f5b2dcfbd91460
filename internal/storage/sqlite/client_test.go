package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botblocks/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, c.InitSchema())

	t.Cleanup(func() { c.Close() })
	return c
}

func createTestBot(t *testing.T, c *Client) *models.Bot {
	t.Helper()

	bot := &models.Bot{
		PublicID:       uuid.New().String(),
		Name:           "Acme Support",
		SystemPersona:  "You are the Acme support bot.",
		ThemeColor:     "#0f766e",
		InitialMessage: "Hello!",
		BotAvatar:      "🤖",
		CreatedAt:      time.Now(),
	}
	require.NoError(t, c.CreateBot(bot))
	return bot
}

func appendGap(t *testing.T, c *Client, botID int64, query string, confidence float64, createdAt time.Time) {
	t.Helper()

	require.NoError(t, c.AppendAuditEntry(&models.AuditLogEntry{
		ID:              uuid.New().String(),
		BotID:           botID,
		UserQuery:       query,
		BotResponse:     "response",
		ConfidenceScore: confidence,
		FlaggedAsGap:    true,
		CreatedAt:       createdAt,
	}))
}

func TestCreateAndGetBot(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	assert.NotZero(t, bot.ID)
	assert.Equal(t, 100.0, bot.HealthScore)

	got, err := c.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, bot.PublicID, got.PublicID)
	assert.Equal(t, "Acme Support", got.Name)
	assert.Equal(t, 100.0, got.HealthScore)
	assert.Nil(t, got.HealthCheckedAt)
	assert.Nil(t, got.InsightGeneratedAt)

	byPublic, err := c.GetBotByPublicID(bot.PublicID)
	require.NoError(t, err)
	assert.Equal(t, bot.ID, byPublic.ID)
}

func TestGetBotNotFound(t *testing.T) {
	c := newTestClient(t)

	_, err := c.GetBot(999)
	assert.ErrorIs(t, err, ErrBotNotFound)

	_, err = c.GetBotByPublicID("nope")
	assert.ErrorIs(t, err, ErrBotNotFound)
}

func TestUpdateBotConfig(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	err := c.UpdateBotConfig(bot.ID, "Renamed", "New persona", "#123456", "Hey!", "🦊")
	require.NoError(t, err)

	got, err := c.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", got.Name)
	assert.Equal(t, "New persona", got.SystemPersona)
	assert.Equal(t, "#123456", got.ThemeColor)

	assert.ErrorIs(t, c.UpdateBotConfig(999, "a", "b", "c", "d", "e"), ErrBotNotFound)
}

func TestDeleteBotCascadesAuditLog(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)
	appendGap(t, c, bot.ID, "q", 0, time.Now())

	require.NoError(t, c.DeleteBot(bot.ID))

	_, err := c.GetBot(bot.ID)
	assert.ErrorIs(t, err, ErrBotNotFound)

	count, err := c.CountLoggedEntries(bot.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestIncrementTotalQueries(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.IncrementTotalQueries(bot.ID))
	}

	got, err := c.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.TotalQueries)

	require.NoError(t, c.SetTotalQueries(bot.ID, 42))
	got, err = c.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.TotalQueries)
}

func TestUpdateBotHealthAndInsights(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	checkedAt := time.Now().Truncate(time.Second)
	require.NoError(t, c.UpdateBotHealth(bot.ID, 87.5, checkedAt))

	generatedAt := time.Now().Truncate(time.Second)
	require.NoError(t, c.UpdateBotInsights(bot.ID, `[{"topic":"Pricing"}]`, generatedAt))

	got, err := c.GetBot(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, 87.5, got.HealthScore)
	require.NotNil(t, got.HealthCheckedAt)
	assert.Equal(t, checkedAt.Unix(), got.HealthCheckedAt.Unix())
	assert.Equal(t, `[{"topic":"Pricing"}]`, got.CachedInsightSummary)
	require.NotNil(t, got.InsightGeneratedAt)
}

func TestGapCountsAndWindow(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	now := time.Now()
	appendGap(t, c, bot.ID, "old question", 0.1, now.AddDate(0, 0, -40))
	appendGap(t, c, bot.ID, "recent question", 0.3, now.AddDate(0, 0, -2))
	appendGap(t, c, bot.ID, "another recent", 0.5, now.Add(-time.Hour))

	unresolved, err := c.CountUnresolvedGaps(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), unresolved)

	since := now.AddDate(0, 0, -30)
	count, avg, err := c.GapWindowStats(bot.ID, since)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.InDelta(t, 0.4, avg, 1e-9)

	windowed, err := c.UnresolvedGapsSince(bot.ID, since, 10)
	require.NoError(t, err)
	require.Len(t, windowed, 2)
	assert.Equal(t, "another recent", windowed[0].UserQuery, "newest first")
}

func TestTopFailedQueriesGroups(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	now := time.Now()
	for i := 0; i < 3; i++ {
		appendGap(t, c, bot.ID, "pricing tiers", 0, now.Add(-time.Duration(i)*time.Hour))
	}
	appendGap(t, c, bot.ID, "sso setup", 0, now)

	top, err := c.TopFailedQueries(bot.ID, now.AddDate(0, 0, -30), 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "pricing tiers", top[0].Query)
	assert.Equal(t, 3, top[0].Count)
	assert.Equal(t, "sso setup", top[1].Query)
}

func TestResolveGapsByQueryIsIdempotent(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	now := time.Now()
	appendGap(t, c, bot.ID, "pricing tiers", 0, now)
	appendGap(t, c, bot.ID, "pricing tiers", 0.2, now)
	appendGap(t, c, bot.ID, "sso setup", 0, now)

	resolved, err := c.ResolveGapsByQuery(bot.ID, "pricing tiers")
	require.NoError(t, err)
	assert.Equal(t, int64(2), resolved)

	// Second resolve touches nothing.
	resolved, err = c.ResolveGapsByQuery(bot.ID, "pricing tiers")
	require.NoError(t, err)
	assert.Zero(t, resolved)

	unresolved, err := c.CountUnresolvedGaps(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unresolved)

	// Resolved entries stay in the log.
	total, err := c.CountLoggedEntries(bot.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
}

func TestRecentGapsIncludesResolved(t *testing.T) {
	c := newTestClient(t)
	bot := createTestBot(t, c)

	now := time.Now()
	appendGap(t, c, bot.ID, "resolved one", 0, now.Add(-time.Hour))
	appendGap(t, c, bot.ID, "open one", 0, now)

	_, err := c.ResolveGapsByQuery(bot.ID, "resolved one")
	require.NoError(t, err)

	recent, err := c.RecentGaps(bot.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "open one", recent[0].UserQuery)
	assert.True(t, recent[1].IsResolved)
}

func TestListBots(t *testing.T) {
	c := newTestClient(t)
	createTestBot(t, c)
	createTestBot(t, c)

	bots, err := c.ListBots()
	require.NoError(t, err)
	assert.Len(t, bots, 2)
}
