package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botblocks/backend/internal/storage/models"
)

type fakeInsightRepo struct {
	gaps        []models.AuditLogEntry
	gapsErr     error
	cached      string
	cachedAt    *time.Time
	updateCalls int
}

func (f *fakeInsightRepo) UnresolvedGapsSince(botID int64, since time.Time, limit int) ([]models.AuditLogEntry, error) {
	if f.gapsErr != nil {
		return nil, f.gapsErr
	}
	if len(f.gaps) > limit {
		return f.gaps[:limit], nil
	}
	return f.gaps, nil
}

func (f *fakeInsightRepo) UpdateBotInsights(botID int64, summary string, generatedAt time.Time) error {
	f.cached = summary
	f.cachedAt = &generatedAt
	f.updateCalls++
	return nil
}

type fakeSummarizer struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (f *fakeSummarizer) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func gapEntries(queries ...string) []models.AuditLogEntry {
	entries := make([]models.AuditLogEntry, len(queries))
	for i, q := range queries {
		entries[i] = models.AuditLogEntry{UserQuery: q, FlaggedAsGap: true}
	}
	return entries
}

const topicsJSON = `[{"topic": "Pricing", "count": 2, "sample_queries": ["how much is pro", "enterprise cost"], "advice": "Add a pricing page.", "priority": "medium"}]`

func TestTopicsClustersOpenGaps(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro", "enterprise cost")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	bot := &models.Bot{ID: 1}
	topics, err := a.Topics(context.Background(), bot, false)
	require.NoError(t, err)

	require.Len(t, topics, 1)
	assert.Equal(t, "Pricing", topics[0].Topic)
	assert.Equal(t, "medium", topics[0].Priority)
	assert.Equal(t, 1, repo.updateCalls)
	assert.NotNil(t, bot.InsightGeneratedAt)

	var cached []models.InsightTopic
	require.NoError(t, json.Unmarshal([]byte(repo.cached), &cached))
	assert.Len(t, cached, 1)
}

func TestTopicsPromptCarriesPersona(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro", "what toppings do you offer")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	bot := &models.Bot{ID: 1, SystemPersona: "You are a strictly financial banking assistant."}
	_, err := a.Topics(context.Background(), bot, true)
	require.NoError(t, err)

	require.Len(t, summarizer.prompts, 1)
	prompt := summarizer.prompts[0]
	assert.Contains(t, prompt, "strictly financial banking assistant")
	assert.Contains(t, prompt, "Discard questions unrelated")
	assert.Contains(t, prompt, "how much is pro")
}

func TestTopicsPromptTruncatesLongPersona(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	bot := &models.Bot{ID: 1, SystemPersona: strings.Repeat("persona ", 100)}
	_, err := a.Topics(context.Background(), bot, true)
	require.NoError(t, err)

	require.Len(t, summarizer.prompts, 1)
	assert.NotContains(t, summarizer.prompts[0], strings.Repeat("persona ", 40))
}

func TestTopicsServedFromFreshCache(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("should not be read")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	generatedAt := time.Now().Add(-time.Hour)
	bot := &models.Bot{
		ID:                   1,
		CachedInsightSummary: topicsJSON,
		InsightGeneratedAt:   &generatedAt,
	}

	topics, err := a.Topics(context.Background(), bot, false)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, 0, summarizer.calls, "fresh cache must not trigger clustering")
}

func TestTopicsForceBypassesCache(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro", "enterprise cost")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	generatedAt := time.Now().Add(-time.Minute)
	bot := &models.Bot{ID: 1, CachedInsightSummary: `[]`, InsightGeneratedAt: &generatedAt}

	topics, err := a.Topics(context.Background(), bot, true)
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, 1, summarizer.calls)
}

func TestTopicsRefreshesAfterTTL(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	generatedAt := time.Now().Add(-25 * time.Hour)
	bot := &models.Bot{ID: 1, CachedInsightSummary: `[]`, InsightGeneratedAt: &generatedAt}

	_, err := a.Topics(context.Background(), bot, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summarizer.calls)
}

func TestTopicsNoSurvivorsCachesEmpty(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("test", "asdf", "???", "hi")}
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	bot := &models.Bot{ID: 1}
	topics, err := a.Topics(context.Background(), bot, false)
	require.NoError(t, err)

	assert.Empty(t, topics)
	assert.Equal(t, 0, summarizer.calls, "pure noise never reaches the model")
	assert.Equal(t, "[]", repo.cached, "an empty result is still cached to stop re-clustering")
}

func TestTopicsClusteringFailureLeavesCacheAlone(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro")}
	summarizer := &fakeSummarizer{err: errors.New("rate limited")}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	stale := time.Now().Add(-48 * time.Hour)
	bot := &models.Bot{ID: 1, CachedInsightSummary: topicsJSON, InsightGeneratedAt: &stale}

	topics, err := a.Topics(context.Background(), bot, false)
	require.NoError(t, err)

	assert.Empty(t, topics)
	assert.Equal(t, 0, repo.updateCalls, "a failed run must not clobber the previous summary")
	assert.Equal(t, topicsJSON, bot.CachedInsightSummary)
}

func TestTopicsMalformedClusterOutput(t *testing.T) {
	repo := &fakeInsightRepo{gaps: gapEntries("how much is pro")}
	summarizer := &fakeSummarizer{response: "I could not group these questions."}
	a := NewAnalyst(repo, summarizer, DefaultInsightConfig())

	topics, err := a.Topics(context.Background(), &models.Bot{ID: 1}, false)
	require.NoError(t, err)
	assert.Empty(t, topics)
	assert.Equal(t, 0, repo.updateCalls)
}

func TestTopicsPromptCapsQueries(t *testing.T) {
	var entries []models.AuditLogEntry
	for i := 0; i < 60; i++ {
		entries = append(entries, models.AuditLogEntry{UserQuery: "real question number " + string(rune('a'+i%26))})
	}
	repo := &fakeInsightRepo{gaps: entries}
	summarizer := &fakeSummarizer{response: `[]`}

	cfg := DefaultInsightConfig()
	a := NewAnalyst(repo, summarizer, cfg)

	_, err := a.Topics(context.Background(), &models.Bot{ID: 1}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, summarizer.calls)
}

func TestCachedNeverCallsModel(t *testing.T) {
	summarizer := &fakeSummarizer{response: topicsJSON}
	a := NewAnalyst(&fakeInsightRepo{}, summarizer, DefaultInsightConfig())

	stale := time.Now().Add(-72 * time.Hour)
	bot := &models.Bot{ID: 1, CachedInsightSummary: topicsJSON, InsightGeneratedAt: &stale}

	topics := a.Cached(bot)
	require.Len(t, topics, 1)
	assert.Equal(t, 0, summarizer.calls)

	assert.Empty(t, a.Cached(&models.Bot{ID: 2}))
}

func TestKeepForClustering(t *testing.T) {
	keep := []string{
		"how do I reset my password",
		"pricing for teams",
		"what payment methods do you accept?",
	}
	drop := []string{
		"",
		"ok",
		"test",
		"TEST",
		"asdf",
		"????",
		"aaaaaaa",
		"hi",
		"a b", // too short
		"test test test",
		"hello hello, testing",
		"asdf asdf jkl",
		"please insert lorem ipsum here",
		"QWERTY keyboard smash",
	}

	for _, q := range keep {
		assert.True(t, keepForClustering(q), "should keep %q", q)
	}
	for _, q := range drop {
		assert.False(t, keepForClustering(q), "should drop %q", q)
	}
}

func TestFilterQueriesCaps(t *testing.T) {
	var queries []string
	for i := 0; i < 50; i++ {
		queries = append(queries, "a genuine question about topic")
	}
	kept := filterQueries(queries, 30)
	assert.Len(t, kept, 30)
}
