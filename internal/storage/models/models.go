package models

import "time"

type Bot struct {
	ID                   int64
	PublicID             string
	Name                 string
	SystemPersona        string
	ThemeColor           string
	InitialMessage       string
	BotAvatar            string
	HealthScore          float64
	HealthCheckedAt      *time.Time
	CachedInsightSummary string
	InsightGeneratedAt   *time.Time
	TotalQueries         int64
	CreatedAt            time.Time
}

// AuditLogEntry records one knowledge gap. Entries exist only for interactions
// the guard flagged as missing knowledge; successful answers and out-of-scope
// or greeting traffic are never persisted.
type AuditLogEntry struct {
	ID              string
	BotID           int64
	UserQuery       string
	BotResponse     string
	ConfidenceScore float64
	FlaggedAsGap    bool
	IsResolved      bool
	CreatedAt       time.Time
}

type SourceType string

const (
	SourceFile SourceType = "file"
	SourceWeb  SourceType = "web"
)

// ContentSource tags where a chunk came from. Web sources carry the scrape
// provenance; file sources only the original filename.
type ContentSource struct {
	Name      string
	Type      SourceType
	URL       string
	Title     string
	ScrapedAt time.Time
}

// RetrievedDocument is a per-request chunk with its cosine similarity score.
// It lives only for the duration of one pipeline invocation.
type RetrievedDocument struct {
	Content string
	Score   float64
	Source  ContentSource
}

type GapType string

const GapMissingKnowledge GapType = "missing_knowledge"

// GuardVerdict is the structured outcome of validating one generated answer.
type GuardVerdict struct {
	Answer       string
	Confidence   float64
	OutOfScope   bool
	FlaggedAsGap bool
	GapType      GapType
}

type InsightTopic struct {
	Topic         string   `json:"topic"`
	Count         int      `json:"count"`
	SampleQueries []string `json:"sample_queries"`
	Advice        string   `json:"advice"`
	Priority      string   `json:"priority"`
}

type FailedQuery struct {
	Query    string
	Count    int
	LastSeen time.Time
}

type GapStats struct {
	WindowDays        int
	GapCount          int
	UnresolvedCount   int
	AvgGapConfidence  float64
	WeightedAvgConf   float64
	TotalQueries      int64
	TopFailedQueries  []FailedQuery
}
