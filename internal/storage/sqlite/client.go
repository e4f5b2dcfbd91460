package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/botblocks/backend/internal/storage/models"
	"github.com/botblocks/backend/pkg/logger"
)

var ErrBotNotFound = errors.New("bot not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS bots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT UNIQUE NOT NULL,
		name TEXT NOT NULL DEFAULT 'My Bot',
		system_persona TEXT NOT NULL DEFAULT 'You are a helpful assistant.',
		theme_color TEXT NOT NULL DEFAULT '#0f766e',
		initial_message TEXT NOT NULL DEFAULT 'Hello! How can I help you today?',
		bot_avatar TEXT NOT NULL DEFAULT '🤖',
		health_score REAL NOT NULL DEFAULT 100,
		health_checked_at INTEGER,
		cached_insight_summary TEXT,
		insight_generated_at INTEGER,
		total_queries INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_bots_public ON bots(public_id);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		bot_id INTEGER NOT NULL,
		user_query TEXT NOT NULL,
		bot_response TEXT,
		confidence_score REAL NOT NULL,
		flagged_as_gap INTEGER NOT NULL DEFAULT 0,
		is_resolved INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (bot_id) REFERENCES bots(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_audit_bot ON audit_log(bot_id);
	CREATE INDEX IF NOT EXISTS idx_audit_created ON audit_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_flagged ON audit_log(bot_id, flagged_as_gap, is_resolved);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateBot(bot *models.Bot) error {
	query := `
		INSERT INTO bots (public_id, name, system_persona, theme_color, initial_message, bot_avatar, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	res, err := c.db.Exec(
		query,
		bot.PublicID,
		bot.Name,
		bot.SystemPersona,
		bot.ThemeColor,
		bot.InitialMessage,
		bot.BotAvatar,
		bot.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	bot.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read bot id: %w", err)
	}

	bot.HealthScore = 100

	logger.Info("Bot created", zap.Int64("bot_id", bot.ID), zap.String("public_id", bot.PublicID))
	return nil
}

func (c *Client) GetBot(id int64) (*models.Bot, error) {
	return c.scanBot(c.db.QueryRow(selectBot+` WHERE id = ?`, id))
}

func (c *Client) GetBotByPublicID(publicID string) (*models.Bot, error) {
	return c.scanBot(c.db.QueryRow(selectBot+` WHERE public_id = ?`, publicID))
}

const selectBot = `
	SELECT id, public_id, name, system_persona, theme_color, initial_message, bot_avatar,
		health_score, health_checked_at, cached_insight_summary, insight_generated_at,
		total_queries, created_at
	FROM bots`

func (c *Client) scanBot(row *sql.Row) (*models.Bot, error) {
	var bot models.Bot
	var healthCheckedAt, insightGeneratedAt sql.NullInt64
	var cachedSummary sql.NullString
	var createdAt int64

	err := row.Scan(
		&bot.ID,
		&bot.PublicID,
		&bot.Name,
		&bot.SystemPersona,
		&bot.ThemeColor,
		&bot.InitialMessage,
		&bot.BotAvatar,
		&bot.HealthScore,
		&healthCheckedAt,
		&cachedSummary,
		&insightGeneratedAt,
		&bot.TotalQueries,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrBotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}

	if healthCheckedAt.Valid {
		t := time.Unix(healthCheckedAt.Int64, 0)
		bot.HealthCheckedAt = &t
	}
	if insightGeneratedAt.Valid {
		t := time.Unix(insightGeneratedAt.Int64, 0)
		bot.InsightGeneratedAt = &t
	}
	if cachedSummary.Valid {
		bot.CachedInsightSummary = cachedSummary.String
	}
	bot.CreatedAt = time.Unix(createdAt, 0)

	return &bot, nil
}

func (c *Client) ListBots() ([]models.Bot, error) {
	rows, err := c.db.Query(`SELECT id, public_id, name, system_persona, theme_color, initial_message, bot_avatar, health_score, total_queries, created_at FROM bots ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bots: %w", err)
	}
	defer rows.Close()

	var bots []models.Bot
	for rows.Next() {
		var b models.Bot
		var createdAt int64

		err := rows.Scan(&b.ID, &b.PublicID, &b.Name, &b.SystemPersona, &b.ThemeColor, &b.InitialMessage, &b.BotAvatar, &b.HealthScore, &b.TotalQueries, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		b.CreatedAt = time.Unix(createdAt, 0)
		bots = append(bots, b)
	}

	return bots, rows.Err()
}

func (c *Client) UpdateBotConfig(id int64, name, persona, themeColor, initialMessage, avatar string) error {
	query := `
		UPDATE bots SET name = ?, system_persona = ?, theme_color = ?, initial_message = ?, bot_avatar = ?
		WHERE id = ?
	`

	res, err := c.db.Exec(query, name, persona, themeColor, initialMessage, avatar, id)
	if err != nil {
		return fmt.Errorf("failed to update bot: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrBotNotFound
	}

	return nil
}

func (c *Client) DeleteBot(id int64) error {
	res, err := c.db.Exec(`DELETE FROM bots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete bot: %w", err)
	}

	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrBotNotFound
	}

	logger.Info("Bot deleted", zap.Int64("bot_id", id))
	return nil
}

// IncrementTotalQueries advances the lifetime denominator used by health
// scoring. Router short-circuits never reach this counter.
func (c *Client) IncrementTotalQueries(botID int64) error {
	_, err := c.db.Exec(`UPDATE bots SET total_queries = total_queries + 1 WHERE id = ?`, botID)
	if err != nil {
		return fmt.Errorf("failed to increment query counter: %w", err)
	}
	return nil
}

func (c *Client) SetTotalQueries(botID, total int64) error {
	_, err := c.db.Exec(`UPDATE bots SET total_queries = ? WHERE id = ?`, total, botID)
	if err != nil {
		return fmt.Errorf("failed to set query counter: %w", err)
	}
	return nil
}

func (c *Client) UpdateBotHealth(botID int64, score float64, checkedAt time.Time) error {
	_, err := c.db.Exec(`UPDATE bots SET health_score = ?, health_checked_at = ? WHERE id = ?`, score, checkedAt.Unix(), botID)
	if err != nil {
		return fmt.Errorf("failed to update health score: %w", err)
	}
	return nil
}

func (c *Client) UpdateBotInsights(botID int64, summary string, generatedAt time.Time) error {
	_, err := c.db.Exec(`UPDATE bots SET cached_insight_summary = ?, insight_generated_at = ? WHERE id = ?`, summary, generatedAt.Unix(), botID)
	if err != nil {
		return fmt.Errorf("failed to update insight cache: %w", err)
	}
	return nil
}

func (c *Client) AppendAuditEntry(entry *models.AuditLogEntry) error {
	query := `
		INSERT INTO audit_log (id, bot_id, user_query, bot_response, confidence_score, flagged_as_gap, is_resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)
	`

	flagged := 0
	if entry.FlaggedAsGap {
		flagged = 1
	}

	_, err := c.db.Exec(
		query,
		entry.ID,
		entry.BotID,
		entry.UserQuery,
		entry.BotResponse,
		entry.ConfidenceScore,
		flagged,
		entry.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	logger.Info("Knowledge gap recorded",
		zap.Int64("bot_id", entry.BotID),
		zap.String("query", entry.UserQuery),
		zap.Float64("confidence", entry.ConfidenceScore),
	)

	return nil
}

func (c *Client) CountUnresolvedGaps(botID int64) (int64, error) {
	var count int64
	err := c.db.QueryRow(
		`SELECT COUNT(*) FROM audit_log WHERE bot_id = ? AND flagged_as_gap = 1 AND is_resolved = 0`,
		botID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count gaps: %w", err)
	}
	return count, nil
}

func (c *Client) CountLoggedEntries(botID int64) (int64, error) {
	var count int64
	err := c.db.QueryRow(`SELECT COUNT(*) FROM audit_log WHERE bot_id = ?`, botID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

func (c *Client) UnresolvedGapsSince(botID int64, since time.Time, limit int) ([]models.AuditLogEntry, error) {
	query := `
		SELECT id, bot_id, user_query, bot_response, confidence_score, flagged_as_gap, is_resolved, created_at
		FROM audit_log
		WHERE bot_id = ? AND flagged_as_gap = 1 AND is_resolved = 0 AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, botID, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query gaps: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func (c *Client) RecentGaps(botID int64, limit int) ([]models.AuditLogEntry, error) {
	query := `
		SELECT id, bot_id, user_query, bot_response, confidence_score, flagged_as_gap, is_resolved, created_at
		FROM audit_log
		WHERE bot_id = ? AND flagged_as_gap = 1
		ORDER BY created_at DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent gaps: %w", err)
	}
	defer rows.Close()

	return scanAuditEntries(rows)
}

func scanAuditEntries(rows *sql.Rows) ([]models.AuditLogEntry, error) {
	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		var flagged, resolved int
		var createdAt int64

		err := rows.Scan(&e.ID, &e.BotID, &e.UserQuery, &e.BotResponse, &e.ConfidenceScore, &flagged, &resolved, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		e.FlaggedAsGap = flagged == 1
		e.IsResolved = resolved == 1
		e.CreatedAt = time.Unix(createdAt, 0)
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// GapWindowStats aggregates flagged entries inside the window: count and mean
// confidence. The analytics engine blends these with assumed-success weights.
func (c *Client) GapWindowStats(botID int64, since time.Time) (int64, float64, error) {
	var count int64
	var avg sql.NullFloat64

	err := c.db.QueryRow(
		`SELECT COUNT(*), AVG(confidence_score) FROM audit_log WHERE bot_id = ? AND flagged_as_gap = 1 AND created_at >= ?`,
		botID, since.Unix(),
	).Scan(&count, &avg)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to aggregate gap stats: %w", err)
	}

	return count, avg.Float64, nil
}

func (c *Client) TopFailedQueries(botID int64, since time.Time, limit int) ([]models.FailedQuery, error) {
	query := `
		SELECT user_query, COUNT(*) AS n, MAX(created_at)
		FROM audit_log
		WHERE bot_id = ? AND flagged_as_gap = 1 AND created_at >= ?
		GROUP BY user_query
		ORDER BY n DESC, MAX(created_at) DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, botID, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top failed queries: %w", err)
	}
	defer rows.Close()

	var results []models.FailedQuery
	for rows.Next() {
		var fq models.FailedQuery
		var lastSeen int64

		err := rows.Scan(&fq.Query, &fq.Count, &lastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		fq.LastSeen = time.Unix(lastSeen, 0)
		results = append(results, fq)
	}

	return results, rows.Err()
}

// ResolveGapsByQuery marks every open gap with the exact query text as
// resolved. Calling it again with the same text resolves zero rows.
func (c *Client) ResolveGapsByQuery(botID int64, queryText string) (int64, error) {
	res, err := c.db.Exec(
		`UPDATE audit_log SET is_resolved = 1 WHERE bot_id = ? AND user_query = ? AND flagged_as_gap = 1 AND is_resolved = 0`,
		botID, queryText,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve gaps: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected > 0 {
		logger.Info("Gaps resolved",
			zap.Int64("bot_id", botID),
			zap.String("query", queryText),
			zap.Int64("resolved", affected),
		)
	}

	return affected, nil
}
