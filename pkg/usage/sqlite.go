package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig contains configuration for the SQLite storage backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int `yaml:"max_open_conns"`

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int `yaml:"max_idle_conns"`

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:         "data/usage.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS usage_events (
    id TEXT PRIMARY KEY,
    timestamp TIMESTAMP NOT NULL,
    request_id TEXT NOT NULL,
    user_id TEXT,
    provider TEXT,
    model TEXT,
    feature TEXT,
    strategy TEXT,
    fallback_chain TEXT,
    prompt_tokens INTEGER NOT NULL DEFAULT 0,
    completion_tokens INTEGER NOT NULL DEFAULT 0,
    total_tokens INTEGER NOT NULL DEFAULT 0,
    cost_micro_usd INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_usage_user_id ON usage_events(user_id);
CREATE INDEX IF NOT EXISTS idx_usage_provider ON usage_events(provider);
CREATE INDEX IF NOT EXISTS idx_usage_outcome ON usage_events(outcome);
CREATE INDEX IF NOT EXISTS idx_usage_request_id ON usage_events(request_id);
`

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage creates a SQLite storage backend and initializes the
// schema.
func NewSQLiteStorage(config SQLiteConfig) (*SQLiteStorage, error) {
	if config.MaxOpenConns <= 0 {
		config.MaxOpenConns = DefaultSQLiteConfig().MaxOpenConns
	}
	if config.MaxIdleConns <= 0 {
		config.MaxIdleConns = DefaultSQLiteConfig().MaxIdleConns
	}
	if config.BusyTimeout <= 0 {
		config.BusyTimeout = DefaultSQLiteConfig().BusyTimeout
	}

	db, err := sql.Open("sqlite3", config.Path)
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: slog.Default().With("component", "usage.storage.sqlite"),
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.logger.Info("usage storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
	)
	return s, nil
}

func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("enable wal mode: %w", err)
		}
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", s.config.BusyTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.Exec(sqliteSchema); err != nil {
		return fmt.Errorf("create usage schema: %w", err)
	}
	return nil
}

// Store persists one event.
func (s *SQLiteStorage) Store(ctx context.Context, event *Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (
			id, timestamp, request_id, user_id, provider, model, feature,
			strategy, fallback_chain, prompt_tokens, completion_tokens,
			total_tokens, cost_micro_usd, outcome, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.Timestamp.UTC(),
		event.RequestID,
		event.UserID,
		event.Provider,
		event.Model,
		event.Feature,
		event.Strategy,
		strings.Join(event.FallbackChain, ","),
		event.PromptTokens,
		event.CompletionTokens,
		event.TotalTokens,
		event.CostMicroUSD,
		string(event.Outcome),
		event.Error,
	)
	if err != nil {
		return fmt.Errorf("store usage event %s: %w", event.ID, err)
	}
	return nil
}

// whereClause builds the WHERE clause and arguments for q.
func whereClause(q *Query) (string, []any) {
	var conds []string
	var args []any

	if !q.Since.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, q.Since.UTC())
	}
	if !q.Until.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, q.Until.UTC())
	}
	if q.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, q.Provider)
	}
	if q.Outcome != "" {
		conds = append(conds, "outcome = ?")
		args = append(args, string(q.Outcome))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns events matching q, newest first.
func (s *SQLiteStorage) Query(ctx context.Context, q *Query) ([]*Event, error) {
	where, args := whereClause(q)
	query := `
		SELECT id, timestamp, request_id, user_id, provider, model, feature,
			strategy, fallback_chain, prompt_tokens, completion_tokens,
			total_tokens, cost_micro_usd, outcome, error
		FROM usage_events` + where + " ORDER BY timestamp DESC"

	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
		if q.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, q.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query usage events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var chain, outcome string
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.RequestID, &e.UserID, &e.Provider,
			&e.Model, &e.Feature, &e.Strategy, &chain, &e.PromptTokens,
			&e.CompletionTokens, &e.TotalTokens, &e.CostMicroUSD,
			&outcome, &e.Error,
		); err != nil {
			return nil, fmt.Errorf("scan usage event: %w", err)
		}
		if chain != "" {
			e.FallbackChain = strings.Split(chain, ",")
		}
		e.Outcome = Outcome(outcome)
		events = append(events, &e)
	}
	return events, rows.Err()
}

// Count returns the number of events matching q.
func (s *SQLiteStorage) Count(ctx context.Context, q *Query) (int64, error) {
	where, args := whereClause(q)
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM usage_events"+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count usage events: %w", err)
	}
	return n, nil
}

// DeleteBefore removes events older than cutoff.
func (s *SQLiteStorage) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM usage_events WHERE timestamp < ?", cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete usage events: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
