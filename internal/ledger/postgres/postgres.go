package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/lib/pq"

	"github.com/groexpert13/sheet/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// PoolConfig tunes the database/sql connection pool. Zero values keep driver defaults.
type PoolConfig struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	MaxIdleTime time.Duration
}

// New opens a PostgreSQL-backed ledger store using the provided DSN.
func New(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}
	if pool.MaxOpen > 0 {
		db.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		db.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if pool.MaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pool.MaxIdleTime)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS relay_turns (
	id BIGSERIAL PRIMARY KEY,
	turn_id TEXT NOT NULL UNIQUE,
	user_key TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	lang TEXT NOT NULL DEFAULT '',
	messages INTEGER NOT NULL DEFAULT 0,
	input_tokens BIGINT NOT NULL DEFAULT 0,
	output_bytes BIGINT NOT NULL DEFAULT 0,
	deltas BIGINT NOT NULL DEFAULT 0,
	markers TEXT[] NOT NULL DEFAULT '{}',
	skipped_lines BIGINT NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','disconnected','client_gone','rejected')),
	status INTEGER NOT NULL DEFAULT 0,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_relay_turns_user_created ON relay_turns(user_key, created_at DESC);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// DB exposes the handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a new turn entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	user := entry.User
	if user == "" {
		user = ledger.DefaultUser
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	markers := entry.Markers
	if markers == nil {
		markers = []string{}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relay_turns(turn_id, user_key, model, lang, messages, input_tokens, output_bytes, deltas, markers, skipped_lines, outcome, status, duration_ms, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		entry.TurnID,
		user,
		entry.Model,
		entry.Lang,
		entry.Messages,
		entry.InputTokens,
		entry.OutputBytes,
		entry.Deltas,
		pq.Array(markers),
		entry.SkippedLines,
		string(entry.Outcome),
		entry.Status,
		entry.DurationMS,
		created,
	)
	return err
}

// Summary returns aggregated turns for the given user.
func (s *Store) Summary(ctx context.Context, user string) (ledger.Summary, error) {
	if user == "" {
		user = ledger.DefaultUser
	}
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN outcome IN ('disconnected','rejected') THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(input_tokens), 0),
	COALESCE(SUM(output_bytes), 0)
FROM relay_turns
WHERE user_key = $1`, user)

	var sum ledger.Summary
	if err := row.Scan(&sum.Turns, &sum.Failed, &sum.InputTokens, &sum.OutputBytes); err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// ListRecent returns the latest entries for a user.
func (s *Store) ListRecent(ctx context.Context, user string, limit int) ([]ledger.Entry, error) {
	if user == "" {
		user = ledger.DefaultUser
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, turn_id, user_key, model, lang, messages, input_tokens, output_bytes, deltas, markers, skipped_lines, outcome, status, duration_ms, created_at
FROM relay_turns
WHERE user_key = $1
ORDER BY created_at DESC, id DESC
LIMIT $2`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.TurnID, &e.User, &e.Model, &e.Lang, &e.Messages, &e.InputTokens, &e.OutputBytes,
			&e.Deltas, pq.Array(&e.Markers), &e.SkippedLines, &outcome, &e.Status, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(e.Markers) == 0 {
			e.Markers = nil
		}
		e.Outcome = ledger.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
