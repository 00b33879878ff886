package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/groexpert13/sheet/internal/ledger"
)

// Store implements ledger.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite store at the given path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
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
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	turn_id TEXT NOT NULL UNIQUE,
	user TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	lang TEXT NOT NULL DEFAULT '',
	messages INTEGER NOT NULL DEFAULT 0,
	input_tokens INTEGER NOT NULL DEFAULT 0,
	output_bytes INTEGER NOT NULL DEFAULT 0,
	deltas INTEGER NOT NULL DEFAULT 0,
	markers TEXT NOT NULL DEFAULT '',
	skipped_lines INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('completed','disconnected','client_gone','rejected')),
	status INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_relay_turns_user_created ON relay_turns(user, created_at DESC);
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
	_, err := s.db.ExecContext(ctx, `
INSERT INTO relay_turns(turn_id, user, model, lang, messages, input_tokens, output_bytes, deltas, markers, skipped_lines, outcome, status, duration_ms, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TurnID,
		user,
		entry.Model,
		entry.Lang,
		entry.Messages,
		entry.InputTokens,
		entry.OutputBytes,
		entry.Deltas,
		strings.Join(entry.Markers, ","),
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
WHERE user = ?`, user)

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
SELECT id, turn_id, user, model, lang, messages, input_tokens, output_bytes, deltas, markers, skipped_lines, outcome, status, duration_ms, created_at
FROM relay_turns
WHERE user = ?
ORDER BY created_at DESC, id DESC
LIMIT ?`, user, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var markers, outcome string
		if err := rows.Scan(&e.ID, &e.TurnID, &e.User, &e.Model, &e.Lang, &e.Messages, &e.InputTokens, &e.OutputBytes,
			&e.Deltas, &markers, &e.SkippedLines, &outcome, &e.Status, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		if markers != "" {
			e.Markers = strings.Split(markers, ",")
		}
		e.Outcome = ledger.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
