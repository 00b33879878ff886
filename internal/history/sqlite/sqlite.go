package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/groexpert13/sheet/internal/history"
)

// Store implements history.Store backed by SQLite.
type Store struct {
	db    *sql.DB
	limit int
}

// New opens (or creates) the history database at path. limit caps each
// transcript; zero means history.DefaultLimit.
func New(path string, limit int) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if limit <= 0 {
		limit = history.DefaultLimit
	}
	s := &Store{db: db, limit: limit}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS chat_messages (
	chat_key TEXT NOT NULL,
	seq INTEGER NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	at TIMESTAMP NOT NULL,
	PRIMARY KEY (chat_key, seq)
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the stored transcript for key, oldest first.
func (s *Store) Load(ctx context.Context, key string) ([]history.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT role, content, at FROM chat_messages WHERE chat_key = ? ORDER BY seq ASC`, key)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Record
	for rows.Next() {
		var r history.Record
		if err := rows.Scan(&r.Role, &r.Content, &r.At); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Save replaces the transcript for key with the newest records.
func (s *Store) Save(ctx context.Context, key string, records []history.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_key = ?`, key); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO chat_messages(chat_key, seq, role, content, at) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, r := range history.Tail(records, s.limit) {
		at := r.At
		if at.IsZero() {
			at = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx, key, i, r.Role, r.Content, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Reset removes the transcript for key.
func (s *Store) Reset(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE chat_key = ?`, key)
	return err
}
