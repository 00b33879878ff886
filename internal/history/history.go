// Package history persists chat transcripts between client sessions.
package history

import (
	"context"
	"strings"
	"time"
)

// DefaultLimit is how many messages a transcript keeps.
const DefaultLimit = 40

// Record is one stored chat message.
type Record struct {
	Role    string    `json:"role"`
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Store keeps one transcript per key.
type Store interface {
	// Load returns the transcript in order; an unknown key yields no records.
	Load(ctx context.Context, key string) ([]Record, error)
	// Save replaces the transcript, keeping only its newest messages.
	Save(ctx context.Context, key string, records []Record) error
	// Reset forgets the transcript.
	Reset(ctx context.Context, key string) error
	Close() error
}

// Key derives the storage key for a user; an empty user shares the
// anonymous transcript.
func Key(user string) string {
	user = strings.TrimSpace(user)
	if user == "" {
		user = "anon"
	}
	return "ai-chat:" + user
}

// Tail returns the last limit records. A non-positive limit means DefaultLimit.
func Tail(records []Record, limit int) []Record {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(records) <= limit {
		return records
	}
	return records[len(records)-limit:]
}
