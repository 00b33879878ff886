// Package ledger keeps one record per relayed chat turn.
package ledger

import (
	"context"
	"time"
)

// Outcome is how a turn ended.
type Outcome string

const (
	// OutcomeCompleted: the upstream body ended normally.
	OutcomeCompleted Outcome = "completed"
	// OutcomeDisconnected: reading the upstream body failed mid-stream.
	OutcomeDisconnected Outcome = "disconnected"
	// OutcomeClientGone: the client stopped reading before the upstream ended.
	OutcomeClientGone Outcome = "client_gone"
	// OutcomeRejected: the provider refused the request; no stream was opened.
	OutcomeRejected Outcome = "rejected"
)

// Entry represents a single relayed turn.
type Entry struct {
	ID           int64     `json:"id"`
	TurnID       string    `json:"turn_id"`
	User         string    `json:"user"`
	Model        string    `json:"model"`
	Lang         string    `json:"lang"`
	Messages     int       `json:"messages"`
	InputTokens  int64     `json:"input_tokens"`
	OutputBytes  int64     `json:"output_bytes"`
	Deltas       int64     `json:"deltas"`
	Markers      []string  `json:"markers,omitempty"`
	SkippedLines int64     `json:"skipped_lines"`
	Outcome      Outcome   `json:"outcome"`
	Status       int       `json:"status"`
	DurationMS   int64     `json:"duration_ms"`
	CreatedAt    time.Time `json:"created_at"`
}

// Summary aggregates turns for a user.
type Summary struct {
	Turns       int64 `json:"turns"`
	Failed      int64 `json:"failed"`
	InputTokens int64 `json:"input_tokens"`
	OutputBytes int64 `json:"output_bytes"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	Summary(ctx context.Context, user string) (Summary, error)
	ListRecent(ctx context.Context, user string, limit int) ([]Entry, error)
	Close() error
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	if e.TurnID == "" {
		return errMissingTurnID
	}
	switch e.Outcome {
	case OutcomeCompleted, OutcomeDisconnected, OutcomeClientGone, OutcomeRejected:
		return nil
	default:
		return &invalidOutcomeError{outcome: e.Outcome}
	}
}
