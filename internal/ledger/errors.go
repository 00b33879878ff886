package ledger

import (
	"errors"
	"fmt"
)

var errMissingTurnID = errors.New("ledger record requires turn id")

type invalidOutcomeError struct{ outcome Outcome }

func (e *invalidOutcomeError) Error() string {
	return fmt.Sprintf("invalid outcome %q", e.outcome)
}

// DefaultUser is stored when a turn carries no user identifier.
const DefaultUser = "anonymous"
