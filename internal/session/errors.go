package session

import (
	"errors"
	"fmt"

	"github.com/yabot-dev/yabot/pkg/types"
)

// InvariantError aborts a turn whose state can no longer be trusted. The
// conversation is marked broken and refuses new messages until reset.
type InvariantError struct {
	ConvID string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in conversation %s: %s", e.ConvID, e.Reason)
}

// Unwrap exposes the classified error so errors.Is(err, types.ErrInvariant)
// holds.
func (e *InvariantError) Unwrap() error {
	return types.NewError(types.CodeInvariant, "%s", e.Reason)
}

// errTurnEnded reports that the turn lost its token to stop, reset or
// delete. Whatever the loop was doing is discarded.
var errTurnEnded = errors.New("turn ended")
