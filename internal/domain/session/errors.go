package session

import (
	"errors"
	"fmt"
)

// ErrPrecondition marks a rejected operation that left state untouched.
// Callers treat it as "nothing happened", not as a failure.
var ErrPrecondition = errors.New("precondition not met")

var (
	ErrSessionInactive    = fmt.Errorf("%w: no active session", ErrPrecondition)
	ErrSessionActive      = fmt.Errorf("%w: session already active", ErrPrecondition)
	ErrUnknownPlayer      = fmt.Errorf("%w: player not in session", ErrPrecondition)
	ErrPlayerPlaying      = fmt.Errorf("%w: player is playing", ErrPrecondition)
	ErrPlayerReserved     = fmt.Errorf("%w: player is in a reserved group", ErrPrecondition)
	ErrPlayerUnavailable  = fmt.Errorf("%w: player is not available", ErrPrecondition)
	ErrInvalidCourt       = fmt.Errorf("%w: court is not open", ErrPrecondition)
	ErrCourtBusy          = fmt.Errorf("%w: court is occupied", ErrPrecondition)
	ErrCourtEmpty         = fmt.Errorf("%w: court is empty", ErrPrecondition)
	ErrProposalStale      = fmt.Errorf("%w: proposed players are no longer waiting", ErrPrecondition)
	ErrNoProposal         = fmt.Errorf("%w: no pending proposal", ErrPrecondition)
	ErrGroupSize          = fmt.Errorf("%w: group needs 2 to 4 distinct players", ErrPrecondition)
	ErrUnknownGroup       = fmt.Errorf("%w: group not found", ErrPrecondition)
	ErrGroupNotReady      = fmt.Errorf("%w: group members are still playing", ErrPrecondition)
	ErrNotEnoughFillIns   = fmt.Errorf("%w: not enough waiting players to fill the group", ErrPrecondition)
	ErrInvalidCourtCount  = fmt.Errorf("%w: court count must be at least 1", ErrPrecondition)
	ErrNoChange           = fmt.Errorf("%w: nothing to change", ErrPrecondition)
	ErrInvalidPlayerInput = fmt.Errorf("%w: player needs an id and a known gender", ErrPrecondition)
)

// IsNoop reports whether err is a rejected precondition.
func IsNoop(err error) bool { return errors.Is(err, ErrPrecondition) }
