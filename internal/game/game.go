// Package game implements a rule-pluggable turn-based engine.
//
// The engine owns turn order, round counting, status transitions and the
// action log. Everything game specific (legality, effects, scoring, win
// detection, who plays next) is delegated to a Rules implementation.
//
// States move preparing → active ⇄ paused → finished. Accepted actions are
// recorded as immutable snapshots so undo is a pointer rewind, and any state
// can be re-derived with Replay from its initial snapshot and action log.
package game

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAction is the root of every rejection. Rule faults fold into it.
	ErrInvalidAction = errors.New("invalid action")
	// ErrNotYourTurn is returned when the issuer is not the current participant.
	ErrNotYourTurn = fmt.Errorf("%w: not your turn", ErrInvalidAction)
	// ErrMalformedPayload is returned when a payload cannot be decoded or has the wrong type.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrInvalidAction)

	ErrWrongStatus      = errors.New("operation not allowed in current game status")
	ErrUndoNotAllowed   = errors.New("undo is disabled for this game")
	ErrNothingToUndo    = errors.New("no action to undo")
	ErrNotEnoughPlayers = errors.New("not enough players")
	ErrTooManyPlayers   = errors.New("too many players")
	ErrDuplicatePlayer  = errors.New("duplicate player")
	ErrUnknownPlayer    = errors.New("unknown player")
	ErrUnknownGame      = errors.New("unknown game type")
)

// Reject builds a rule rejection carrying a human readable reason.
func Reject(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}
