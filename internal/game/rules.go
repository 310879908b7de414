package game

import (
	"encoding/json"

	"github.com/dkeye/Tabletop/internal/domain"
)

// Rules is the contract every game type implements.
// All methods are pure with respect to the State they receive.
type Rules interface {
	GameType() string
	// InitialState fills Data and Phase for a fresh game. Players are already set.
	InitialState(s State) (State, error)
	DecodePayload(t ActionType, raw json.RawMessage) (Payload, error)
	// ValidateAction returns nil or an error wrapping ErrInvalidAction with the reason.
	ValidateAction(s State, a Action) error
	ExecuteAction(s State, a Action) (State, error)
	// CheckWinCondition returns nil while the game goes on.
	CheckWinCondition(s State) *Result
	ValidActions(s State, id domain.ParticipantID) []Action
	// NextPlayer returns the turn index after the last accepted action.
	NextPlayer(s State) int
	CalculateScore(s State, id domain.ParticipantID) int
}

// PlayerBounds is implemented by rules with a fixed seat count.
type PlayerBounds interface {
	MinPlayers() int
	MaxPlayers() int
}

// PlayerRemover lets rules clean up rule data when a participant leaves mid-game.
type PlayerRemover interface {
	RemovePlayer(s State, id domain.ParticipantID) State
}
