package game

import (
	"maps"
	"slices"
	"time"

	"github.com/dkeye/Tabletop/internal/domain"
)

type Status string

const (
	StatusPreparing Status = "preparing"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusFinished  Status = "finished"
)

const DefaultTurnTimeLimit = 30 * time.Second

type Settings struct {
	TurnTimeLimit time.Duration `json:"turnTimeLimit"`
	AllowUndo     bool          `json:"allowUndo"`
	HintLevel     int           `json:"hintLevel"`
	// AutoSkip advances the turn when the timer expires. Off by default.
	AutoSkip bool `json:"autoSkip"`
}

func DefaultSettings() Settings {
	return Settings{TurnTimeLimit: DefaultTurnTimeLimit}
}

type Result struct {
	Winner domain.ParticipantID `json:"winner,omitempty"`
	Draw   bool                 `json:"draw,omitempty"`
	Reason string               `json:"reason"`
}

// State is one immutable snapshot of a game session. Rules must not mutate
// a State they receive; they return a modified copy instead.
type State struct {
	GameType  string                       `json:"gameType"`
	Players   []domain.ParticipantID       `json:"players"`
	TurnIndex int                          `json:"turnIndex"`
	Round     int                          `json:"round"`
	Phase     string                       `json:"phase"`
	Status    Status                       `json:"status"`
	Scores    map[domain.ParticipantID]int `json:"scores"`
	History   []Action                     `json:"history"`
	Settings  Settings                     `json:"settings"`
	StartedAt time.Time                    `json:"startedAt"`
	EndedAt   time.Time                    `json:"endedAt,omitzero"`
	Result    *Result                      `json:"result,omitempty"`
	// Data holds the rule specific state (board, deck, chips...).
	Data any `json:"data"`
}

func (s State) CurrentPlayer() domain.ParticipantID {
	if s.TurnIndex < 0 || s.TurnIndex >= len(s.Players) {
		return ""
	}
	return s.Players[s.TurnIndex]
}

func (s State) IndexOf(id domain.ParticipantID) int {
	return slices.Index(s.Players, id)
}

// Clone copies the containers owned by the engine. Data is shared; rules copy it on write.
func (s State) Clone() State {
	s.Players = slices.Clone(s.Players)
	s.Scores = maps.Clone(s.Scores)
	s.History = slices.Clone(s.History)
	if s.Result != nil {
		r := *s.Result
		s.Result = &r
	}
	return s
}
