package game

import (
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/Tabletop/internal/domain"
)

// step applies one action to s and returns the next snapshot. It is the single
// transition function shared by Engine.Execute and Replay.
func step(rules Rules, s State, a Action, now time.Time) (next State, err error) {
	defer func() {
		if r := recover(); r != nil {
			next = State{}
			err = fmt.Errorf("%w: rule fault: %v", ErrInvalidAction, r)
		}
	}()

	if s.Status != StatusActive {
		return State{}, fmt.Errorf("%w: game is %s", ErrInvalidAction, s.Status)
	}
	if a.Data == nil {
		return State{}, fmt.Errorf("%w: missing data", ErrMalformedPayload)
	}
	if a.Type == "" {
		a.Type = a.Data.ActionType()
	}
	if a.Type != a.Data.ActionType() {
		return State{}, fmt.Errorf("%w: type %q does not match payload", ErrMalformedPayload, a.Type)
	}
	if a.PlayerID != s.CurrentPlayer() {
		return State{}, ErrNotYourTurn
	}
	if err := rules.ValidateAction(s, a); err != nil {
		return State{}, err
	}

	next, err = rules.ExecuteAction(s.Clone(), a)
	if err != nil {
		return State{}, err
	}
	if a.Name == "" {
		a.Name = string(a.Type)
	}
	a.IsValid = true
	next.Players = slices.Clone(s.Players)
	next.History = append(slices.Clip(s.History), a)
	next.TurnIndex = s.TurnIndex
	next.Round = s.Round
	next.Scores = scoresOf(rules, next)

	if res := rules.CheckWinCondition(next); res != nil {
		next.Status = StatusFinished
		next.Result = res
		next.EndedAt = now
		return next, nil
	}

	prev := s.TurnIndex
	idx := rules.NextPlayer(next)
	if idx < 0 || idx >= len(next.Players) {
		return State{}, fmt.Errorf("%w: rule fault: next player %d out of range", ErrInvalidAction, idx)
	}
	if wrapped(prev, idx, len(next.Players)) {
		next.Round++
	}
	next.TurnIndex = idx
	return next, nil
}

// wrapped reports whether moving the turn pointer from prev to idx completes a round.
func wrapped(prev, idx, players int) bool {
	if idx != 0 {
		return false
	}
	return prev != 0 || players == 1
}

func scoresOf(rules Rules, s State) map[domain.ParticipantID]int {
	scores := make(map[domain.ParticipantID]int, len(s.Players))
	for _, id := range s.Players {
		scores[id] = rules.CalculateScore(s, id)
	}
	return scores
}

// Replay re-derives a state by applying history to an initial snapshot in order.
// Recorded action timestamps are kept; ids must match the recorded turn order.
func Replay(rules Rules, initial State, history []Action) (State, error) {
	s := initial.Clone()
	for i, a := range history {
		ts := a.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		a.Timestamp = ts
		next, err := step(rules, s, a, ts)
		if err != nil {
			return s, fmt.Errorf("replay action %d (%s): %w", i, a.ID, err)
		}
		s = next
	}
	return s, nil
}
