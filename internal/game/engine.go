package game

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventGameStarted    EventType = "gameStarted"
	EventActionExecuted EventType = "actionExecuted"
	EventActionRejected EventType = "actionRejected"
	EventTurnChanged    EventType = "turnChanged"
	EventGameEnded      EventType = "gameEnded"
	EventGamePaused     EventType = "gamePaused"
	EventGameResumed    EventType = "gameResumed"
	EventActionUndone   EventType = "actionUndone"
	EventTurnTimedOut   EventType = "turnTimedOut"
)

type Event struct {
	Type     EventType            `json:"type"`
	State    State                `json:"state"`
	Action   *Action              `json:"action,omitempty"`
	PlayerID domain.ParticipantID `json:"playerId,omitempty"`
	Reason   string               `json:"reason,omitempty"`
}

// Engine holds the authoritative state of one game session.
// Every mutating call is serialized by a session-scoped mutex; events are
// published after the lock is released so handlers may call back in.
type Engine struct {
	mu        sync.Mutex
	rules     Rules
	state     State
	snapshots []State

	events *core.Bus[Event]
	now    func() time.Time
	logger zerolog.Logger

	timer    *time.Timer
	timerGen uint64
}

func NewEngine(rules Rules, players []domain.ParticipantID, settings Settings) (*Engine, error) {
	if len(players) == 0 {
		return nil, ErrNotEnoughPlayers
	}
	seen := make(map[domain.ParticipantID]struct{}, len(players))
	for _, id := range players {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePlayer, id)
		}
		seen[id] = struct{}{}
	}
	if b, ok := rules.(PlayerBounds); ok {
		if len(players) < b.MinPlayers() {
			return nil, fmt.Errorf("%w: %s needs %d", ErrNotEnoughPlayers, rules.GameType(), b.MinPlayers())
		}
		if len(players) > b.MaxPlayers() {
			return nil, fmt.Errorf("%w: %s allows %d", ErrTooManyPlayers, rules.GameType(), b.MaxPlayers())
		}
	}
	if settings.TurnTimeLimit < 0 {
		settings.TurnTimeLimit = 0
	}
	return &Engine{
		rules: rules,
		state: State{
			GameType: rules.GameType(),
			Players:  slices.Clone(players),
			Round:    1,
			Status:   StatusPreparing,
			Scores:   make(map[domain.ParticipantID]int, len(players)),
			Settings: settings,
		},
		events: core.NewBus[Event](),
		now:    time.Now,
		logger: log.With().Str("module", "game.engine").Str("game", rules.GameType()).Logger(),
	}, nil
}

func (e *Engine) Rules() Rules { return e.rules }

// Subscribe registers a game event handler and returns its unsubscribe func.
func (e *Engine) Subscribe(fn func(Event)) func() { return e.events.Subscribe(fn) }

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Status
}

// Initial returns the snapshot taken when the game started.
func (e *Engine) Initial() (State, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.snapshots) == 0 {
		return State{}, false
	}
	return e.snapshots[0].Clone(), true
}

func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state.Status != StatusPreparing {
		e.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrWrongStatus, e.state.Status)
	}
	s := e.state.Clone()
	s.Status = StatusActive
	s.StartedAt = e.now()
	s.TurnIndex = 0
	s, err := e.rules.InitialState(s)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("initial state: %w", err)
	}
	s.Scores = scoresOf(e.rules, s)
	e.state = s
	e.snapshots = []State{s}
	e.armTimerLocked()
	ev := Event{Type: EventGameStarted, State: s.Clone(), PlayerID: s.CurrentPlayer()}
	e.mu.Unlock()

	e.logger.Info().Int("players", len(s.Players)).Str("phase", s.Phase).Msg("game started")
	e.events.Publish(ev)
	return nil
}

// Execute validates and applies an action. A rejected action leaves state
// untouched and emits actionRejected with the reason.
func (e *Engine) Execute(a Action) (State, error) {
	e.mu.Lock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := e.now()
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	prev := e.state
	next, err := step(e.rules, prev, a, now)
	if err != nil {
		a.IsValid = false
		ev := Event{Type: EventActionRejected, State: prev.Clone(), Action: &a, PlayerID: a.PlayerID, Reason: err.Error()}
		e.mu.Unlock()
		e.logger.Debug().Str("player", string(a.PlayerID)).Str("type", string(a.Type)).Err(err).Msg("action rejected")
		e.events.Publish(ev)
		return prev.Clone(), err
	}
	e.state = next
	e.snapshots = append(e.snapshots, next)
	accepted := next.History[len(next.History)-1]

	evs := []Event{{Type: EventActionExecuted, State: next.Clone(), Action: &accepted, PlayerID: accepted.PlayerID}}
	if next.Status == StatusFinished {
		e.stopTimerLocked()
		evs = append(evs, Event{Type: EventGameEnded, State: next.Clone(), Reason: next.Result.Reason})
	} else {
		evs = append(evs, Event{Type: EventTurnChanged, State: next.Clone(), PlayerID: next.CurrentPlayer()})
		e.armTimerLocked()
	}
	e.mu.Unlock()

	e.logger.Debug().Str("player", string(accepted.PlayerID)).Str("type", string(accepted.Type)).Int("round", next.Round).Msg("action executed")
	e.publish(evs)
	return next.Clone(), nil
}

// Undo rewinds to the snapshot preceding the last accepted action.
func (e *Engine) Undo() (State, error) { return e.undo("") }

// UndoBy is Undo limited to taking back by's own last action.
func (e *Engine) UndoBy(by domain.ParticipantID) (State, error) { return e.undo(by) }

func (e *Engine) undo(by domain.ParticipantID) (State, error) {
	e.mu.Lock()
	if !e.state.Settings.AllowUndo {
		e.mu.Unlock()
		return State{}, ErrUndoNotAllowed
	}
	status := e.state.Status
	if status != StatusActive && status != StatusPaused {
		e.mu.Unlock()
		return State{}, fmt.Errorf("%w: undo from %s", ErrWrongStatus, status)
	}
	if len(e.snapshots) < 2 {
		e.mu.Unlock()
		return State{}, ErrNothingToUndo
	}
	undone := e.state.History[len(e.state.History)-1]
	if by != "" && undone.PlayerID != by {
		e.mu.Unlock()
		return State{}, fmt.Errorf("%w: last action was played by %s", ErrUndoNotAllowed, undone.PlayerID)
	}
	e.snapshots = e.snapshots[:len(e.snapshots)-1]
	restored := e.snapshots[len(e.snapshots)-1]
	restored.Status = status
	e.state = restored
	e.armTimerLocked()
	evs := []Event{
		{Type: EventActionUndone, State: restored.Clone(), Action: &undone, PlayerID: undone.PlayerID},
		{Type: EventTurnChanged, State: restored.Clone(), PlayerID: restored.CurrentPlayer()},
	}
	e.mu.Unlock()

	e.publish(evs)
	return restored.Clone(), nil
}

func (e *Engine) Pause() error {
	return e.transition(StatusActive, StatusPaused, EventGamePaused)
}

func (e *Engine) Resume() error {
	return e.transition(StatusPaused, StatusActive, EventGameResumed)
}

func (e *Engine) transition(from, to Status, evType EventType) error {
	e.mu.Lock()
	if e.state.Status != from {
		cur := e.state.Status
		e.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", ErrWrongStatus, evType, cur)
	}
	e.state.Status = to
	if to == StatusActive {
		e.armTimerLocked()
	} else {
		e.stopTimerLocked()
	}
	ev := Event{Type: evType, State: e.state.Clone()}
	e.mu.Unlock()

	e.events.Publish(ev)
	return nil
}

// Abort finishes the game without a winner.
func (e *Engine) Abort(reason string) error {
	e.mu.Lock()
	if e.state.Status == StatusFinished {
		e.mu.Unlock()
		return fmt.Errorf("%w: already finished", ErrWrongStatus)
	}
	e.finishLocked(&Result{Reason: "aborted: " + reason})
	ev := Event{Type: EventGameEnded, State: e.state.Clone(), Reason: e.state.Result.Reason}
	e.mu.Unlock()

	e.events.Publish(ev)
	return nil
}

// RemovePlayer drops a participant and renormalizes the turn pointer.
// Undo history before the removal is discarded.
func (e *Engine) RemovePlayer(id domain.ParticipantID) error {
	e.mu.Lock()
	idx := e.state.IndexOf(id)
	if idx < 0 {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownPlayer, id)
	}
	before := len(e.state.Players)
	prevCurrent := e.state.CurrentPlayer()

	s := e.state.Clone()
	if r, ok := e.rules.(PlayerRemover); ok && s.Status != StatusPreparing {
		s = r.RemovePlayer(s, id)
	}
	s.Players = slices.Delete(slices.Clone(e.state.Players), idx, idx+1)
	delete(s.Scores, id)
	switch {
	case idx < s.TurnIndex:
		s.TurnIndex--
	case s.TurnIndex >= len(s.Players):
		// The current player sat last, so the turn wraps to seat 0.
		s.TurnIndex = 0
		if s.Status == StatusActive || s.Status == StatusPaused {
			s.Round++
		}
	}
	e.state = s

	var evs []Event
	running := s.Status == StatusActive || s.Status == StatusPaused
	switch {
	case running && len(s.Players) == 0:
		e.finishLocked(&Result{Reason: "abandoned"})
		evs = append(evs, Event{Type: EventGameEnded, State: e.state.Clone(), Reason: e.state.Result.Reason})
	case running && before >= 2 && len(s.Players) < 2:
		e.finishLocked(&Result{Winner: s.Players[0], Reason: "opponents left"})
		evs = append(evs, Event{Type: EventGameEnded, State: e.state.Clone(), Reason: e.state.Result.Reason})
	case running:
		e.state.Scores = scoresOf(e.rules, e.state)
		e.snapshots = []State{e.state}
		if e.state.CurrentPlayer() != prevCurrent {
			e.armTimerLocked()
			evs = append(evs, Event{Type: EventTurnChanged, State: e.state.Clone(), PlayerID: e.state.CurrentPlayer()})
		}
	}
	e.mu.Unlock()

	e.logger.Info().Str("player", string(id)).Int("remaining", len(s.Players)).Msg("player removed")
	e.publish(evs)
	return nil
}

// ValidActions lists legal actions for id; empty when it is not their turn.
func (e *Engine) ValidActions(id domain.ParticipantID) []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Status != StatusActive || e.state.CurrentPlayer() != id {
		return nil
	}
	return e.rules.ValidActions(e.state.Clone(), id)
}

// Close stops the turn timer. The engine stays readable.
func (e *Engine) Close() {
	e.mu.Lock()
	e.stopTimerLocked()
	e.mu.Unlock()
}

func (e *Engine) finishLocked(res *Result) {
	e.stopTimerLocked()
	e.state.Status = StatusFinished
	e.state.Result = res
	e.state.EndedAt = e.now()
}

func (e *Engine) publish(evs []Event) {
	for _, ev := range evs {
		e.events.Publish(ev)
	}
}
