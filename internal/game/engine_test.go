package game

import (
	"encoding/json"
	"errors"
	"maps"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Tabletop/internal/domain"
)

const (
	actionBump  ActionType = "bump"
	actionPanic ActionType = "panic"
)

type bump struct {
	N int `json:"n"`
}

func (bump) ActionType() ActionType { return actionBump }

type explode struct{}

func (explode) ActionType() ActionType { return actionPanic }

type tally struct {
	Total    int
	ByPlayer map[domain.ParticipantID]int
}

// tallyRules is a minimal counting game: each turn adds 1..10 to a shared
// total and the player who reaches target wins.
type tallyRules struct {
	target int
	repeat bool
}

func (r *tallyRules) GameType() string { return "tally" }

func (r *tallyRules) InitialState(s State) (State, error) {
	s.Phase = "counting"
	s.Data = tally{ByPlayer: map[domain.ParticipantID]int{}}
	return s, nil
}

func (r *tallyRules) DecodePayload(t ActionType, raw json.RawMessage) (Payload, error) {
	switch t {
	case actionBump:
		return DecodeJSON[bump](raw)
	case actionPanic:
		return explode{}, nil
	}
	return nil, ErrMalformedPayload
}

func (r *tallyRules) ValidateAction(s State, a Action) error {
	if b, ok := a.Data.(bump); ok && (b.N < 1 || b.N > 10) {
		return Reject("bump %d out of range", b.N)
	}
	return nil
}

func (r *tallyRules) ExecuteAction(s State, a Action) (State, error) {
	if _, ok := a.Data.(explode); ok {
		panic("boom")
	}
	b := a.Data.(bump)
	d := s.Data.(tally)
	d.ByPlayer = maps.Clone(d.ByPlayer)
	d.Total += b.N
	d.ByPlayer[a.PlayerID] += b.N
	s.Data = d
	return s, nil
}

func (r *tallyRules) CheckWinCondition(s State) *Result {
	d := s.Data.(tally)
	if r.target > 0 && d.Total >= r.target {
		return &Result{Winner: s.History[len(s.History)-1].PlayerID, Reason: "target reached"}
	}
	return nil
}

func (r *tallyRules) ValidActions(s State, id domain.ParticipantID) []Action {
	return []Action{NewAction(id, bump{N: 1})}
}

func (r *tallyRules) NextPlayer(s State) int {
	if r.repeat {
		return s.TurnIndex
	}
	return (s.TurnIndex + 1) % len(s.Players)
}

func (r *tallyRules) CalculateScore(s State, id domain.ParticipantID) int {
	return s.Data.(tally).ByPlayer[id]
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

func newStartedEngine(t *testing.T, rules Rules, settings Settings, players ...domain.ParticipantID) (*Engine, *recorder) {
	t.Helper()
	e, err := NewEngine(rules, players, settings)
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	rec := &recorder{}
	e.Subscribe(rec.add)
	if err := e.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(e.Close)
	return e, rec
}

func play(t *testing.T, e *Engine, player domain.ParticipantID, n int) State {
	t.Helper()
	s, err := e.Execute(NewAction(player, bump{N: n}))
	if err != nil {
		t.Fatalf("Execute(%s, %d) returned error: %v", player, n, err)
	}
	return s
}

func TestNewEngine_ValidatesPlayers(t *testing.T) {
	tests := []struct {
		name    string
		players []domain.ParticipantID
		want    error
	}{
		{name: "empty", players: nil, want: ErrNotEnoughPlayers},
		{name: "duplicate", players: []domain.ParticipantID{"a", "a"}, want: ErrDuplicatePlayer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(&tallyRules{}, tt.players, Settings{})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEngineStart_OnlyFromPreparing(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")

	s := e.State()
	if s.Status != StatusActive {
		t.Fatalf("status = %s, want %s", s.Status, StatusActive)
	}
	if s.Phase != "counting" {
		t.Fatalf("phase = %q, want counting", s.Phase)
	}
	if s.StartedAt.IsZero() {
		t.Fatal("expected start time to be stamped")
	}
	if err := e.Start(); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("second Start err = %v, want ErrWrongStatus", err)
	}
	if got := rec.types(); !reflect.DeepEqual(got, []EventType{EventGameStarted}) {
		t.Fatalf("events = %v", got)
	}
}

func TestEngineExecute_RejectsOutOfTurn(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
	before := e.State()

	_, err := e.Execute(NewAction("b", bump{N: 1}))
	if !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatal("not-your-turn should be an invalid action")
	}
	after := e.State()
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("state changed after rejection:\nbefore %+v\nafter  %+v", before, after)
	}
	types := rec.types()
	if types[len(types)-1] != EventActionRejected {
		t.Fatalf("last event = %s, want %s", types[len(types)-1], EventActionRejected)
	}
}

func TestEngineExecute_RejectsInvalidByRules(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")

	_, err := e.Execute(NewAction("a", bump{N: 11}))
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("err = %v, want ErrInvalidAction", err)
	}
	if got := len(e.State().History); got != 0 {
		t.Fatalf("history length = %d, want 0", got)
	}
	rec.mu.Lock()
	last := rec.events[len(rec.events)-1]
	rec.mu.Unlock()
	if last.Reason == "" {
		t.Fatal("expected rejection reason")
	}
	if last.Action == nil || last.Action.IsValid {
		t.Fatal("expected rejected action marked invalid")
	}
}

func TestEngineExecute_RuleFaultFoldsIntoInvalidAction(t *testing.T) {
	e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")

	_, err := e.Execute(NewAction("a", explode{}))
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("err = %v, want ErrInvalidAction", err)
	}
	if e.State().Status != StatusActive {
		t.Fatal("engine should stay active after a rule fault")
	}
}

func TestEngineExecute_AdvancesTurnAndRound(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b", "c")

	s := play(t, e, "a", 1)
	if s.TurnIndex != 1 || s.Round != 1 {
		t.Fatalf("after a: turn=%d round=%d, want 1/1", s.TurnIndex, s.Round)
	}
	play(t, e, "b", 2)
	s = play(t, e, "c", 3)
	if s.TurnIndex != 0 || s.Round != 2 {
		t.Fatalf("after wrap: turn=%d round=%d, want 0/2", s.TurnIndex, s.Round)
	}
	if s.Scores["c"] != 3 {
		t.Fatalf("score c = %d, want 3", s.Scores["c"])
	}
	if len(s.History) != 3 || !s.History[2].IsValid || s.History[2].ID == "" {
		t.Fatalf("unexpected history: %+v", s.History)
	}

	want := []EventType{
		EventGameStarted,
		EventActionExecuted, EventTurnChanged,
		EventActionExecuted, EventTurnChanged,
		EventActionExecuted, EventTurnChanged,
	}
	if got := rec.types(); !reflect.DeepEqual(got, want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
}

func TestEngineExecute_SameIndexKeepsTurn(t *testing.T) {
	e, _ := newStartedEngine(t, &tallyRules{repeat: true}, Settings{}, "a", "b")

	play(t, e, "a", 1)
	s := play(t, e, "a", 1)
	if s.CurrentPlayer() != "a" || s.Round != 1 {
		t.Fatalf("current=%s round=%d, want a/1", s.CurrentPlayer(), s.Round)
	}
}

func TestEngineExecute_WinFinishesGame(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{target: 5}, Settings{}, "a", "b")

	play(t, e, "a", 2)
	s := play(t, e, "b", 3)
	if s.Status != StatusFinished {
		t.Fatalf("status = %s, want finished", s.Status)
	}
	if s.Result == nil || s.Result.Winner != "b" {
		t.Fatalf("result = %+v, want winner b", s.Result)
	}
	if s.EndedAt.IsZero() {
		t.Fatal("expected end time")
	}
	types := rec.types()
	if types[len(types)-1] != EventGameEnded {
		t.Fatalf("last event = %s, want gameEnded", types[len(types)-1])
	}
	if _, err := e.Execute(NewAction("a", bump{N: 1})); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("execute after finish err = %v", err)
	}
}

func TestEngineExecute_ConcurrentSubmitters(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
	players := []domain.ParticipantID{"a", "b"}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
	)
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(id domain.ParticipantID) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if _, err := e.Execute(NewAction(id, bump{N: 1})); err == nil {
					mu.Lock()
					accepted++
					mu.Unlock()
				} else if !errors.Is(err, ErrNotYourTurn) {
					t.Errorf("Execute returned error: %v", err)
				}
			}
		}(players[g%2])
	}
	wg.Wait()

	s := e.State()
	if len(s.History) != accepted || accepted == 0 {
		t.Fatalf("history = %d, accepted = %d", len(s.History), accepted)
	}
	for i, a := range s.History {
		if a.PlayerID != players[i%2] {
			t.Fatalf("history[%d] by %s, want %s", i, a.PlayerID, players[i%2])
		}
	}
	if got := s.Data.(tally).Total; got != accepted {
		t.Fatalf("total = %d, want %d", got, accepted)
	}
	if want := accepted/2 + 1; s.Round != want {
		t.Fatalf("round = %d, want %d", s.Round, want)
	}
	if s.CurrentPlayer() != players[accepted%2] {
		t.Fatalf("current = %s after %d actions", s.CurrentPlayer(), accepted)
	}
	executed := 0
	for _, typ := range rec.types() {
		if typ == EventActionExecuted {
			executed++
		}
	}
	if executed != accepted {
		t.Fatalf("actionExecuted events = %d, want %d", executed, accepted)
	}
}

func TestEngineUndo(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
		play(t, e, "a", 1)
		if _, err := e.Undo(); !errors.Is(err, ErrUndoNotAllowed) {
			t.Fatalf("err = %v, want ErrUndoNotAllowed", err)
		}
	})

	t.Run("nothing to undo", func(t *testing.T) {
		e, _ := newStartedEngine(t, &tallyRules{}, Settings{AllowUndo: true}, "a", "b")
		if _, err := e.Undo(); !errors.Is(err, ErrNothingToUndo) {
			t.Fatalf("err = %v, want ErrNothingToUndo", err)
		}
	})

	t.Run("only the author", func(t *testing.T) {
		e, _ := newStartedEngine(t, &tallyRules{}, Settings{AllowUndo: true}, "a", "b")
		play(t, e, "a", 3)
		if _, err := e.UndoBy("b"); !errors.Is(err, ErrUndoNotAllowed) {
			t.Fatalf("UndoBy(b) err = %v, want ErrUndoNotAllowed", err)
		}
		s, err := e.UndoBy("a")
		if err != nil {
			t.Fatalf("UndoBy returned error: %v", err)
		}
		if len(s.History) != 0 || s.CurrentPlayer() != "a" {
			t.Fatalf("state after undo = %+v", s)
		}
	})

	t.Run("rewinds", func(t *testing.T) {
		e, rec := newStartedEngine(t, &tallyRules{}, Settings{AllowUndo: true}, "a", "b")
		first := play(t, e, "a", 4)
		play(t, e, "b", 6)

		s, err := e.Undo()
		if err != nil {
			t.Fatalf("Undo returned error: %v", err)
		}
		if !reflect.DeepEqual(s, first) {
			t.Fatalf("undo state = %+v, want %+v", s, first)
		}
		if s.CurrentPlayer() != "b" {
			t.Fatalf("current = %s, want b", s.CurrentPlayer())
		}
		types := rec.types()
		if types[len(types)-2] != EventActionUndone {
			t.Fatalf("events = %v, want actionUndone", types)
		}
		if _, err := e.Undo(); err != nil {
			t.Fatalf("second Undo returned error: %v", err)
		}
		if _, err := e.Undo(); !errors.Is(err, ErrNothingToUndo) {
			t.Fatalf("third Undo err = %v, want ErrNothingToUndo", err)
		}
	})
}

func TestEnginePauseResume(t *testing.T) {
	e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")

	if err := e.Resume(); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("resume while active err = %v", err)
	}
	if err := e.Pause(); err != nil {
		t.Fatalf("Pause returned error: %v", err)
	}
	if _, err := e.Execute(NewAction("a", bump{N: 1})); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("execute while paused err = %v", err)
	}
	if err := e.Resume(); err != nil {
		t.Fatalf("Resume returned error: %v", err)
	}
	play(t, e, "a", 1)

	types := rec.types()
	if types[1] != EventGamePaused {
		t.Fatalf("events = %v", types)
	}
}

func TestEngineRemovePlayer(t *testing.T) {
	t.Run("renormalizes turn", func(t *testing.T) {
		e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b", "c")
		play(t, e, "a", 1)
		play(t, e, "b", 1)

		if err := e.RemovePlayer("a"); err != nil {
			t.Fatalf("RemovePlayer returned error: %v", err)
		}
		s := e.State()
		if s.CurrentPlayer() != "c" {
			t.Fatalf("current = %s, want c", s.CurrentPlayer())
		}
		if _, ok := s.Scores["a"]; ok {
			t.Fatal("removed player still scored")
		}
	})

	t.Run("removing current hands turn on", func(t *testing.T) {
		e, rec := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b", "c")
		play(t, e, "a", 1)
		play(t, e, "b", 1)

		if err := e.RemovePlayer("c"); err != nil {
			t.Fatalf("RemovePlayer returned error: %v", err)
		}
		s := e.State()
		if got := s.CurrentPlayer(); got != "a" {
			t.Fatalf("current = %s, want a", got)
		}
		if s.TurnIndex != 0 || s.Round != 2 {
			t.Fatalf("turn = %d round = %d, want 0 and 2", s.TurnIndex, s.Round)
		}
		types := rec.types()
		if types[len(types)-1] != EventTurnChanged {
			t.Fatalf("last event = %s, want turnChanged", types[len(types)-1])
		}
	})

	t.Run("last opponent leaving finishes", func(t *testing.T) {
		e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
		if err := e.RemovePlayer("a"); err != nil {
			t.Fatalf("RemovePlayer returned error: %v", err)
		}
		s := e.State()
		if s.Status != StatusFinished || s.Result == nil || s.Result.Winner != "b" {
			t.Fatalf("state = %+v, want b to win", s)
		}
	})

	t.Run("unknown", func(t *testing.T) {
		e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
		if err := e.RemovePlayer("z"); !errors.Is(err, ErrUnknownPlayer) {
			t.Fatalf("err = %v, want ErrUnknownPlayer", err)
		}
	})
}

func TestEngineAbort(t *testing.T) {
	e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
	if err := e.Abort("host left"); err != nil {
		t.Fatalf("Abort returned error: %v", err)
	}
	s := e.State()
	if s.Status != StatusFinished || s.Result.Winner != "" {
		t.Fatalf("state = %+v, want finished without winner", s)
	}
	if err := e.Abort("again"); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("second Abort err = %v", err)
	}
}

func TestEngineValidActions_OnlyForCurrentPlayer(t *testing.T) {
	e, _ := newStartedEngine(t, &tallyRules{}, Settings{}, "a", "b")
	if got := e.ValidActions("b"); len(got) != 0 {
		t.Fatalf("ValidActions(b) = %v, want none", got)
	}
	if got := e.ValidActions("a"); len(got) != 1 {
		t.Fatalf("ValidActions(a) = %v, want one", got)
	}
}

func TestEngineTurnTimer(t *testing.T) {
	waitFor := func(t *testing.T, ch <-chan Event) Event {
		t.Helper()
		select {
		case ev := <-ch:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for turn timeout")
		}
		return Event{}
	}

	t.Run("notifies without skipping", func(t *testing.T) {
		e, err := NewEngine(&tallyRules{}, []domain.ParticipantID{"a", "b"}, Settings{TurnTimeLimit: 10 * time.Millisecond})
		if err != nil {
			t.Fatalf("NewEngine returned error: %v", err)
		}
		defer e.Close()
		ch := make(chan Event, 4)
		e.Subscribe(func(ev Event) {
			if ev.Type == EventTurnTimedOut {
				ch <- ev
			}
		})
		if err := e.Start(); err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
		ev := waitFor(t, ch)
		if ev.PlayerID != "a" {
			t.Fatalf("timed out player = %s, want a", ev.PlayerID)
		}
		if got := e.State().CurrentPlayer(); got != "a" {
			t.Fatalf("current = %s, want a to keep the turn", got)
		}
	})

	t.Run("auto skip advances", func(t *testing.T) {
		settings := Settings{TurnTimeLimit: 10 * time.Millisecond, AutoSkip: true}
		e, err := NewEngine(&tallyRules{}, []domain.ParticipantID{"a", "b"}, settings)
		if err != nil {
			t.Fatalf("NewEngine returned error: %v", err)
		}
		defer e.Close()
		ch := make(chan Event, 4)
		e.Subscribe(func(ev Event) {
			if ev.Type == EventTurnChanged {
				select {
				case ch <- ev:
				default:
				}
			}
		})
		if err := e.Start(); err != nil {
			t.Fatalf("Start returned error: %v", err)
		}
		ev := waitFor(t, ch)
		if ev.PlayerID != "b" {
			t.Fatalf("turn changed to %s, want b", ev.PlayerID)
		}
	})
}

func TestReplay_MatchesEngine(t *testing.T) {
	rules := &tallyRules{target: 12}
	e, _ := newStartedEngine(t, rules, Settings{}, "a", "b", "c")
	moves := []struct {
		player domain.ParticipantID
		n      int
	}{{"a", 3}, {"b", 1}, {"c", 4}, {"a", 2}, {"b", 2}}
	for _, m := range moves {
		play(t, e, m.player, m.n)
	}
	live := e.State()
	initial, ok := e.Initial()
	if !ok {
		t.Fatal("expected initial snapshot")
	}

	replayed, err := Replay(rules, initial, live.History)
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}
	if !reflect.DeepEqual(replayed, live) {
		t.Fatalf("replayed state differs:\nlive     %+v\nreplayed %+v", live, replayed)
	}
	if live.Status != StatusFinished || live.Result.Winner != "b" {
		t.Fatalf("live result = %+v, want b to win", live.Result)
	}
}

func TestReplay_RejectsOutOfOrderHistory(t *testing.T) {
	rules := &tallyRules{}
	e, _ := newStartedEngine(t, rules, Settings{}, "a", "b")
	play(t, e, "a", 1)
	play(t, e, "b", 1)
	initial, _ := e.Initial()
	history := e.State().History
	history[0], history[1] = history[1], history[0]

	if _, err := Replay(rules, initial, history); !errors.Is(err, ErrNotYourTurn) {
		t.Fatalf("err = %v, want ErrNotYourTurn", err)
	}
}

func TestDecodeAction(t *testing.T) {
	rules := &tallyRules{}
	a, err := DecodeAction(rules, []byte(`{"id":"x","type":"bump","playerId":"a","data":{"n":3},"timestamp":1700000000000}`))
	if err != nil {
		t.Fatalf("DecodeAction returned error: %v", err)
	}
	if a.Data != (bump{N: 3}) || a.PlayerID != "a" || a.Timestamp.UnixMilli() != 1700000000000 {
		t.Fatalf("decoded = %+v", a)
	}

	if _, err := DecodeAction(rules, []byte(`{"type":"bump","data":{"n":"three"}}`)); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("bad payload err = %v, want ErrMalformedPayload", err)
	}
	if _, err := DecodeAction(rules, []byte(`not json`)); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("bad json err = %v, want ErrInvalidAction", err)
	}
}
