package cardcompare

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
)

func newGame(t *testing.T, opts Options, players ...domain.ParticipantID) *game.Engine {
	t.Helper()
	e, err := game.NewEngine(New(opts), players, game.Settings{})
	if err != nil {
		t.Fatalf("NewEngine returned error: %v", err)
	}
	if err := e.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func draw(t *testing.T, e *game.Engine, player domain.ParticipantID) game.State {
	t.Helper()
	s, err := e.Execute(game.NewAction(player, Draw{}))
	if err != nil {
		t.Fatalf("draw by %s returned error: %v", player, err)
	}
	return s
}

func TestBeats(t *testing.T) {
	tests := []struct {
		name string
		a, b Card
		want bool
	}{
		{name: "higher rank", a: Card{Ace, Clubs}, b: Card{King, Spades}, want: true},
		{name: "lower rank", a: Card{2, Spades}, b: Card{3, Clubs}, want: false},
		{name: "spades over hearts", a: Card{9, Spades}, b: Card{9, Hearts}, want: true},
		{name: "diamonds under hearts", a: Card{9, Diamonds}, b: Card{9, Hearts}, want: false},
		{name: "clubs lowest", a: Card{5, Clubs}, b: Card{5, Diamonds}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Beats(tt.b); got != tt.want {
				t.Fatalf("%s.Beats(%s) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestNewDeck(t *testing.T) {
	deck := NewDeck()
	if len(deck) != 52 {
		t.Fatalf("deck size = %d, want 52", len(deck))
	}
	seen := map[Card]bool{}
	for _, c := range deck {
		if !c.Valid() || seen[c] {
			t.Fatalf("bad or duplicate card %v", c)
		}
		seen[c] = true
	}
}

func TestHighCardTakesRound(t *testing.T) {
	opts := Options{Deck: []Card{{Ace, Spades}, {King, Hearts}, {2, Clubs}, {3, Clubs}}}
	e := newGame(t, opts, "alice", "bob")

	s := draw(t, e, "alice")
	if d := s.Data.(Data); d.Last != nil || d.Slots["alice"] != (Card{Ace, Spades}) {
		t.Fatalf("after first draw data = %+v", d)
	}
	s = draw(t, e, "bob")

	d := s.Data.(Data)
	if d.Last == nil || d.Last.Winner != "alice" {
		t.Fatalf("round result = %+v, want alice", d.Last)
	}
	if d.Last.Cards["alice"].Power() != 14 || d.Last.Cards["bob"].Power() != 13 {
		t.Fatalf("round cards = %v", d.Last.Cards)
	}
	if s.Scores["alice"] != 1 || s.Scores["bob"] != 0 {
		t.Fatalf("scores = %v, want alice 1", s.Scores)
	}
	if len(d.Slots) != 0 || len(d.Discard) != 2 || d.DeckSize != 2 {
		t.Fatalf("slots=%v discard=%v deck=%d", d.Slots, d.Discard, d.DeckSize)
	}
}

func TestSeedReproducesGame(t *testing.T) {
	play := func() game.State {
		e := newGame(t, Options{Seed: 42}, "a", "b", "c")
		players := []domain.ParticipantID{"a", "b", "c"}
		var s game.State
		for i := 0; i < 300 && e.Status() == game.StatusActive; i++ {
			s = draw(t, e, players[i%len(players)])
		}
		if s.Status != game.StatusFinished {
			t.Fatal("game did not finish")
		}
		return s
	}

	first, second := play(), play()
	if first.Result.Winner != second.Result.Winner {
		t.Fatalf("winners differ: %s vs %s", first.Result.Winner, second.Result.Winner)
	}
	if !reflect.DeepEqual(first.Scores, second.Scores) {
		t.Fatalf("scores differ: %v vs %v", first.Scores, second.Scores)
	}
	if !reflect.DeepEqual(first.Data, second.Data) {
		t.Fatal("rule data differs between runs with the same seed")
	}
	if first.Scores[first.Result.Winner] != DefaultWinThreshold {
		t.Fatalf("winner score = %d, want %d", first.Scores[first.Result.Winner], DefaultWinThreshold)
	}
}

func TestEmptyDeckReshufflesDiscard(t *testing.T) {
	opts := Options{Seed: 7, Deck: []Card{{Ace, Spades}, {King, Hearts}, {Queen, Clubs}}}
	e := newGame(t, opts, "a", "b")

	draw(t, e, "a")
	draw(t, e, "b")
	draw(t, e, "a")
	s := draw(t, e, "b")

	d := s.Data.(Data)
	if d.Reshuffles != 1 {
		t.Fatalf("reshuffles = %d, want 1", d.Reshuffles)
	}
	if d.Rounds != 2 {
		t.Fatalf("rounds = %d, want 2", d.Rounds)
	}
	if d.DeckSize+len(d.Discard)+len(d.Slots) != 3 {
		t.Fatalf("cards lost: deck=%d discard=%d slots=%d", d.DeckSize, len(d.Discard), len(d.Slots))
	}
}

func TestRejectsSecondDrawInRound(t *testing.T) {
	r := New(Options{Seed: 1})
	e, err := game.NewEngine(r, []domain.ParticipantID{"a", "b"}, game.Settings{})
	if err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	s := e.State()
	d := s.Data.(Data).clone()
	d.Slots["a"] = Card{2, Clubs}
	s.Data = d

	if err := r.ValidateAction(s, game.NewAction("a", Draw{})); !errors.Is(err, game.ErrInvalidAction) {
		t.Fatalf("err = %v, want ErrInvalidAction", err)
	}
}

func TestRemovePlayerSettlesRound(t *testing.T) {
	opts := Options{Deck: []Card{{4, Clubs}, {Ace, Hearts}, {2, Clubs}, {3, Clubs}}}
	e := newGame(t, opts, "a", "b", "c")
	draw(t, e, "a")
	draw(t, e, "b")

	if err := e.RemovePlayer("c"); err != nil {
		t.Fatalf("RemovePlayer returned error: %v", err)
	}
	d := e.State().Data.(Data)
	if d.Last == nil || d.Last.Winner != "b" {
		t.Fatalf("round result = %+v, want b", d.Last)
	}
}
