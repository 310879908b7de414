// Package cardcompare implements a high-card duel: every round each player
// draws one card and the strongest card takes the round.
package cardcompare

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
	"github.com/dkeye/Tabletop/internal/random"
)

const (
	GameType            = "card-compare"
	PhaseDrawing        = "drawing"
	DefaultWinThreshold = 3

	ActionDraw game.ActionType = "draw"
)

type Draw struct{}

func (Draw) ActionType() game.ActionType { return ActionDraw }

type RoundResult struct {
	Round  int                           `json:"round"`
	Winner domain.ParticipantID          `json:"winner"`
	Cards  map[domain.ParticipantID]Card `json:"cards"`
}

type Data struct {
	Deck       []Card                        `json:"-"`
	DeckSize   int                           `json:"deckSize"`
	Discard    []Card                        `json:"discard"`
	Slots      map[domain.ParticipantID]Card `json:"slots"`
	Wins       map[domain.ParticipantID]int  `json:"wins"`
	Reshuffles int                           `json:"reshuffles"`
	Rounds     int                           `json:"rounds"`
	Last       *RoundResult                  `json:"last,omitempty"`
}

func (d Data) clone() Data {
	d.Deck = slices.Clone(d.Deck)
	d.Discard = slices.Clone(d.Discard)
	d.Slots = maps.Clone(d.Slots)
	d.Wins = maps.Clone(d.Wins)
	return d
}

type Options struct {
	// Seed drives the initial shuffle and every reshuffle. Zero picks a random seed.
	Seed         int64
	WinThreshold int
	// Deck stacks the deck top first instead of shuffling a fresh one.
	Deck []Card
}

type Rules struct {
	opts Options
}

func New(opts Options) *Rules {
	opts.Seed = random.SeedOrNew(opts.Seed)
	if opts.WinThreshold <= 0 {
		opts.WinThreshold = DefaultWinThreshold
	}
	return &Rules{opts: opts}
}

func (r *Rules) Seed() int64 { return r.opts.Seed }

func (*Rules) GameType() string { return GameType }
func (*Rules) MinPlayers() int  { return 2 }
func (*Rules) MaxPlayers() int  { return domain.MaxPlayers }

func (r *Rules) InitialState(s game.State) (game.State, error) {
	deck := slices.Clone(r.opts.Deck)
	if len(deck) == 0 {
		deck = Shuffle(NewDeck(), r.opts.Seed)
	}
	for _, c := range deck {
		if !c.Valid() {
			return s, fmt.Errorf("invalid card %+v in stacked deck", c)
		}
	}
	wins := make(map[domain.ParticipantID]int, len(s.Players))
	for _, id := range s.Players {
		wins[id] = 0
	}
	s.Phase = PhaseDrawing
	s.Data = Data{
		Deck:     deck,
		DeckSize: len(deck),
		Slots:    map[domain.ParticipantID]Card{},
		Wins:     wins,
	}
	return s, nil
}

func (*Rules) DecodePayload(t game.ActionType, raw json.RawMessage) (game.Payload, error) {
	if t != ActionDraw {
		return nil, fmt.Errorf("%w: unknown action %q", game.ErrMalformedPayload, t)
	}
	return game.DecodeJSON[Draw](raw)
}

func dataOf(s game.State) Data {
	d, _ := s.Data.(Data)
	return d
}

func (*Rules) ValidateAction(s game.State, a game.Action) error {
	if _, ok := a.Data.(Draw); !ok {
		return fmt.Errorf("%w: expected draw", game.ErrMalformedPayload)
	}
	d := dataOf(s)
	if _, filled := d.Slots[a.PlayerID]; filled {
		return game.Reject("already drew this round")
	}
	if len(d.Deck) == 0 && len(d.Discard) == 0 {
		return game.Reject("no cards left to draw")
	}
	return nil
}

func (r *Rules) ExecuteAction(s game.State, a game.Action) (game.State, error) {
	d := dataOf(s).clone()
	if len(d.Deck) == 0 {
		d.Reshuffles++
		d.Deck = Shuffle(d.Discard, r.opts.Seed+int64(d.Reshuffles))
		d.Discard = nil
	}
	card := d.Deck[0]
	d.Deck = d.Deck[1:]
	d.Slots[a.PlayerID] = card
	d = resolve(d, s.Players)
	d.DeckSize = len(d.Deck)
	s.Data = d
	return s, nil
}

// resolve settles the round once every seated player has a card in their slot.
func resolve(d Data, players []domain.ParticipantID) Data {
	if len(players) == 0 {
		return d
	}
	for _, id := range players {
		if _, ok := d.Slots[id]; !ok {
			return d
		}
	}
	winner := players[0]
	for _, id := range players[1:] {
		if d.Slots[id].Beats(d.Slots[winner]) {
			winner = id
		}
	}
	d.Rounds++
	d.Wins[winner]++
	d.Last = &RoundResult{Round: d.Rounds, Winner: winner, Cards: d.Slots}
	for _, id := range players {
		d.Discard = append(d.Discard, d.Slots[id])
	}
	d.Slots = map[domain.ParticipantID]Card{}
	return d
}

func (r *Rules) CheckWinCondition(s game.State) *game.Result {
	d := dataOf(s)
	for _, id := range s.Players {
		if d.Wins[id] >= r.opts.WinThreshold {
			return &game.Result{Winner: id, Reason: fmt.Sprintf("won %d rounds", d.Wins[id])}
		}
	}
	return nil
}

func (*Rules) ValidActions(s game.State, id domain.ParticipantID) []game.Action {
	if _, filled := dataOf(s).Slots[id]; filled {
		return nil
	}
	return []game.Action{game.NewAction(id, Draw{})}
}

func (*Rules) NextPlayer(s game.State) int {
	return (s.TurnIndex + 1) % len(s.Players)
}

func (*Rules) CalculateScore(s game.State, id domain.ParticipantID) int {
	return dataOf(s).Wins[id]
}

// RemovePlayer returns the leaver's card to the discard pile and settles the
// round if everyone left has already drawn.
func (*Rules) RemovePlayer(s game.State, id domain.ParticipantID) game.State {
	d := dataOf(s).clone()
	if c, ok := d.Slots[id]; ok {
		d.Discard = append(d.Discard, c)
		delete(d.Slots, id)
	}
	delete(d.Wins, id)
	remaining := slices.DeleteFunc(slices.Clone(s.Players), func(p domain.ParticipantID) bool { return p == id })
	if len(remaining) >= 2 {
		d = resolve(d, remaining)
	}
	s.Data = d
	return s
}
