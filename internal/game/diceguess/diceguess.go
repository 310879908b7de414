// Package diceguess implements big/small betting on the total of three dice.
package diceguess

import (
	"encoding/json"
	"fmt"
	"maps"
	"math/rand"

	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
	"github.com/dkeye/Tabletop/internal/random"
)

const (
	GameType             = "dice-guess"
	PhaseBetting         = "betting"
	DefaultStartingChips = 100
	DefaultRoundCap      = 10
	DiceCount            = 3
	DieSides             = 6

	ActionWager game.ActionType = "wager"
)

type Guess string

const (
	Big   Guess = "big"
	Small Guess = "small"
)

// Classify maps a three-dice total to its side: 3–10 small, 11–18 big.
func Classify(total int) Guess {
	if total >= 11 {
		return Big
	}
	return Small
}

type Wager struct {
	Guess  Guess `json:"guess"`
	Amount int   `json:"amount"`
}

func (Wager) ActionType() game.ActionType { return ActionWager }

// Roll records the last resolved wager. Payout is credited back on a win,
// twice the stake, so the net change is +Amount or -Amount.
type Roll struct {
	Player domain.ParticipantID `json:"player"`
	Dice   [DiceCount]int       `json:"dice"`
	Total  int                  `json:"total"`
	Guess  Guess                `json:"guess"`
	Amount int                  `json:"amount"`
	Won    bool                 `json:"won"`
	Payout int                  `json:"payout"`
}

type Data struct {
	Chips   map[domain.ParticipantID]int  `json:"chips"`
	Wagered map[domain.ParticipantID]bool `json:"wagered"`
	Wagers  int                           `json:"wagers"`
	Rounds  int                           `json:"rounds"`
	Last    *Roll                         `json:"last,omitempty"`
}

func (d Data) clone() Data {
	d.Chips = maps.Clone(d.Chips)
	d.Wagered = maps.Clone(d.Wagered)
	return d
}

// Roller returns the dice for the n-th wager of the game.
type Roller func(n int) [DiceCount]int

type Options struct {
	// Seed drives the default roller. Zero picks a random seed.
	Seed          int64
	StartingChips int
	RoundCap      int
	Roller        Roller
}

type Rules struct {
	opts Options
}

func New(opts Options) *Rules {
	opts.Seed = random.SeedOrNew(opts.Seed)
	if opts.StartingChips <= 0 {
		opts.StartingChips = DefaultStartingChips
	}
	if opts.RoundCap <= 0 {
		opts.RoundCap = DefaultRoundCap
	}
	if opts.Roller == nil {
		opts.Roller = SeededRoller(opts.Seed)
	}
	return &Rules{opts: opts}
}

// SeededRoller rolls deterministically per seed and wager index.
func SeededRoller(seed int64) Roller {
	return func(n int) [DiceCount]int {
		rng := rand.New(rand.NewSource(seed + int64(n)))
		var dice [DiceCount]int
		for i := range dice {
			dice[i] = rng.Intn(DieSides) + 1
		}
		return dice
	}
}

func (*Rules) GameType() string { return GameType }
func (*Rules) MinPlayers() int  { return 1 }
func (*Rules) MaxPlayers() int  { return domain.MaxPlayers }

func (r *Rules) InitialState(s game.State) (game.State, error) {
	chips := make(map[domain.ParticipantID]int, len(s.Players))
	for _, id := range s.Players {
		chips[id] = r.opts.StartingChips
	}
	s.Phase = PhaseBetting
	s.Data = Data{Chips: chips, Wagered: map[domain.ParticipantID]bool{}}
	return s, nil
}

func (*Rules) DecodePayload(t game.ActionType, raw json.RawMessage) (game.Payload, error) {
	if t != ActionWager {
		return nil, fmt.Errorf("%w: unknown action %q", game.ErrMalformedPayload, t)
	}
	return game.DecodeJSON[Wager](raw)
}

func dataOf(s game.State) Data {
	d, _ := s.Data.(Data)
	return d
}

func (*Rules) ValidateAction(s game.State, a game.Action) error {
	w, ok := a.Data.(Wager)
	if !ok {
		return fmt.Errorf("%w: expected wager", game.ErrMalformedPayload)
	}
	if w.Guess != Big && w.Guess != Small {
		return game.Reject("guess must be %q or %q", Big, Small)
	}
	if w.Amount <= 0 {
		return game.Reject("wager must be positive")
	}
	if chips := dataOf(s).Chips[a.PlayerID]; w.Amount > chips {
		return game.Reject("wager %d exceeds %d chips", w.Amount, chips)
	}
	return nil
}

func (r *Rules) ExecuteAction(s game.State, a game.Action) (game.State, error) {
	w, ok := a.Data.(Wager)
	if !ok {
		return s, fmt.Errorf("%w: expected wager", game.ErrMalformedPayload)
	}
	d := dataOf(s).clone()

	dice := r.opts.Roller(d.Wagers)
	total := 0
	for _, v := range dice {
		if v < 1 || v > DieSides {
			return s, fmt.Errorf("%w: die value %d", game.ErrInvalidAction, v)
		}
		total += v
	}
	won := Classify(total) == w.Guess
	payout := 0
	if won {
		payout = 2 * w.Amount
	}
	d.Chips[a.PlayerID] += payout - w.Amount
	d.Wagers++
	d.Wagered[a.PlayerID] = true
	d.Last = &Roll{
		Player: a.PlayerID,
		Dice:   dice,
		Total:  total,
		Guess:  w.Guess,
		Amount: w.Amount,
		Won:    won,
		Payout: payout,
	}
	d = closeRound(d, s.Players)
	s.Data = d
	return s, nil
}

func closeRound(d Data, players []domain.ParticipantID) Data {
	for _, id := range players {
		if !d.Wagered[id] {
			return d
		}
	}
	d.Rounds++
	d.Wagered = map[domain.ParticipantID]bool{}
	return d
}

func (r *Rules) CheckWinCondition(s game.State) *game.Result {
	d := dataOf(s)
	for _, id := range s.Players {
		if d.Chips[id] <= 0 {
			return richest(s.Players, d.Chips, fmt.Sprintf("%s went bankrupt", id))
		}
	}
	if d.Rounds >= r.opts.RoundCap {
		return richest(s.Players, d.Chips, fmt.Sprintf("round cap %d reached", r.opts.RoundCap))
	}
	return nil
}

func richest(players []domain.ParticipantID, chips map[domain.ParticipantID]int, reason string) *game.Result {
	best := -1
	var winner domain.ParticipantID
	tie := false
	for _, id := range players {
		switch c := chips[id]; {
		case c > best:
			best, winner, tie = c, id, false
		case c == best:
			tie = true
		}
	}
	if tie || best <= 0 {
		return &game.Result{Draw: tie, Reason: reason}
	}
	return &game.Result{Winner: winner, Reason: reason}
}

func (*Rules) ValidActions(s game.State, id domain.ParticipantID) []game.Action {
	chips := dataOf(s).Chips[id]
	if chips <= 0 {
		return nil
	}
	amounts := []int{min(10, chips)}
	if chips > 10 {
		amounts = append(amounts, chips)
	}
	var out []game.Action
	for _, g := range []Guess{Big, Small} {
		for _, amt := range amounts {
			out = append(out, game.NewAction(id, Wager{Guess: g, Amount: amt}))
		}
	}
	return out
}

func (*Rules) NextPlayer(s game.State) int {
	return (s.TurnIndex + 1) % len(s.Players)
}

func (*Rules) CalculateScore(s game.State, id domain.ParticipantID) int {
	return dataOf(s).Chips[id]
}

func (*Rules) RemovePlayer(s game.State, id domain.ParticipantID) game.State {
	d := dataOf(s).clone()
	delete(d.Chips, id)
	delete(d.Wagered, id)
	remaining := make([]domain.ParticipantID, 0, len(s.Players))
	for _, p := range s.Players {
		if p != id {
			remaining = append(remaining, p)
		}
	}
	if len(remaining) > 0 && len(d.Wagered) > 0 {
		d = closeRound(d, remaining)
	}
	s.Data = d
	return s
}
