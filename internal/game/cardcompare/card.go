package cardcompare

import (
	"fmt"
	"math/rand"
)

type Suit int

const (
	Clubs Suit = iota + 1
	Diamonds
	Hearts
	Spades
)

var suitSymbols = map[Suit]string{Clubs: "♣", Diamonds: "♦", Hearts: "♥", Spades: "♠"}

func (s Suit) String() string {
	if sym, ok := suitSymbols[s]; ok {
		return sym
	}
	return "?"
}

const (
	Jack  = 11
	Queen = 12
	King  = 13
	Ace   = 14
)

// Card ranks run 2..14 with the ace high.
type Card struct {
	Rank int  `json:"rank"`
	Suit Suit `json:"suit"`
}

func (c Card) Power() int { return c.Rank }

// Beats orders by rank, then spades > hearts > diamonds > clubs.
func (c Card) Beats(o Card) bool {
	if c.Rank != o.Rank {
		return c.Rank > o.Rank
	}
	return c.Suit > o.Suit
}

func (c Card) String() string {
	var r string
	switch c.Rank {
	case Ace:
		r = "A"
	case King:
		r = "K"
	case Queen:
		r = "Q"
	case Jack:
		r = "J"
	default:
		r = fmt.Sprint(c.Rank)
	}
	return r + c.Suit.String()
}

func (c Card) Valid() bool {
	return c.Rank >= 2 && c.Rank <= Ace && c.Suit >= Clubs && c.Suit <= Spades
}

// NewDeck returns the 52 cards in a fixed order.
func NewDeck() []Card {
	deck := make([]Card, 0, 52)
	for s := Clubs; s <= Spades; s++ {
		for r := 2; r <= Ace; r++ {
			deck = append(deck, Card{Rank: r, Suit: s})
		}
	}
	return deck
}

// Shuffle returns a shuffled copy of cards.
func Shuffle(cards []Card, seed int64) []Card {
	out := append([]Card(nil), cards...)
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
