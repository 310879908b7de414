// Package gomoku implements five-in-a-row on a 15x15 board.
package gomoku

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
)

const (
	GameType  = "gomoku"
	Size      = 15
	WinLength = 5

	PhasePlacing = "placing"

	ActionPlace game.ActionType = "place"
)

type Stone int8

const (
	Empty Stone = iota
	Black
	White
)

func (s Stone) String() string {
	switch s {
	case Black:
		return "black"
	case White:
		return "white"
	default:
		return "empty"
	}
}

// Place puts the current player's stone at column X, row Y.
type Place struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (Place) ActionType() game.ActionType { return ActionPlace }

type Axis string

const (
	Horizontal   Axis = "horizontal"
	Vertical     Axis = "vertical"
	Diagonal     Axis = "diagonal"
	AntiDiagonal Axis = "anti-diagonal"
)

var axes = []struct {
	axis   Axis
	dx, dy int
}{
	{Horizontal, 1, 0},
	{Vertical, 0, 1},
	{Diagonal, 1, 1},
	{AntiDiagonal, 1, -1},
}

// Board is indexed [y][x]. It is an array so copying Data copies the board.
type Board [Size][Size]Stone

type Line struct {
	Owner Stone   `json:"owner"`
	Axis  Axis    `json:"axis"`
	Cells []Place `json:"cells"`
}

type Data struct {
	Board Board  `json:"board"`
	Moves int    `json:"moves"`
	Last  *Place `json:"last,omitempty"`
	Line  *Line  `json:"line,omitempty"`
}

type Rules struct{}

func New() *Rules { return &Rules{} }

func (*Rules) GameType() string { return GameType }
func (*Rules) MinPlayers() int  { return 2 }
func (*Rules) MaxPlayers() int  { return 2 }

func (*Rules) InitialState(s game.State) (game.State, error) {
	s.Phase = PhasePlacing
	s.Data = Data{}
	return s, nil
}

func (*Rules) DecodePayload(t game.ActionType, raw json.RawMessage) (game.Payload, error) {
	if t != ActionPlace {
		return nil, fmt.Errorf("%w: unknown action %q", game.ErrMalformedPayload, t)
	}
	return game.DecodeJSON[Place](raw)
}

func dataOf(s game.State) Data {
	d, _ := s.Data.(Data)
	return d
}

// StoneOf returns the colour of the player seated at index i: first seat plays black.
func StoneOf(i int) Stone {
	if i == 0 {
		return Black
	}
	return White
}

func inBounds(x, y int) bool { return x >= 0 && x < Size && y >= 0 && y < Size }

func (*Rules) ValidateAction(s game.State, a game.Action) error {
	p, ok := a.Data.(Place)
	if !ok {
		return fmt.Errorf("%w: expected place", game.ErrMalformedPayload)
	}
	if !inBounds(p.X, p.Y) {
		return game.Reject("cell (%d,%d) is off the board", p.X, p.Y)
	}
	if dataOf(s).Board[p.Y][p.X] != Empty {
		return game.Reject("cell (%d,%d) is occupied", p.X, p.Y)
	}
	return nil
}

func (*Rules) ExecuteAction(s game.State, a game.Action) (game.State, error) {
	p := a.Data.(Place)
	d := dataOf(s)
	stone := StoneOf(s.IndexOf(a.PlayerID))
	d.Board[p.Y][p.X] = stone
	d.Moves++
	d.Last = &p
	d.Line = lineThrough(&d.Board, p)
	s.Data = d
	return s, nil
}

// lineThrough scans outward from the just placed stone only.
func lineThrough(b *Board, p Place) *Line {
	owner := b[p.Y][p.X]
	for _, ax := range axes {
		cells := []Place{p}
		for _, dir := range []int{-1, 1} {
			x, y := p.X+dir*ax.dx, p.Y+dir*ax.dy
			for inBounds(x, y) && b[y][x] == owner {
				if dir < 0 {
					cells = append([]Place{{X: x, Y: y}}, cells...)
				} else {
					cells = append(cells, Place{X: x, Y: y})
				}
				x, y = x+dir*ax.dx, y+dir*ax.dy
			}
		}
		if len(cells) >= WinLength {
			return &Line{Owner: owner, Axis: ax.axis, Cells: cells}
		}
	}
	return nil
}

func (*Rules) CheckWinCondition(s game.State) *game.Result {
	d := dataOf(s)
	if d.Line != nil {
		idx := 0
		if d.Line.Owner == White {
			idx = 1
		}
		return &game.Result{
			Winner: s.Players[idx],
			Reason: fmt.Sprintf("five in a row (%s, %s)", d.Line.Owner, d.Line.Axis),
		}
	}
	if d.Moves >= Size*Size {
		return &game.Result{Draw: true, Reason: "board full"}
	}
	return nil
}

// ValidActions lists empty cells. With a hint level set, only cells touching
// an existing stone are suggested.
func (*Rules) ValidActions(s game.State, id domain.ParticipantID) []game.Action {
	d := dataOf(s)
	near := s.Settings.HintLevel > 0 && d.Moves > 0
	var out []game.Action
	for y := range Size {
		for x := range Size {
			if d.Board[y][x] != Empty {
				continue
			}
			if near && !touchesStone(&d.Board, x, y) {
				continue
			}
			out = append(out, game.NewAction(id, Place{X: x, Y: y}))
		}
	}
	return out
}

func touchesStone(b *Board, x, y int) bool {
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			nx, ny := x+dx, y+dy
			if (dx != 0 || dy != 0) && inBounds(nx, ny) && b[ny][nx] != Empty {
				return true
			}
		}
	}
	return false
}

func (*Rules) NextPlayer(s game.State) int {
	return (s.TurnIndex + 1) % len(s.Players)
}

func (*Rules) CalculateScore(s game.State, id domain.ParticipantID) int {
	d := dataOf(s)
	if d.Line == nil {
		return 0
	}
	if StoneOf(s.IndexOf(id)) == d.Line.Owner {
		return 1
	}
	return 0
}
