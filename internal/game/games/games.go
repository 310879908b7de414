// Package games registers the built-in rule sets.
package games

import (
	"github.com/dkeye/Tabletop/internal/game"
	"github.com/dkeye/Tabletop/internal/game/cardcompare"
	"github.com/dkeye/Tabletop/internal/game/diceguess"
	"github.com/dkeye/Tabletop/internal/game/gomoku"
)

// Catalog returns a catalog with every built-in game. Seeded games get a
// fresh seed per instance.
func Catalog() *game.Catalog {
	c := game.NewCatalog()
	c.Register(gomoku.GameType, func() game.Rules { return gomoku.New() })
	c.Register(cardcompare.GameType, func() game.Rules { return cardcompare.New(cardcompare.Options{}) })
	c.Register(diceguess.GameType, func() game.Rules { return diceguess.New(diceguess.Options{}) })
	return c
}
