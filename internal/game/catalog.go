package game

import (
	"fmt"
	"slices"
	"sync"
)

// Factory builds a fresh rules instance. Rules may carry options such as seeds.
type Factory func() Rules

// Catalog maps game-type ids to rule factories.
type Catalog struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewCatalog() *Catalog {
	return &Catalog{factories: make(map[string]Factory)}
}

func (c *Catalog) Register(gameType string, f Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[gameType] = f
}

func (c *Catalog) New(gameType string) (Rules, error) {
	c.mu.RLock()
	f, ok := c.factories[gameType]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, gameType)
	}
	return f(), nil
}

func (c *Catalog) Types() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.factories))
	for t := range c.factories {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
