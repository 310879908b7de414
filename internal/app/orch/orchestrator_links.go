package orch

import (
	"context"

	"github.com/dkeye/Tabletop/internal/app/mesh"
	"github.com/dkeye/Tabletop/internal/domain"
	"golang.org/x/sync/errgroup"
)

// connectAll starts a handshake with every peer in parallel. Peers the
// tie-break makes offerers get a link that waits for their offer.
func (c *Coordinator) connectAll(ctx context.Context, peers []domain.Participant) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, p := range peers {
		g.Go(func() error {
			return c.mesh.Connect(gctx, p.ID, p)
		})
	}
	return g.Wait()
}

func (c *Coordinator) onLinkEvent(ev mesh.LinkEvent) {
	switch ev.State {
	case mesh.LinkConnected:
		c.setStatus(ev.Peer, domain.StatusConnected)
	case mesh.LinkDisconnected:
		c.setStatus(ev.Peer, domain.StatusDisconnected)
	case mesh.LinkFailed:
		c.logger.Warn().Str("peer", string(ev.Peer)).Msg("link failed")
		c.prune(ev.Peer, "")
	}
}

func (c *Coordinator) setStatus(id domain.ParticipantID, status domain.ConnectionStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room != nil {
		c.room.SetStatus(id, status)
	}
}
