// Package orch coordinates one participant's view of a room: roster,
// full-mesh connectivity, application messages and, on the host, the
// authoritative game engine.
package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dkeye/Tabletop/internal/app/mesh"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultJoinTimeout = 10 * time.Second

var (
	ErrTimeout      = errors.New("signaling timed out")
	ErrBusy         = errors.New("room request already in flight")
	ErrLocalOnly    = errors.New("relay unavailable: local-only mode")
	ErrRelayLost    = errors.New("relay connection lost")
	ErrNoGame       = errors.New("no game running")
	ErrGameRunning  = errors.New("game already running")
	ErrNotDelivered = errors.New("message not delivered")
)

// Relay is the signaling client the coordinator talks through.
type Relay interface {
	Send(msg core.SignalMessage) error
	Subscribe(fn func(core.SignalMessage)) func()
	OnStatus(fn func(core.RelayStatus)) func()
}

type EventType string

const (
	EventRoomCreated     EventType = "room-created"
	EventRoomJoined      EventType = "room-joined"
	EventPlayerJoined    EventType = "player-joined"
	EventPlayerLeft      EventType = "player-left"
	EventRoomLeft        EventType = "room-left"
	EventGameMessage     EventType = "game-message"
	EventConnectionError EventType = "connection-error"
	EventHostChanged     EventType = "host-changed"
)

type Event struct {
	Type        EventType
	Room        *domain.RoomSnapshot
	Participant *domain.Participant
	Message     *core.GameMessage
	Err         error
}

type Options struct {
	JoinTimeout time.Duration
}

type pendingRequest struct {
	kind  core.SignalKind
	reply chan requestResult
}

type requestResult struct {
	snap domain.RoomSnapshot
	err  error
}

type Coordinator struct {
	self   domain.Participant
	relay  Relay
	mesh   *mesh.Manager
	opts   Options
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	room    core.RoomService
	pending *pendingRequest
	local   bool
	engine  *game.Engine
	unbind  func()

	// lastGame is the latest state a remote host broadcast for a running game.
	lastGame json.RawMessage

	events *core.Bus[Event]
	unsubs []func()
}

// New wires a coordinator for self on top of relay, building links with factory.
func New(self domain.Participant, relay Relay, factory core.TransportFactory, opts Options) *Coordinator {
	if opts.JoinTimeout <= 0 {
		opts.JoinTimeout = DefaultJoinTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		self:   self,
		relay:  relay,
		mesh:   mesh.NewManager(self.ID, factory, relay),
		opts:   opts,
		logger: log.With().Str("module", "app.orch").Str("self", string(self.ID)).Logger(),
		ctx:    ctx,
		cancel: cancel,
		events: core.NewBus[Event](),
	}
	c.unsubs = append(c.unsubs,
		relay.Subscribe(c.onSignal),
		relay.OnStatus(c.onRelayStatus),
		c.mesh.Subscribe(c.onLinkEvent),
		c.mesh.OnMessage(c.onInbound),
	)
	return c
}

func (c *Coordinator) Self() domain.Participant { return c.self }

// Mesh exposes the link manager for inspection.
func (c *Coordinator) Mesh() *mesh.Manager { return c.mesh }

// Subscribe registers a room event handler and returns its unsubscribe func.
func (c *Coordinator) Subscribe(fn func(Event)) func() { return c.events.Subscribe(fn) }

// Room returns the current roster snapshot.
func (c *Coordinator) Room() (domain.RoomSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return domain.RoomSnapshot{}, false
	}
	return c.room.Snapshot(), true
}

func (c *Coordinator) IsHost() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room != nil && c.room.HostID() == c.self.ID
}

// LocalOnly reports whether the relay was lost for good.
func (c *Coordinator) LocalOnly() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

// Close leaves the current room and detaches from the relay and mesh.
func (c *Coordinator) Close() {
	c.LeaveRoom()
	c.mu.Lock()
	unsubs := c.unsubs
	c.unsubs = nil
	c.mu.Unlock()
	for _, fn := range unsubs {
		fn()
	}
	c.cancel()
}

func (c *Coordinator) emit(ev Event) {
	c.events.Publish(ev)
}

func (c *Coordinator) onRelayStatus(s core.RelayStatus) {
	if s == core.RelayDisconnected {
		c.EnterLocalMode(ErrRelayLost)
	}
}

// EnterLocalMode stops using the relay: an in-flight create/join fails with
// reason and later rooms exist on this peer only.
func (c *Coordinator) EnterLocalMode(reason error) {
	c.mu.Lock()
	if c.local {
		c.mu.Unlock()
		return
	}
	c.local = true
	p := c.pending
	c.pending = nil
	c.mu.Unlock()

	c.logger.Warn().Err(reason).Msg("switching to local-only mode")
	if p != nil {
		p.reply <- requestResult{err: reason}
	}
	c.emit(Event{Type: EventConnectionError, Err: reason})
}
