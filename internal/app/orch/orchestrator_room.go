package orch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/Tabletop/internal/app/mesh"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/google/uuid"
)

// CreateRoom opens a room with the local participant as host. In local-only
// mode the room exists on this peer alone.
func (c *Coordinator) CreateRoom(ctx context.Context, cfg domain.RoomConfig) (domain.RoomSnapshot, error) {
	if err := cfg.Validate(); err != nil {
		return domain.RoomSnapshot{}, err
	}
	c.mu.Lock()
	if c.room != nil {
		c.mu.Unlock()
		return domain.RoomSnapshot{}, domain.ErrAlreadyInRoom
	}
	if c.local {
		room := core.NewRoomService(domain.NewRoom(domain.RoomID(uuid.NewString()), cfg))
		if err := room.AddMember(c.self); err != nil {
			c.mu.Unlock()
			return domain.RoomSnapshot{}, err
		}
		room.SetStatus(c.self.ID, domain.StatusConnected)
		c.room = room
		snap := room.Snapshot()
		c.mu.Unlock()
		c.logger.Info().Str("room", string(snap.ID)).Msg("local room created")
		c.emit(Event{Type: EventRoomCreated, Room: &snap})
		return snap, nil
	}
	c.mu.Unlock()

	data := core.CreateRoomData{Config: cfg, Participant: c.self}
	snap, err := c.request(ctx, core.KindCreateRoom, "", data)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	c.logger.Info().Str("room", string(snap.ID)).Msg("room created")
	c.emit(Event{Type: EventRoomCreated, Room: &snap})
	return snap, nil
}

// JoinRoom asks the relay for a seat and, once the roster is confirmed,
// starts a handshake with every member already present.
func (c *Coordinator) JoinRoom(ctx context.Context, id domain.RoomID, secret string) (domain.RoomSnapshot, error) {
	c.mu.Lock()
	switch {
	case c.local:
		c.mu.Unlock()
		return domain.RoomSnapshot{}, ErrLocalOnly
	case c.room != nil:
		c.mu.Unlock()
		return domain.RoomSnapshot{}, domain.ErrAlreadyInRoom
	}
	c.mu.Unlock()

	data := core.JoinRoomData{Password: secret, Participant: c.self}
	snap, err := c.request(ctx, core.KindJoinRoom, id, data)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	c.logger.Info().Str("room", string(snap.ID)).Int("players", len(snap.Players)).Msg("room joined")
	c.emit(Event{Type: EventRoomJoined, Room: &snap})

	others := make([]domain.Participant, 0, len(snap.Players))
	for _, p := range snap.Players {
		if p.ID != c.self.ID {
			others = append(others, p)
		}
	}
	if err := c.connectAll(ctx, others); err != nil {
		c.logger.Warn().Err(err).Msg("some handshakes did not start")
	}
	c.mu.Lock()
	if c.room != nil {
		c.room.SetStatus(c.self.ID, domain.StatusConnected)
		snap = c.room.Snapshot()
	}
	c.mu.Unlock()
	return snap, nil
}

// request sends a create/join and waits for the roster confirmation. The
// roster is installed by the signal handler before the reply is delivered.
func (c *Coordinator) request(ctx context.Context, kind core.SignalKind, roomID domain.RoomID, payload any) (domain.RoomSnapshot, error) {
	msg, err := core.NewSignal(kind, c.self.ID, "", payload)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}
	msg.RoomID = roomID

	p := &pendingRequest{kind: kind, reply: make(chan requestResult, 1)}
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return domain.RoomSnapshot{}, ErrBusy
	}
	c.pending = p
	c.mu.Unlock()

	if err := c.relay.Send(msg); err != nil {
		c.clearPending(p)
		return domain.RoomSnapshot{}, fmt.Errorf("send %s: %w", kind, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.JoinTimeout)
	defer cancel()
	select {
	case r := <-p.reply:
		return r.snap, r.err
	case <-ctx.Done():
	}

	if c.clearPending(p) {
		c.logger.Warn().Str("request", string(kind)).Msg("no answer from relay")
		if kind == core.KindJoinRoom {
			// A late seat would otherwise stay held on the relay.
			c.sendLeave(roomID)
		}
		return domain.RoomSnapshot{}, fmt.Errorf("%w: %s: %w", ErrTimeout, kind, ctx.Err())
	}
	r := <-p.reply
	return r.snap, r.err
}

// clearPending drops p if it is still the request in flight.
func (c *Coordinator) clearPending(p *pendingRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != p {
		return false
	}
	c.pending = nil
	return true
}

func (c *Coordinator) sendLeave(roomID domain.RoomID) {
	msg, _ := core.NewSignal(core.KindLeaveRoom, c.self.ID, "", nil)
	msg.RoomID = roomID
	if err := c.relay.Send(msg); err != nil {
		c.logger.Warn().Err(err).Msg("send leave-room")
	}
}

// LeaveRoom tears down every link and forgets the roster. A hosted game is
// aborted first so guests hear it end. It is idempotent.
func (c *Coordinator) LeaveRoom() {
	c.mu.Lock()
	room := c.room
	local := c.local
	c.room = nil
	engine, unbind := c.engine, c.unbind
	c.engine, c.unbind = nil, nil
	c.lastGame = nil
	c.mu.Unlock()

	if room == nil {
		return
	}
	c.stopGame(engine, unbind, "host left")
	if !local {
		c.sendLeave(room.Room().ID)
	}
	c.mesh.CloseAll()

	snap := room.Snapshot()
	c.logger.Info().Str("room", string(snap.ID)).Msg("room left")
	c.emit(Event{Type: EventRoomLeft, Room: &snap})
}

func (c *Coordinator) onSignal(msg core.SignalMessage) {
	switch msg.Type {
	case core.KindRoomState:
		var snap domain.RoomSnapshot
		if err := msg.Decode(&snap); err != nil {
			c.logger.Warn().Err(err).Msg("room-state")
			return
		}
		c.onRoomState(snap)

	case core.KindError:
		var data core.ErrorData
		if err := msg.Decode(&data); err != nil {
			c.logger.Warn().Err(err).Msg("error frame")
			return
		}
		c.onRelayError(data)

	case core.KindJoinRoom:
		var data core.JoinRoomData
		if err := msg.Decode(&data); err != nil {
			c.logger.Warn().Err(err).Msg("join-room")
			return
		}
		c.onPeerJoined(data.Participant)

	case core.KindLeaveRoom:
		var data core.LeaveRoomData
		if len(msg.Data) > 0 {
			if err := msg.Decode(&data); err != nil {
				c.logger.Warn().Err(err).Msg("leave-room")
				return
			}
		}
		c.onPeerLeft(msg.SenderID, data)

	case core.KindOffer, core.KindAnswer, core.KindICECandidate:
		c.mu.Lock()
		inRoom := c.room != nil
		c.mu.Unlock()
		if !inRoom {
			return
		}
		if err := c.mesh.HandleSignal(c.ctx, msg); err != nil {
			c.logger.Warn().Err(err).Str("type", string(msg.Type)).Str("from", string(msg.SenderID)).Msg("handshake")
		}
	}
}

func (c *Coordinator) onRoomState(snap domain.RoomSnapshot) {
	c.mu.Lock()
	p := c.pending
	if p == nil {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.room = core.NewRoomServiceFromSnapshot(snap)
	for _, m := range snap.Players {
		if m.ID == c.self.ID {
			continue
		}
		if st, ok := c.mesh.State(m.ID); ok && st == mesh.LinkConnected {
			c.room.SetStatus(m.ID, domain.StatusConnected)
		} else {
			c.room.SetStatus(m.ID, domain.StatusConnecting)
		}
	}
	if p.kind == core.KindCreateRoom {
		c.room.SetStatus(c.self.ID, domain.StatusConnected)
	}
	snap = c.room.Snapshot()
	c.mu.Unlock()
	p.reply <- requestResult{snap: snap}
}

func (c *Coordinator) onRelayError(data core.ErrorData) {
	err := data.Err()
	c.mu.Lock()
	p := c.pending
	if p != nil && data.Request != "" && data.Request == p.kind {
		c.pending = nil
	} else {
		p = nil
	}
	c.mu.Unlock()

	if p != nil {
		p.reply <- requestResult{err: err}
		return
	}
	c.logger.Warn().Err(err).Str("request", string(data.Request)).Msg("relay error")
}

func (c *Coordinator) onPeerJoined(p domain.Participant) {
	if p.ID == "" || p.ID == c.self.ID {
		return
	}
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	if err := c.room.AddMember(p); err != nil {
		c.mu.Unlock()
		c.logger.Debug().Err(err).Str("participant", string(p.ID)).Msg("join ignored")
		return
	}
	c.room.SetStatus(p.ID, domain.StatusConnecting)
	p, _ = c.room.Member(p.ID)
	c.mu.Unlock()

	c.emit(Event{Type: EventPlayerJoined, Participant: &p})
	if err := c.mesh.Connect(c.ctx, p.ID, p); err != nil {
		c.logger.Warn().Err(err).Str("participant", string(p.ID)).Msg("connect newcomer")
	}
}

func (c *Coordinator) onPeerLeft(id domain.ParticipantID, data core.LeaveRoomData) {
	if data.Closed {
		c.mu.Lock()
		inRoom := c.room != nil
		c.mu.Unlock()
		if inRoom {
			c.logger.Info().Str("by", string(id)).Msg("room closed")
			c.dropRoom()
		}
		return
	}
	c.prune(id, data.NewHostID)
}

// dropRoom forgets a room the relay closed underneath us.
func (c *Coordinator) dropRoom() {
	c.mu.Lock()
	room := c.room
	c.room = nil
	engine, unbind := c.engine, c.unbind
	c.engine, c.unbind = nil, nil
	c.lastGame = nil
	c.mu.Unlock()
	if room == nil {
		return
	}
	c.stopGame(engine, unbind, "room closed")
	c.mesh.CloseAll()
	snap := room.Snapshot()
	c.emit(Event{Type: EventRoomLeft, Room: &snap})
}

// prune removes id from the roster, its link and the running game. It emits
// player-left once, whichever path notices the departure first. The link is
// closed before returning so a rejoin under the same id starts clean.
func (c *Coordinator) prune(id domain.ParticipantID, newHost domain.ParticipantID) {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return
	}
	p, _ := c.room.Member(id)
	prevHost := c.room.HostID()
	removed, migrated := c.room.RemoveMember(id)
	if !removed {
		c.mu.Unlock()
		return
	}
	if newHost != "" && newHost != c.room.HostID() {
		c.room.SetHost(newHost)
	}
	host := c.room.HostID()
	var hostMeta domain.Participant
	if host != prevHost {
		hostMeta, _ = c.room.Member(host)
	}
	engine := c.engine
	var orphan json.RawMessage
	if id == prevHost {
		if host == c.self.ID && engine == nil {
			orphan = c.lastGame
		}
		c.lastGame = nil
	}
	c.mu.Unlock()

	c.mesh.Close(id)
	if engine != nil {
		if err := engine.RemovePlayer(id); err != nil {
			c.logger.Debug().Err(err).Str("participant", string(id)).Msg("remove from game")
		}
	}
	p.Status = domain.StatusDisconnected
	c.logger.Info().Str("participant", string(id)).Msg("player left")
	c.emit(Event{Type: EventPlayerLeft, Participant: &p})
	if host != prevHost && host != "" {
		c.logger.Info().Str("host", string(host)).Str("migrated", string(migrated)).Msg("host changed")
		c.emit(Event{Type: EventHostChanged, Participant: &hostMeta})
	}
	if orphan != nil {
		c.endOrphanedGame(orphan, "host left")
	}
}
