package app

import (
	"fmt"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/rs/zerolog/log"
)

// Hub keeps the authoritative roster of every room on the relay server and
// decides who may talk to whom. It never looks into handshake payloads.
type Hub struct {
	Registry *Registry
	Rooms    core.RoomManager
	Policy   Policy
	// HostMigration hands the room to the lowest remaining id when the host
	// leaves. When false the room is closed instead.
	HostMigration bool
}

func NewHub(reg *Registry, rooms core.RoomManager, policy Policy, hostMigration bool) *Hub {
	return &Hub{Registry: reg, Rooms: rooms, Policy: policy, HostMigration: hostMigration}
}

// Departure describes the effect of a member leaving a room.
type Departure struct {
	RoomID    domain.RoomID
	NewHostID domain.ParticipantID
	// Closed is set when the room no longer exists.
	Closed bool
	// Notify lists the members that must hear about the departure.
	Notify []regSnap
}

func (h *Hub) bindMeta(sid core.SessionID, p domain.Participant) (domain.Participant, error) {
	p.ID = sid
	p.Status = domain.StatusConnected
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return p, nil
}

func (h *Hub) CreateRoom(sid core.SessionID, cfg domain.RoomConfig, p domain.Participant) (domain.RoomSnapshot, error) {
	sess, ok := h.Registry.GetSession(sid)
	if !ok {
		return domain.RoomSnapshot{}, domain.ErrPeerNotFound
	}
	if _, _, in := h.Registry.RoomOf(sid); in {
		return domain.RoomSnapshot{}, domain.ErrAlreadyInRoom
	}
	if err := cfg.Validate(); err != nil {
		return domain.RoomSnapshot{}, err
	}
	p, err := h.bindMeta(sid, p)
	if err != nil {
		return domain.RoomSnapshot{}, err
	}

	room := h.Rooms.Create(cfg)
	if err := room.AddMember(p); err != nil {
		h.Rooms.StopRoom(room.Room().ID)
		return domain.RoomSnapshot{}, err
	}
	sess.UpdateMeta(p)
	h.Registry.UpdateRoom(sid, room.Room().ID)
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("room", string(room.Room().ID)).Int("max_players", cfg.MaxPlayers).Msg("room created")
	return room.Snapshot(), nil
}

// JoinRoom adds sid to an existing room and returns the new roster together
// with the members that were already there.
func (h *Hub) JoinRoom(sid core.SessionID, id domain.RoomID, password string, p domain.Participant) (domain.RoomSnapshot, []regSnap, error) {
	sess, ok := h.Registry.GetSession(sid)
	if !ok {
		return domain.RoomSnapshot{}, nil, domain.ErrPeerNotFound
	}
	if _, _, in := h.Registry.RoomOf(sid); in {
		return domain.RoomSnapshot{}, nil, domain.ErrAlreadyInRoom
	}
	room, ok := h.Rooms.Get(id)
	if !ok {
		return domain.RoomSnapshot{}, nil, domain.ErrRoomNotFound
	}
	if !room.Room().CheckPassword(password) {
		return domain.RoomSnapshot{}, nil, domain.ErrInvalidPassword
	}
	p, err := h.bindMeta(sid, p)
	if err != nil {
		return domain.RoomSnapshot{}, nil, err
	}
	if err := room.AddMember(p); err != nil {
		return domain.RoomSnapshot{}, nil, err
	}
	others := h.Registry.MembersOfRoom(id)
	sess.UpdateMeta(p)
	h.Registry.UpdateRoom(sid, id)
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("room", string(id)).Int("members", room.MemberCount()).Msg("joined")
	return room.Snapshot(), others, nil
}

// Leave removes sid from its room. It is a no-op when sid is in no room.
func (h *Hub) Leave(sid core.SessionID) (Departure, bool) {
	roomID, _, ok := h.Registry.RoomOf(sid)
	if !ok {
		return Departure{}, false
	}
	h.Registry.RemoveRoom(sid)
	dep := Departure{RoomID: roomID}

	room, ok := h.Rooms.Get(roomID)
	if !ok {
		return dep, true
	}
	_, newHost := room.RemoveMember(sid)
	dep.Notify = h.Registry.MembersOfRoom(roomID)

	switch {
	case room.MemberCount() == 0:
		h.Rooms.StopRoom(roomID)
		dep.Closed = true
	case newHost != "" && !h.HostMigration:
		for _, m := range dep.Notify {
			room.RemoveMember(m.SID)
			h.Registry.RemoveRoom(m.SID)
		}
		h.Rooms.StopRoom(roomID)
		dep.Closed = true
	default:
		dep.NewHostID = newHost
	}
	log.Info().Str("module", "app.hub").Str("sid", string(sid)).Str("room", string(roomID)).Bool("closed", dep.Closed).Str("new_host", string(dep.NewHostID)).Msg("left")
	return dep, true
}

// Route resolves the session a handshake message from sid must reach.
// Both ends have to share a room.
func (h *Hub) Route(sid, target core.SessionID) (regSnap, error) {
	roomID, _, ok := h.Registry.RoomOf(sid)
	if !ok {
		return regSnap{}, domain.ErrNotInRoom
	}
	if target == "" || target == sid {
		return regSnap{}, domain.ErrPeerNotFound
	}
	targetRoom, sess, ok := h.Registry.RoomOf(target)
	if !ok || targetRoom != roomID {
		return regSnap{}, domain.ErrPeerNotFound
	}
	return regSnap{SID: target, Session: sess}, nil
}

// Deliver hands a frame to a member, applying the backpressure policy when
// its buffer is full.
func (h *Hub) Deliver(to regSnap, frame core.Frame) {
	err := to.Session.Signal().TrySend(frame)
	if err == nil {
		return
	}
	log.Warn().Err(err).Str("module", "app.hub").Str("sid", string(to.SID)).Msg("deliver failed")
	if h.Policy == nil {
		return
	}
	var room core.RoomService
	if roomID, _, ok := h.Registry.RoomOf(to.SID); ok {
		room, _ = h.Rooms.Get(roomID)
	}
	switch h.Policy.OnBackPressure(room, to.Session) {
	case KickMember:
		h.Registry.Cancel(to.SID)
	case MarkSlow, DropFrame, NoAction:
	}
}

// PublicRooms lists rooms that are open to everyone.
func (h *Hub) PublicRooms() []domain.RoomInfo {
	all := h.Rooms.List()
	out := all[:0]
	for _, info := range all {
		if !info.IsPrivate {
			out = append(out, info)
		}
	}
	return out
}
