package core

import (
	"slices"
	"sync"

	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room   *domain.Room
	mu     sync.RWMutex
	byID   map[domain.ParticipantID]*domain.Participant
	order  []domain.ParticipantID
	hostID domain.ParticipantID
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room: room,
		byID: make(map[domain.ParticipantID]*domain.Participant),
	}
}

// NewRoomServiceFromSnapshot mirrors a roster received from the relay.
func NewRoomServiceFromSnapshot(snap domain.RoomSnapshot) RoomService {
	room := &domain.Room{
		ID:         snap.ID,
		Name:       snap.Name,
		MaxPlayers: snap.MaxPlayers,
		IsPrivate:  snap.IsPrivate,
		GameType:   snap.GameType,
		Status:     snap.Status,
	}
	r := NewRoomService(room).(*roomImpl)
	for _, p := range snap.Players {
		if p.ID == snap.Host.ID {
			p.Role = domain.RoleHost
		} else {
			p.Role = domain.RoleGuest
		}
		r.byID[p.ID] = &p
		r.order = append(r.order, p.ID)
	}
	r.hostID = snap.Host.ID
	return r
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *roomImpl) Has(id domain.ParticipantID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

func (r *roomImpl) Member(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return domain.Participant{}, false
	}
	return *p, true
}

func (r *roomImpl) HostID() domain.ParticipantID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

func (r *roomImpl) AddMember(p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return domain.ErrAlreadyInRoom
	}
	if len(r.order) >= r.room.MaxPlayers {
		return domain.ErrRoomFull
	}
	if len(r.order) == 0 {
		p.Role = domain.RoleHost
		r.hostID = p.ID
	} else {
		p.Role = domain.RoleGuest
	}
	r.byID[p.ID] = &p
	r.order = append(r.order, p.ID)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(p.ID)).Str("role", string(p.Role)).Msg("member added")
	return nil
}

func (r *roomImpl) RemoveMember(id domain.ParticipantID) (bool, domain.ParticipantID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false, ""
	}
	delete(r.byID, id)
	r.order = slices.DeleteFunc(r.order, func(x domain.ParticipantID) bool { return x == id })
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("participant", string(id)).Msg("member removed")

	if id != r.hostID {
		return true, ""
	}
	r.hostID = ""
	if len(r.order) == 0 {
		return true, ""
	}
	// Lowest remaining id takes over so every peer computes the same host.
	next := slices.Min(r.order)
	r.promote(next)
	return true, next
}

func (r *roomImpl) SetHost(id domain.ParticipantID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	if old, ok := r.byID[r.hostID]; ok {
		old.Role = domain.RoleGuest
	}
	r.promote(id)
	return true
}

func (r *roomImpl) promote(id domain.ParticipantID) {
	r.byID[id].Role = domain.RoleHost
	r.hostID = id
}

func (r *roomImpl) SetStatus(id domain.ParticipantID, status domain.ConnectionStatus) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return false
	}
	p.Status = status
	return true
}

func (r *roomImpl) SetRoomStatus(status domain.RoomStatus) {
	r.mu.Lock()
	r.room.Status = status
	r.mu.Unlock()
}

func (r *roomImpl) Members() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked()
}

func (r *roomImpl) membersLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

func (r *roomImpl) Snapshot() domain.RoomSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := domain.RoomSnapshot{
		ID:         r.room.ID,
		Name:       r.room.Name,
		MaxPlayers: r.room.MaxPlayers,
		IsPrivate:  r.room.IsPrivate,
		Players:    r.membersLocked(),
		GameType:   r.room.GameType,
		Status:     r.room.Status,
	}
	if h, ok := r.byID[r.hostID]; ok {
		snap.Host = *h
	}
	return snap
}

func (r *roomImpl) Info() domain.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return domain.RoomInfo{
		ID:         r.room.ID,
		Name:       r.room.Name,
		MaxPlayers: r.room.MaxPlayers,
		Players:    len(r.order),
		IsPrivate:  r.room.IsPrivate,
		GameType:   r.room.GameType,
	}
}
