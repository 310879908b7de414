package app

import (
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/google/uuid"
)

type RoomManagerImpl struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]core.RoomService
	newID func() domain.RoomID
}

func NewRoomManager() core.RoomManager {
	return &RoomManagerImpl{
		rooms: make(map[domain.RoomID]core.RoomService),
		newID: func() domain.RoomID { return domain.RoomID(uuid.NewString()) },
	}
}

func (f *RoomManagerImpl) Create(cfg domain.RoomConfig) core.RoomService {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.newID()
	for _, taken := f.rooms[id]; taken; _, taken = f.rooms[id] {
		id = f.newID()
	}
	room := core.NewRoomService(domain.NewRoom(id, cfg))
	f.rooms[id] = room
	return room
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	room, ok := f.rooms[id]
	return room, ok
}

// List returns every room ordered by name, then id.
func (f *RoomManagerImpl) List() []domain.RoomInfo {
	f.mu.RLock()
	out := make([]domain.RoomInfo, 0, len(f.rooms))
	for _, r := range f.rooms {
		out = append(out, r.Info())
	}
	f.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.RoomInfo) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return strings.Compare(string(a.ID), string(b.ID))
	})
	return out
}

func (f *RoomManagerImpl) StopRoom(id domain.RoomID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if room, ok := f.rooms[id]; ok {
		room.SetRoomStatus(domain.RoomClosed)
		delete(f.rooms, id)
	}
}
