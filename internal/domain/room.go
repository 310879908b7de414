package domain

import "crypto/subtle"

const (
	MinPlayers = 2
	MaxPlayers = 8
)

type RoomID string

type RoomStatus string

const (
	RoomWaiting RoomStatus = "waiting"
	RoomPlaying RoomStatus = "playing"
	RoomClosed  RoomStatus = "closed"
)

// RoomConfig is the room creation request.
type RoomConfig struct {
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	IsPrivate  bool   `json:"isPrivate"`
	Password   string `json:"password,omitempty"`
	GameType   string `json:"gameType,omitempty"`
}

func (c RoomConfig) Validate() error {
	if c.Name == "" || len(c.Name) > MaxNameLen {
		return ErrInvalidConfig
	}
	if c.MaxPlayers < MinPlayers || c.MaxPlayers > MaxPlayers {
		return ErrInvalidConfig
	}
	if c.IsPrivate && c.Password == "" {
		return ErrInvalidConfig
	}
	return nil
}

// Room is pure metadata; membership lives in core.RoomService.
type Room struct {
	ID         RoomID
	Name       string
	MaxPlayers int
	IsPrivate  bool
	GameType   string
	Status     RoomStatus
	password   string
}

func NewRoom(id RoomID, cfg RoomConfig) *Room {
	return &Room{
		ID:         id,
		Name:       cfg.Name,
		MaxPlayers: cfg.MaxPlayers,
		IsPrivate:  cfg.IsPrivate,
		GameType:   cfg.GameType,
		Status:     RoomWaiting,
		password:   cfg.Password,
	}
}

// CheckPassword reports whether secret unlocks the room. Public rooms accept anything.
func (r *Room) CheckPassword(secret string) bool {
	if !r.IsPrivate {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(r.password), []byte(secret)) == 1
}

// RoomSnapshot is what a participant receives on create/join.
type RoomSnapshot struct {
	ID         RoomID        `json:"id"`
	Name       string        `json:"name"`
	MaxPlayers int           `json:"maxPlayers"`
	IsPrivate  bool          `json:"isPrivate"`
	Players    []Participant `json:"players"`
	Host       Participant   `json:"host"`
	GameType   string        `json:"gameType,omitempty"`
	Status     RoomStatus    `json:"status"`
}

// RoomInfo is the public listing entry.
type RoomInfo struct {
	ID         RoomID `json:"id"`
	Name       string `json:"name"`
	MaxPlayers int    `json:"maxPlayers"`
	Players    int    `json:"players"`
	IsPrivate  bool   `json:"isPrivate"`
	GameType   string `json:"gameType,omitempty"`
}
