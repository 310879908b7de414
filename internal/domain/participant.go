// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxNameLen          = 36
	MaxAvatarLen        = 256
)

var (
	ErrNameTooLong   = errors.New("name too long")
	ErrNameEmpty     = errors.New("name empty")
	ErrAvatarTooLong = errors.New("avatar too long")
	ErrInvalidID     = errors.New("invalid participant id")
)

type ParticipantID string

type Role string

const (
	RoleHost  Role = "host"
	RoleGuest Role = "guest"
)

type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
)

type Participant struct {
	ID     ParticipantID    `json:"id"`
	Name   string           `json:"name"`
	Avatar string           `json:"avatar,omitempty"`
	Role   Role             `json:"role"`
	Status ConnectionStatus `json:"status"`
}

// NewParticipant is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewParticipant(name, avatar string) (*Participant, error) {
	p := &Participant{
		ID:     ParticipantID(uuid.NewString()),
		Role:   RoleGuest,
		Status: StatusConnecting,
	}
	if err := p.SetName(name); err != nil {
		return nil, err
	}
	if len(avatar) > MaxAvatarLen {
		return nil, ErrAvatarTooLong
	}
	p.Avatar = avatar
	return p, nil
}

func (p *Participant) SetName(name string) error {
	name = strings.TrimSpace(name)
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}

// Validate checks a participant received from the wire.
func (p Participant) Validate() error {
	if p.ID == "" || len(p.ID) > MaxParticipantIDLen {
		return ErrInvalidID
	}
	if strings.TrimSpace(p.Name) == "" {
		return ErrNameEmpty
	}
	if len(p.Name) > MaxNameLen {
		return ErrNameTooLong
	}
	if len(p.Avatar) > MaxAvatarLen {
		return ErrAvatarTooLong
	}
	return nil
}

func (p Participant) IsHost() bool { return p.Role == RoleHost }
