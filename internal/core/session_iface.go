package core

import "github.com/dkeye/Tabletop/internal/domain"

type SessionID = domain.ParticipantID

// MemberSession binds a participant and its signaling endpoint on the relay.
// This is what the relay stores and fans out to.
type MemberSession interface {
	Meta() *domain.Participant
	Signal() SignalConnection
	UpdateMeta(domain.Participant) MemberSession
}
