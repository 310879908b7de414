package core

import (
	"github.com/dkeye/Tabletop/internal/domain"
)

// RoomService owns the membership set of one room but never touches transport resources.
// Members are kept in join order.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	Members() []domain.Participant
	Member(id domain.ParticipantID) (domain.Participant, bool)
	Has(id domain.ParticipantID) bool
	HostID() domain.ParticipantID
	Snapshot() domain.RoomSnapshot
	Info() domain.RoomInfo

	// AddMember enforces capacity. The first member becomes host.
	AddMember(p domain.Participant) error
	// RemoveMember reports whether id was a member and, if the host left and
	// members remain, which participant became host.
	RemoveMember(id domain.ParticipantID) (removed bool, newHost domain.ParticipantID)
	SetStatus(id domain.ParticipantID, status domain.ConnectionStatus) bool
	SetHost(id domain.ParticipantID) bool
	SetRoomStatus(status domain.RoomStatus)
}

type RoomManager interface {
	Create(cfg domain.RoomConfig) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []domain.RoomInfo
	StopRoom(id domain.RoomID)
}
