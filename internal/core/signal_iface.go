package core

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Tabletop/internal/domain"
)

// Frame is a raw binary payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

type SignalKind string

const (
	KindCreateRoom   SignalKind = "create-room"
	KindJoinRoom     SignalKind = "join-room"
	KindLeaveRoom    SignalKind = "leave-room"
	KindOffer        SignalKind = "offer"
	KindAnswer       SignalKind = "answer"
	KindICECandidate SignalKind = "ice-candidate"
	KindRoomState    SignalKind = "room-state"
	KindError        SignalKind = "error"
	KindPing         SignalKind = "ping"
	KindPong         SignalKind = "pong"
	KindWhoAmI       SignalKind = "whoami"
)

// SignalMessage is the envelope routed by the relay.
type SignalMessage struct {
	Type     SignalKind           `json:"type"`
	RoomID   domain.RoomID        `json:"roomId,omitempty"`
	SenderID domain.ParticipantID `json:"senderId"`
	TargetID domain.ParticipantID `json:"targetId,omitempty"`
	Data     json.RawMessage      `json:"data,omitempty"`
}

// NewSignal builds a message with a JSON encoded payload. A nil payload leaves Data empty.
func NewSignal(kind SignalKind, sender domain.ParticipantID, target domain.ParticipantID, payload any) (SignalMessage, error) {
	msg := SignalMessage{Type: kind, SenderID: sender, TargetID: target}
	if payload == nil {
		return msg, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return msg, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	msg.Data = raw
	return msg, nil
}

// Decode unmarshals Data into v.
func (m SignalMessage) Decode(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

type CreateRoomData struct {
	Config      domain.RoomConfig  `json:"config"`
	Participant domain.Participant `json:"participant"`
}

type JoinRoomData struct {
	Password    string             `json:"password,omitempty"`
	Participant domain.Participant `json:"participant"`
}

type LeaveRoomData struct {
	NewHostID domain.ParticipantID `json:"newHostId,omitempty"`
	Closed    bool                 `json:"closed,omitempty"`
}

type ErrorData struct {
	Code    domain.ErrorCode `json:"code"`
	Message string           `json:"message,omitempty"`
	// Request echoes the kind that failed so clients can match it to a pending call.
	Request SignalKind `json:"request,omitempty"`
}

func (e ErrorData) Err() error { return domain.ErrorOf(e.Code, e.Message) }

// RelayStatus is the client side state of the relay connection.
type RelayStatus string

const (
	RelayConnected    RelayStatus = "connected"
	RelayReconnecting RelayStatus = "reconnecting"
	// RelayDisconnected is terminal: reconnect attempts are exhausted.
	RelayDisconnected RelayStatus = "disconnected"
)
