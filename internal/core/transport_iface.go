package core

import (
	"context"

	"github.com/dkeye/Tabletop/internal/domain"
)

type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// Description is a session description (SDP) exchanged during the handshake.
type Description struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate is a trickled ICE candidate.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

// Transport is one point-to-point link to a remote participant.
// Callbacks must be registered before CreateOffer/CreateAnswer.
type Transport interface {
	// CreateOffer opens the outbound channel and returns the local offer.
	CreateOffer(ctx context.Context) (Description, error)
	// CreateAnswer applies a remote offer and returns the local answer.
	CreateAnswer(ctx context.Context, offer Description) (Description, error)
	// SetRemoteDescription applies the remote answer.
	SetRemoteDescription(Description) error
	AddICECandidate(Candidate) error
	Send([]byte) error
	Close() error

	OnICECandidate(func(Candidate))
	OnStateChange(func(TransportState))
	OnChannelOpen(func())
	OnChannelClose(func())
	OnMessage(func([]byte))
}

// TransportFactory allocates a transport for a peer.
type TransportFactory func(peer domain.ParticipantID) (Transport, error)
