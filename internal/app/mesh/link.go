package mesh

import (
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
)

type LinkState string

const (
	LinkNew          LinkState = "new"
	LinkConnecting   LinkState = "connecting"
	LinkConnected    LinkState = "connected"
	LinkDisconnected LinkState = "disconnected"
	LinkFailed       LinkState = "failed"
)

// Terminal states can only be left through a fresh handshake.
func (s LinkState) Terminal() bool {
	return s == LinkDisconnected || s == LinkFailed
}

// LinkEvent reports a state or channel change on one link.
type LinkEvent struct {
	Peer  domain.ParticipantID
	State LinkState
	Open  bool
}

// Inbound is a payload received on a peer channel.
type Inbound struct {
	From domain.ParticipantID
	Data []byte
}

// link is the manager's view of one point-to-point connection.
type link struct {
	peer      domain.ParticipantID
	info      domain.Participant
	transport core.Transport
	state     LinkState
	open      bool

	// remoteSet flips once the remote description is applied; until then
	// remote candidates wait in pending.
	remoteSet bool
	pending   []core.Candidate

	// localSent flips once our offer or answer went out; local candidates
	// gathered before that wait in outbox so they never overtake it.
	localSent bool
	outbox    []core.Candidate
}

func (l *link) event() LinkEvent {
	return LinkEvent{Peer: l.peer, State: l.state, Open: l.open}
}

func stateOf(s core.TransportState) (LinkState, bool) {
	switch s {
	case core.TransportNew:
		return LinkNew, true
	case core.TransportConnecting:
		return LinkConnecting, true
	case core.TransportConnected:
		return LinkConnected, true
	case core.TransportDisconnected:
		return LinkDisconnected, true
	case core.TransportFailed:
		return LinkFailed, true
	}
	return "", false
}
