// Package meshtest provides an in-memory core.Transport for exercising the
// mesh without a network.
package meshtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
)

// Network pairs fake transports through the SDP strings they hand out.
// An answer connects both ends synchronously when the offerer applies it.
type Network struct {
	mu  sync.Mutex
	seq int
	sdp map[string]*Transport
	all []*Transport
}

func NewNetwork() *Network {
	return &Network{sdp: make(map[string]*Transport)}
}

func (n *Network) Factory(owner domain.ParticipantID) core.TransportFactory {
	return func(peer domain.ParticipantID) (core.Transport, error) {
		t := &Transport{net: n, owner: owner, peer: peer}
		n.mu.Lock()
		n.all = append(n.all, t)
		n.mu.Unlock()
		return t, nil
	}
}

func (n *Network) register(t *Transport, kind string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seq++
	s := fmt.Sprintf("%s-%s-%d", kind, t.owner, n.seq)
	n.sdp[s] = t
	return s
}

func (n *Network) lookup(s string) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sdp[s]
}

// Latest returns the newest transport owner allocated toward peer.
func (n *Network) Latest(owner, peer domain.ParticipantID) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.all) - 1; i >= 0; i-- {
		if t := n.all[i]; t.owner == owner && t.peer == peer {
			return t
		}
	}
	return nil
}

var _ core.Transport = (*Transport)(nil)

// Transport is one end of a fake link. Every offer or answer emits one local
// candidate before it returns.
type Transport struct {
	net         *Network
	owner, peer domain.ParticipantID

	mu        sync.Mutex
	remote    *Transport
	remoteSet bool
	open      bool
	closed    bool
	applied   []core.Candidate

	onCand  func(core.Candidate)
	onState func(core.TransportState)
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
}

func (t *Transport) emitCandidate() {
	t.mu.Lock()
	cb := t.onCand
	t.mu.Unlock()
	if cb != nil {
		cb(core.Candidate{Candidate: "candidate:" + string(t.owner)})
	}
}

func (t *Transport) emitState(s core.TransportState) {
	t.mu.Lock()
	cb := t.onState
	t.mu.Unlock()
	if cb != nil {
		cb(s)
	}
}

func (t *Transport) up() {
	t.mu.Lock()
	t.open = true
	open := t.onOpen
	t.mu.Unlock()
	t.emitState(core.TransportConnected)
	if open != nil {
		open()
	}
}

func (t *Transport) down() {
	t.mu.Lock()
	was := t.open
	t.open = false
	closeFn := t.onClose
	t.mu.Unlock()
	if !was {
		return
	}
	if closeFn != nil {
		closeFn()
	}
	t.emitState(core.TransportDisconnected)
}

// Fail reports a failed transport to the link owner.
func (t *Transport) Fail() { t.emitState(core.TransportFailed) }

func (t *Transport) CreateOffer(ctx context.Context) (core.Description, error) {
	sdp := t.net.register(t, "offer")
	t.emitCandidate()
	return core.Description{Type: "offer", SDP: sdp}, nil
}

func (t *Transport) CreateAnswer(ctx context.Context, offer core.Description) (core.Description, error) {
	o := t.net.lookup(offer.SDP)
	if o == nil {
		return core.Description{}, errors.New("unknown offer")
	}
	t.mu.Lock()
	t.remote = o
	t.remoteSet = true
	t.mu.Unlock()
	o.mu.Lock()
	o.remote = t
	o.mu.Unlock()

	t.emitState(core.TransportConnecting)
	sdp := t.net.register(t, "answer")
	t.emitCandidate()
	return core.Description{Type: "answer", SDP: sdp}, nil
}

func (t *Transport) SetRemoteDescription(d core.Description) error {
	a := t.net.lookup(d.SDP)
	if a == nil {
		return errors.New("unknown answer")
	}
	a.mu.Lock()
	paired := a.remote == t
	a.mu.Unlock()
	if !paired {
		return errors.New("answer does not match offer")
	}
	t.mu.Lock()
	t.remote = a
	t.remoteSet = true
	t.mu.Unlock()
	t.up()
	a.up()
	return nil
}

func (t *Transport) AddICECandidate(c core.Candidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.remoteSet {
		return errors.New("remote description not set")
	}
	t.applied = append(t.applied, c)
	return nil
}

func (t *Transport) Send(b []byte) error {
	t.mu.Lock()
	ok := t.open && !t.closed
	r := t.remote
	t.mu.Unlock()
	if !ok || r == nil {
		return errors.New("channel not open")
	}
	r.mu.Lock()
	cb := r.onMsg
	r.mu.Unlock()
	if cb != nil {
		cb(b)
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.open = false
	r := t.remote
	t.mu.Unlock()
	if r != nil {
		r.down()
	}
	return nil
}

// Applied returns how many remote candidates were accepted.
func (t *Transport) Applied() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.applied)
}

func (t *Transport) OnICECandidate(fn func(core.Candidate)) {
	t.mu.Lock()
	t.onCand = fn
	t.mu.Unlock()
}

func (t *Transport) OnStateChange(fn func(core.TransportState)) {
	t.mu.Lock()
	t.onState = fn
	t.mu.Unlock()
}

func (t *Transport) OnChannelOpen(fn func()) {
	t.mu.Lock()
	t.onOpen = fn
	t.mu.Unlock()
}

func (t *Transport) OnChannelClose(fn func()) {
	t.mu.Lock()
	t.onClose = fn
	t.mu.Unlock()
}

func (t *Transport) OnMessage(fn func([]byte)) {
	t.mu.Lock()
	t.onMsg = fn
	t.mu.Unlock()
}
