// Package mesh manages the point-to-point links of one participant to every
// other member of its room. It drives each link's handshake and state
// machine and carries no business logic.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrGlare is returned for an offer from a peer the local side should offer to.
	ErrGlare    = errors.New("unexpected offer: local side is the offerer")
	ErrSelfLink = errors.New("cannot link to self")
)

// Signaler delivers handshake messages to a remote participant.
type Signaler interface {
	Send(msg core.SignalMessage) error
}

// ShouldOffer reports whether self opens the handshake toward peer. The
// lexicographically smaller id always offers, whoever joined first.
func ShouldOffer(self, peer domain.ParticipantID) bool {
	return self < peer
}

type Manager struct {
	self    domain.ParticipantID
	factory core.TransportFactory
	signal  Signaler

	mu    sync.Mutex
	links map[domain.ParticipantID]*link

	events  *core.Bus[LinkEvent]
	inbound *core.Bus[Inbound]
	logger  zerolog.Logger
}

func NewManager(self domain.ParticipantID, factory core.TransportFactory, signal Signaler) *Manager {
	return &Manager{
		self:    self,
		factory: factory,
		signal:  signal,
		links:   make(map[domain.ParticipantID]*link),
		events:  core.NewBus[LinkEvent](),
		inbound: core.NewBus[Inbound](),
		logger:  log.With().Str("module", "app.mesh").Str("self", string(self)).Logger(),
	}
}

func (m *Manager) Self() domain.ParticipantID { return m.self }

// Subscribe registers a link event handler and returns its unsubscribe func.
func (m *Manager) Subscribe(fn func(LinkEvent)) func() { return m.events.Subscribe(fn) }

// OnMessage registers a handler for inbound channel payloads.
func (m *Manager) OnMessage(fn func(Inbound)) func() { return m.inbound.Subscribe(fn) }

// CreateLink allocates the transport and its observers for peer. An existing
// live link is kept; a terminal one is replaced.
func (m *Manager) CreateLink(peer domain.ParticipantID, info domain.Participant) error {
	if peer == m.self {
		return ErrSelfLink
	}
	_, err := m.ensureLink(peer, info, false)
	return err
}

func (m *Manager) ensureLink(peer domain.ParticipantID, info domain.Participant, replace bool) (*link, error) {
	m.mu.Lock()
	old := m.links[peer]
	if old != nil && !replace && !old.state.Terminal() {
		if info.ID != "" {
			old.info = info
		}
		m.mu.Unlock()
		return old, nil
	}
	if old != nil {
		delete(m.links, peer)
		old.pending, old.outbox = nil, nil
		if info.ID == "" {
			info = old.info
		}
	}
	m.mu.Unlock()
	if old != nil {
		_ = old.transport.Close()
	}

	t, err := m.factory(peer)
	if err != nil {
		return nil, fmt.Errorf("allocate transport for %s: %w", peer, err)
	}
	l := &link{peer: peer, info: info, transport: t, state: LinkNew}
	m.bind(l)

	m.mu.Lock()
	if cur := m.links[peer]; cur != nil {
		m.mu.Unlock()
		_ = t.Close()
		return cur, nil
	}
	m.links[peer] = l
	m.mu.Unlock()

	m.logger.Debug().Str("peer", string(peer)).Msg("link created")
	m.events.Publish(LinkEvent{Peer: peer, State: LinkNew})
	return l, nil
}

func (m *Manager) bind(l *link) {
	t := l.transport
	t.OnICECandidate(func(c core.Candidate) { m.onLocalCandidate(l, c) })
	t.OnStateChange(func(s core.TransportState) {
		if ls, ok := stateOf(s); ok && ls != LinkNew {
			m.setState(l, ls)
		}
	})
	t.OnChannelOpen(func() { m.setOpen(l, true) })
	t.OnChannelClose(func() { m.setOpen(l, false) })
	t.OnMessage(func(b []byte) {
		if m.current(l) {
			m.inbound.Publish(Inbound{From: l.peer, Data: b})
		}
	})
}

// current reports whether l is still the registered link for its peer.
// Callbacks from replaced or closed transports are ignored.
func (m *Manager) current(l *link) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[l.peer] == l
}

func (m *Manager) setState(l *link, s LinkState) {
	m.mu.Lock()
	if m.links[l.peer] != l || l.state == s {
		m.mu.Unlock()
		return
	}
	l.state = s
	ev := l.event()
	m.mu.Unlock()

	m.logger.Info().Str("peer", string(l.peer)).Str("state", string(s)).Msg("link state")
	m.events.Publish(ev)
}

func (m *Manager) setOpen(l *link, open bool) {
	m.mu.Lock()
	if m.links[l.peer] != l || l.open == open {
		m.mu.Unlock()
		return
	}
	l.open = open
	ev := l.event()
	m.mu.Unlock()

	m.logger.Info().Str("peer", string(l.peer)).Bool("open", open).Msg("channel")
	m.events.Publish(ev)
}

func (m *Manager) get(peer domain.ParticipantID) (*link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPeerNotFound, peer)
	}
	return l, nil
}

func (m *Manager) CreateOffer(ctx context.Context, peer domain.ParticipantID) (core.Description, error) {
	l, err := m.get(peer)
	if err != nil {
		return core.Description{}, err
	}
	m.setState(l, LinkConnecting)
	desc, err := l.transport.CreateOffer(ctx)
	if err != nil {
		m.setState(l, LinkFailed)
		return core.Description{}, fmt.Errorf("offer to %s: %w", peer, err)
	}
	return desc, nil
}

func (m *Manager) CreateAnswer(ctx context.Context, peer domain.ParticipantID, offer core.Description) (core.Description, error) {
	l, err := m.get(peer)
	if err != nil {
		return core.Description{}, err
	}
	m.setState(l, LinkConnecting)
	desc, err := l.transport.CreateAnswer(ctx, offer)
	if err != nil {
		m.setState(l, LinkFailed)
		return core.Description{}, fmt.Errorf("answer to %s: %w", peer, err)
	}
	m.remoteApplied(l)
	return desc, nil
}

func (m *Manager) SetRemoteAnswer(peer domain.ParticipantID, answer core.Description) error {
	l, err := m.get(peer)
	if err != nil {
		return err
	}
	if err := l.transport.SetRemoteDescription(answer); err != nil {
		m.setState(l, LinkFailed)
		return fmt.Errorf("answer from %s: %w", peer, err)
	}
	m.remoteApplied(l)
	return nil
}

// AddICECandidate applies a remote candidate, or buffers it until the
// remote description is set.
func (m *Manager) AddICECandidate(peer domain.ParticipantID, c core.Candidate) error {
	m.mu.Lock()
	l, ok := m.links[peer]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", domain.ErrPeerNotFound, peer)
	}
	if !l.remoteSet {
		l.pending = append(l.pending, c)
		m.mu.Unlock()
		return nil
	}
	t := l.transport
	m.mu.Unlock()
	return t.AddICECandidate(c)
}

// Pending returns the number of buffered remote candidates for peer.
func (m *Manager) Pending(peer domain.ParticipantID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[peer]; ok {
		return len(l.pending)
	}
	return 0
}

func (m *Manager) remoteApplied(l *link) {
	m.mu.Lock()
	l.remoteSet = true
	pending := l.pending
	l.pending = nil
	m.mu.Unlock()

	for _, c := range pending {
		if err := l.transport.AddICECandidate(c); err != nil {
			m.logger.Warn().Err(err).Str("peer", string(l.peer)).Msg("buffered candidate rejected")
		}
	}
}

func (m *Manager) onLocalCandidate(l *link, c core.Candidate) {
	m.mu.Lock()
	if m.links[l.peer] != l {
		m.mu.Unlock()
		return
	}
	if !l.localSent {
		l.outbox = append(l.outbox, c)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.sendCandidate(l.peer, c)
}

func (m *Manager) sendCandidate(peer domain.ParticipantID, c core.Candidate) {
	msg, err := core.NewSignal(core.KindICECandidate, m.self, peer, c)
	if err != nil {
		return
	}
	if err := m.signal.Send(msg); err != nil {
		m.logger.Warn().Err(err).Str("peer", string(peer)).Msg("send candidate")
	}
}

// sendLocal ships our description, then the candidates gathered meanwhile.
func (m *Manager) sendLocal(l *link, kind core.SignalKind, desc core.Description) error {
	msg, err := core.NewSignal(kind, m.self, l.peer, desc)
	if err != nil {
		return err
	}
	if err := m.signal.Send(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", kind, l.peer, err)
	}
	m.mu.Lock()
	l.localSent = true
	out := l.outbox
	l.outbox = nil
	m.mu.Unlock()
	for _, c := range out {
		m.sendCandidate(l.peer, c)
	}
	return nil
}

// Connect starts a handshake toward peer when the tie-break makes the local
// side the offerer. Otherwise the link waits for the remote offer.
func (m *Manager) Connect(ctx context.Context, peer domain.ParticipantID, info domain.Participant) error {
	if peer == m.self {
		return ErrSelfLink
	}
	l, err := m.ensureLink(peer, info, false)
	if err != nil {
		return err
	}
	if !ShouldOffer(m.self, peer) {
		return nil
	}
	m.mu.Lock()
	fresh := l.state == LinkNew && !l.localSent
	m.mu.Unlock()
	if !fresh {
		return nil
	}
	desc, err := m.CreateOffer(ctx, peer)
	if err != nil {
		return err
	}
	return m.sendLocal(l, core.KindOffer, desc)
}

// HandleSignal applies a routed handshake message from msg.SenderID.
func (m *Manager) HandleSignal(ctx context.Context, msg core.SignalMessage) error {
	peer := msg.SenderID
	if peer == "" || peer == m.self {
		return fmt.Errorf("%w: %q", domain.ErrPeerNotFound, peer)
	}
	switch msg.Type {
	case core.KindOffer:
		if ShouldOffer(m.self, peer) {
			return fmt.Errorf("%w: %s", ErrGlare, peer)
		}
		var offer core.Description
		if err := msg.Decode(&offer); err != nil {
			return err
		}
		m.mu.Lock()
		old := m.links[peer]
		replace := old != nil && (old.remoteSet || old.state.Terminal())
		m.mu.Unlock()

		l, err := m.ensureLink(peer, domain.Participant{}, replace)
		if err != nil {
			return err
		}
		answer, err := m.CreateAnswer(ctx, peer, offer)
		if err != nil {
			return err
		}
		return m.sendLocal(l, core.KindAnswer, answer)

	case core.KindAnswer:
		var answer core.Description
		if err := msg.Decode(&answer); err != nil {
			return err
		}
		return m.SetRemoteAnswer(peer, answer)

	case core.KindICECandidate:
		var c core.Candidate
		if err := msg.Decode(&c); err != nil {
			return err
		}
		return m.AddICECandidate(peer, c)
	}
	return fmt.Errorf("unexpected signal %q", msg.Type)
}

// Send delivers data to peer. It returns false when the channel is not open.
func (m *Manager) Send(peer domain.ParticipantID, data []byte) bool {
	m.mu.Lock()
	l, ok := m.links[peer]
	ready := ok && l.open
	m.mu.Unlock()
	if !ready {
		return false
	}
	if err := l.transport.Send(data); err != nil {
		m.logger.Debug().Err(err).Str("peer", string(peer)).Msg("send")
		return false
	}
	return true
}

// Broadcast sends data on every open channel and returns how many accepted it.
func (m *Manager) Broadcast(data []byte) int {
	m.mu.Lock()
	open := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		if l.open {
			open = append(open, l)
		}
	}
	m.mu.Unlock()

	n := 0
	for _, l := range open {
		if err := l.transport.Send(data); err == nil {
			n++
		}
	}
	return n
}

// Close tears down the link to peer and drops its buffers. Closing an
// unknown peer is a no-op.
func (m *Manager) Close(peer domain.ParticipantID) {
	m.mu.Lock()
	l, ok := m.links[peer]
	if ok {
		delete(m.links, peer)
		l.pending, l.outbox = nil, nil
	}
	m.mu.Unlock()
	if ok {
		_ = l.transport.Close()
		m.logger.Debug().Str("peer", string(peer)).Msg("link closed")
	}
}

func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[domain.ParticipantID]*link)
	for _, l := range links {
		l.pending, l.outbox = nil, nil
	}
	m.mu.Unlock()
	for _, l := range links {
		_ = l.transport.Close()
	}
}

func (m *Manager) State(peer domain.ParticipantID) (LinkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.links[peer]; ok {
		return l.state, true
	}
	return "", false
}

// Peers returns the ids with a registered link, sorted.
func (m *Manager) Peers() []domain.ParticipantID {
	m.mu.Lock()
	out := make([]domain.ParticipantID, 0, len(m.links))
	for id := range m.links {
		out = append(out, id)
	}
	m.mu.Unlock()
	slices.Sort(out)
	return out
}

// OpenCount returns the number of links with an open channel.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.links {
		if l.open {
			n++
		}
	}
	return n
}
