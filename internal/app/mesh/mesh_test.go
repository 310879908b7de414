package mesh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Tabletop/internal/app/mesh/meshtest"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
)

// switchboard routes handshake messages to managers by target id, in order,
// on one goroutine per target.
type switchboard struct {
	mu     sync.Mutex
	inbox  map[domain.ParticipantID]chan core.SignalMessage
	offers [][2]domain.ParticipantID
	errs   []error
}

func newSwitchboard() *switchboard {
	return &switchboard{inbox: make(map[domain.ParticipantID]chan core.SignalMessage)}
}

func (s *switchboard) attach(ctx context.Context, m *Manager) {
	ch := make(chan core.SignalMessage, 256)
	s.mu.Lock()
	s.inbox[m.Self()] = ch
	s.mu.Unlock()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				if err := m.HandleSignal(ctx, msg); err != nil {
					s.mu.Lock()
					s.errs = append(s.errs, err)
					s.mu.Unlock()
				}
			}
		}
	}()
}

func (s *switchboard) Send(msg core.SignalMessage) error {
	s.mu.Lock()
	ch, ok := s.inbox[msg.TargetID]
	if msg.Type == core.KindOffer {
		s.offers = append(s.offers, [2]domain.ParticipantID{msg.SenderID, msg.TargetID})
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrPeerNotFound
	}
	ch <- msg
	return nil
}

func (s *switchboard) errors() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

// recorder captures outgoing handshake messages without delivering them.
type recorder struct {
	mu   sync.Mutex
	sent []core.SignalMessage
}

func (r *recorder) Send(msg core.SignalMessage) error {
	r.mu.Lock()
	r.sent = append(r.sent, msg)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []core.SignalKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.SignalKind, len(r.sent))
	for i, m := range r.sent {
		out[i] = m.Type
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestShouldOffer(t *testing.T) {
	tests := []struct {
		self, peer domain.ParticipantID
		want       bool
	}{
		{"a", "b", true},
		{"b", "a", false},
		{"p10", "p2", true},
		{"same", "same", false},
	}
	for _, tt := range tests {
		if got := ShouldOffer(tt.self, tt.peer); got != tt.want {
			t.Fatalf("ShouldOffer(%q, %q) = %v, want %v", tt.self, tt.peer, got, tt.want)
		}
	}
}

func TestMeshConnectsEveryPair(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	net := meshtest.NewNetwork()
	sb := newSwitchboard()
	ids := []domain.ParticipantID{"p4", "p2", "p3", "p1"}
	managers := make(map[domain.ParticipantID]*Manager)
	for _, id := range ids {
		m := NewManager(id, net.Factory(id), sb)
		managers[id] = m
		sb.attach(ctx, m)
	}

	// Join order p4, p2, p3, p1: each newcomer connects to everyone already present.
	for i, id := range ids {
		for _, other := range ids[:i] {
			info := domain.Participant{ID: other, Name: string(other)}
			if err := managers[id].Connect(ctx, other, info); err != nil {
				t.Fatalf("Connect(%s -> %s) returned error: %v", id, other, err)
			}
			back := domain.Participant{ID: id, Name: string(id)}
			if err := managers[other].Connect(ctx, id, back); err != nil {
				t.Fatalf("Connect(%s -> %s) returned error: %v", other, id, err)
			}
		}
	}

	for _, id := range ids {
		m := managers[id]
		waitFor(t, string(id)+" open channels", func() bool { return m.OpenCount() == len(ids)-1 })
	}

	if errs := sb.errors(); len(errs) != 0 {
		t.Fatalf("handshake errors: %v", errs)
	}
	sb.mu.Lock()
	offers := append([][2]domain.ParticipantID(nil), sb.offers...)
	sb.mu.Unlock()
	if want := len(ids) * (len(ids) - 1) / 2; len(offers) != want {
		t.Fatalf("offers = %d, want %d", len(offers), want)
	}
	for _, o := range offers {
		if o[0] >= o[1] {
			t.Fatalf("offer from %s to %s: larger id offered", o[0], o[1])
		}
	}
	for _, id := range ids {
		for _, other := range ids {
			if id == other {
				continue
			}
			if st, _ := managers[id].State(other); st != LinkConnected {
				t.Fatalf("%s -> %s state = %q, want connected", id, other, st)
			}
		}
	}
}

func TestCandidatesBufferedUntilRemoteDescription(t *testing.T) {
	ctx := context.Background()
	net := meshtest.NewNetwork()
	rec := &recorder{}
	m := NewManager("z", net.Factory("z"), rec)

	if err := m.CreateLink("a", domain.Participant{ID: "a", Name: "A"}); err != nil {
		t.Fatalf("CreateLink returned error: %v", err)
	}
	if err := m.AddICECandidate("a", core.Candidate{Candidate: "early"}); err != nil {
		t.Fatalf("AddICECandidate returned error: %v", err)
	}
	if got := m.Pending("a"); got != 1 {
		t.Fatalf("Pending = %d, want 1", got)
	}
	local := net.Latest("z", "a")
	if local.Applied() != 0 {
		t.Fatalf("candidate applied before remote description")
	}

	remote, _ := net.Factory("a")("z")
	offer, err := remote.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer returned error: %v", err)
	}
	msg, err := core.NewSignal(core.KindOffer, "a", "z", offer)
	if err != nil {
		t.Fatalf("NewSignal returned error: %v", err)
	}
	if err := m.HandleSignal(ctx, msg); err != nil {
		t.Fatalf("HandleSignal returned error: %v", err)
	}

	if got := m.Pending("a"); got != 0 {
		t.Fatalf("Pending after answer = %d, want 0", got)
	}
	if local.Applied() != 1 {
		t.Fatalf("applied = %d, want 1", local.Applied())
	}
	kinds := rec.kinds()
	if len(kinds) != 2 || kinds[0] != core.KindAnswer || kinds[1] != core.KindICECandidate {
		t.Fatalf("sent = %v, want [answer ice-candidate]", kinds)
	}
}

func TestHandleSignalErrors(t *testing.T) {
	ctx := context.Background()
	m := NewManager("a", meshtest.NewNetwork().Factory("a"), &recorder{})

	offer, _ := core.NewSignal(core.KindOffer, "b", "a", core.Description{Type: "offer", SDP: "x"})
	if err := m.HandleSignal(ctx, offer); !errors.Is(err, ErrGlare) {
		t.Fatalf("offer from larger id: err = %v, want ErrGlare", err)
	}

	cand, _ := core.NewSignal(core.KindICECandidate, "b", "a", core.Candidate{Candidate: "c"})
	if err := m.HandleSignal(ctx, cand); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("candidate for unknown peer: err = %v, want ErrPeerNotFound", err)
	}

	answer, _ := core.NewSignal(core.KindAnswer, "b", "a", core.Description{Type: "answer", SDP: "x"})
	if err := m.HandleSignal(ctx, answer); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Fatalf("answer for unknown peer: err = %v, want ErrPeerNotFound", err)
	}

	if err := m.Connect(ctx, "a", domain.Participant{}); !errors.Is(err, ErrSelfLink) {
		t.Fatalf("Connect to self: err = %v, want ErrSelfLink", err)
	}
}

func connectedPair(t *testing.T, ctx context.Context) (*meshtest.Network, *Manager, *Manager) {
	t.Helper()
	net := meshtest.NewNetwork()
	sb := newSwitchboard()
	a := NewManager("a", net.Factory("a"), sb)
	b := NewManager("b", net.Factory("b"), sb)
	sb.attach(ctx, a)
	sb.attach(ctx, b)
	if err := b.Connect(ctx, "a", domain.Participant{ID: "a"}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	if err := a.Connect(ctx, "b", domain.Participant{ID: "b"}); err != nil {
		t.Fatalf("Connect returned error: %v", err)
	}
	waitFor(t, "pair open", func() bool { return a.OpenCount() == 1 && b.OpenCount() == 1 })
	return net, a, b
}

func TestFailedLinkEmitsEventAndReconnects(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	net, a, _ := connectedPair(t, ctx)

	var mu sync.Mutex
	var seen []LinkEvent
	unsub := a.Subscribe(func(ev LinkEvent) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
	})
	defer unsub()

	net.Latest("a", "b").Fail()

	mu.Lock()
	failed := 0
	for _, ev := range seen {
		if ev.State == LinkFailed && ev.Peer == "b" {
			failed++
		}
	}
	mu.Unlock()
	if failed != 1 {
		t.Fatalf("failed events = %d, want 1", failed)
	}

	first := net.Latest("a", "b")
	if err := a.Connect(ctx, "b", domain.Participant{}); err != nil {
		t.Fatalf("Connect after failure returned error: %v", err)
	}
	if net.Latest("a", "b") == first {
		t.Fatalf("terminal link was not replaced")
	}
	waitFor(t, "relink", func() bool {
		st, _ := a.State("b")
		return st == LinkConnected
	})
}

func TestSendBroadcastAndClose(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, a, b := connectedPair(t, ctx)

	got := make(chan Inbound, 4)
	b.OnMessage(func(in Inbound) { got <- in })

	if !a.Send("b", []byte("hi")) {
		t.Fatalf("Send returned false on open channel")
	}
	in := <-got
	if in.From != "a" || string(in.Data) != "hi" {
		t.Fatalf("inbound = %+v", in)
	}
	if n := a.Broadcast([]byte("all")); n != 1 {
		t.Fatalf("Broadcast = %d, want 1", n)
	}
	<-got

	if a.Send("nobody", []byte("x")) {
		t.Fatalf("Send to unknown peer returned true")
	}

	a.Close("b")
	a.Close("b")
	if _, ok := a.State("b"); ok {
		t.Fatalf("link still registered after Close")
	}
	if a.Send("b", []byte("x")) {
		t.Fatalf("Send after Close returned true")
	}
	waitFor(t, "remote closed", func() bool { return b.OpenCount() == 0 })
	if st, _ := b.State("a"); st != LinkDisconnected {
		t.Fatalf("remote state = %q, want disconnected", st)
	}
}

func TestCloseAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_, a, _ := connectedPair(t, ctx)

	a.CloseAll()
	if peers := a.Peers(); len(peers) != 0 {
		t.Fatalf("Peers after CloseAll = %v", peers)
	}
	if a.OpenCount() != 0 {
		t.Fatalf("OpenCount after CloseAll = %d", a.OpenCount())
	}
}
