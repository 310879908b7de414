package core

import (
	"sync"

	"github.com/dkeye/Tabletop/internal/domain"
)

// memberSession implements MemberSession by pairing meta + transport.
type memberSession struct {
	mu     sync.RWMutex
	meta   domain.Participant
	signal SignalConnection
}

func NewMemberSession(meta domain.Participant, signal SignalConnection) MemberSession {
	return &memberSession{meta: meta, signal: signal}
}

func (m *memberSession) Meta() *domain.Participant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.meta
	return &p
}

func (m *memberSession) Signal() SignalConnection { return m.signal }

func (m *memberSession) UpdateMeta(p domain.Participant) MemberSession {
	m.mu.Lock()
	m.meta = p
	m.mu.Unlock()
	return m
}
