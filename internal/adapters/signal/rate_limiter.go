package signal

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/rs/zerolog/log"
)

// JoinLimiter caps create/join attempts per participant over a sliding
// window. Only accepted attempts count against the cap.
type JoinLimiter struct {
	mu       sync.Mutex
	attempts map[domain.ParticipantID][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

func NewJoinLimiter(limit int, window time.Duration) *JoinLimiter {
	return &JoinLimiter{
		attempts: make(map[domain.ParticipantID][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
}

func (l *JoinLimiter) Allow(id domain.ParticipantID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := expire(l.attempts[id], now.Add(-l.window))
	if len(live) >= l.limit {
		l.attempts[id] = live
		return false
	}
	l.attempts[id] = append(live, now)
	return true
}

// Sweep forgets participants whose attempts have all left the window and
// returns how many were dropped.
func (l *JoinLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	dropped := 0
	for id, stamps := range l.attempts {
		if len(expire(stamps, cutoff)) == 0 {
			delete(l.attempts, id)
			dropped++
		}
	}
	return dropped
}

// Run sweeps once per window until ctx is done.
func (l *JoinLimiter) Run(ctx context.Context) {
	if l.window <= 0 {
		return
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				log.Debug().Str("module", "signal").Int("dropped", n).Msg("join limiter swept")
			}
		}
	}
}

func (l *JoinLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}

// expire drops stamps at or before cutoff. Stamps arrive in order, so the
// live ones are a suffix.
func expire(stamps []time.Time, cutoff time.Time) []time.Time {
	i := slices.IndexFunc(stamps, func(t time.Time) bool { return t.After(cutoff) })
	if i < 0 {
		return nil
	}
	return stamps[i:]
}
