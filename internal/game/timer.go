package game

import "time"

func (e *Engine) armTimerLocked() {
	e.stopTimerLocked()
	limit := e.state.Settings.TurnTimeLimit
	if limit <= 0 || e.state.Status != StatusActive {
		return
	}
	gen := e.timerGen
	e.timer = time.AfterFunc(limit, func() { e.onTurnTimeout(gen) })
}

func (e *Engine) stopTimerLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

// onTurnTimeout notifies about an expired turn. Without AutoSkip nobody forfeits.
func (e *Engine) onTurnTimeout(gen uint64) {
	e.mu.Lock()
	if gen != e.timerGen || e.state.Status != StatusActive {
		e.mu.Unlock()
		return
	}
	e.timer = nil
	expired := e.state.CurrentPlayer()
	evs := []Event{{Type: EventTurnTimedOut, State: e.state.Clone(), PlayerID: expired}}

	autoSkip := e.state.Settings.AutoSkip
	if autoSkip {
		s := e.state.Clone()
		idx := e.rules.NextPlayer(s)
		if idx < 0 || idx >= len(s.Players) {
			idx = (s.TurnIndex + 1) % len(s.Players)
		}
		if wrapped(s.TurnIndex, idx, len(s.Players)) {
			s.Round++
		}
		s.TurnIndex = idx
		e.state = s
		e.snapshots[len(e.snapshots)-1] = s
		e.armTimerLocked()
		evs = append(evs, Event{Type: EventTurnChanged, State: s.Clone(), PlayerID: s.CurrentPlayer()})
	}
	e.mu.Unlock()

	e.logger.Info().Str("player", string(expired)).Bool("auto_skip", autoSkip).Msg("turn timed out")
	e.publish(evs)
}
