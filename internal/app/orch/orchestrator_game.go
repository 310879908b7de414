package orch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Tabletop/internal/app/mesh"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/dkeye/Tabletop/internal/game"
)

// StartGame runs rules on this peer with the roster in join order. Only the
// host may start a game; every engine event is broadcast as game_state.
func (c *Coordinator) StartGame(rules game.Rules, settings game.Settings) (game.State, error) {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return game.State{}, domain.ErrNotInRoom
	}
	if c.room.HostID() != c.self.ID {
		c.mu.Unlock()
		return game.State{}, domain.ErrNotHost
	}
	if c.engine != nil && c.engine.Status() != game.StatusFinished {
		c.mu.Unlock()
		return game.State{}, ErrGameRunning
	}
	members := c.room.Members()
	c.mu.Unlock()

	players := make([]domain.ParticipantID, len(members))
	for i, m := range members {
		players[i] = m.ID
	}
	eng, err := game.NewEngine(rules, players, settings)
	if err != nil {
		return game.State{}, err
	}
	unbind := eng.Subscribe(c.onGameEvent)

	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		unbind()
		return game.State{}, domain.ErrNotInRoom
	}
	prev, prevUnbind := c.engine, c.unbind
	c.engine, c.unbind = eng, unbind
	c.lastGame = nil
	c.room.SetRoomStatus(domain.RoomPlaying)
	c.mu.Unlock()

	if prevUnbind != nil {
		prevUnbind()
	}
	if prev != nil {
		prev.Close()
	}
	if err := eng.Start(); err != nil {
		return game.State{}, err
	}
	c.logger.Info().Str("game", rules.GameType()).Int("players", len(players)).Msg("game started")
	return eng.State(), nil
}

// stopGame ends a hosted game before this peer detaches from it, so guests
// hear gameEnded while the links are still open.
func (c *Coordinator) stopGame(engine *game.Engine, unbind func(), reason string) {
	if engine != nil {
		if st := engine.Status(); st == game.StatusActive || st == game.StatusPaused {
			if err := engine.Abort(reason); err != nil {
				c.logger.Debug().Err(err).Msg("abort game")
			}
		}
	}
	if unbind != nil {
		unbind()
	}
	if engine != nil {
		engine.Close()
	}
}

// Game returns the engine this peer hosts, if any.
func (c *Coordinator) Game() (*game.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine, c.engine != nil
}

// SubmitAction plays a for the local participant. The host executes it
// directly; a guest forwards it to the host as player_action.
func (c *Coordinator) SubmitAction(a game.Action) error {
	a.PlayerID = c.self.ID
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return domain.ErrNotInRoom
	}
	host := c.room.HostID()
	engine := c.engine
	c.mu.Unlock()

	if host == c.self.ID {
		if engine == nil {
			return ErrNoGame
		}
		_, err := engine.Execute(a)
		return err
	}
	msg, err := core.NewGameMessage(core.PlayerAction, c.self.ID, a)
	if err != nil {
		return err
	}
	return c.SendToParticipant(host, msg)
}

// Undo takes back the local participant's last action. The host rewinds its
// engine; a guest sends undo_request and hears a refusal as actionRejected.
func (c *Coordinator) Undo() error {
	c.mu.Lock()
	if c.room == nil {
		c.mu.Unlock()
		return domain.ErrNotInRoom
	}
	host := c.room.HostID()
	engine := c.engine
	c.mu.Unlock()

	if host == c.self.ID {
		if engine == nil {
			return ErrNoGame
		}
		_, err := engine.UndoBy(c.self.ID)
		return err
	}
	msg, err := core.NewGameMessage(core.UndoRequest, c.self.ID, nil)
	if err != nil {
		return err
	}
	return c.SendToParticipant(host, msg)
}

// BroadcastGameMessage sends msg to every open link and returns how many
// peers accepted it.
func (c *Coordinator) BroadcastGameMessage(msg core.GameMessage) (int, error) {
	b, err := c.encode(msg)
	if err != nil {
		return 0, err
	}
	return c.mesh.Broadcast(b), nil
}

func (c *Coordinator) SendToParticipant(id domain.ParticipantID, msg core.GameMessage) error {
	c.mu.Lock()
	member := c.room != nil && c.room.Has(id)
	c.mu.Unlock()
	if !member || id == c.self.ID {
		return fmt.Errorf("%w: %s", domain.ErrPeerNotFound, id)
	}
	b, err := c.encode(msg)
	if err != nil {
		return err
	}
	if !c.mesh.Send(id, b) {
		return fmt.Errorf("%w: %s", ErrNotDelivered, id)
	}
	return nil
}

func (c *Coordinator) encode(msg core.GameMessage) ([]byte, error) {
	if !msg.Valid() {
		return nil, fmt.Errorf("%w: message type %q", domain.ErrBadPayload, msg.Type)
	}
	msg.SenderID = c.self.ID
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode game message: %w", err)
	}
	return b, nil
}

func (c *Coordinator) onGameEvent(ev game.Event) {
	if ev.Type == game.EventGameEnded {
		c.mu.Lock()
		if c.room != nil {
			c.room.SetRoomStatus(domain.RoomWaiting)
		}
		c.mu.Unlock()
	}
	msg, err := core.NewGameMessage(core.GameState, c.self.ID, ev)
	if err != nil {
		c.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("encode game state")
		return
	}
	if ev.Type == game.EventActionRejected {
		c.notifyIssuer(ev.PlayerID, msg)
		return
	}
	if _, err := c.BroadcastGameMessage(msg); err != nil {
		c.logger.Error().Err(err).Msg("broadcast game state")
	}
	c.emit(Event{Type: EventGameMessage, Message: &msg})
}

// notifyIssuer delivers a game_state meant for one participant only.
func (c *Coordinator) notifyIssuer(id domain.ParticipantID, msg core.GameMessage) {
	if id == c.self.ID {
		c.emit(Event{Type: EventGameMessage, Message: &msg})
		return
	}
	if err := c.SendToParticipant(id, msg); err != nil {
		c.logger.Debug().Err(err).Str("to", string(id)).Msg("send rejection")
	}
}

// reject tells id that its request could not reach a running game.
func (c *Coordinator) reject(id domain.ParticipantID, a *game.Action, reason error) {
	ev := game.Event{Type: game.EventActionRejected, Action: a, PlayerID: id, Reason: reason.Error()}
	msg, err := core.NewGameMessage(core.GameState, c.self.ID, ev)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode rejection")
		return
	}
	c.notifyIssuer(id, msg)
}

func (c *Coordinator) onInbound(in mesh.Inbound) {
	var msg core.GameMessage
	if err := json.Unmarshal(in.Data, &msg); err != nil {
		c.logger.Debug().Err(err).Str("from", string(in.From)).Msg("drop malformed message")
		return
	}
	if !msg.Valid() {
		c.logger.Debug().Str("type", string(msg.Type)).Msg("drop unknown message type")
		return
	}
	msg.SenderID = in.From
	if msg.Type == core.GameState {
		c.trackGame(in.From, msg.Data)
	}
	c.emit(Event{Type: EventGameMessage, Message: &msg})

	switch msg.Type {
	case core.PlayerAction:
		c.applyRemoteAction(in.From, msg)
	case core.UndoRequest:
		c.applyRemoteUndo(in.From)
	}
}

// hostedEngine returns the engine when this peer is the host. The engine is
// nil on a host with no game.
func (c *Coordinator) hostedEngine() (*game.Engine, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.engine, c.room != nil && c.room.HostID() == c.self.ID
}

// applyRemoteAction runs a guest's action on the host engine. Rejections go
// back to the issuer alone.
func (c *Coordinator) applyRemoteAction(from domain.ParticipantID, msg core.GameMessage) {
	engine, host := c.hostedEngine()
	if !host {
		return
	}
	if engine == nil {
		c.reject(from, nil, ErrNoGame)
		return
	}
	a, err := game.DecodeAction(engine.Rules(), msg.Data)
	if err != nil {
		c.logger.Debug().Err(err).Str("from", string(from)).Msg("undecodable action")
		c.reject(from, nil, err)
		return
	}
	a.PlayerID = from
	if _, err := engine.Execute(a); err != nil {
		c.logger.Debug().Err(err).Str("from", string(from)).Msg("action rejected")
	}
}

func (c *Coordinator) applyRemoteUndo(from domain.ParticipantID) {
	engine, host := c.hostedEngine()
	if !host {
		return
	}
	if engine == nil {
		c.reject(from, nil, ErrNoGame)
		return
	}
	if _, err := engine.UndoBy(from); err != nil {
		c.logger.Debug().Err(err).Str("from", string(from)).Msg("undo refused")
		c.reject(from, nil, err)
	}
}

// trackGame keeps the last state the host broadcast so that a guest promoted
// to host can close a game whose engine left with its old host.
func (c *Coordinator) trackGame(from domain.ParticipantID, raw json.RawMessage) {
	var ev struct {
		Type  game.EventType  `json:"type"`
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == game.EventActionRejected {
		return
	}
	var st struct {
		Status game.Status `json:"status"`
	}
	if err := json.Unmarshal(ev.State, &st); err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil || c.engine != nil {
		return
	}
	if st.Status == game.StatusFinished {
		c.lastGame = nil
		c.room.SetRoomStatus(domain.RoomWaiting)
		return
	}
	if c.room.HostID() == from {
		c.lastGame = ev.State
		c.room.SetRoomStatus(domain.RoomPlaying)
	}
}

// endOrphanedGame broadcasts gameEnded for a game whose host vanished while
// it ran. last is the final state that host broadcast.
func (c *Coordinator) endOrphanedGame(last json.RawMessage, reason string) {
	var st map[string]json.RawMessage
	if err := json.Unmarshal(last, &st); err != nil {
		c.logger.Warn().Err(err).Msg("decode orphaned game")
		return
	}
	result := game.Result{Reason: "aborted: " + reason}
	st["status"], _ = json.Marshal(game.StatusFinished)
	st["result"], _ = json.Marshal(result)
	st["endedAt"], _ = json.Marshal(time.Now())
	state, err := json.Marshal(st)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode orphaned game")
		return
	}
	ended := struct {
		Type   game.EventType  `json:"type"`
		State  json.RawMessage `json:"state"`
		Reason string          `json:"reason"`
	}{game.EventGameEnded, state, result.Reason}
	msg, err := core.NewGameMessage(core.GameState, c.self.ID, ended)
	if err != nil {
		c.logger.Error().Err(err).Msg("encode game end")
		return
	}

	c.mu.Lock()
	if c.room != nil {
		c.room.SetRoomStatus(domain.RoomWaiting)
	}
	c.mu.Unlock()
	c.logger.Info().Str("reason", reason).Msg("game ended with its host")
	if _, err := c.BroadcastGameMessage(msg); err != nil {
		c.logger.Error().Err(err).Msg("broadcast game end")
	}
	c.emit(Event{Type: EventGameMessage, Message: &msg})
}
