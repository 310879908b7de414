package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(
	ctx context.Context,
	cancel context.CancelFunc,
	sid core.SessionID,
	sess core.MemberSession,
	c *WsSignalConn,
) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.disconnect(sid, sess)
	}()

	c.conn.SetReadLimit(ctl.opts.ReadLimit)
	extend := func() error { return c.conn.SetReadDeadline(time.Now().Add(ctl.opts.pongWait())) }
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				}
				return
			}
			_ = extend()
			ctl.handleSignal(sid, c, data)
		}
	}
}

func (ctl *SignalWSController) handleSignal(sid core.SessionID, c *WsSignalConn, data []byte) {
	if string(data) == "ping" {
		_ = c.TrySend(core.Frame("pong"))
		return
	}
	var msg core.SignalMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad json")
		ctl.sendError(c, "", domain.ErrBadPayload)
		return
	}

	switch msg.Type {
	case core.KindCreateRoom:
		ctl.handleCreateRoom(sid, c, msg)
	case core.KindJoinRoom:
		ctl.handleJoin(sid, c, msg)
	case core.KindLeaveRoom:
		ctl.handleLeave(sid)
	case core.KindOffer, core.KindAnswer, core.KindICECandidate:
		ctl.handleHandshake(sid, c, msg)
	case core.KindPing:
		ctl.sendSignal(c, core.SignalMessage{Type: core.KindPong, TargetID: sid})
	case core.KindWhoAmI:
		ctl.handleWhoAmI(sid, c)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unknown signal")
		ctl.sendError(c, msg.Type, domain.ErrBadPayload)
	}
}

func encode(msg core.SignalMessage) (core.Frame, bool) {
	b, err := json.Marshal(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", string(msg.Type)).Msg("marshal signal")
		return nil, false
	}
	return b, true
}

func (ctl *SignalWSController) sendSignal(c core.SignalConnection, msg core.SignalMessage) {
	if b, ok := encode(msg); ok {
		_ = c.TrySend(b)
	}
}

func (ctl *SignalWSController) sendError(c core.SignalConnection, req core.SignalKind, err error) {
	msg, _ := core.NewSignal(core.KindError, "", "", core.ErrorData{
		Code:    domain.CodeOf(err),
		Message: err.Error(),
		Request: req,
	})
	ctl.sendSignal(c, msg)
}
