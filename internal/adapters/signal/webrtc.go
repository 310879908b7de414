package signal

import (
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/rs/zerolog/log"
)

// handleHandshake forwards offer, answer and ice-candidate messages to their
// target. The sender id is always the authenticated socket id.
func (ctl *SignalWSController) handleHandshake(sid core.SessionID, conn *WsSignalConn, msg core.SignalMessage) {
	to, err := ctl.Hub.Route(sid, msg.TargetID)
	if err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("target", string(msg.TargetID)).Str("type", string(msg.Type)).Msg("route rejected")
		ctl.sendError(conn, msg.Type, err)
		return
	}
	msg.SenderID = sid
	if roomID, _, ok := ctl.Hub.Registry.RoomOf(sid); ok {
		msg.RoomID = roomID
	}
	frame, ok := encode(msg)
	if !ok {
		return
	}
	ctl.Hub.Deliver(to, frame)
}
