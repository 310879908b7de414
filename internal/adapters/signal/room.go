package signal

import (
	"github.com/dkeye/Tabletop/internal/app"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) allow(sid core.SessionID) bool {
	return ctl.Limiter == nil || ctl.Limiter.Allow(sid)
}

func (ctl *SignalWSController) handleCreateRoom(sid core.SessionID, conn *WsSignalConn, msg core.SignalMessage) {
	if !ctl.allow(sid) {
		ctl.sendError(conn, msg.Type, domain.ErrRateLimited)
		return
	}
	var p core.CreateRoomData
	if err := msg.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad create payload")
		ctl.sendError(conn, msg.Type, domain.ErrBadPayload)
		return
	}
	snap, err := ctl.Hub.CreateRoom(sid, p.Config, p.Participant)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("create rejected")
		ctl.sendError(conn, msg.Type, err)
		return
	}
	ctl.sendRoomState(conn, sid, snap)
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, msg core.SignalMessage) {
	if !ctl.allow(sid) {
		ctl.sendError(conn, msg.Type, domain.ErrRateLimited)
		return
	}
	var p core.JoinRoomData
	if err := msg.Decode(&p); err != nil {
		log.Warn().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendError(conn, msg.Type, domain.ErrBadPayload)
		return
	}
	snap, others, err := ctl.Hub.JoinRoom(sid, msg.RoomID, p.Password, p.Participant)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("room", string(msg.RoomID)).Msg("join rejected")
		ctl.sendError(conn, msg.Type, err)
		return
	}
	ctl.sendRoomState(conn, sid, snap)

	var joined domain.Participant
	for _, m := range snap.Players {
		if m.ID == sid {
			joined = m
		}
	}
	announce, err := core.NewSignal(core.KindJoinRoom, sid, "", core.JoinRoomData{Participant: joined})
	if err != nil {
		return
	}
	announce.RoomID = snap.ID
	frame, ok := encode(announce)
	if !ok {
		return
	}
	for _, m := range others {
		ctl.Hub.Deliver(m, frame)
	}
}

// handleLeave leaves the current room; the socket stays open.
func (ctl *SignalWSController) handleLeave(sid core.SessionID) {
	dep, ok := ctl.Hub.Leave(sid)
	if !ok {
		return
	}
	ctl.announceLeave(sid, dep)
}

func (ctl *SignalWSController) announceLeave(sid core.SessionID, dep app.Departure) {
	msg, err := core.NewSignal(core.KindLeaveRoom, sid, "", core.LeaveRoomData{
		NewHostID: dep.NewHostID,
		Closed:    dep.Closed,
	})
	if err != nil {
		return
	}
	msg.RoomID = dep.RoomID
	frame, ok := encode(msg)
	if !ok {
		return
	}
	for _, m := range dep.Notify {
		ctl.Hub.Deliver(m, frame)
	}
}

func (ctl *SignalWSController) sendRoomState(conn *WsSignalConn, sid core.SessionID, snap domain.RoomSnapshot) {
	msg, err := core.NewSignal(core.KindRoomState, "", sid, snap)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode room state")
		return
	}
	msg.RoomID = snap.ID
	ctl.sendSignal(conn, msg)
}

func (ctl *SignalWSController) handleWhoAmI(sid core.SessionID, conn *WsSignalConn) {
	msg := core.SignalMessage{Type: core.KindWhoAmI, TargetID: sid}
	if roomID, _, ok := ctl.Hub.Registry.RoomOf(sid); ok {
		msg.RoomID = roomID
	}
	ctl.sendSignal(conn, msg)
}
