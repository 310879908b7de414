// Package signal is the relay server's WebSocket endpoint. It routes
// handshake messages between members of the same room and never inspects
// their payloads.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/Tabletop/internal/app"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

const writeWait = 5 * time.Second

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

func (o Options) withDefaults() Options {
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32768
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = 54 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	return o
}

// pongWait is how long a silent peer is tolerated; pings go out at 9/10 of it.
func (o Options) pongWait() time.Duration { return o.PingPeriod * 10 / 9 }

type SignalWSController struct {
	Hub     *app.Hub
	Limiter *JoinLimiter
	opts    Options
}

func NewSignalWSController(hub *app.Hub, limiter *JoinLimiter, opts Options) *SignalWSController {
	return &SignalWSController{
		Hub:     hub,
		Limiter: limiter,
		opts:    opts.withDefaults(),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and serves sid until the socket closes
// or ctx is canceled. A participant may hold one connection at a time.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context, sid core.SessionID) {
	if sid == "" || len(sid) > domain.MaxParticipantIDLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid participant id"})
		return
	}
	if ctl.Hub.Registry.Connected(sid) {
		c.JSON(http.StatusConflict, gin.H{"error": "participant already connected"})
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}
	sess := core.NewMemberSession(domain.Participant{ID: sid, Status: domain.StatusConnected}, conn)
	ctx, cancel := context.WithCancel(ctx)
	if !ctl.Hub.Registry.BindSignal(sid, sess, cancel) {
		cancel()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "already connected"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, sess, conn)
}

// disconnect runs once per connection after its read loop ends.
func (ctl *SignalWSController) disconnect(sid core.SessionID, sess core.MemberSession) {
	if cur, ok := ctl.Hub.Registry.GetSession(sid); !ok || cur != sess {
		return
	}
	if dep, ok := ctl.Hub.Leave(sid); ok {
		ctl.announceLeave(sid, dep)
	}
	ctl.Hub.Registry.Unbind(sid, sess)
}
