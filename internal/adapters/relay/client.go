// Package relay is the peer side of the signaling relay: a WebSocket client
// that queues outgoing handshake messages, keeps their order across
// reconnects and fans incoming ones out to subscribers.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dkeye/Tabletop/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Status = core.RelayStatus

const (
	StatusConnected    = core.RelayConnected
	StatusReconnecting = core.RelayReconnecting
	StatusDisconnected = core.RelayDisconnected
)

var (
	ErrConnectFailed = errors.New("relay connect failed")
	ErrClosed        = errors.New("relay client closed")
)

type Options struct {
	Dialer        *websocket.Dialer
	RetryInterval time.Duration
	MaxTries      uint
	WriteWait     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = time.Second
	}
	if o.MaxTries == 0 {
		o.MaxTries = 5
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	return o
}

type Client struct {
	opts   Options
	logger zerolog.Logger

	mu       sync.Mutex
	endpoint string
	queue    []core.SignalMessage
	status   Status
	running  bool
	closed   bool
	conn     *websocket.Conn
	cancel   context.CancelFunc
	done     chan struct{}

	wake     chan struct{}
	messages *core.Bus[core.SignalMessage]
	statuses *core.Bus[Status]
}

func NewClient(opts Options) *Client {
	return &Client{
		opts:     opts.withDefaults(),
		logger:   log.With().Str("module", "adapters.relay").Logger(),
		wake:     make(chan struct{}, 1),
		messages: core.NewBus[core.SignalMessage](),
		statuses: core.NewBus[Status](),
	}
}

// Subscribe registers fn for every message received from the relay.
func (c *Client) Subscribe(fn func(core.SignalMessage)) func() { return c.messages.Subscribe(fn) }

// OnStatus registers fn for connection status changes.
func (c *Client) OnStatus(fn func(Status)) func() { return c.statuses.Subscribe(fn) }

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials endpoint and starts the session loop. Calling it while a
// session is running is a no-op.
func (c *Client) Connect(ctx context.Context, endpoint string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, err := c.dial(ctx, endpoint)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.mu.Lock()
	if c.closed || c.running {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		if c.closed {
			return ErrClosed
		}
		return nil
	}
	c.endpoint = endpoint
	c.running = true
	c.conn = conn
	c.cancel = cancel
	c.done = make(chan struct{})
	done := c.done
	c.mu.Unlock()

	c.logger.Info().Str("endpoint", endpoint).Msg("connected")
	c.setStatus(StatusConnected)
	go c.run(loopCtx, conn, done)
	return nil
}

// Send queues msg. Queued messages are written in order once connected; a
// message whose write fails goes back to the head of the queue.
func (c *Client) Send(msg core.SignalMessage) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.queue = append(c.queue, msg)
	c.mu.Unlock()
	c.notify()
	return nil
}

// Queued returns the number of messages waiting to be written.
func (c *Client) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// Close stops the session without reconnecting. It is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.queue = nil
	cancel, conn, done := c.cancel, c.conn, c.done
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.WriteWait))
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (c *Client) notify() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == s {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.statuses.Publish(s)
}

func (c *Client) dial(ctx context.Context, endpoint string) (*websocket.Conn, error) {
	conn, resp, err := c.opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: dial %s: %s: %w", ErrConnectFailed, endpoint, resp.Status, err)
		}
		return nil, fmt.Errorf("%w: dial %s: %w", ErrConnectFailed, endpoint, err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		err := c.serve(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		c.logger.Warn().Err(err).Msg("connection lost")
		c.setStatus(StatusReconnecting)

		next, err := c.redial(ctx)
		if err != nil {
			c.mu.Lock()
			c.running = false
			c.conn = nil
			c.mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			c.logger.Error().Err(err).Msg("giving up")
			c.setStatus(StatusDisconnected)
			return
		}
		if ctx.Err() != nil {
			_ = next.Close()
			return
		}
		c.mu.Lock()
		c.conn = next
		c.mu.Unlock()
		c.setStatus(StatusConnected)
		conn = next
	}
}

func (c *Client) redial(ctx context.Context) (*websocket.Conn, error) {
	c.mu.Lock()
	endpoint := c.endpoint
	c.mu.Unlock()

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.opts.RetryInterval
	exp.Multiplier = 2
	exp.RandomizationFactor = 0

	return backoff.Retry(ctx, func() (*websocket.Conn, error) {
		return c.dial(ctx, endpoint)
	},
		backoff.WithBackOff(exp),
		backoff.WithMaxTries(c.opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Debug().Err(err).Dur("retry_in", next).Msg("reconnect attempt failed")
		}),
	)
}

// serve runs one connection until it breaks or ctx ends.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	readErr := make(chan error, 1)
	go func() { readErr <- c.readLoop(conn) }()

	for {
		if err := c.flush(conn); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-c.wake:
		}
	}
}

func (c *Client) flush(conn *websocket.Conn) error {
	for {
		c.mu.Lock()
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return nil
		}
		msg := c.queue[0]
		c.queue = c.queue[1:]
		c.mu.Unlock()

		b, err := json.Marshal(msg)
		if err != nil {
			c.logger.Error().Err(err).Str("type", string(msg.Type)).Msg("drop unencodable message")
			continue
		}
		_ = conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			c.mu.Lock()
			if !c.closed {
				c.queue = append([]core.SignalMessage{msg}, c.queue...)
			}
			c.mu.Unlock()
			return err
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(data) == "pong" {
			continue
		}
		var msg core.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("skip malformed frame")
			continue
		}
		c.messages.Publish(msg)
	}
}
