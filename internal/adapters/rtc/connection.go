// Package rtc implements core.Transport on a pion WebRTC peer connection
// carrying one ordered, reliable data channel.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Tabletop/internal/core"
	"github.com/dkeye/Tabletop/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ChannelLabel is the label of the game data channel.
const ChannelLabel = "game"

var ErrChannelNotOpen = errors.New("data channel not open")

func DefaultWebRTCConfig() webrtc.Configuration {
	return ConfigWithICEServers([]string{"stun:stun.l.google.com:19302"})
}

func ConfigWithICEServers(urls []string) webrtc.Configuration {
	cfg := webrtc.Configuration{}
	if len(urls) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: urls}}
	}
	return cfg
}

type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	peer   domain.ParticipantID
	logger zerolog.Logger

	mu        sync.RWMutex
	dc        *webrtc.DataChannel
	onICE     func(core.Candidate)
	onState   func(core.TransportState)
	onOpen    func()
	onClose   func()
	onMessage func([]byte)

	closeOnce sync.Once
}

var _ core.Transport = (*WebRTCConnection)(nil)

func NewWebRTCConnection(cfg webrtc.Configuration, peer domain.ParticipantID) (*WebRTCConnection, error) {
	return NewWebRTCConnectionWithAPI(nil, cfg, peer)
}

// NewWebRTCConnectionWithAPI uses api to build the peer connection; nil means the pion defaults.
func NewWebRTCConnectionWithAPI(api *webrtc.API, cfg webrtc.Configuration, peer domain.ParticipantID) (*WebRTCConnection, error) {
	var (
		pc  *webrtc.PeerConnection
		err error
	)
	if api != nil {
		pc, err = api.NewPeerConnection(cfg)
	} else {
		pc, err = webrtc.NewPeerConnection(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	c := &WebRTCConnection{
		pc:     pc,
		peer:   peer,
		logger: log.With().Str("module", "webrtc").Str("peer", string(peer)).Logger(),
	}
	c.bindPeerConnection()
	return c, nil
}

// Factory returns a core.TransportFactory building connections with cfg.
func Factory(api *webrtc.API, cfg webrtc.Configuration) core.TransportFactory {
	return func(peer domain.ParticipantID) (core.Transport, error) {
		return NewWebRTCConnectionWithAPI(api, cfg, peer)
	}
}

func (c *WebRTCConnection) bindPeerConnection() {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn == nil {
			return
		}
		init := cand.ToJSON()
		fn(core.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(mapState(s))
		}
	})

	c.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != ChannelLabel {
			c.logger.Warn().Str("label", dc.Label()).Msg("unexpected data channel")
			return
		}
		c.bindChannel(dc)
	})
}

func mapState(s webrtc.PeerConnectionState) core.TransportState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return core.TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return core.TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return core.TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return core.TransportFailed
	case webrtc.PeerConnectionStateClosed:
		return core.TransportClosed
	default:
		return core.TransportNew
	}
}

func (c *WebRTCConnection) bindChannel(dc *webrtc.DataChannel) {
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	dc.OnOpen(func() {
		c.logger.Info().Str("label", dc.Label()).Msg("data channel open")
		c.mu.RLock()
		fn := c.onOpen
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnClose(func() {
		c.logger.Info().Str("label", dc.Label()).Msg("data channel closed")
		c.mu.RLock()
		fn := c.onClose
		c.mu.RUnlock()
		if fn != nil {
			fn()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.RLock()
		fn := c.onMessage
		c.mu.RUnlock()
		if fn != nil {
			fn(msg.Data)
		}
	})
}

// CreateOffer opens the game channel and starts trickle ICE gathering.
func (c *WebRTCConnection) CreateOffer(ctx context.Context) (core.Description, error) {
	if err := ctx.Err(); err != nil {
		return core.Description{}, err
	}
	ordered := true
	dc, err := c.pc.CreateDataChannel(ChannelLabel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		return core.Description{}, fmt.Errorf("create data channel: %w", err)
	}
	c.bindChannel(dc)

	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return core.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return core.Description{}, fmt.Errorf("set local offer: %w", err)
	}
	return core.Description{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (c *WebRTCConnection) CreateAnswer(ctx context.Context, offer core.Description) (core.Description, error) {
	if err := ctx.Err(); err != nil {
		return core.Description{}, err
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		return core.Description{}, fmt.Errorf("set remote offer: %w", err)
	}
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return core.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return core.Description{}, fmt.Errorf("set local answer: %w", err)
	}
	return core.Description{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (c *WebRTCConnection) SetRemoteDescription(d core.Description) error {
	typ := webrtc.NewSDPType(d.Type)
	if typ == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", d.Type)
	}
	if err := c.pc.SetRemoteDescription(webrtc.SessionDescription{Type: typ, SDP: d.SDP}); err != nil {
		return fmt.Errorf("set remote %s: %w", d.Type, err)
	}
	return nil
}

func (c *WebRTCConnection) AddICECandidate(cand core.Candidate) error {
	return c.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

func (c *WebRTCConnection) Send(data []byte) error {
	c.mu.RLock()
	dc := c.dc
	c.mu.RUnlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrChannelNotOpen
	}
	return dc.Send(data)
}

func (c *WebRTCConnection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if err = c.pc.Close(); err != nil {
			c.logger.Error().Err(err).Msg("close error")
		} else {
			c.logger.Info().Msg("closed")
		}
	})
	return err
}

func (c *WebRTCConnection) OnICECandidate(fn func(core.Candidate)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnStateChange(fn func(core.TransportState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnChannelOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnChannelClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

func (c *WebRTCConnection) OnMessage(fn func([]byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}
