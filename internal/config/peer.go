package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"

	"github.com/dkeye/Tabletop/internal/game"
)

// PeerConfig drives the headless peer binary.
type PeerConfig struct {
	RelayURL      string        `env:"TABLETOP_RELAY_URL" envDefault:"ws://localhost:8080/api/ws/signal"`
	ParticipantID string        `env:"TABLETOP_PARTICIPANT_ID"`
	Name          string        `env:"TABLETOP_NAME" envDefault:"player"`
	Avatar        string        `env:"TABLETOP_AVATAR"`
	Action        string        `env:"TABLETOP_ACTION" envDefault:"create"`
	RoomID        string        `env:"TABLETOP_ROOM_ID"`
	RoomName      string        `env:"TABLETOP_ROOM_NAME" envDefault:"table"`
	MaxPlayers    int           `env:"TABLETOP_MAX_PLAYERS" envDefault:"2"`
	Private       bool          `env:"TABLETOP_PRIVATE"`
	Password      string        `env:"TABLETOP_PASSWORD"`
	GameType      string        `env:"TABLETOP_GAME" envDefault:"gomoku"`
	TurnTimeLimit time.Duration `env:"TABLETOP_TURN_TIME_LIMIT" envDefault:"30s"`
	AllowUndo     bool          `env:"TABLETOP_ALLOW_UNDO"`
	JoinTimeout   time.Duration `env:"TABLETOP_JOIN_TIMEOUT" envDefault:"10s"`
	ICEServers    []string      `env:"TABLETOP_ICE_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`
	LogLevel      string        `env:"TABLETOP_LOG_LEVEL" envDefault:"info"`
}

// LoadPeer parses the environment. A missing participant id gets a fresh uuid.
func LoadPeer() (*PeerConfig, error) {
	var cfg PeerConfig
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ParticipantID == "" {
		cfg.ParticipantID = uuid.NewString()
	}
	switch cfg.Action {
	case "create":
	case "join":
		if cfg.RoomID == "" {
			return nil, fmt.Errorf("TABLETOP_ROOM_ID is required to join")
		}
	default:
		return nil, fmt.Errorf("unknown action %q", cfg.Action)
	}
	return &cfg, nil
}

// GameSettings returns the settings a hosted game starts with.
func (c *PeerConfig) GameSettings() game.Settings {
	s := game.DefaultSettings()
	s.TurnTimeLimit = c.TurnTimeLimit
	s.AllowUndo = c.AllowUndo
	return s
}
