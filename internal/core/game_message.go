package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Tabletop/internal/domain"
)

type GameMessageType string

const (
	GameState    GameMessageType = "game_state"
	PlayerAction GameMessageType = "player_action"
	ChatMessage  GameMessageType = "chat_message"
	TemplateSync GameMessageType = "template_sync"
	// UndoRequest asks the host to take back the sender's last action.
	UndoRequest  GameMessageType = "undo_request"
)

// GameMessage is carried over an open peer channel.
type GameMessage struct {
	Type      GameMessageType      `json:"type"`
	Timestamp int64                `json:"timestamp"`
	SenderID  domain.ParticipantID `json:"senderId"`
	Data      json.RawMessage      `json:"data,omitempty"`
}

func NewGameMessage(kind GameMessageType, sender domain.ParticipantID, payload any) (GameMessage, error) {
	msg := GameMessage{Type: kind, Timestamp: time.Now().UnixMilli(), SenderID: sender}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return msg, fmt.Errorf("encode %s: %w", kind, err)
		}
		msg.Data = raw
	}
	return msg, nil
}

func (m GameMessage) Valid() bool {
	switch m.Type {
	case GameState, PlayerAction, ChatMessage, TemplateSync, UndoRequest:
		return true
	}
	return false
}

type Chat struct {
	Text string `json:"text"`
}
