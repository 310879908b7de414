package game

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Tabletop/internal/domain"
)

type ActionType string

// Payload is the closed, per-game action body. Each Rules implementation
// declares its own payload types and decodes them in DecodePayload.
type Payload interface {
	ActionType() ActionType
}

type Action struct {
	ID        string
	Name      string
	Type      ActionType
	PlayerID  domain.ParticipantID
	Data      Payload
	Timestamp time.Time
	IsValid   bool
}

// NewAction fills the type tag from the payload.
func NewAction(player domain.ParticipantID, data Payload) Action {
	a := Action{PlayerID: player, Data: data}
	if data != nil {
		a.Type = data.ActionType()
		a.Name = string(a.Type)
	}
	return a
}

type actionRecord struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Type      ActionType           `json:"type"`
	PlayerID  domain.ParticipantID `json:"playerId"`
	Data      json.RawMessage      `json:"data,omitempty"`
	Timestamp int64                `json:"timestamp"`
	IsValid   bool                 `json:"isValid"`
}

func (a Action) MarshalJSON() ([]byte, error) {
	rec := actionRecord{
		ID:       a.ID,
		Name:     a.Name,
		Type:     a.Type,
		PlayerID: a.PlayerID,
		IsValid:  a.IsValid,
	}
	if !a.Timestamp.IsZero() {
		rec.Timestamp = a.Timestamp.UnixMilli()
	}
	if a.Data != nil {
		raw, err := json.Marshal(a.Data)
		if err != nil {
			return nil, fmt.Errorf("encode action data: %w", err)
		}
		rec.Data = raw
	}
	return json.Marshal(rec)
}

// DecodeAction parses an action record, validating its payload at the rules boundary.
func DecodeAction(rules Rules, raw []byte) (Action, error) {
	var rec actionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Action{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	payload, err := rules.DecodePayload(rec.Type, rec.Data)
	if err != nil {
		return Action{}, err
	}
	a := Action{
		ID:       rec.ID,
		Name:     rec.Name,
		Type:     rec.Type,
		PlayerID: rec.PlayerID,
		Data:     payload,
		IsValid:  rec.IsValid,
	}
	if rec.Timestamp != 0 {
		a.Timestamp = time.UnixMilli(rec.Timestamp)
	}
	return a, nil
}

// DecodeJSON is a helper for DecodePayload implementations.
func DecodeJSON[T Payload](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return v, nil
}
