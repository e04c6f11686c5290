package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mcdev12/potgame/go/internal/events"
)

// GameEvent is the message pushed to websocket clients
type GameEvent struct {
	ID        string          `json:"id"`        // Event UUID, empty for ticks
	GameID    string          `json:"game_id"`   // Game UUID
	Type      EventType       `json:"type"`      // Event type
	Timestamp time.Time       `json:"timestamp"` // Event creation time
	Data      json.RawMessage `json:"data"`      // Event-specific payload
}

// EventType represents the type of game event
type EventType string

const (
	EventTypeKeyBought  EventType = events.EventTypeKeyBought
	EventTypeRoundEnded EventType = events.EventTypeRoundEnded
	EventTypeTimerTick  EventType = events.EventTypeTimerTick
)

// EventFromEnvelope converts a bus envelope to a websocket event
func EventFromEnvelope(env events.Envelope) (*GameEvent, error) {
	var t EventType
	switch env.EventType {
	case events.EventTypeKeyBought:
		t = EventTypeKeyBought
	case events.EventTypeRoundEnded:
		t = EventTypeRoundEnded
	default:
		return nil, fmt.Errorf("unknown event type: %s", env.EventType)
	}

	return &GameEvent{
		ID:        env.EventID,
		GameID:    env.GameID,
		Type:      t,
		Timestamp: env.Timestamp,
		Data:      env.Payload,
	}, nil
}

// ParseEventPayload parses event data into the appropriate payload struct
func ParseEventPayload(event *GameEvent) (any, error) {
	switch event.Type {
	case EventTypeKeyBought:
		var payload events.KeyBoughtPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeRoundEnded:
		var payload events.RoundEndedPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	case EventTypeTimerTick:
		var payload events.TimerTickPayload
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return nil, err
		}
		return payload, nil

	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}
}
