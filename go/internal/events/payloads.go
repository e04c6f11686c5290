package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/potgame/go/internal/models"
)

// Event types shared by the round host, the outbox relay and the gateway
const (
	EventTypeKeyBought  = "KeyBought"
	EventTypeRoundEnded = "RoundEnded"
	EventTypeTimerTick  = "TimerTick"
)

// KeyBoughtPayload is the payload for a KeyBought event
type KeyBoughtPayload struct {
	Buyer       models.Account `json:"buyer"`
	Price       models.Amount  `json:"price"`
	KeysSold    models.Amount  `json:"keys_sold"`
	Pot         models.Amount  `json:"pot"`
	TimeLeftSec uint64         `json:"time_left_sec"`
	Round       uint64         `json:"round"`
	BoughtAt    time.Time      `json:"bought_at"`
}

// RoundEndedPayload is the payload for a RoundEnded event
type RoundEndedPayload struct {
	Winner   models.Account `json:"winner"`
	Payout   models.Amount  `json:"payout"`
	KeysSold models.Amount  `json:"keys_sold"`
	Round    uint64         `json:"round"`
	EndedAt  time.Time      `json:"ended_at"`
}

// TimerTickPayload is broadcast by the gateway while a round is running. It is never stored.
type TimerTickPayload struct {
	Round        uint64         `json:"round"`
	RemainingSec uint64         `json:"remaining_sec"`
	Pot          models.Amount  `json:"pot"`
	NextKeyPrice models.Amount  `json:"next_key_price"`
	LastBuyer    models.Account `json:"last_buyer"`
	ServerTime   time.Time      `json:"server_time"`
}

// OutboxEvent is a domain event waiting to be relayed to the message bus
type OutboxEvent struct {
	ID        uuid.UUID       `json:"id"`
	GameID    uuid.UUID       `json:"game_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	SentAt    *time.Time      `json:"sent_at,omitempty"`
}

// NewOutboxEvent marshals payload into a fresh outbox record.
func NewOutboxEvent(gameID uuid.UUID, eventType string, payload any, now time.Time) (OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}
	return OutboxEvent{
		ID:        uuid.New(),
		GameID:    gameID,
		EventType: eventType,
		Payload:   data,
		CreatedAt: now.UTC(),
	}, nil
}

// Envelope is the wire format published on the bus and pushed to websocket clients
type Envelope struct {
	EventID   string          `json:"eventId"`
	EventType string          `json:"eventType"`
	GameID    string          `json:"gameId"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// EnvelopeFor wraps an outbox event for publishing.
func EnvelopeFor(event OutboxEvent, now time.Time) Envelope {
	return Envelope{
		EventID:   event.ID.String(),
		EventType: event.EventType,
		GameID:    event.GameID.String(),
		Timestamp: now.UTC(),
		Payload:   event.Payload,
	}
}
