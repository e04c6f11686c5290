package store

import (
	"errors"

	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/models"
)

var (
	ErrGameNotFound        = errors.New("game not found")
	ErrOutboxEventNotFound = errors.New("outbox event not found or already sent")
)

// OutboxNotifyChannel is the Postgres NOTIFY channel carrying new outbox event IDs.
const OutboxNotifyChannel = "game_outbox_events"

// UpdateFunc mutates st in place and returns the events to record with it.
// Returning an error discards both.
type UpdateFunc func(st *models.GameState) ([]events.OutboxEvent, error)
