package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/models"
)

// Memory keeps game state and the outbox in process. Updates are serialized by a mutex
// held for the whole UpdateFunc, the same guarantee the Postgres row lock gives.
type Memory struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	states map[uuid.UUID]models.GameState
	outbox []events.OutboxEvent
	notify chan string
}

func NewMemory(clock clockwork.Clock) *Memory {
	return &Memory{
		clock:  clock,
		states: make(map[uuid.UUID]models.GameState),
		notify: make(chan string, 64),
	}
}

// Init stores st unless a game with the same ID exists. It reports whether st was stored.
func (m *Memory) Init(_ context.Context, st *models.GameState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[st.GameID]; ok {
		return false, nil
	}
	c := *st
	c.UpdatedAt = m.clock.Now().UTC()
	m.states[st.GameID] = c
	return true, nil
}

func (m *Memory) Load(_ context.Context, gameID uuid.UUID) (*models.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[gameID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	return &st, nil
}

// Update runs fn on a copy of the game and stores the copy and its events only if fn succeeds.
func (m *Memory) Update(ctx context.Context, gameID uuid.UUID, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.states[gameID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrGameNotFound, gameID)
	}
	st := current
	evts, err := fn(&st)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	st.UpdatedAt = m.clock.Now().UTC()
	m.states[gameID] = st
	m.outbox = append(m.outbox, evts...)
	for _, e := range evts {
		select {
		case m.notify <- e.ID.String():
		default:
			// Relay catches up on its fallback poll.
		}
	}
	return nil
}

// Notifications yields the IDs of newly recorded outbox events.
func (m *Memory) Notifications() <-chan string {
	return m.notify
}

func (m *Memory) FetchUnsentOutbox(_ context.Context, limit int32) ([]events.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var unsent []events.OutboxEvent
	for _, e := range m.outbox {
		if e.SentAt != nil {
			continue
		}
		unsent = append(unsent, e)
		if int32(len(unsent)) >= limit {
			break
		}
	}
	return unsent, nil
}

func (m *Memory) FetchOutboxByID(_ context.Context, id uuid.UUID) (*events.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.outbox {
		if e.ID == id && e.SentAt == nil {
			found := e
			return &found, nil
		}
	}
	return nil, ErrOutboxEventNotFound
}

func (m *Memory) MarkOutboxSent(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.outbox {
		if m.outbox[i].ID == id {
			sentAt := m.clock.Now().UTC()
			m.outbox[i].SentAt = &sentAt
			return nil
		}
	}
	return fmt.Errorf("mark sent %s: %w", id, ErrOutboxEventNotFound)
}

// Outbox returns every recorded event, sent or not, oldest first.
func (m *Memory) Outbox() []events.OutboxEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]events.OutboxEvent, len(m.outbox))
	copy(out, m.outbox)
	return out
}
