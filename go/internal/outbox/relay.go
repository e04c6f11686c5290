package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/store"
	"github.com/rs/zerolog/log"
)

// OutboxRepository defines what the relay needs from outbox storage.
// Both the Postgres Repository and store.Memory satisfy it.
type OutboxRepository interface {
	FetchUnsentOutbox(ctx context.Context, limit int32) ([]events.OutboxEvent, error)
	FetchOutboxByID(ctx context.Context, id uuid.UUID) (*events.OutboxEvent, error)
	MarkOutboxSent(ctx context.Context, id uuid.UUID) error
}

// Publisher delivers one event to its consumers.
type Publisher interface {
	Publish(ctx context.Context, event events.OutboxEvent) error
}

// Notifier is an optional push source of new event IDs.
type Notifier interface {
	Notifications() <-chan string
}

// Pinger is implemented by notifiers whose connection needs keepalives.
type Pinger interface {
	Ping() error
}

type RelayConfig struct {
	FallbackInterval time.Duration // How often to poll for missed events
	PingInterval     time.Duration
	MaxRetries       int
	RetryDelay       time.Duration
	BatchSize        int32 // Max events to fetch per poll
}

func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		FallbackInterval: 30 * time.Second,
		PingInterval:     90 * time.Second,
		MaxRetries:       5,
		RetryDelay:       200 * time.Millisecond,
		BatchSize:        100,
	}
}

// Relay moves recorded events from the outbox to a Publisher. Events are published
// at least once; consumers dedupe on the event ID.
type Relay struct {
	repo      OutboxRepository
	publisher Publisher
	notifier  Notifier
	clock     clockwork.Clock
	cfg       RelayConfig
}

func NewRelay(repo OutboxRepository, publisher Publisher, notifier Notifier, clock clockwork.Clock, cfg RelayConfig) *Relay {
	return &Relay{
		repo:      repo,
		publisher: publisher,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
	}
}

// Start relays events until ctx is cancelled. Anything recorded before Start is
// published by the initial poll.
func (r *Relay) Start(ctx context.Context) error {
	log.Info().
		Dur("ping_interval", r.cfg.PingInterval).
		Dur("fallback_interval", r.cfg.FallbackInterval).
		Msg("outbox relay started")

	fallbackTicker := r.clock.NewTicker(r.cfg.FallbackInterval)
	defer fallbackTicker.Stop()
	pingTicker := r.clock.NewTicker(r.cfg.PingInterval)
	defer pingTicker.Stop()

	var notes <-chan string
	if r.notifier != nil {
		notes = r.notifier.Notifications()
	}

	if err := r.ProcessUnsent(ctx); err != nil {
		log.Error().Err(err).Msg("failed to process unsent events")
	}

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay shutting down")
			return nil
		case id, ok := <-notes:
			if !ok {
				notes = nil
				log.Warn().Msg("notification channel closed, relying on fallback poll")
				continue
			}
			if err := r.handleNotification(ctx, id); err != nil {
				log.Error().Err(err).Msg("failed to handle notification")
			}
		case <-fallbackTicker.Chan():
			if err := r.ProcessUnsent(ctx); err != nil {
				log.Error().Err(err).Msg("failed to process unsent events")
			}
		case <-pingTicker.Chan():
			if p, ok := r.notifier.(Pinger); ok {
				if err := p.Ping(); err != nil {
					log.Error().Err(err).Msg("failed to ping listener")
				}
			}
		}
	}
}

// handleNotification publishes the event a notification points at.
func (r *Relay) handleNotification(ctx context.Context, extra string) error {
	id, err := uuid.Parse(extra)
	if err != nil {
		return fmt.Errorf("invalid event ID in notification: %w", err)
	}

	event, err := r.repo.FetchOutboxByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrOutboxEventNotFound) {
			// Already relayed by a poll.
			return nil
		}
		return fmt.Errorf("failed to fetch outbox event: %w", err)
	}

	return r.relay(ctx, *event)
}

// ProcessUnsent publishes one batch of unsent events, oldest first.
func (r *Relay) ProcessUnsent(ctx context.Context) error {
	unsent, err := r.repo.FetchUnsentOutbox(ctx, r.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("failed to fetch unsent outbox events: %w", err)
	}

	failed := 0
	for _, event := range unsent {
		if err := r.relay(ctx, event); err != nil {
			log.Error().Err(err).Str("event_id", event.ID.String()).Msg("failed to relay event")
			failed++
		}
	}

	if len(unsent) > 0 {
		log.Info().
			Int("processed", len(unsent)-failed).
			Int("errors", failed).
			Msg("processed unsent events batch")
	}
	return nil
}

func (r *Relay) relay(ctx context.Context, event events.OutboxEvent) error {
	if err := r.publishWithRetry(ctx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := r.repo.MarkOutboxSent(ctx, event.ID); err != nil {
		return fmt.Errorf("failed to mark outbox event %s as sent: %w", event.ID, err)
	}
	log.Debug().
		Str("event_id", event.ID.String()).
		Str("event_type", event.EventType).
		Msg("published and marked event as sent")
	return nil
}

// publishWithRetry attempts to publish an event with a linearly growing delay.
func (r *Relay) publishWithRetry(ctx context.Context, event events.OutboxEvent) error {
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.cfg.RetryDelay * time.Duration(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-r.clock.After(delay):
			}
		}

		if err := r.publisher.Publish(ctx, event); err != nil {
			lastErr = err
			log.Warn().
				Err(err).
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("failed to publish, retrying")
			continue
		}

		if attempt > 0 {
			log.Info().
				Int("attempt", attempt+1).
				Str("event_id", event.ID.String()).
				Msg("publish succeeded after retry")
		}
		return nil
	}

	return fmt.Errorf("publish failed after %d attempts: %w", r.cfg.MaxRetries+1, lastErr)
}
