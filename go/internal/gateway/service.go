package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/rs/zerolog/log"
)

// Service is the spectator gateway: WebSocket fan-out of game events, countdown ticks
// and a state endpoint for clients that (re)connect
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	stateHandler      *StateHandler
	ticker            *TimerTicker
	eventConsumer     *EventConsumer
	clock             clockwork.Clock
}

// Config holds configuration for the gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
	TickInterval     time.Duration
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
		TickInterval:     time.Second,
	}
}

// NewService creates a gateway that is fed through Publish. Use WithEventConsumer to feed
// it from JetStream instead.
func NewService(config Config, stateProvider StateProvider, clock clockwork.Clock) *Service {
	cm := NewConnectionManager(config.ConnectionConfig)
	return &Service{
		connectionManager: cm,
		wsHandler:         NewWebSocketHandler(cm),
		stateHandler:      NewStateHandler(stateProvider),
		ticker:            NewTimerTicker(stateProvider, cm, clock, config.TickInterval),
		clock:             clock,
	}
}

// WithEventConsumer attaches a JetStream consumer started and stopped with the service
func (s *Service) WithEventConsumer(ctx context.Context, config JetStreamConsumerConfig) error {
	ec, err := NewEventConsumer(ctx, s.connectionManager, config)
	if err != nil {
		return fmt.Errorf("failed to create event consumer: %w", err)
	}
	s.eventConsumer = ec
	return nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting game gateway service")

	go s.connectionManager.Start(ctx)
	go s.ticker.Start(ctx)

	if s.eventConsumer != nil {
		go func() {
			if err := s.eventConsumer.Start(ctx); err != nil {
				log.Error().Err(err).Msg("event consumer failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info().Msg("game gateway service shutting down")
	return s.Stop()
}

// Stop shuts down the event consumer, if any
func (s *Service) Stop() error {
	if s.eventConsumer != nil {
		if err := s.eventConsumer.Stop(); err != nil {
			log.Error().Err(err).Msg("failed to stop event consumer")
		}
	}
	log.Info().Msg("game gateway service stopped")
	return nil
}

// Publish broadcasts an outbox event directly, for deployments without a message bus
func (s *Service) Publish(_ context.Context, event events.OutboxEvent) error {
	ge, err := EventFromEnvelope(events.EnvelopeFor(event, s.clock.Now()))
	if err != nil {
		return err
	}
	s.connectionManager.Broadcast(ge)
	return nil
}

// RegisterRoutes registers the WebSocket and state HTTP routes
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	s.wsHandler.RegisterRoutes(mux)
	s.stateHandler.RegisterStateRoutes(mux)
	log.Info().Msg("game gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() map[string]any {
	stats := s.connectionManager.GetConnectionStats()
	stats["service"] = "game_gateway"
	stats["bus_consumer"] = s.eventConsumer != nil
	return stats
}
