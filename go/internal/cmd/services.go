package main

import (
	"context"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/potgame/go/clients/ledger_client"
	"github.com/mcdev12/potgame/go/internal/config"
	"github.com/mcdev12/potgame/go/internal/game"
	"github.com/mcdev12/potgame/go/internal/gateway"
	"github.com/mcdev12/potgame/go/internal/ledger"
	"github.com/mcdev12/potgame/go/internal/outbox"
	"github.com/mcdev12/potgame/go/internal/round"
	"github.com/mcdev12/potgame/go/internal/store"
)

type Services struct {
	App     *round.App
	Game    *round.Service
	Gateway *gateway.Service
	Relay   *outbox.Relay // nil when a separate relay worker runs

	closers []func() error
}

// setupServices wires storage, ledger, round host, outbox relay and gateway.
// dbs is nil for the memory storage driver.
func setupServices(ctx context.Context, cfg *config.Config, dbs *databases) (*Services, error) {
	clock := clockwork.NewRealClock()
	s := &Services{}

	gameID, err := cfg.GameID()
	if err != nil {
		return nil, err
	}

	led, err := setupLedger(cfg)
	if err != nil {
		return nil, err
	}

	// State store + where the relay reads the outbox from
	var (
		repo       round.StateRepository
		outboxRepo outbox.OutboxRepository
		notifier   outbox.Notifier
	)
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		pg := store.NewPostgres(dbs.Pool)
		if err := pg.Migrate(ctx); err != nil {
			return nil, err
		}
		repo = pg
		outboxRepo = outbox.NewRepository(dbs.SQL)
		if cfg.Outbox.EmbeddedRelay {
			pq, err := outbox.NewPQNotifier(dbs.DSN, store.OutboxNotifyChannel)
			if err != nil {
				return nil, err
			}
			s.closers = append(s.closers, pq.Close)
			notifier = pq
		}
	default:
		mem := store.NewMemory(clock)
		repo = mem
		outboxRepo = mem
		notifier = mem
	}

	s.App = round.NewApp(repo, led, clock, round.Config{
		GameID:           gameID,
		BeneficiaryToken: cfg.Game.BeneficiaryToken,
		EscrowAccount:    cfg.Game.EscrowAccount,
		MailboxSize:      cfg.Server.MailboxSize,
	})
	if _, err := s.App.Init(ctx); err != nil {
		return nil, err
	}

	s.Game = round.NewService(s.App, clock).
		WithBuyRateLimit(rate.Limit(cfg.Server.BuyRateLimit), cfg.Server.BuyRateBurst)

	gwConfig := gateway.DefaultConfig()
	gwConfig.TickInterval = cfg.Gateway.TickInterval
	s.Gateway = gateway.NewService(gwConfig, s.App, clock)

	// With NATS the gateway hears events back from the stream; without it the relay
	// hands them to the gateway directly.
	var publisher outbox.Publisher
	if cfg.NATS.Enabled {
		jsCfg := outbox.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		if cfg.Outbox.EmbeddedRelay {
			js, err := outbox.NewJetStreamPublisher(jsCfg, clock)
			if err != nil {
				return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
			}
			s.closers = append(s.closers, js.Close)
			publisher = js
		}

		consumerCfg := gateway.DefaultJetStreamConsumerConfig()
		consumerCfg.Stream = jsCfg
		if err := s.Gateway.WithEventConsumer(ctx, consumerCfg); err != nil {
			return nil, err
		}
	} else {
		publisher = outbox.MultiPublisher{outbox.LogPublisher{}, s.Gateway}
	}

	if cfg.Outbox.EmbeddedRelay {
		s.Relay = outbox.NewRelay(outboxRepo, publisher, notifier, clock, outbox.DefaultRelayConfig())
	}

	log.Info().
		Str("game_id", gameID.String()).
		Str("storage", cfg.Storage.Driver).
		Str("ledger", cfg.Ledger.Driver).
		Bool("nats", cfg.NATS.Enabled).
		Bool("embedded_relay", s.Relay != nil).
		Msg("services ready")

	return s, nil
}

func setupLedger(cfg *config.Config) (game.Transferer, error) {
	if cfg.Ledger.Driver == config.LedgerHTTP {
		return ledger_client.NewLedgerClient(cfg.Ledger.URL, cfg.Ledger.APIKey), nil
	}

	mem := ledger.NewMemory()
	for account, amount := range cfg.Ledger.Balances {
		if err := mem.Mint(cfg.Game.BeneficiaryToken, account, amount); err != nil {
			return nil, fmt.Errorf("failed to seed balance for %s: %w", account, err)
		}
	}
	return mem, nil
}

func (s *Services) Close() {
	for _, c := range s.closers {
		if err := c(); err != nil {
			log.Error().Err(err).Msg("failed to close service")
		}
	}
}
