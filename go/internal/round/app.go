package round

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/game"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/mcdev12/potgame/go/internal/store"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned for requests submitted after the host stopped.
var ErrStopped = errors.New("round host stopped")

// StateRepository defines what the host needs from storage
type StateRepository interface {
	Init(ctx context.Context, st *models.GameState) (bool, error)
	Load(ctx context.Context, gameID uuid.UUID) (*models.GameState, error)
	Update(ctx context.Context, gameID uuid.UUID, fn store.UpdateFunc) error
}

type Config struct {
	GameID           uuid.UUID
	BeneficiaryToken models.Token
	EscrowAccount    models.Account
	MailboxSize      int
}

type call struct {
	ctx   context.Context
	req   game.Request
	reply chan result
}

type result struct {
	out game.Outcome
	err error
}

// App hosts the single game. Requests are queued on a mailbox and handled one at a time by
// Run, so two attempts are never interleaved within a process. Across processes the
// repository's Update provides the same guarantee.
type App struct {
	repo       StateRepository
	ledger     game.Transferer
	controller *game.Controller
	clock      clockwork.Clock
	cfg        Config

	mailbox chan call
	done    chan struct{}
}

func NewApp(repo StateRepository, ledger game.Transferer, clock clockwork.Clock, cfg Config) *App {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 64
	}
	return &App{
		repo:       repo,
		ledger:     ledger,
		controller: game.NewController(ledger, clock),
		clock:      clock,
		cfg:        cfg,
		mailbox:    make(chan call, cfg.MailboxSize),
		done:       make(chan struct{}),
	}
}

// GameID returns the ID of the hosted game.
func (a *App) GameID() uuid.UUID {
	return a.cfg.GameID
}

// Init creates the game record if it does not exist yet and returns the stored state.
// The token and escrow account of an existing game are never changed.
func (a *App) Init(ctx context.Context) (*models.GameState, error) {
	if a.cfg.BeneficiaryToken == "" || a.cfg.EscrowAccount == models.NoAccount {
		return nil, fmt.Errorf("game requires a beneficiary token and an escrow account")
	}

	st := models.NewGameState(a.cfg.GameID, a.cfg.BeneficiaryToken, a.cfg.EscrowAccount)
	created, err := a.repo.Init(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("failed to init game: %w", err)
	}

	stored, err := a.repo.Load(ctx, a.cfg.GameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load game: %w", err)
	}
	if stored.BeneficiaryToken != a.cfg.BeneficiaryToken {
		log.Warn().
			Str("game_id", a.cfg.GameID.String()).
			Str("stored_token", string(stored.BeneficiaryToken)).
			Str("configured_token", string(a.cfg.BeneficiaryToken)).
			Msg("configured token ignored, game already initialized")
	}

	log.Info().
		Str("game_id", a.cfg.GameID.String()).
		Bool("created", created).
		Uint64("round", stored.Round).
		Msg("game initialized")

	return stored, nil
}

// Run handles queued requests until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	log.Info().Str("game_id", a.cfg.GameID.String()).Msg("round host started")
	defer close(a.done)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("round host shutting down")
			return nil
		case c := <-a.mailbox:
			c.reply <- a.handle(c)
		}
	}
}

// Submit queues req and waits for its outcome. If ctx ends while waiting, Submit returns
// ctx.Err() but an attempt that already started still runs to completion.
func (a *App) Submit(ctx context.Context, req game.Request) (game.Outcome, error) {
	c := call{ctx: ctx, req: req, reply: make(chan result, 1)}

	select {
	case a.mailbox <- c:
	case <-a.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-c.reply:
		return res.out, res.err
	case <-a.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BuyKey submits a purchase attempt for buyer.
func (a *App) BuyKey(ctx context.Context, buyer models.Account) (game.Outcome, error) {
	return a.Submit(ctx, game.BuyKey{Buyer: buyer})
}

// Snapshot submits a state query.
func (a *App) Snapshot(ctx context.Context) (game.Snapshot, error) {
	out, err := a.Submit(ctx, game.QueryState{})
	if err != nil {
		return game.Snapshot{}, err
	}
	snap, ok := out.(game.Snapshot)
	if !ok {
		return game.Snapshot{}, fmt.Errorf("unexpected outcome %T for state query", out)
	}
	return snap, nil
}

func (a *App) handle(c call) result {
	// Abandoned before it started: nothing to do.
	if err := c.ctx.Err(); err != nil {
		return result{err: err}
	}
	ctx := context.WithoutCancel(c.ctx)

	if _, ok := c.req.(game.QueryState); ok {
		st, err := a.repo.Load(ctx, a.cfg.GameID)
		if err != nil {
			return result{err: fmt.Errorf("failed to load game: %w", err)}
		}
		out, err := a.controller.Handle(ctx, st, c.req)
		return result{out: out, err: err}
	}

	var (
		out    game.Outcome
		token  models.Token
		escrow models.Account
	)
	err := a.repo.Update(ctx, a.cfg.GameID, func(st *models.GameState) ([]events.OutboxEvent, error) {
		token, escrow = st.BeneficiaryToken, st.EscrowAccount
		o, err := a.controller.Handle(ctx, st, c.req)
		if err != nil {
			return nil, err
		}
		out = o
		evt, err := a.outboxEventFor(o)
		if err != nil {
			return nil, err
		}
		return []events.OutboxEvent{evt}, nil
	})
	if err != nil {
		if out != nil {
			a.compensate(ctx, token, escrow, out, err)
		}
		return result{err: err}
	}

	return result{out: out}
}

// compensate undoes the ledger side of an outcome whose state change was not committed.
// A key payment is refunded under a reference derived from the payment's. A payout is
// left in place: the state still shows the round as expired, so the next attempt plans the
// same payout under the same reference and the ledger settles it without moving value again.
func (a *App) compensate(ctx context.Context, token models.Token, escrow models.Account, out game.Outcome, cause error) {
	logger := log.With().
		Str("game_id", a.cfg.GameID.String()).
		AnErr("commit_error", cause).
		Logger()

	switch o := out.(type) {
	case game.KeyBought:
		ref := game.RefundRef(o.PaymentRef)
		if err := a.ledger.Transfer(ctx, ref, token, escrow, o.Buyer, o.Price); err != nil {
			logger.Error().
				Err(err).
				Str("buyer", string(o.Buyer)).
				Str("amount", o.Price.String()).
				Str("payment_ref", o.PaymentRef).
				Msg("failed to refund key payment after commit failure")
			return
		}
		logger.Warn().
			Str("buyer", string(o.Buyer)).
			Str("amount", o.Price.String()).
			Str("ref", ref).
			Msg("refunded key payment after commit failure")
	case game.RoundEnded:
		logger.Warn().
			Str("winner", string(o.Winner)).
			Str("payout", o.Payout.String()).
			Str("ref", o.PayoutRef).
			Msg("payout not committed, next attempt replays it")
	}
}

func (a *App) outboxEventFor(out game.Outcome) (events.OutboxEvent, error) {
	switch o := out.(type) {
	case game.KeyBought:
		return events.NewOutboxEvent(a.cfg.GameID, events.EventTypeKeyBought, events.KeyBoughtPayload{
			Buyer:       o.Buyer,
			Price:       o.Price,
			KeysSold:    o.KeysSold,
			Pot:         o.Pot,
			TimeLeftSec: o.TimeLeft,
			Round:       o.Round,
			BoughtAt:    unixTime(o.At),
		}, a.clock.Now())
	case game.RoundEnded:
		return events.NewOutboxEvent(a.cfg.GameID, events.EventTypeRoundEnded, events.RoundEndedPayload{
			Winner:   o.Winner,
			Payout:   o.Payout,
			KeysSold: o.KeysSold,
			Round:    o.Round,
			EndedAt:  unixTime(o.At),
		}, a.clock.Now())
	default:
		return events.OutboxEvent{}, fmt.Errorf("no event for outcome %T", out)
	}
}

func unixTime(sec uint64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
