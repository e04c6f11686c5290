package game

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Clock is the time source the controller reads. clockwork.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

// Transferer moves value between accounts on the ledger. It may block; the controller
// treats any error as "nothing moved". ref identifies the movement: a ledger applies a given
// ref at most once and answers a repeat with success.
type Transferer interface {
	Transfer(ctx context.Context, ref string, token models.Token, from, to models.Account, amount models.Amount) error
}

// Phase is the controller's position in a purchase attempt.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhasePurchasing
	PhaseRoundEnding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhasePurchasing:
		return "PURCHASING"
	case PhaseRoundEnding:
		return "ROUND_ENDING"
	default:
		return fmt.Sprintf("Phase(%d)", int32(p))
	}
}

// Controller runs purchase attempts against a GameState.
//
// Every attempt is planned on a private copy of the state. The caller's state is only
// overwritten after the ledger transfer succeeded and every checked operation passed, so a
// failed attempt leaves it exactly as it was. The controller does no locking of its own;
// callers must not run two attempts on the same state concurrently.
type Controller struct {
	ledger Transferer
	clock  Clock
	phase  atomic.Int32
}

func NewController(ledger Transferer, clock Clock) *Controller {
	return &Controller{
		ledger: ledger,
		clock:  clock,
	}
}

// Phase returns the phase of the attempt currently in flight, PhaseIdle if none.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

func (c *Controller) enter(p Phase) func() {
	c.phase.Store(int32(p))
	return func() { c.phase.Store(int32(PhaseIdle)) }
}

func (c *Controller) now() uint64 {
	sec := c.clock.Now().Unix()
	if sec < 0 {
		return 0
	}
	return uint64(sec)
}

// Handle dispatches req against st.
func (c *Controller) Handle(ctx context.Context, st *models.GameState, req Request) (Outcome, error) {
	switch r := req.(type) {
	case BuyKey:
		attempt := r.Attempt
		if attempt == "" {
			attempt = uuid.NewString()
		}
		return c.buyKey(ctx, st, r.Buyer, attempt)
	case QueryState:
		return c.Snapshot(st)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownRequest, req)
	}
}

// BuyKey runs one purchase attempt for buyer. It returns KeyBought when the key was sold,
// or RoundEnded when the countdown had already run out and the pot was paid to the
// previous buyer instead.
func (c *Controller) BuyKey(ctx context.Context, st *models.GameState, buyer models.Account) (Outcome, error) {
	return c.buyKey(ctx, st, buyer, uuid.NewString())
}

func (c *Controller) buyKey(ctx context.Context, st *models.GameState, buyer models.Account, attempt string) (Outcome, error) {
	if buyer == models.NoAccount {
		return nil, ErrNoBuyer
	}
	now := c.now()

	plan := st.Clone()
	price, err := KeyPrice(plan.KeysSold)
	if err != nil {
		return nil, fmt.Errorf("failed to price key %s: %w", plan.KeysSold, err)
	}
	plan.KeyPrice = price

	if err := UpdateTime(plan, now); err != nil {
		return nil, fmt.Errorf("failed to update countdown: %w", err)
	}

	if plan.Started() && plan.TimeLeft == 0 {
		return c.endRound(ctx, st, plan, now)
	}

	defer c.enter(PhasePurchasing)()

	pot, err := plan.Pot.Add(price)
	if err != nil {
		return nil, fmt.Errorf("failed to grow pot: %w", err)
	}
	keysSold, err := plan.KeysSold.Add(one)
	if err != nil {
		return nil, fmt.Errorf("failed to count key: %w", err)
	}

	ref := KeyPaymentRef(plan, keysSold, attempt)
	if err := c.ledger.Transfer(ctx, ref, plan.BeneficiaryToken, buyer, plan.EscrowAccount, price); err != nil {
		return nil, fmt.Errorf("%w: key payment from %s: %w", ErrTransferFailed, buyer, err)
	}

	plan.Pot = pot
	plan.KeysSold = keysSold
	plan.LastBuyer = buyer
	plan.LastUpdate = now
	AddTime(plan)
	*st = *plan

	log.Debug().
		Str("buyer", string(buyer)).
		Str("price", price.String()).
		Str("keys_sold", keysSold.String()).
		Uint64("time_left", plan.TimeLeft).
		Msg("key bought")

	return KeyBought{
		Buyer:      buyer,
		Price:      price,
		KeysSold:   plan.KeysSold,
		Pot:        plan.Pot,
		TimeLeft:   plan.TimeLeft,
		Round:      plan.Round,
		At:         now,
		PaymentRef: ref,
	}, nil
}

func (c *Controller) endRound(ctx context.Context, st, plan *models.GameState, now uint64) (Outcome, error) {
	defer c.enter(PhaseRoundEnding)()

	winner := plan.LastBuyer
	payout := plan.Pot
	ref := PayoutRef(plan)
	if !payout.IsZero() && winner != models.NoAccount {
		if err := c.ledger.Transfer(ctx, ref, plan.BeneficiaryToken, plan.EscrowAccount, winner, payout); err != nil {
			return nil, fmt.Errorf("%w: payout to %s: %w", ErrTransferFailed, winner, err)
		}
	}

	ended := RoundEnded{
		Winner:    winner,
		Payout:    payout,
		KeysSold:  plan.KeysSold,
		Round:     plan.Round,
		At:        now,
		PayoutRef: ref,
	}
	plan.ResetRound()
	*st = *plan

	log.Info().
		Str("winner", string(winner)).
		Str("payout", payout.String()).
		Uint64("round", ended.Round).
		Msg("round ended")

	return ended, nil
}

// Snapshot reports st as of now without modifying it.
func (c *Controller) Snapshot(st *models.GameState) (Outcome, error) {
	now := c.now()
	remaining, err := RemainingAt(st, now)
	if err != nil {
		return nil, fmt.Errorf("failed to compute countdown: %w", err)
	}
	next, err := KeyPrice(st.KeysSold)
	if err != nil {
		return nil, fmt.Errorf("failed to price next key: %w", err)
	}
	return Snapshot{
		State:         *st,
		TimeRemaining: remaining,
		Expired:       st.Started() && remaining == 0,
		NextKeyPrice:  next,
		At:            now,
	}, nil
}
