package game

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	token  models.Token   = "VARA"
	escrow models.Account = "game-escrow"
	alice  models.Account = "alice"
	bob    models.Account = "bob"
)

var start = time.Unix(1_700_000_000, 0)

type transfer struct {
	from, to models.Account
	amount   models.Amount
}

type stubLedger struct {
	transfers []transfer
	refs      []string
	err       error
}

func (l *stubLedger) Transfer(_ context.Context, ref string, tok models.Token, from, to models.Account, amount models.Amount) error {
	if tok != token {
		return errors.New("unexpected token")
	}
	l.refs = append(l.refs, ref)
	if l.err != nil {
		return l.err
	}
	l.transfers = append(l.transfers, transfer{from: from, to: to, amount: amount})
	return nil
}

func newFixture(t *testing.T) (*Controller, *stubLedger, *clockwork.FakeClock, *models.GameState) {
	t.Helper()
	ledger := &stubLedger{}
	clock := clockwork.NewFakeClockAt(start)
	return NewController(ledger, clock), ledger, clock, models.NewGameState(uuid.New(), token, escrow)
}

func precision(n uint64) models.Amount {
	return models.NewAmount(n * models.Precision)
}

func TestBuyKey_FirstPurchase(t *testing.T) {
	c, ledger, _, st := newFixture(t)

	out, err := c.BuyKey(context.Background(), st, alice)
	require.NoError(t, err)

	bought, ok := out.(KeyBought)
	require.True(t, ok, "expected KeyBought, got %T", out)
	assert.Equal(t, alice, bought.Buyer)
	assert.True(t, bought.Price.Eq(precision(1)))

	assert.True(t, st.KeyPrice.Eq(precision(1)))
	assert.True(t, st.KeysSold.Eq(models.NewAmount(1)))
	assert.True(t, st.Pot.Eq(precision(1)))
	assert.Equal(t, uint64(30), st.TimeLeft)
	assert.Equal(t, uint64(start.Unix()), st.LastUpdate)
	assert.Equal(t, alice, st.LastBuyer)

	require.Len(t, ledger.transfers, 1)
	assert.Equal(t, transfer{from: alice, to: escrow, amount: precision(1)}, ledger.transfers[0])
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestBuyKey_SecondPurchaseWithoutElapsedTime(t *testing.T) {
	c, _, _, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	out, err := c.BuyKey(ctx, st, bob)
	require.NoError(t, err)

	bought := out.(KeyBought)
	assert.True(t, bought.Price.Eq(precision(1)))
	assert.True(t, st.KeysSold.Eq(models.NewAmount(2)))
	assert.True(t, st.Pot.Eq(precision(2)))
	assert.Equal(t, uint64(60), st.TimeLeft)
	assert.Equal(t, bob, st.LastBuyer)
}

func TestBuyKey_PriceFollowsQuadraticCurve(t *testing.T) {
	c, _, _, st := newFixture(t)
	ctx := context.Background()

	want := []uint64{1, 1, 4, 9, 16}
	pot := uint64(0)
	for i, w := range want {
		out, err := c.BuyKey(ctx, st, alice)
		require.NoError(t, err)
		assert.True(t, out.(KeyBought).Price.Eq(precision(w)), "key %d", i+1)
		pot += w
	}
	assert.True(t, st.Pot.Eq(precision(pot)))
}

func TestBuyKey_ElapsedTimeIsCharged(t *testing.T) {
	c, _, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)

	clock.Advance(10 * time.Second)
	_, err = c.BuyKey(ctx, st, bob)
	require.NoError(t, err)

	assert.Equal(t, uint64(30-10+30), st.TimeLeft)
	assert.Equal(t, uint64(start.Unix()+10), st.LastUpdate)
}

func TestBuyKey_CountdownClampsAtRoundDuration(t *testing.T) {
	c, _, _, st := newFixture(t)
	ctx := context.Background()

	purchases := models.RoundDuration / models.TimeBonus
	for i := uint64(1); i <= purchases; i++ {
		_, err := c.BuyKey(ctx, st, alice)
		require.NoError(t, err, "purchase %d", i)
		require.Equal(t, i*models.TimeBonus, st.TimeLeft, "purchase %d", i)
	}
	assert.Equal(t, models.RoundDuration, st.TimeLeft)

	for i := 0; i < 3; i++ {
		out, err := c.BuyKey(ctx, st, bob)
		require.NoError(t, err)
		assert.Equal(t, models.RoundDuration, out.(KeyBought).TimeLeft)
	}
	assert.Equal(t, models.RoundDuration, st.TimeLeft)
	assert.True(t, st.KeysSold.Eq(models.NewAmount(purchases+3)))
}

func TestBuyKey_ClampAfterElapsedTime(t *testing.T) {
	c, _, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	st.TimeLeft = models.RoundDuration - 10

	clock.Advance(5 * time.Second)
	_, err = c.BuyKey(ctx, st, bob)
	require.NoError(t, err)
	assert.Equal(t, models.RoundDuration, st.TimeLeft)
}

func TestBuyKey_LedgerReferences(t *testing.T) {
	c, ledger, clock, st := newFixture(t)
	ctx := context.Background()

	out, err := c.Handle(ctx, st, BuyKey{Buyer: alice, Attempt: "a1"})
	require.NoError(t, err)
	bought := out.(KeyBought)
	assert.Equal(t, KeyPaymentRef(st, models.NewAmount(1), "a1"), bought.PaymentRef)
	assert.Equal(t, bought.PaymentRef, ledger.refs[0])

	_, err = c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	assert.NotEqual(t, ledger.refs[0], ledger.refs[1], "every attempt pays under its own reference")

	clock.Advance(time.Hour)
	before := *st
	ledger.err = errors.New("timeout")
	_, err = c.BuyKey(ctx, st, bob)
	require.Error(t, err)
	require.Equal(t, before, *st)

	ledger.err = nil
	out, err = c.BuyKey(ctx, st, bob)
	require.NoError(t, err)
	ended := out.(RoundEnded)
	assert.Equal(t, PayoutRef(&before), ended.PayoutRef)
	assert.Equal(t, ledger.refs[2], ledger.refs[3], "retried payout reuses its reference")
	assert.NotEqual(t, PayoutRef(&before), PayoutRef(st), "next round pays under a new reference")
}

func TestBuyKey_ExpiredRoundPaysLastBuyer(t *testing.T) {
	c, ledger, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	_, err = c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	require.Equal(t, uint64(60), st.TimeLeft)

	clock.Advance(61 * time.Second)
	out, err := c.BuyKey(ctx, st, bob)
	require.NoError(t, err)

	ended, ok := out.(RoundEnded)
	require.True(t, ok, "expected RoundEnded, got %T", out)
	assert.Equal(t, alice, ended.Winner)
	assert.True(t, ended.Payout.Eq(precision(2)))
	assert.Equal(t, uint64(1), ended.Round)

	require.Len(t, ledger.transfers, 3)
	assert.Equal(t, transfer{from: escrow, to: alice, amount: precision(2)}, ledger.transfers[2])
	for _, tr := range ledger.transfers {
		assert.NotEqual(t, bob, tr.from, "requester must not be charged")
	}

	assert.True(t, st.Pot.IsZero())
	assert.True(t, st.KeysSold.IsZero())
	assert.True(t, st.KeyPrice.Eq(models.BasePrice))
	assert.Equal(t, models.NoAccount, st.LastBuyer)
	assert.Equal(t, uint64(2), st.Round)
}

func TestBuyKey_ExactExpiryEndsRound(t *testing.T) {
	c, _, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	out, err := c.BuyKey(ctx, st, bob)
	require.NoError(t, err)
	assert.IsType(t, RoundEnded{}, out)
}

func TestBuyKey_NextRoundStartsFresh(t *testing.T) {
	c, _, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	clock.Advance(time.Hour)
	_, err = c.BuyKey(ctx, st, bob)
	require.NoError(t, err)

	out, err := c.BuyKey(ctx, st, bob)
	require.NoError(t, err)
	bought := out.(KeyBought)
	assert.True(t, bought.Price.Eq(models.BasePrice))
	assert.Equal(t, uint64(2), bought.Round)
	assert.Equal(t, uint64(30), st.TimeLeft)
	assert.Equal(t, bob, st.LastBuyer)
}

func TestBuyKey_OverflowLeavesStateUntouched(t *testing.T) {
	c, ledger, _, st := newFixture(t)
	st.KeysSold = models.MustParseAmount("9223372036854775808") // 2^63
	before := *st

	_, err := c.BuyKey(context.Background(), st, alice)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, before, *st)
	assert.Empty(t, ledger.transfers)
	assert.Equal(t, PhaseIdle, c.Phase())
}

func TestBuyKey_PotOverflowLeavesStateUntouched(t *testing.T) {
	c, ledger, _, st := newFixture(t)
	st.KeysSold = models.NewAmount(1)
	st.Pot = models.MaxAmount
	st.LastUpdate = uint64(start.Unix())
	st.TimeLeft = 100
	before := *st

	_, err := c.BuyKey(context.Background(), st, alice)
	assert.ErrorIs(t, err, ErrOverflow)
	assert.Equal(t, before, *st)
	assert.Empty(t, ledger.transfers)
}

func TestBuyKey_FailedTransferLeavesStateUntouched(t *testing.T) {
	c, ledger, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	clock.Advance(5 * time.Second)
	before := *st

	ledger.err = errors.New("insufficient funds")
	_, err = c.BuyKey(ctx, st, bob)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Contains(t, err.Error(), "insufficient funds")
	assert.Equal(t, before, *st)
}

func TestBuyKey_FailedPayoutLeavesStateUntouched(t *testing.T) {
	c, ledger, clock, st := newFixture(t)
	ctx := context.Background()

	_, err := c.BuyKey(ctx, st, alice)
	require.NoError(t, err)
	clock.Advance(time.Minute)
	before := *st

	ledger.err = errors.New("ledger unavailable")
	_, err = c.BuyKey(ctx, st, bob)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Equal(t, before, *st)
}

func TestBuyKey_ClockSkewFails(t *testing.T) {
	c, _, _, st := newFixture(t)
	st.KeysSold = models.NewAmount(1)
	st.LastUpdate = uint64(start.Unix()) + 100
	st.TimeLeft = 30
	before := *st

	_, err := c.BuyKey(context.Background(), st, alice)
	assert.ErrorIs(t, err, ErrClockSkew)
	assert.Equal(t, before, *st)
}

func TestBuyKey_RequiresBuyer(t *testing.T) {
	c, _, _, st := newFixture(t)
	_, err := c.BuyKey(context.Background(), st, models.NoAccount)
	assert.ErrorIs(t, err, ErrNoBuyer)
}

func TestHandle_Dispatch(t *testing.T) {
	c, _, clock, st := newFixture(t)
	ctx := context.Background()

	out, err := c.Handle(ctx, st, BuyKey{Buyer: alice})
	require.NoError(t, err)
	assert.IsType(t, KeyBought{}, out)

	clock.Advance(12 * time.Second)
	out, err = c.Handle(ctx, st, QueryState{})
	require.NoError(t, err)
	snap := out.(Snapshot)
	assert.Equal(t, uint64(18), snap.TimeRemaining)
	assert.False(t, snap.Expired)
	assert.True(t, snap.NextKeyPrice.Eq(precision(1)))
	assert.Equal(t, uint64(30), snap.State.TimeLeft, "query must not modify state")

	clock.Advance(time.Minute)
	out, err = c.Handle(ctx, st, QueryState{})
	require.NoError(t, err)
	assert.True(t, out.(Snapshot).Expired)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "IDLE", PhaseIdle.String())
	assert.Equal(t, "PURCHASING", PhasePurchasing.String())
	assert.Equal(t, "ROUND_ENDING", PhaseRoundEnding.String())
}
