package round

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/potgame/go/internal/events"
	"github.com/mcdev12/potgame/go/internal/game"
	"github.com/mcdev12/potgame/go/internal/ledger"
	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/mcdev12/potgame/go/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	token  models.Token   = "VARA"
	escrow models.Account = "game-escrow"
)

var richBalance = models.MustParseAmount("1000000000000000000000000000000")

type harness struct {
	app    *App
	store  *store.Memory
	ledger *ledger.Memory
	clock  *clockwork.FakeClock
	stop   func()
}

func newHarness(t *testing.T, funded ...models.Account) *harness {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	mem := store.NewMemory(clock)
	led := ledger.NewMemory()
	for _, acct := range funded {
		require.NoError(t, led.Mint(token, acct, richBalance))
	}

	app := NewApp(mem, led, clock, Config{
		GameID:           uuid.New(),
		BeneficiaryToken: token,
		EscrowAccount:    escrow,
	})
	_, err := app.Init(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Run(ctx)
	}()

	h := &harness{app: app, store: mem, ledger: led, clock: clock}
	h.stop = func() {
		cancel()
		<-done
	}
	t.Cleanup(h.stop)
	return h
}

// flakyRepo runs the update but drops the commit when failNext is set.
type flakyRepo struct {
	*store.Memory
	mu       sync.Mutex
	failNext bool
}

func (r *flakyRepo) failOnce() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = true
}

func (r *flakyRepo) Update(ctx context.Context, gameID uuid.UUID, fn store.UpdateFunc) error {
	r.mu.Lock()
	fail := r.failNext
	r.failNext = false
	r.mu.Unlock()

	if !fail {
		return r.Memory.Update(ctx, gameID, fn)
	}
	st, err := r.Memory.Load(ctx, gameID)
	if err != nil {
		return err
	}
	if _, err := fn(st); err != nil {
		return err
	}
	return errors.New("commit: connection reset")
}

func newFlakyHarness(t *testing.T, funded ...models.Account) (*harness, *flakyRepo) {
	t.Helper()

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	repo := &flakyRepo{Memory: store.NewMemory(clock)}
	led := ledger.NewMemory()
	for _, acct := range funded {
		require.NoError(t, led.Mint(token, acct, richBalance))
	}

	app := NewApp(repo, led, clock, Config{
		GameID:           uuid.New(),
		BeneficiaryToken: token,
		EscrowAccount:    escrow,
	})
	_, err := app.Init(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = app.Run(ctx)
	}()

	h := &harness{app: app, store: repo.Memory, ledger: led, clock: clock}
	h.stop = func() {
		cancel()
		<-done
	}
	t.Cleanup(h.stop)
	return h, repo
}

func (h *harness) state(t *testing.T) *models.GameState {
	t.Helper()
	st, err := h.store.Load(context.Background(), h.app.GameID())
	require.NoError(t, err)
	return st
}

func TestApp_BuyKeyCommitsStateAndEvent(t *testing.T) {
	h := newHarness(t, "alice")

	out, err := h.app.BuyKey(context.Background(), "alice")
	require.NoError(t, err)
	require.IsType(t, game.KeyBought{}, out)

	st := h.state(t)
	assert.True(t, st.KeysSold.Eq(models.NewAmount(1)))
	assert.True(t, st.Pot.Eq(models.BasePrice))
	assert.Equal(t, uint64(30), st.TimeLeft)
	assert.True(t, h.ledger.Balance(token, escrow).Eq(models.BasePrice))

	outbox := h.store.Outbox()
	require.Len(t, outbox, 1)
	assert.Equal(t, events.EventTypeKeyBought, outbox[0].EventType)
	assert.Equal(t, h.app.GameID(), outbox[0].GameID)

	var payload events.KeyBoughtPayload
	require.NoError(t, json.Unmarshal(outbox[0].Payload, &payload))
	assert.Equal(t, models.Account("alice"), payload.Buyer)
	assert.True(t, payload.Price.Eq(models.BasePrice))
	assert.Equal(t, uint64(30), payload.TimeLeftSec)
}

func TestApp_FailedTransferCommitsNothing(t *testing.T) {
	h := newHarness(t, "alice")

	_, err := h.app.BuyKey(context.Background(), "alice")
	require.NoError(t, err)
	before := h.state(t)

	_, err = h.app.BuyKey(context.Background(), "broke")
	require.Error(t, err)
	assert.ErrorIs(t, err, game.ErrTransferFailed)
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	assert.Equal(t, before, h.state(t))
	assert.Len(t, h.store.Outbox(), 1)
}

func TestApp_UncommittedKeyPaymentIsRefunded(t *testing.T) {
	h, repo := newFlakyHarness(t, "alice")
	ctx := context.Background()

	repo.failOnce()
	_, err := h.app.BuyKey(ctx, "alice")
	require.Error(t, err)

	assert.True(t, h.ledger.Balance(token, "alice").Eq(richBalance))
	assert.True(t, h.ledger.Balance(token, escrow).IsZero())
	st := h.state(t)
	assert.True(t, st.KeysSold.IsZero())
	assert.True(t, st.Pot.IsZero())
	assert.Empty(t, h.store.Outbox())

	out, err := h.app.BuyKey(ctx, "alice")
	require.NoError(t, err)
	require.IsType(t, game.KeyBought{}, out)

	wantBalance, err := richBalance.Sub(models.BasePrice)
	require.NoError(t, err)
	assert.True(t, h.ledger.Balance(token, "alice").Eq(wantBalance))
	assert.True(t, h.ledger.Balance(token, escrow).Eq(models.BasePrice))
	assert.True(t, h.state(t).KeysSold.Eq(models.NewAmount(1)))
}

func TestApp_UncommittedPayoutIsNotPaidTwice(t *testing.T) {
	h, repo := newFlakyHarness(t, "alice", "bob")
	ctx := context.Background()

	_, err := h.app.BuyKey(ctx, "alice")
	require.NoError(t, err)
	h.clock.Advance(60 * time.Second)

	repo.failOnce()
	_, err = h.app.BuyKey(ctx, "bob")
	require.Error(t, err)
	assert.Equal(t, uint64(1), h.state(t).Round)

	out, err := h.app.BuyKey(ctx, "bob")
	require.NoError(t, err)
	ended, ok := out.(game.RoundEnded)
	require.True(t, ok, "expected RoundEnded, got %T", out)
	assert.Equal(t, models.Account("alice"), ended.Winner)
	assert.Equal(t, game.PayoutRef(&models.GameState{GameID: h.app.GameID(), Round: 1}), ended.PayoutRef)

	assert.True(t, h.ledger.Balance(token, "alice").Eq(richBalance))
	assert.True(t, h.ledger.Balance(token, "bob").Eq(richBalance))
	assert.True(t, h.ledger.Balance(token, escrow).IsZero())

	st := h.state(t)
	assert.Equal(t, uint64(2), st.Round)
	assert.True(t, st.Pot.IsZero())
	require.Len(t, h.store.Outbox(), 2)
}

func TestApp_ConcurrentBuysAreSerialized(t *testing.T) {
	const buyers = 20
	var accounts []models.Account
	for i := 0; i < buyers; i++ {
		accounts = append(accounts, models.Account(fmt.Sprintf("buyer-%d", i)))
	}
	h := newHarness(t, accounts...)

	var wg sync.WaitGroup
	errs := make(chan error, buyers)
	for _, acct := range accounts {
		wg.Add(1)
		go func(a models.Account) {
			defer wg.Done()
			_, err := h.app.BuyKey(context.Background(), a)
			errs <- err
		}(acct)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// 1 + (1^2 + 2^2 + ... + 19^2) keys at Precision each.
	wantPot := models.NewAmount((1 + 19*20*39/6) * models.Precision)

	st := h.state(t)
	assert.True(t, st.KeysSold.Eq(models.NewAmount(buyers)))
	assert.True(t, st.Pot.Eq(wantPot), "pot %s", st.Pot)
	assert.True(t, h.ledger.Balance(token, escrow).Eq(wantPot))
	assert.Equal(t, uint64(buyers*30), st.TimeLeft)
	assert.Len(t, h.store.Outbox(), buyers)
}

func TestApp_ExpiredRoundPaysWinner(t *testing.T) {
	h := newHarness(t, "alice", "bob")
	ctx := context.Background()

	_, err := h.app.BuyKey(ctx, "alice")
	require.NoError(t, err)
	h.clock.Advance(31 * time.Second)

	out, err := h.app.BuyKey(ctx, "bob")
	require.NoError(t, err)
	ended, ok := out.(game.RoundEnded)
	require.True(t, ok, "expected RoundEnded, got %T", out)
	assert.Equal(t, models.Account("alice"), ended.Winner)

	assert.True(t, h.ledger.Balance(token, "alice").Eq(richBalance))
	assert.True(t, h.ledger.Balance(token, "bob").Eq(richBalance))
	assert.True(t, h.ledger.Balance(token, escrow).IsZero())

	st := h.state(t)
	assert.True(t, st.Pot.IsZero())
	assert.Equal(t, uint64(2), st.Round)

	outbox := h.store.Outbox()
	require.Len(t, outbox, 2)
	assert.Equal(t, events.EventTypeRoundEnded, outbox[1].EventType)
}

func TestApp_Snapshot(t *testing.T) {
	h := newHarness(t, "alice")
	ctx := context.Background()

	_, err := h.app.BuyKey(ctx, "alice")
	require.NoError(t, err)
	h.clock.Advance(10 * time.Second)

	snap, err := h.app.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), snap.TimeRemaining)
	assert.False(t, snap.Expired)
	assert.Equal(t, models.Account("alice"), snap.State.LastBuyer)
}

func TestApp_SubmitAfterStop(t *testing.T) {
	h := newHarness(t, "alice")
	h.stop()

	_, err := h.app.BuyKey(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestApp_CancelledBeforeStartDoesNothing(t *testing.T) {
	h := newHarness(t, "alice")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.app.BuyKey(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, h.state(t).KeysSold.IsZero())
}

func TestApp_InitRequiresEscrow(t *testing.T) {
	clock := clockwork.NewFakeClock()
	app := NewApp(store.NewMemory(clock), ledger.NewMemory(), clock, Config{
		GameID:           uuid.New(),
		BeneficiaryToken: token,
	})
	_, err := app.Init(context.Background())
	assert.Error(t, err)
}

func TestApp_InitKeepsExistingGame(t *testing.T) {
	h := newHarness(t, "alice")
	_, err := h.app.BuyKey(context.Background(), "alice")
	require.NoError(t, err)

	st, err := h.app.Init(context.Background())
	require.NoError(t, err)
	assert.True(t, st.KeysSold.Eq(models.NewAmount(1)))
}
