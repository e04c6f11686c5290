package ledger

import (
	"context"
	"testing"

	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_Transfer(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Mint("VARA", "alice", models.NewAmount(100)))

	require.NoError(t, l.Transfer(context.Background(), "t1", "VARA", "alice", "escrow", models.NewAmount(40)))

	assert.Equal(t, "60", l.Balance("VARA", "alice").String())
	assert.Equal(t, "40", l.Balance("VARA", "escrow").String())
	assert.True(t, l.Balance("OTHER", "alice").IsZero())
}

func TestMemory_InsufficientFundsChangesNothing(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Mint("VARA", "alice", models.NewAmount(10)))

	err := l.Transfer(context.Background(), "t1", "VARA", "alice", "escrow", models.NewAmount(11))
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, "10", l.Balance("VARA", "alice").String())
	assert.True(t, l.Balance("VARA", "escrow").IsZero())
}

func TestMemory_RejectsEmptyAccountsAndCancelledContext(t *testing.T) {
	l := NewMemory()
	err := l.Transfer(context.Background(), "t1", "VARA", models.NoAccount, "escrow", models.NewAmount(1))
	assert.ErrorIs(t, err, ErrInvalidTransfer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Transfer(ctx, "t2", "VARA", "alice", "bob", models.Amount{}), context.Canceled)
}

func TestMemory_CreditOverflow(t *testing.T) {
	l := NewMemory()
	require.NoError(t, l.Mint("VARA", "alice", models.NewAmount(1)))
	require.NoError(t, l.Mint("VARA", "bob", models.MaxAmount))

	err := l.Transfer(context.Background(), "t1", "VARA", "alice", "bob", models.NewAmount(1))
	assert.ErrorIs(t, err, models.ErrOverflow)
	assert.Equal(t, "1", l.Balance("VARA", "alice").String())
}

func TestMemory_ReplayedReferenceMovesOnce(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	require.NoError(t, l.Mint("VARA", "escrow", models.NewAmount(100)))

	require.NoError(t, l.Transfer(ctx, "round-1/payout", "VARA", "escrow", "alice", models.NewAmount(100)))
	require.NoError(t, l.Transfer(ctx, "round-1/payout", "VARA", "escrow", "alice", models.NewAmount(100)))

	assert.Equal(t, "100", l.Balance("VARA", "alice").String())
	assert.True(t, l.Balance("VARA", "escrow").IsZero())

	err := l.Transfer(ctx, "round-1/payout", "VARA", "escrow", "bob", models.NewAmount(100))
	assert.ErrorIs(t, err, ErrInvalidTransfer)
}

func TestMemory_FailedTransferDoesNotConsumeReference(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()

	err := l.Transfer(ctx, "key-1", "VARA", "alice", "escrow", models.NewAmount(5))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	require.NoError(t, l.Mint("VARA", "alice", models.NewAmount(5)))
	require.NoError(t, l.Transfer(ctx, "key-1", "VARA", "alice", "escrow", models.NewAmount(5)))
	assert.Equal(t, "5", l.Balance("VARA", "escrow").String())
}

func TestMemory_EmptyReferenceIsNeverDeduplicated(t *testing.T) {
	l := NewMemory()
	ctx := context.Background()
	require.NoError(t, l.Mint("VARA", "alice", models.NewAmount(2)))

	require.NoError(t, l.Transfer(ctx, "", "VARA", "alice", "escrow", models.NewAmount(1)))
	require.NoError(t, l.Transfer(ctx, "", "VARA", "alice", "escrow", models.NewAmount(1)))
	assert.Equal(t, "2", l.Balance("VARA", "escrow").String())
}
