package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/potgame/go/internal/models"
	"github.com/rs/zerolog/log"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransfer   = errors.New("invalid transfer")
)

// Memory is an in-process token ledger. It backs local runs and tests.
type Memory struct {
	mu       sync.Mutex
	balances map[models.Token]map[models.Account]models.Amount
	applied  map[string]appliedTransfer
}

type appliedTransfer struct {
	token    models.Token
	from, to models.Account
	amount   models.Amount
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[models.Token]map[models.Account]models.Amount),
		applied:  make(map[string]appliedTransfer),
	}
}

// Mint credits amount to account out of thin air.
func (m *Memory) Mint(token models.Token, account models.Account, amount models.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	accounts := m.accounts(token)
	next, err := accounts[account].Add(amount)
	if err != nil {
		return fmt.Errorf("failed to mint %s to %s: %w", amount, account, err)
	}
	accounts[account] = next
	return nil
}

// Balance returns the balance of account in token.
func (m *Memory) Balance(token models.Token, account models.Account) models.Amount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[token][account]
}

// Transfer moves amount from one account to another. Either both balances change or neither does.
// A ref that was already applied is acknowledged without moving anything again; reusing it
// for a different movement is rejected. An empty ref is never deduplicated.
func (m *Memory) Transfer(ctx context.Context, ref string, token models.Token, from, to models.Account, amount models.Amount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if from == models.NoAccount || to == models.NoAccount {
		return fmt.Errorf("%w: empty account", ErrInvalidTransfer)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	this := appliedTransfer{token: token, from: from, to: to, amount: amount}
	if prev, ok := m.applied[ref]; ok && ref != "" {
		if prev != this {
			return fmt.Errorf("%w: reference %s already used for another transfer", ErrInvalidTransfer, ref)
		}
		log.Debug().Str("ref", ref).Msg("ledger transfer replayed")
		return nil
	}

	accounts := m.accounts(token)
	debited, err := accounts[from].Sub(amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, accounts[from], amount)
	}
	if from == to {
		m.record(ref, this)
		return nil
	}
	credited, err := accounts[to].Add(amount)
	if err != nil {
		return fmt.Errorf("failed to credit %s: %w", to, err)
	}
	accounts[from] = debited
	accounts[to] = credited
	m.record(ref, this)

	log.Debug().
		Str("token", string(token)).
		Str("from", string(from)).
		Str("to", string(to)).
		Str("amount", amount.String()).
		Str("ref", ref).
		Msg("ledger transfer")
	return nil
}

func (m *Memory) record(ref string, t appliedTransfer) {
	if ref != "" {
		m.applied[ref] = t
	}
}

func (m *Memory) accounts(token models.Token) map[models.Account]models.Amount {
	accounts, ok := m.balances[token]
	if !ok {
		accounts = make(map[models.Account]models.Amount)
		m.balances[token] = accounts
	}
	return accounts
}
