package game

import (
	"github.com/mcdev12/potgame/go/internal/models"
)

// Request is the closed set of operations the controller accepts.
type Request interface {
	isRequest()
}

// BuyKey asks to buy the next key on behalf of Buyer. Attempt distinguishes this attempt's
// key payment on the ledger; a fresh one is generated when empty.
type BuyKey struct {
	Buyer   models.Account
	Attempt string
}

// QueryState asks for a read-only snapshot of the game.
type QueryState struct{}

func (BuyKey) isRequest()     {}
func (QueryState) isRequest() {}

// Outcome is the closed set of results the controller produces.
type Outcome interface {
	isOutcome()
}

// KeyBought reports a committed purchase.
type KeyBought struct {
	Buyer    models.Account
	Price    models.Amount
	KeysSold models.Amount
	Pot      models.Amount
	TimeLeft uint64
	Round    uint64
	At       uint64

	// PaymentRef is the ledger reference of the buyer's payment.
	PaymentRef string
}

// RoundEnded reports that the countdown had run out and the pot went to Winner.
// The requester of the attempt that observed the expiry did not get a key.
type RoundEnded struct {
	Winner   models.Account
	Payout   models.Amount
	KeysSold models.Amount
	Round    uint64
	At       uint64

	// PayoutRef is the ledger reference of the payout. It depends only on the game and
	// round, so paying the same round again is a no-op on the ledger.
	PayoutRef string
}

// Snapshot is the answer to QueryState.
type Snapshot struct {
	State         models.GameState
	TimeRemaining uint64
	Expired       bool
	NextKeyPrice  models.Amount
	At            uint64
}

func (KeyBought) isOutcome()  {}
func (RoundEnded) isOutcome() {}
func (Snapshot) isOutcome()   {}
