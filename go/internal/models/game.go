package models

import (
	"time"

	"github.com/google/uuid"
)

// Account identifies a participant on the value ledger.
type Account string

// NoAccount means "nobody": no key has been bought in the current round.
const NoAccount Account = ""

// Token identifies the currency keys are priced in.
type Token string

const (
	// Precision is the price of the first key and the scale factor of the price curve (10^12).
	Precision uint64 = 1_000_000_000_000

	// RoundDuration caps the countdown (one day, in seconds).
	RoundDuration uint64 = 86_400

	// TimeBonus is added to the countdown by every successful purchase (seconds).
	TimeBonus uint64 = 30

	// NeverUpdated is the LastUpdate sentinel for "no purchase in this round yet".
	NeverUpdated uint64 = 0
)

// BasePrice is Precision as an Amount.
var BasePrice = NewAmount(Precision)

// GameState is the single record the game operates on.
type GameState struct {
	GameID           uuid.UUID `json:"game_id"`
	BeneficiaryToken Token     `json:"beneficiary_token"`
	EscrowAccount    Account   `json:"escrow_account"`
	LastBuyer        Account   `json:"last_buyer"`
	KeyPrice         Amount    `json:"key_price"`
	KeysSold         Amount    `json:"keys_sold"`
	Pot              Amount    `json:"pot"`
	LastUpdate       uint64    `json:"last_update"`   // unix seconds, NeverUpdated before the first purchase
	TimeLeft         uint64    `json:"time_left_sec"` // countdown as of LastUpdate
	Round            uint64    `json:"round"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewGameState returns the state of a freshly initialized game.
func NewGameState(gameID uuid.UUID, token Token, escrow Account) *GameState {
	return &GameState{
		GameID:           gameID,
		BeneficiaryToken: token,
		EscrowAccount:    escrow,
		LastBuyer:        NoAccount,
		KeyPrice:         BasePrice,
		LastUpdate:       NeverUpdated,
		Round:            1,
	}
}

// Clone returns an independent copy. GameState has no reference fields, so a value copy suffices.
func (s *GameState) Clone() *GameState {
	c := *s
	return &c
}

// Started reports whether a key has been bought in the current round.
func (s *GameState) Started() bool {
	return s.LastUpdate != NeverUpdated
}

// ResetRound clears every per-round counter after the pot has been paid out.
func (s *GameState) ResetRound() {
	s.LastBuyer = NoAccount
	s.KeyPrice = BasePrice
	s.KeysSold = Amount{}
	s.Pot = Amount{}
	s.LastUpdate = NeverUpdated
	s.TimeLeft = 0
	s.Round++
}
