package game

import (
	"fmt"

	"github.com/mcdev12/potgame/go/internal/models"
)

// PayoutRef is the ledger reference of the payout ending st's round.
func PayoutRef(st *models.GameState) string {
	return fmt.Sprintf("potgame/%s/round/%d/payout", st.GameID, st.Round)
}

// KeyPaymentRef is the ledger reference of one attempt to pay for key number keyNumber.
func KeyPaymentRef(st *models.GameState, keyNumber models.Amount, attempt string) string {
	return fmt.Sprintf("potgame/%s/round/%d/key/%s/%s", st.GameID, st.Round, keyNumber, attempt)
}

// RefundRef is the ledger reference of the refund of the payment made under ref.
func RefundRef(ref string) string {
	return ref + "/refund"
}
