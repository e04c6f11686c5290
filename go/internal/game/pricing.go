package game

import (
	"fmt"

	"github.com/mcdev12/potgame/go/internal/models"
)

var one = models.NewAmount(1)

// KeyPrice returns the price of the next key given how many have been sold this round.
// The curve is quadratic: Precision for the first key, keysSold^2 * Precision afterwards.
func KeyPrice(keysSold models.Amount) (models.Amount, error) {
	if keysSold.IsZero() {
		return models.BasePrice, nil
	}

	squared, err := keysSold.Mul(keysSold)
	if err != nil {
		return models.Amount{}, fmt.Errorf("failed to square keys sold: %w", err)
	}
	price, err := squared.Mul(models.BasePrice)
	if err != nil {
		return models.Amount{}, fmt.Errorf("failed to scale key price: %w", err)
	}
	return price, nil
}
