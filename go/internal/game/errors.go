package game

import (
	"errors"

	"github.com/mcdev12/potgame/go/internal/models"
)

var (
	// ErrOverflow aborts an attempt whose checked arithmetic left the 128-bit range.
	ErrOverflow = models.ErrOverflow

	// ErrClockSkew is returned when the current time is earlier than the last recorded update.
	ErrClockSkew = errors.New("clock moved backwards")

	// ErrTransferFailed wraps any error reported by the ledger while moving value.
	ErrTransferFailed = errors.New("value transfer failed")

	// ErrNoBuyer is returned for a purchase without a requesting account.
	ErrNoBuyer = errors.New("purchase requires a buyer account")

	// ErrUnknownRequest is returned for request variants the controller does not handle.
	ErrUnknownRequest = errors.New("unknown request")
)
