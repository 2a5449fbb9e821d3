// Package money holds the monetary helpers shared by the ledger core.
package money

import (
	"math"

	"github.com/boostpanel/backend/internal/models"
)

// Round2 rounds to the nearest cent, half away from zero. Non-finite input
// is coerced to 0 so a bad upstream value can never poison a balance.
func Round2(x float64) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	scaled := x * 100
	if scaled < 0 {
		return math.Ceil(scaled-0.5) / 100
	}
	return math.Floor(scaled+0.5) / 100
}

// SignedAmount returns the entry amount with the sign its type implies:
// order debits negative, everything else positive. Adjustments are the one
// type stored with a sign, and pass through unchanged so the signed amount
// always equals the balance delta the entry applied.
func SignedAmount(entry *models.LedgerEntry) float64 {
	if entry.Type == models.EntryTypeAdjustment {
		return entry.Amount
	}
	magnitude := math.Abs(entry.Amount)
	if models.IsDebitType(entry.Type) {
		return -magnitude
	}
	return magnitude
}
