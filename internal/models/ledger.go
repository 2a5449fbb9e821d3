package models

import (
	"time"
)

// Ledger entry types. The type decides the sign convention: order debits
// reduce the wallet, everything else credits it.
const (
	EntryTypeTopUp       = "topup"
	EntryTypeTopUpCredit = "topup_credit"
	EntryTypeOrder       = "order"
	EntryTypeOrderDebit  = "order_debit"
	EntryTypeRefund      = "refund"
	EntryTypeAdjustment  = "adjustment"
)

// Ledger entry statuses. Confirmed is terminal; the only way out of it is a
// new offsetting refund entry.
const (
	EntryStatusPending   = "pending"
	EntryStatusConfirmed = "confirmed"
	EntryStatusFailed    = "failed"
	EntryStatusExpired   = "expired"
	EntryStatusRefunded  = "refunded"
)

// Payment providers an entry can originate from.
const (
	ProviderPayPal   = "paypal"
	ProviderStripe   = "stripe"
	ProviderCrypto   = "crypto"
	ProviderRevolut  = "revolut"
	ProviderWallet   = "wallet"
	ProviderInternal = "internal"
)

// LedgerEntry is one monetary event against a user's wallet. Correlation ids
// are empty strings (never NULL) when absent so the partial unique indexes
// can skip the empty case.
type LedgerEntry struct {
	ID                string     `json:"id" db:"id"`
	UserID            string     `json:"user_id" db:"user_id"`
	Type              string     `json:"type" db:"type"`
	Status            string     `json:"status" db:"status"`
	Amount            float64    `json:"amount" db:"amount"`
	Currency          string     `json:"currency" db:"currency"`
	Provider          string     `json:"provider" db:"provider"`
	ProviderOrderID   string     `json:"provider_order_id" db:"provider_order_id"`
	ProviderCaptureID string     `json:"provider_capture_id" db:"provider_capture_id"`
	ProviderEventID   string     `json:"provider_event_id" db:"provider_event_id"`
	BalanceBefore     *float64   `json:"balance_before,omitempty" db:"balance_before"`
	BalanceAfter      *float64   `json:"balance_after,omitempty" db:"balance_after"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	Meta              string     `json:"meta,omitempty" db:"meta"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// IsDebitType reports whether entries of the given type reduce the balance.
func IsDebitType(entryType string) bool {
	return entryType == EntryTypeOrder || entryType == EntryTypeOrderDebit
}
