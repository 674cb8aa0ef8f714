package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ledger entry kinds.
const (
	EntryDeposit  = "DEPOSIT"
	EntryPurchase = "PURCHASE"
	EntryRefund   = "REFUND"
)

// Account is the materialized prepaid balance for a dealer. Created lazily
// on first deposit or purchase attempt, never deleted.
type Account struct {
	DealerID  string          `json:"dealerId" db:"dealer_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	Version   int             `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// LedgerEntry is append-only. Amount is always positive; the kind decides
// the sign of its contribution to the balance.
type LedgerEntry struct {
	ID          int             `json:"id" db:"id"`
	DealerID    string          `json:"dealerId" db:"dealer_id"`
	Kind        string          `json:"kind" db:"kind"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Description string          `json:"description" db:"description"`
	ReferenceID string          `json:"referenceId,omitempty" db:"reference_id"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}
