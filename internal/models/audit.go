package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuditLogEntry records a single balance change. Entries are append-only and
// every entry references the transaction that caused it. For one account,
// ordered by creation, each entry's PreviousBalance equals the prior entry's
// NewBalance (chain invariant).
type AuditLogEntry struct {
	ID              int64           `json:"id" db:"id"`
	AccountID       string          `json:"account_id" db:"account_id"`
	PreviousBalance decimal.Decimal `json:"previous_balance" db:"previous_balance"`
	NewBalance      decimal.Decimal `json:"new_balance" db:"new_balance"`
	Delta           decimal.Decimal `json:"delta" db:"delta"`
	TransactionID   string          `json:"transaction_id" db:"transaction_id"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
}
