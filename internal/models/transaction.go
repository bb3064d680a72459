package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types.
const (
	TxTypeMint     = "MINT"
	TxTypeTransfer = "TRANSFER"
	TxTypeBurn     = "BURN"
)

// Transaction statuses.
const (
	TxStatusPending   = "PENDING"
	TxStatusCompleted = "COMPLETED"
	TxStatusFailed    = "FAILED"
)

// Transaction is the immutable record of one ledger-affecting operation.
// FromAccount is null iff the type is MINT, ToAccount is null iff BURN.
type Transaction struct {
	ID          string          `json:"id" db:"id"`
	Hash        string          `json:"hash" db:"hash"`
	Type        string          `json:"type" db:"type"`
	FromAccount *string         `json:"from_account,omitempty" db:"from_account"`
	ToAccount   *string         `json:"to_account,omitempty" db:"to_account"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Memo        *string         `json:"memo,omitempty" db:"memo"`
	Status      string          `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
