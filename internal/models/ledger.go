package models

import (
	"github.com/shopspring/decimal"
)

// Ledger config keys. Stored as key/value rows so total_supply can be locked
// FOR UPDATE inside the same transaction as the mint/burn that changes it.
const (
	ConfigKeyTotalSupply   = "total_supply"
	ConfigKeyMaxSupply     = "max_supply"
	ConfigKeyTokenSymbol   = "token_symbol"
	ConfigKeyTokenDecimals = "token_decimals"
	ConfigKeyVersion       = "version"
)

// LedgerConfig is the materialized view of the config rows.
type LedgerConfig struct {
	TotalSupply   decimal.Decimal `json:"total_supply"`
	MaxSupply     decimal.Decimal `json:"max_supply"` // zero means unlimited
	TokenSymbol   string          `json:"token_symbol"`
	TokenDecimals int             `json:"token_decimals"`
	Version       string          `json:"version"`
}

// AccountSummary aggregates one account's completed transaction activity.
// Derived on read; never used as the source of a balance decision.
type AccountSummary struct {
	AccountID      string          `json:"account_id"`
	Balance        decimal.Decimal `json:"balance"`
	Status         string          `json:"status"`
	SentCount      int64           `json:"sent_count"`
	SentAmount     decimal.Decimal `json:"sent_amount"`
	ReceivedCount  int64           `json:"received_count"`
	ReceivedAmount decimal.Decimal `json:"received_amount"`
}

// TypeStats is one row of the per-type ledger statistics.
type TypeStats struct {
	Type   string          `json:"type"`
	Count  int64           `json:"count"`
	Amount decimal.Decimal `json:"amount"`
}

// LedgerStats is the ledger-wide reporting view.
type LedgerStats struct {
	AccountCount  int64           `json:"account_count"`
	TotalBalance  decimal.Decimal `json:"total_balance"`
	TotalSupply   decimal.Decimal `json:"total_supply"`
	MaxSupply     decimal.Decimal `json:"max_supply"`
	TokenSymbol   string          `json:"token_symbol"`
	TokenDecimals int             `json:"token_decimals"`
	ByType        []TypeStats     `json:"by_type"`
}

// DeviceStats groups registered devices by model and brand.
type DeviceStats struct {
	Model          string          `json:"model"`
	Brand          string          `json:"brand"`
	Count          int64           `json:"count"`
	AverageBalance decimal.Decimal `json:"average_balance"`
}
