package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account statuses. Accounts are never physically deleted; deregistration
// flips the status so the audit chain stays intact.
const (
	AccountStatusActive       = "ACTIVE"
	AccountStatusDeregistered = "DEREGISTERED"
)

// Account represents one registered device identity and its token balance.
// Balance is stored as NUMERIC(38,18) and must never go negative.
type Account struct {
	ID              string          `json:"id" db:"id"`
	Balance         decimal.Decimal `json:"balance" db:"balance"`
	SerialNumber    *string         `json:"serial_number,omitempty" db:"serial_number"`
	SerialHash      *string         `json:"-" db:"serial_hash"`
	AttestationBlob *string         `json:"-" db:"attestation_blob"`
	PublicKey       *string         `json:"public_key,omitempty" db:"public_key"`
	Model           *string         `json:"model,omitempty" db:"model"`
	Brand           *string         `json:"brand,omitempty" db:"brand"`
	OSVersion       *string         `json:"os_version,omitempty" db:"os_version"`
	NodeID          *string         `json:"node_id,omitempty" db:"node_id"`
	PushToken       *string         `json:"-" db:"push_token"`
	Status          string          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

// DeviceInfo carries optional device metadata supplied at registration or
// through a partial update. Nil pointers mean "leave the stored value alone";
// clients routinely send only the field they refreshed (e.g. a push token).
type DeviceInfo struct {
	SerialNumber    *string `json:"serialNumber,omitempty"`
	AttestationBlob *string `json:"attestationBlob,omitempty"`
	PublicKey       *string `json:"publicKey,omitempty"`
	Model           *string `json:"model,omitempty"`
	Brand           *string `json:"brand,omitempty"`
	OSVersion       *string `json:"osVersion,omitempty"`
	NodeID          *string `json:"nodeId,omitempty"`
	PushToken       *string `json:"pushToken,omitempty"`
}

// Empty reports whether no field is set at all.
func (d *DeviceInfo) Empty() bool {
	if d == nil {
		return true
	}
	return d.SerialNumber == nil && d.AttestationBlob == nil && d.PublicKey == nil &&
		d.Model == nil && d.Brand == nil && d.OSVersion == nil && d.NodeID == nil &&
		d.PushToken == nil
}
