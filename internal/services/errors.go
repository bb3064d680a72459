package services

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/lib/pq"
)

// ErrorKind is the machine-readable error classification returned alongside
// the human message. Clients must branch on the kind, never on message text.
type ErrorKind string

const (
	KindAlreadyRegistered   ErrorKind = "ALREADY_REGISTERED"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindSupplyExceeded      ErrorKind = "SUPPLY_EXCEEDED"
	KindInvalidAmount       ErrorKind = "INVALID_AMOUNT"
	KindSameAccountTransfer ErrorKind = "SAME_ACCOUNT_TRANSFER"
	KindContention          ErrorKind = "CONTENTION"
	KindStorageFailure      ErrorKind = "STORAGE_FAILURE"
)

// LedgerError carries the kind plus a human-readable message. AccountID is
// set for ALREADY_REGISTERED so callers get the existing account back.
type LedgerError struct {
	Kind      ErrorKind
	Message   string
	AccountID string
	Err       error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may safely retry the same operation.
// Only lock contention qualifies; everything else needs user intervention.
func (e *LedgerError) Retryable() bool {
	return e.Kind == KindContention
}

func ledgerErr(kind ErrorKind, message string) *LedgerError {
	return &LedgerError{Kind: kind, Message: message}
}

func ledgerErrf(kind ErrorKind, format string, args ...any) *LedgerError {
	return &LedgerError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsLedgerError unwraps err into a *LedgerError if possible.
func AsLedgerError(err error) (*LedgerError, bool) {
	var le *LedgerError
	if errors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// HTTPStatus maps an error kind to the HTTP status used by the API layer.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindAlreadyRegistered:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindInsufficientBalance, KindSupplyExceeded, KindInvalidAmount, KindSameAccountTransfer:
		return http.StatusUnprocessableEntity
	case KindContention:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Postgres error codes the engine reacts to.
const (
	pgUniqueViolation  = "23505"
	pgLockNotAvailable = "55P03"
	pgDeadlockDetected = "40P01"
)

// mapStorageError converts a raw database error into the taxonomy. Lock-wait
// timeouts and deadlocks become retryable CONTENTION; everything else is a
// STORAGE_FAILURE that the caller must retry as a whole operation.
func mapStorageError(err error) *LedgerError {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgLockNotAvailable, pgDeadlockDetected:
			return &LedgerError{Kind: KindContention, Message: "The ledger is busy, please retry", Err: err}
		}
	}
	if errors.Is(err, sql.ErrNoRows) {
		return &LedgerError{Kind: KindNotFound, Message: "Record not found", Err: err}
	}
	return &LedgerError{Kind: KindStorageFailure, Message: "Ledger storage failure", Err: err}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && string(pqErr.Code) == pgUniqueViolation
}
