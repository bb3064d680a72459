package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/argon2"

	"github.com/watchtoken/backend/internal/config"
	"github.com/watchtoken/backend/internal/models"
)

// LedgerService is the ledger engine. Every operation runs inside a single
// database transaction; account rows are the only shared mutable resource and
// are always locked FOR UPDATE before their balances are read. The
// total_supply config row joins the same lock scope on mint/burn.
type LedgerService struct {
	db  *sql.DB
	cfg *config.LedgerConfig
}

func NewLedgerService(db *sql.DB, cfg *config.LedgerConfig) *LedgerService {
	return &LedgerService{db: db, cfg: cfg}
}

// EnsureConfig seeds the ledger_config rows on first boot. Existing values
// win so a restart never resets total_supply.
func (s *LedgerService) EnsureConfig(ctx context.Context) error {
	seed := []struct {
		key   string
		value string
	}{
		{models.ConfigKeyTotalSupply, "0"},
		{models.ConfigKeyMaxSupply, s.cfg.MaxSupply.String()},
		{models.ConfigKeyTokenSymbol, s.cfg.TokenSymbol},
		{models.ConfigKeyTokenDecimals, fmt.Sprintf("%d", s.cfg.TokenDecimals)},
		{models.ConfigKeyVersion, "1"},
	}
	for _, row := range seed {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO ledger_config (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING`,
			row.key, row.value)
		if err != nil {
			return mapStorageError(err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction and guarantees rollback on any error
// path. A per-transaction lock_timeout converts lock waits into retryable
// CONTENTION instead of hanging.
func (s *LedgerService) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapStorageError(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("SET LOCAL lock_timeout = %d", s.cfg.LockTimeout.Milliseconds())); err != nil {
		return mapStorageError(err)
	}

	if err := fn(tx); err != nil {
		if le, ok := AsLedgerError(err); ok {
			return le
		}
		return mapStorageError(err)
	}

	if err := tx.Commit(); err != nil {
		return mapStorageError(err)
	}
	return nil
}

// lockedAccount is the row image held under FOR UPDATE.
type lockedAccount struct {
	ID      string
	Balance decimal.Decimal
	Status  string
}

// lockAccount acquires the row lock for one account and returns its balance
// as of the lock acquisition.
func (s *LedgerService) lockAccount(tx *sql.Tx, accountID string) (*lockedAccount, error) {
	var acc lockedAccount
	err := tx.QueryRow(
		`SELECT id, balance, status FROM accounts WHERE id = $1 FOR UPDATE`,
		accountID,
	).Scan(&acc.ID, &acc.Balance, &acc.Status)
	if err == sql.ErrNoRows {
		return nil, ledgerErrf(KindNotFound, "Account %s not found", accountID)
	}
	if err != nil {
		return nil, mapStorageError(err)
	}
	return &acc, nil
}

// lockAccountPair locks both accounts of a transfer in ascending id order
// regardless of direction, so concurrent A->B and B->A transfers can never
// form a deadlock cycle. Results are returned in (from, to) roles.
func (s *LedgerService) lockAccountPair(tx *sql.Tx, fromID, toID string) (*lockedAccount, *lockedAccount, error) {
	firstID, secondID := lockOrder(fromID, toID)

	first, err := s.lockAccount(tx, firstID)
	if err != nil {
		return nil, nil, err
	}
	second, err := s.lockAccount(tx, secondID)
	if err != nil {
		return nil, nil, err
	}

	if firstID == fromID {
		return first, second, nil
	}
	return second, first, nil
}

// lockOrder returns the two ids in the deterministic global locking order.
func lockOrder(a, b string) (string, string) {
	if strings.Compare(a, b) <= 0 {
		return a, b
	}
	return b, a
}

// lockSupply locks the total_supply config row and returns the current total
// together with the max supply cap (zero means unlimited).
func (s *LedgerService) lockSupply(tx *sql.Tx) (total, max decimal.Decimal, err error) {
	var totalStr string
	err = tx.QueryRow(
		`SELECT value FROM ledger_config WHERE key = $1 FOR UPDATE`,
		models.ConfigKeyTotalSupply,
	).Scan(&totalStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, mapStorageError(err)
	}
	total, err = decimal.NewFromString(totalStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, ledgerErrf(KindStorageFailure, "Corrupt total_supply value %q", totalStr)
	}

	var maxStr string
	err = tx.QueryRow(
		`SELECT value FROM ledger_config WHERE key = $1`,
		models.ConfigKeyMaxSupply,
	).Scan(&maxStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, mapStorageError(err)
	}
	max, err = decimal.NewFromString(maxStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, ledgerErrf(KindStorageFailure, "Corrupt max_supply value %q", maxStr)
	}
	return total, max, nil
}

func (s *LedgerService) updateSupply(tx *sql.Tx, total decimal.Decimal) error {
	_, err := tx.Exec(
		`UPDATE ledger_config SET value = $1, updated_at = now() WHERE key = $2`,
		total.String(), models.ConfigKeyTotalSupply)
	if err != nil {
		return mapStorageError(err)
	}
	return nil
}

// insertTransaction writes the transaction record as COMPLETED. A hash
// collision is a hard failure: the operation aborts rather than silently
// reusing an existing record.
func (s *LedgerService) insertTransaction(tx *sql.Tx, txType string, from, to *string, amount decimal.Decimal, memo string) (string, error) {
	txID := uuid.NewString()
	hash := computeTxHash(txType, from, to, amount, time.Now())

	var memoVal *string
	if memo != "" {
		memoVal = &memo
	}

	_, err := tx.Exec(
		`INSERT INTO transactions (id, hash, type, from_account, to_account, amount, memo, status, created_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())`,
		txID, hash, txType, from, to, amount, memoVal, models.TxStatusCompleted)
	if err != nil {
		if isUniqueViolation(err) {
			return "", &LedgerError{Kind: KindStorageFailure, Message: "Transaction hash collision", Err: err}
		}
		return "", mapStorageError(err)
	}
	return txID, nil
}

// appendAudit records one balance change against its transaction. The delta
// is always newBalance - previousBalance by construction.
func (s *LedgerService) appendAudit(tx *sql.Tx, accountID string, previous, delta decimal.Decimal, txID string) error {
	newBalance := previous.Add(delta)
	_, err := tx.Exec(
		`INSERT INTO audit_log (account_id, previous_balance, new_balance, delta, transaction_id)
		 VALUES ($1, $2, $3, $4, $5)`,
		accountID, previous, newBalance, delta, txID)
	if err != nil {
		return mapStorageError(err)
	}
	return nil
}

func (s *LedgerService) setBalance(tx *sql.Tx, accountID string, balance decimal.Decimal) error {
	_, err := tx.Exec(
		`UPDATE accounts SET balance = $1, updated_at = now() WHERE id = $2`,
		balance, accountID)
	if err != nil {
		return mapStorageError(err)
	}
	return nil
}

// Register creates a new account for the given identity (the device serial
// number). Registration is all-or-nothing: if the optional initial mint fails
// the account creation rolls back with it.
func (s *LedgerService) Register(ctx context.Context, identity string, initialBalance decimal.Decimal, info *models.DeviceInfo) (string, error) {
	if initialBalance.IsNegative() {
		return "", ledgerErr(KindInvalidAmount, "Initial balance must not be negative")
	}

	serialHash := s.SerialHash(identity)
	accountID := uuid.NewString()

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existingID string
		err := tx.QueryRow(`SELECT id FROM accounts WHERE serial_hash = $1`, serialHash).Scan(&existingID)
		if err == nil {
			return &LedgerError{
				Kind:      KindAlreadyRegistered,
				Message:   "Device is already registered",
				AccountID: existingID,
			}
		}
		if err != sql.ErrNoRows {
			return mapStorageError(err)
		}

		var d models.DeviceInfo
		if info != nil {
			d = *info
		}
		_, err = tx.Exec(
			`INSERT INTO accounts (id, balance, serial_number, serial_hash, attestation_blob, public_key, model, brand, os_version, node_id, push_token, status)
			 VALUES ($1, 0, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			accountID, identity, serialHash, d.AttestationBlob, d.PublicKey, d.Model,
			d.Brand, d.OSVersion, d.NodeID, d.PushToken, models.AccountStatusActive)
		if err != nil {
			if isUniqueViolation(err) {
				// Lost a race against a concurrent registration of the same
				// serial. The failed insert aborted this transaction, so the
				// winner's id comes from a fresh connection.
				le := &LedgerError{Kind: KindAlreadyRegistered, Message: "Device is already registered", Err: err}
				var existingID string
				if qerr := s.db.QueryRowContext(ctx,
					`SELECT id FROM accounts WHERE serial_hash = $1`, serialHash,
				).Scan(&existingID); qerr == nil {
					le.AccountID = existingID
				}
				return le
			}
			return mapStorageError(err)
		}

		if initialBalance.IsPositive() {
			total, max, err := s.lockSupply(tx)
			if err != nil {
				return err
			}
			newTotal := total.Add(initialBalance)
			if !max.IsZero() && newTotal.GreaterThan(max) {
				return ledgerErrf(KindSupplyExceeded, "Initial balance would exceed max supply of %s", max)
			}

			txID, err := s.insertTransaction(tx, models.TxTypeMint, nil, &accountID, initialBalance, "initial balance")
			if err != nil {
				return err
			}
			if err := s.appendAudit(tx, accountID, decimal.Zero, initialBalance, txID); err != nil {
				return err
			}
			if err := s.setBalance(tx, accountID, initialBalance); err != nil {
				return err
			}
			if err := s.updateSupply(tx, newTotal); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Registered account %s", accountID)
	return accountID, nil
}

// Transfer moves amount from one account to another. Both rows are locked in
// deterministic order before any balance is read; the two audit entries net
// to zero.
func (s *LedgerService) Transfer(ctx context.Context, fromID, toID string, amount decimal.Decimal, memo string) (string, error) {
	if !amount.IsPositive() {
		return "", ledgerErr(KindInvalidAmount, "Transfer amount must be positive")
	}
	if fromID == toID {
		return "", ledgerErr(KindSameAccountTransfer, "Cannot transfer to the same account")
	}

	var txID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		from, to, err := s.lockAccountPair(tx, fromID, toID)
		if err != nil {
			return err
		}
		if from.Status != models.AccountStatusActive {
			return ledgerErrf(KindNotFound, "Account %s is deregistered", fromID)
		}
		if to.Status != models.AccountStatusActive {
			return ledgerErrf(KindNotFound, "Account %s is deregistered", toID)
		}
		if from.Balance.LessThan(amount) {
			return ledgerErr(KindInsufficientBalance, "Insufficient balance to complete transfer")
		}

		txID, err = s.insertTransaction(tx, models.TxTypeTransfer, &fromID, &toID, amount, memo)
		if err != nil {
			return err
		}
		if err := s.appendAudit(tx, fromID, from.Balance, amount.Neg(), txID); err != nil {
			return err
		}
		if err := s.appendAudit(tx, toID, to.Balance, amount, txID); err != nil {
			return err
		}
		if err := s.setBalance(tx, fromID, from.Balance.Sub(amount)); err != nil {
			return err
		}
		return s.setBalance(tx, toID, to.Balance.Add(amount))
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Transfer %s: %s -> %s amount %s", txID, fromID, toID, amount)
	return txID, nil
}

// Mint creates new balance for an account and grows total supply within the
// same transaction.
func (s *LedgerService) Mint(ctx context.Context, accountID string, amount decimal.Decimal, memo string) (string, error) {
	if !amount.IsPositive() {
		return "", ledgerErr(KindInvalidAmount, "Mint amount must be positive")
	}

	var txID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		acc, err := s.lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acc.Status != models.AccountStatusActive {
			return ledgerErrf(KindNotFound, "Account %s is deregistered", accountID)
		}

		total, max, err := s.lockSupply(tx)
		if err != nil {
			return err
		}
		newTotal := total.Add(amount)
		if !max.IsZero() && newTotal.GreaterThan(max) {
			return ledgerErrf(KindSupplyExceeded, "Mint would exceed max supply of %s", max)
		}

		txID, err = s.insertTransaction(tx, models.TxTypeMint, nil, &accountID, amount, memo)
		if err != nil {
			return err
		}
		if err := s.appendAudit(tx, accountID, acc.Balance, amount, txID); err != nil {
			return err
		}
		if err := s.setBalance(tx, accountID, acc.Balance.Add(amount)); err != nil {
			return err
		}
		return s.updateSupply(tx, newTotal)
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Mint %s: account %s amount %s", txID, accountID, amount)
	return txID, nil
}

// Burn destroys balance from an account and shrinks total supply within the
// same transaction.
func (s *LedgerService) Burn(ctx context.Context, accountID string, amount decimal.Decimal, memo string) (string, error) {
	if !amount.IsPositive() {
		return "", ledgerErr(KindInvalidAmount, "Burn amount must be positive")
	}

	var txID string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		acc, err := s.lockAccount(tx, accountID)
		if err != nil {
			return err
		}
		if acc.Status != models.AccountStatusActive {
			return ledgerErrf(KindNotFound, "Account %s is deregistered", accountID)
		}
		if acc.Balance.LessThan(amount) {
			return ledgerErr(KindInsufficientBalance, "Insufficient balance to burn")
		}

		total, _, err := s.lockSupply(tx)
		if err != nil {
			return err
		}

		txID, err = s.insertTransaction(tx, models.TxTypeBurn, &accountID, nil, amount, memo)
		if err != nil {
			return err
		}
		if err := s.appendAudit(tx, accountID, acc.Balance, amount.Neg(), txID); err != nil {
			return err
		}
		if err := s.setBalance(tx, accountID, acc.Balance.Sub(amount)); err != nil {
			return err
		}
		return s.updateSupply(tx, total.Sub(amount))
	})
	if err != nil {
		return "", err
	}

	log.Printf("[LEDGER] Burn %s: account %s amount %s", txID, accountID, amount)
	return txID, nil
}

// GetBalance returns the current balance without taking locks.
func (s *LedgerService) GetBalance(ctx context.Context, accountID string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx,
		`SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err == sql.ErrNoRows {
		return decimal.Zero, ledgerErrf(KindNotFound, "Account %s not found", accountID)
	}
	if err != nil {
		return decimal.Zero, mapStorageError(err)
	}
	return balance, nil
}

// UpdateDeviceInfo applies a partial metadata update. Only fields present in
// info are written; omitted fields keep their stored values. A serial number
// change recomputes the serial hash server-side, never from client input.
func (s *LedgerService) UpdateDeviceInfo(ctx context.Context, accountID string, info *models.DeviceInfo) error {
	if info.Empty() {
		return nil
	}

	set := []string{}
	args := []any{}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if info.SerialNumber != nil {
		add("serial_number", *info.SerialNumber)
		add("serial_hash", s.SerialHash(*info.SerialNumber))
	}
	if info.AttestationBlob != nil {
		add("attestation_blob", *info.AttestationBlob)
	}
	if info.PublicKey != nil {
		add("public_key", *info.PublicKey)
	}
	if info.Model != nil {
		add("model", *info.Model)
	}
	if info.Brand != nil {
		add("brand", *info.Brand)
	}
	if info.OSVersion != nil {
		add("os_version", *info.OSVersion)
	}
	if info.NodeID != nil {
		add("node_id", *info.NodeID)
	}
	if info.PushToken != nil {
		add("push_token", *info.PushToken)
	}
	set = append(set, "updated_at = now()")

	args = append(args, accountID)
	query := fmt.Sprintf("UPDATE accounts SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	return s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(query, args...)
		if err != nil {
			if isUniqueViolation(err) {
				return ledgerErr(KindAlreadyRegistered, "Serial number is already registered to another device")
			}
			return mapStorageError(err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return mapStorageError(err)
		}
		if rows == 0 {
			return ledgerErrf(KindNotFound, "Account %s not found", accountID)
		}
		return nil
	})
}

// Deregister soft-deletes the account: the balance and audit history stay in
// place, the account just stops participating in transfers.
func (s *LedgerService) Deregister(ctx context.Context, accountID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result, err := tx.Exec(
			`UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2`,
			models.AccountStatusDeregistered, accountID)
		if err != nil {
			return mapStorageError(err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return mapStorageError(err)
		}
		if rows == 0 {
			return ledgerErrf(KindNotFound, "Account %s not found", accountID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("[LEDGER] Deregistered account %s", accountID)
	return nil
}

// SerialHash derives the stored one-way hash of a serial number. The salt is
// fixed per deployment so the hash stays usable as a unique lookup key.
func (s *LedgerService) SerialHash(serialNumber string) string {
	sum := argon2.IDKey([]byte(serialNumber), []byte(s.cfg.SerialSalt), 1, 64*1024, 4, 32)
	return hex.EncodeToString(sum)
}

// computeTxHash derives the globally unique transaction hash from the
// participating accounts, amount, type, and creation time.
func computeTxHash(txType string, from, to *string, amount decimal.Decimal, at time.Time) string {
	fromStr, toStr := "", ""
	if from != nil {
		fromStr = *from
	}
	if to != nil {
		toStr = *to
	}
	payload := fmt.Sprintf("%s|%s|%s|%s|%d", txType, fromStr, toStr, amount.String(), at.UnixNano())
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
