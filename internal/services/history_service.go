package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/watchtoken/backend/internal/models"
)

// HistoryService serves the immutable transaction log and per-account audit
// chains. Reads only; never participates in balance decisions.
type HistoryService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewHistoryService(db *sql.DB) *HistoryService {
	return &HistoryService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

const txColumns = `id, hash, type, from_account, to_account, amount, memo, status, created_at, completed_at`

func scanTransaction(row interface{ Scan(...any) error }) (*models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(&t.ID, &t.Hash, &t.Type, &t.FromAccount, &t.ToAccount,
		&t.Amount, &t.Memo, &t.Status, &t.CreatedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (hs *HistoryService) fetchTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	row := hs.db.QueryRowContext(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, txID)
	return scanTransaction(row)
}

func (hs *HistoryService) fetchTransactions(ctx context.Context, accountID, status string, limit int) ([]models.Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions`
	args := []any{}
	where := ""
	if accountID != "" {
		args = append(args, accountID)
		where = ` WHERE (from_account = $1 OR to_account = $1)`
	}
	if status != "" {
		args = append(args, status)
		if where == "" {
			where = ` WHERE status = $1`
		} else {
			where += ` AND status = $2`
		}
	}
	args = append(args, limit)
	query += where + ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := hs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

func (hs *HistoryService) fetchAuditLog(ctx context.Context, accountID string, limit int) ([]models.AuditLogEntry, error) {
	rows, err := hs.db.QueryContext(ctx,
		`SELECT id, account_id, previous_balance, new_balance, delta, transaction_id, created_at
		 FROM audit_log WHERE account_id = $1 ORDER BY id DESC LIMIT $2`,
		accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.AuditLogEntry{}
	for rows.Next() {
		var e models.AuditLogEntry
		err := rows.Scan(&e.ID, &e.AccountID, &e.PreviousBalance, &e.NewBalance,
			&e.Delta, &e.TransactionID, &e.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListTransactions handles transaction listing
// @Summary List transactions
// @Description List transactions, optionally filtered by account and status
// @Tags transactions
// @Produce json
// @Param accountId query string false "Filter by account"
// @Param status query string false "Filter by status"
// @Success 200 {object} map[string]any
// @Router /transactions [get]
func (hs *HistoryService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	status := r.URL.Query().Get("status")
	limit := 50

	if accountID != "" {
		if _, err := uuid.Parse(accountID); err != nil {
			SendErrorResponse(w, "accountId must be a valid UUID", http.StatusBadRequest, nil)
			return
		}
	}

	transactions, err := hs.fetchTransactions(r.Context(), accountID, status, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success":      true,
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// GetTransaction handles single transaction lookups
// @Summary Get transaction
// @Description Fetch one transaction by id
// @Tags transactions
// @Produce json
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txId} [get]
func (hs *HistoryService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")
	if _, err := uuid.Parse(txID); err != nil {
		// A malformed id cannot name any transaction.
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	tx, err := hs.fetchTransaction(r.Context(), txID)
	if err != nil {
		if err == sql.ErrNoRows {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(tx)
}

// GetRecentTransactions handles recent activity lookups for one account
// @Summary Recent transactions
// @Description Most recent transactions touching the given account
// @Tags transactions
// @Produce json
// @Param accountId query string true "Account ID"
// @Param limit query int false "Max entries (default 10)"
// @Success 200 {array} models.Transaction
// @Router /transactions/recent [get]
func (hs *HistoryService) GetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		SendErrorResponse(w, "accountId query parameter required", http.StatusBadRequest, nil)
		return
	}
	if _, err := uuid.Parse(accountID); err != nil {
		SendErrorResponse(w, "accountId must be a valid UUID", http.StatusBadRequest, nil)
		return
	}

	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 10

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}

	if err := hs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transactions, err := hs.fetchTransactions(r.Context(), accountID, models.TxStatusCompleted, req.Limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch recent transactions", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// GetAuditLog handles audit chain listing
// @Summary Account audit log
// @Description Ordered balance-change history for one account
// @Tags transactions
// @Produce json
// @Param accountId path string true "Account ID"
// @Param limit query int false "Max entries (default 100)"
// @Success 200 {object} map[string]any
// @Router /accounts/{accountId}/audit-log [get]
func (hs *HistoryService) GetAuditLog(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")
	if _, err := uuid.Parse(accountID); err != nil {
		SendErrorResponse(w, "accountId must be a valid UUID", http.StatusBadRequest, nil)
		return
	}

	limit := 100
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 1000 {
			limit = l
		}
	}

	entries, err := hs.fetchAuditLog(r.Context(), accountID, limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch audit log", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"entries": entries,
		"count":   len(entries),
	})
}
