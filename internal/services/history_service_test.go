package services

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/watchtoken/backend/internal/models"
)

func newTestHistory(t *testing.T) (*HistoryService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	return NewHistoryService(db), mock, func() { db.Close() }
}

func txRows(now time.Time) *sqlmock.Rows {
	from, to, memo := accountA, accountB, "rent"
	rows := sqlmock.NewRows([]string{
		"id", "hash", "type", "from_account", "to_account",
		"amount", "memo", "status", "created_at", "completed_at",
	})
	rows.AddRow("tx-1", "hash-1", models.TxTypeTransfer, from, to,
		"300", memo, models.TxStatusCompleted, now, now)
	rows.AddRow("tx-2", "hash-2", models.TxTypeMint, nil, to,
		"1000", nil, models.TxStatusCompleted, now, now)
	return rows
}

func TestHistoryService_ListTransactions(t *testing.T) {
	hs, mock, cleanup := newTestHistory(t)
	defer cleanup()

	t.Run("unfiltered", func(t *testing.T) {
		mock.ExpectQuery("FROM transactions ORDER BY created_at DESC LIMIT \\$1").
			WithArgs(50).
			WillReturnRows(txRows(time.Now()))

		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions", nil)
		w := httptest.NewRecorder()
		hs.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])
		assert.Equal(t, float64(2), resp["count"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("malformed accountId filter rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?accountId=junk", nil)
		w := httptest.NewRecorder()
		hs.ListTransactions(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("filtered by account and status", func(t *testing.T) {
		mock.ExpectQuery(`WHERE \(from_account = \$1 OR to_account = \$1\) AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
			WithArgs(accountA, models.TxStatusCompleted, 50).
			WillReturnRows(txRows(time.Now()))

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/transactions?accountId="+accountA+"&status=COMPLETED", nil)
		w := httptest.NewRecorder()
		hs.ListTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryService_GetTransaction(t *testing.T) {
	hs, mock, cleanup := newTestHistory(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Get("/transactions/{txId}", hs.GetTransaction)

	t.Run("found", func(t *testing.T) {
		txID := "44444444-4444-4444-8444-444444444444"
		from, to, memo := accountA, accountB, "rent"
		now := time.Now()
		mock.ExpectQuery("FROM transactions WHERE id = \\$1").
			WithArgs(txID).
			WillReturnRows(sqlmock.NewRows([]string{
				"id", "hash", "type", "from_account", "to_account",
				"amount", "memo", "status", "created_at", "completed_at",
			}).AddRow(txID, "hash-1", models.TxTypeTransfer, from, to,
				"300", memo, models.TxStatusCompleted, now, now))

		req := httptest.NewRequest(http.MethodGet, "/transactions/"+txID, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var tx models.Transaction
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &tx))
		assert.Equal(t, txID, tx.ID)
		assert.Equal(t, models.TxTypeTransfer, tx.Type)
		assert.NotNil(t, tx.FromAccount)
		assert.Equal(t, accountA, *tx.FromAccount)
	})

	t.Run("not found", func(t *testing.T) {
		missing := "33333333-3333-4333-8333-333333333333"
		mock.ExpectQuery("FROM transactions WHERE id = \\$1").
			WithArgs(missing).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		req := httptest.NewRequest(http.MethodGet, "/transactions/"+missing, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed id is not found, never a storage error", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/transactions/not-a-uuid", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestHistoryService_GetRecentTransactions(t *testing.T) {
	hs, mock, cleanup := newTestHistory(t)
	defer cleanup()

	t.Run("defaults to completed with limit 10", func(t *testing.T) {
		mock.ExpectQuery(`WHERE \(from_account = \$1 OR to_account = \$1\) AND status = \$2 ORDER BY created_at DESC LIMIT \$3`).
			WithArgs(accountA, models.TxStatusCompleted, 10).
			WillReturnRows(txRows(time.Now()))

		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/transactions/recent?accountId="+accountA, nil)
		w := httptest.NewRecorder()
		hs.GetRecentTransactions(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing accountId", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/recent", nil)
		w := httptest.NewRecorder()
		hs.GetRecentTransactions(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed accountId", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions/recent?accountId=junk", nil)
		w := httptest.NewRecorder()
		hs.GetRecentTransactions(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("limit out of range", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet,
			"/api/v1/transactions/recent?accountId="+accountA+"&limit=500", nil)
		w := httptest.NewRecorder()
		hs.GetRecentTransactions(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHistoryService_GetAuditLog(t *testing.T) {
	hs, mock, cleanup := newTestHistory(t)
	defer cleanup()

	router := chi.NewRouter()
	router.Get("/accounts/{accountId}/audit-log", hs.GetAuditLog)

	now := time.Now()
	mock.ExpectQuery("FROM audit_log WHERE account_id = \\$1 ORDER BY id DESC LIMIT \\$2").
		WithArgs(accountA, 100).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "account_id", "previous_balance", "new_balance", "delta", "transaction_id", "created_at",
		}).
			AddRow(2, accountA, "1000", "700", "-300", "tx-1", now).
			AddRow(1, accountA, "0", "1000", "1000", "tx-0", now))

	req := httptest.NewRequest(http.MethodGet, "/accounts/"+accountA+"/audit-log", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                   `json:"success"`
		Entries []models.AuditLogEntry `json:"entries"`
		Count   int                    `json:"count"`
	}
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, accountA, resp.Entries[0].AccountID)
	assert.True(t, resp.Entries[0].Delta.IsNegative())
	assert.NoError(t, mock.ExpectationsWereMet())

	t.Run("malformed accountId", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/accounts/not-a-uuid/audit-log", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
