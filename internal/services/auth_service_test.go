package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"

	"github.com/watchtoken/backend/internal/models"
)

func newTestAuth(t *testing.T) (*AuthService, *LedgerService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	viper.Set("jwt.secret_key", "test-secret")
	viper.Set("jwt.expiry_hours", 1)

	ledger := NewLedgerService(db, testLedgerConfig())
	return NewAuthService(db, ledger), ledger, mock, func() { db.Close() }
}

func postToken(t *testing.T, service *AuthService, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	assert.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewReader(data))
	w := httptest.NewRecorder()
	service.IssueToken(w, req)
	return w
}

func TestAuthService_IssueToken(t *testing.T) {
	t.Run("valid serial yields a signed token", func(t *testing.T) {
		service, ledger, mock, cleanup := newTestAuth(t)
		defer cleanup()

		mock.ExpectQuery("SELECT serial_hash, status FROM accounts WHERE id = \\$1").
			WithArgs(accountA).
			WillReturnRows(sqlmock.NewRows([]string{"serial_hash", "status"}).
				AddRow(ledger.SerialHash("SN-0001"), models.AccountStatusActive))

		w := postToken(t, service, TokenRequest{AccountID: accountA, SerialNumber: "SN-0001"})
		assert.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["success"])

		tokenStr, _ := resp["token"].(string)
		assert.NotEmpty(t, tokenStr)

		token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
			return []byte("test-secret"), nil
		})
		assert.NoError(t, err)
		claims, ok := token.Claims.(jwt.MapClaims)
		assert.True(t, ok)
		assert.Equal(t, accountA, claims["account_id"])
	})

	t.Run("wrong serial rejected", func(t *testing.T) {
		service, ledger, mock, cleanup := newTestAuth(t)
		defer cleanup()

		mock.ExpectQuery("SELECT serial_hash, status FROM accounts WHERE id = \\$1").
			WithArgs(accountA).
			WillReturnRows(sqlmock.NewRows([]string{"serial_hash", "status"}).
				AddRow(ledger.SerialHash("SN-0001"), models.AccountStatusActive))

		w := postToken(t, service, TokenRequest{AccountID: accountA, SerialNumber: "SN-WRONG"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("unknown account rejected with the same message", func(t *testing.T) {
		service, _, mock, cleanup := newTestAuth(t)
		defer cleanup()

		mock.ExpectQuery("SELECT serial_hash, status FROM accounts WHERE id = \\$1").
			WithArgs(accountB).
			WillReturnRows(sqlmock.NewRows([]string{"serial_hash", "status"}))

		w := postToken(t, service, TokenRequest{AccountID: accountB, SerialNumber: "SN-0001"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Invalid credentials", resp.Message)
	})

	t.Run("deregistered account rejected", func(t *testing.T) {
		service, ledger, mock, cleanup := newTestAuth(t)
		defer cleanup()

		mock.ExpectQuery("SELECT serial_hash, status FROM accounts WHERE id = \\$1").
			WithArgs(accountA).
			WillReturnRows(sqlmock.NewRows([]string{"serial_hash", "status"}).
				AddRow(ledger.SerialHash("SN-0001"), models.AccountStatusDeregistered))

		w := postToken(t, service, TokenRequest{AccountID: accountA, SerialNumber: "SN-0001"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing fields fail validation before any query", func(t *testing.T) {
		service, _, _, cleanup := newTestAuth(t)
		defer cleanup()

		w := postToken(t, service, map[string]string{"accountId": accountA})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-uuid account id fails validation", func(t *testing.T) {
		service, _, _, cleanup := newTestAuth(t)
		defer cleanup()

		w := postToken(t, service, TokenRequest{AccountID: "not-a-uuid", SerialNumber: "SN-0001"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
