package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v8"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/watchtoken/backend/internal/models"
)

func newTestQR(t *testing.T) (*QRService, sqlmock.Sqlmock, redismock.ClientMock, func()) {
	t.Helper()
	db, dbMock, err := sqlmock.New()
	assert.NoError(t, err)
	redisClient, redisMock := redismock.NewClientMock()
	qs := NewQRService(db, redisClient, testLedgerConfig())
	return qs, dbMock, redisMock, func() { db.Close() }
}

func TestQRService_GenerateReceiveCode(t *testing.T) {
	t.Run("active account with amount", func(t *testing.T) {
		qs, dbMock, redisMock, cleanup := newTestQR(t)
		defer cleanup()

		dbMock.ExpectQuery("SELECT status FROM accounts WHERE id = \\$1").
			WithArgs(accountA).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.AccountStatusActive))
		redisMock.Regexp().ExpectSet(`qr:.+`, `.+`, qs.cfg.QRCodeTimeout).SetVal("OK")

		amount := decimal.NewFromInt(25)
		code, pngB64, err := qs.GenerateReceiveCode(context.Background(), accountA, &amount)
		assert.NoError(t, err)
		assert.NotEmpty(t, code)
		assert.NotEmpty(t, pngB64)

		// The code itself carries the payload.
		raw, err := base64.URLEncoding.DecodeString(code)
		assert.NoError(t, err)
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(raw, &payload))
		assert.Equal(t, accountA, payload["accountId"])
		assert.Equal(t, "25", payload["amount"])
		assert.NotEmpty(t, payload["nonce"])

		_, err = base64.StdEncoding.DecodeString(pngB64)
		assert.NoError(t, err)
		assert.NoError(t, dbMock.ExpectationsWereMet())
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("amount omitted from payload when nil", func(t *testing.T) {
		qs, dbMock, redisMock, cleanup := newTestQR(t)
		defer cleanup()

		dbMock.ExpectQuery("SELECT status FROM accounts WHERE id = \\$1").
			WithArgs(accountA).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.AccountStatusActive))
		redisMock.Regexp().ExpectSet(`qr:.+`, `.+`, qs.cfg.QRCodeTimeout).SetVal("OK")

		code, _, err := qs.GenerateReceiveCode(context.Background(), accountA, nil)
		assert.NoError(t, err)

		raw, err := base64.URLEncoding.DecodeString(code)
		assert.NoError(t, err)
		var payload map[string]any
		assert.NoError(t, json.Unmarshal(raw, &payload))
		_, hasAmount := payload["amount"]
		assert.False(t, hasAmount)
	})

	t.Run("deregistered account rejected", func(t *testing.T) {
		qs, dbMock, _, cleanup := newTestQR(t)
		defer cleanup()

		dbMock.ExpectQuery("SELECT status FROM accounts WHERE id = \\$1").
			WithArgs(accountA).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(models.AccountStatusDeregistered))

		_, _, err := qs.GenerateReceiveCode(context.Background(), accountA, nil)
		le, ok := AsLedgerError(err)
		assert.True(t, ok)
		assert.Equal(t, KindNotFound, le.Kind)
	})

	t.Run("unavailable without redis", func(t *testing.T) {
		qs := NewQRService(nil, nil, testLedgerConfig())
		_, _, err := qs.GenerateReceiveCode(context.Background(), accountA, nil)
		assert.Error(t, err)
	})
}

func TestQRService_ProcessReceiveCode(t *testing.T) {
	t.Run("valid code is returned and consumed", func(t *testing.T) {
		qs, _, redisMock, cleanup := newTestQR(t)
		defer cleanup()

		payload := `{"accountId":"` + accountA + `","nonce":"abc"}`
		redisMock.ExpectGet("qr:somecode").SetVal(payload)
		redisMock.ExpectDel("qr:somecode").SetVal(1)

		result, err := qs.ProcessReceiveCode(context.Background(), "somecode")
		assert.NoError(t, err)
		assert.Equal(t, accountA, result["accountId"])
		assert.NoError(t, redisMock.ExpectationsWereMet())
	})

	t.Run("expired or unknown code", func(t *testing.T) {
		qs, _, redisMock, cleanup := newTestQR(t)
		defer cleanup()

		redisMock.ExpectGet("qr:expired").RedisNil()

		_, err := qs.ProcessReceiveCode(context.Background(), "expired")
		assert.EqualError(t, err, "invalid or expired QR code")
	})
}
