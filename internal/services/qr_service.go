package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/watchtoken/backend/internal/config"
	"github.com/watchtoken/backend/internal/models"
)

// QRService produces single-use receive codes: a device shows the QR, the
// counterpart scans it and gets the target account (and optional amount) to
// prefill a transfer. Codes live in Redis under a short TTL and are consumed
// on first scan.
type QRService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.LedgerConfig
}

func NewQRService(db *sql.DB, redisClient *redis.Client, cfg *config.LedgerConfig) *QRService {
	return &QRService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
	}
}

// GenerateReceiveCode builds the code and its PNG rendering for an active
// account. Returns (code, base64 PNG).
func (s *QRService) GenerateReceiveCode(ctx context.Context, accountID string, amount *decimal.Decimal) (string, string, error) {
	if s.redis == nil {
		return "", "", fmt.Errorf("receive codes unavailable without redis")
	}

	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM accounts WHERE id = $1`, accountID).Scan(&status)
	if err == sql.ErrNoRows {
		return "", "", ledgerErrf(KindNotFound, "Account %s not found", accountID)
	}
	if err != nil {
		return "", "", mapStorageError(err)
	}
	if status != models.AccountStatusActive {
		return "", "", ledgerErrf(KindNotFound, "Account %s is deregistered", accountID)
	}

	qrData := map[string]any{
		"accountId": accountID,
		"nonce":     s.generateNonce(),
	}
	if amount != nil && amount.IsPositive() {
		qrData["amount"] = amount.String()
	}

	jsonData, err := json.Marshal(qrData)
	if err != nil {
		return "", "", err
	}

	code := base64.URLEncoding.EncodeToString(jsonData)

	key := fmt.Sprintf("qr:%s", code)
	if err := s.redis.Set(ctx, key, jsonData, s.cfg.QRCodeTimeout).Err(); err != nil {
		return "", "", err
	}

	qr, err := qrcode.New(code, qrcode.Medium)
	if err != nil {
		return "", "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", "", err
	}

	return code, base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// ProcessReceiveCode consumes a scanned code and returns its payload.
func (s *QRService) ProcessReceiveCode(ctx context.Context, code string) (map[string]any, error) {
	if s.redis == nil {
		return nil, fmt.Errorf("receive codes unavailable without redis")
	}

	key := fmt.Sprintf("qr:%s", code)

	data, err := s.redis.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, fmt.Errorf("invalid or expired QR code")
	}
	if err != nil {
		return nil, err
	}

	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}

	s.redis.Del(ctx, key)

	return result, nil
}

func (s *QRService) generateNonce() string {
	b := make([]byte, 16)
	rand.Read(b)
	return base64.URLEncoding.EncodeToString(b)
}
