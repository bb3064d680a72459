package services

import (
	"database/sql"
	"log"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/viper"

	"github.com/watchtoken/backend/internal/models"
)

// AuthService issues device session tokens. A device proves possession of its
// serial number; the server compares the derived hash against the stored one
// and hands back a short-lived JWT for the protected routes. This is session
// plumbing, not transaction signature verification.
type AuthService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewAuthService(db *sql.DB, ledger *LedgerService) *AuthService {
	return &AuthService{
		db:        db,
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// TokenRequest is the device session request payload.
type TokenRequest struct {
	AccountID    string `json:"accountId" validate:"required,uuid4"`
	SerialNumber string `json:"serialNumber" validate:"required"`
}

// IssueToken handles device session creation
// @Summary Issue device session token
// @Description Exchange an account id and serial number for a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body TokenRequest true "Token request"
// @Success 200 {object} map[string]any
// @Failure 401 {object} ErrorResponse
// @Router /auth/token [post]
func (s *AuthService) IssueToken(w http.ResponseWriter, r *http.Request) {
	var req TokenRequest
	if !decodeJSON(w, r, s.validator, &req) {
		return
	}

	var storedHash sql.NullString
	var status string
	err := s.db.QueryRowContext(r.Context(),
		`SELECT serial_hash, status FROM accounts WHERE id = $1`, req.AccountID,
	).Scan(&storedHash, &status)
	if err == sql.ErrNoRows {
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}
	if err != nil {
		log.Printf("[AUTH] Token lookup failed: %v", err)
		SendErrorResponse(w, "Failed to issue token", http.StatusInternalServerError, nil)
		return
	}

	if status != models.AccountStatusActive || !storedHash.Valid ||
		storedHash.String != s.ledger.SerialHash(req.SerialNumber) {
		log.Printf("[AUTH] Rejected token request for account %s", req.AccountID)
		SendErrorResponse(w, "Invalid credentials", http.StatusUnauthorized, nil)
		return
	}

	token, expiresAt, err := s.signToken(req.AccountID)
	if err != nil {
		log.Printf("[AUTH] Token signing failed: %v", err)
		SendErrorResponse(w, "Failed to issue token", http.StatusInternalServerError, nil)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"token":     token,
		"expiresAt": expiresAt.Unix(),
		"message":   "Token issued",
	})
}

func (s *AuthService) signToken(accountID string) (string, time.Time, error) {
	viper.SetDefault("jwt.expiry_hours", 24)
	expiresAt := time.Now().Add(time.Duration(viper.GetInt("jwt.expiry_hours")) * time.Hour)

	claims := jwt.MapClaims{
		"account_id": accountID,
		"iat":        time.Now().Unix(),
		"exp":        expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(viper.GetString("jwt.secret_key")))
	return signed, expiresAt, err
}
