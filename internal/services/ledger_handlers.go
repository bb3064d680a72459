package services

import (
	"log"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/watchtoken/backend/internal/metrics"
	"github.com/watchtoken/backend/internal/models"
)

// LedgerHandlers exposes the ledger engine operations over HTTP. One engine
// operation per request; every response carries success + message + error
// kind so clients never infer success from status codes alone.
type LedgerHandlers struct {
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewLedgerHandlers(ledger *LedgerService) *LedgerHandlers {
	return &LedgerHandlers{
		ledger:    ledger,
		validator: NewValidationHelper(),
	}
}

// RegisterRequest is the device registration payload.
type RegisterRequest struct {
	Identity       string             `json:"identity" validate:"required"`
	InitialBalance decimal.Decimal    `json:"initialBalance"`
	DeviceInfo     *models.DeviceInfo `json:"deviceInfo"`
}

// TransferRequest moves balance between two accounts.
type TransferRequest struct {
	From   string          `json:"from" validate:"required,uuid4"`
	To     string          `json:"to" validate:"required,uuid4"`
	Amount decimal.Decimal `json:"amount"`
	Memo   string          `json:"memo" validate:"max=200"`
}

// SupplyRequest covers mint and burn.
type SupplyRequest struct {
	Account string          `json:"account" validate:"required,uuid4"`
	Amount  decimal.Decimal `json:"amount"`
	Memo    string          `json:"memo" validate:"max=200"`
}

// DeviceInfoRequest is the partial metadata update payload.
type DeviceInfoRequest struct {
	Account string `json:"account" validate:"required,uuid4"`
	models.DeviceInfo
}

// AccountRequest addresses a single account.
type AccountRequest struct {
	Account string `json:"account" validate:"required,uuid4"`
}

// Register handles device registration
// @Summary Register a device
// @Description Register a new device identity, optionally minting an initial balance
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body RegisterRequest true "Registration request"
// @Success 201 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /ledger/register [post]
func (h *LedgerHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	accountID, err := h.ledger.Register(r.Context(), req.Identity, req.InitialBalance, req.DeviceInfo)
	metrics.RecordOperation("register", err)
	if err != nil {
		log.Printf("[LEDGER] Registration failed: %v", err)
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":   true,
		"accountId": accountID,
		"message":   "Device registered",
	})
}

// Transfer handles balance transfers
// @Summary Transfer balance
// @Description Move balance between two accounts atomically
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body TransferRequest true "Transfer request"
// @Success 201 {object} map[string]any
// @Failure 400 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Router /ledger/transfer [post]
func (h *LedgerHandlers) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	txID, err := h.ledger.Transfer(r.Context(), req.From, req.To, req.Amount, req.Memo)
	metrics.RecordOperation("transfer", err)
	if err != nil {
		log.Printf("[LEDGER] Transfer failed: %v", err)
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"transactionId": txID,
		"message":       "Transfer completed",
	})
}

// Mint handles supply creation
// @Summary Mint balance
// @Description Create new balance for an account, increasing total supply
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body SupplyRequest true "Mint request"
// @Success 201 {object} map[string]any
// @Failure 422 {object} ErrorResponse
// @Router /ledger/mint [post]
func (h *LedgerHandlers) Mint(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	txID, err := h.ledger.Mint(r.Context(), req.Account, req.Amount, req.Memo)
	metrics.RecordOperation("mint", err)
	if err != nil {
		log.Printf("[LEDGER] Mint failed: %v", err)
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"transactionId": txID,
		"message":       "Mint completed",
	})
}

// Burn handles supply destruction
// @Summary Burn balance
// @Description Destroy balance from an account, decreasing total supply
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body SupplyRequest true "Burn request"
// @Success 201 {object} map[string]any
// @Failure 422 {object} ErrorResponse
// @Router /ledger/burn [post]
func (h *LedgerHandlers) Burn(w http.ResponseWriter, r *http.Request) {
	var req SupplyRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	txID, err := h.ledger.Burn(r.Context(), req.Account, req.Amount, req.Memo)
	metrics.RecordOperation("burn", err)
	if err != nil {
		log.Printf("[LEDGER] Burn failed: %v", err)
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusCreated, map[string]any{
		"success":       true,
		"transactionId": txID,
		"message":       "Burn completed",
	})
}

// GetBalance handles balance lookups
// @Summary Get balance
// @Description Read one account's current balance
// @Tags ledger
// @Produce json
// @Param accountId query string true "Account ID"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Router /ledger/balance [get]
func (h *LedgerHandlers) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := r.URL.Query().Get("accountId")
	if accountID == "" {
		SendErrorResponse(w, "accountId query parameter required", http.StatusBadRequest, nil)
		return
	}
	if _, err := uuid.Parse(accountID); err != nil {
		SendErrorResponse(w, "accountId must be a valid UUID", http.StatusBadRequest, nil)
		return
	}

	balance, err := h.ledger.GetBalance(r.Context(), accountID)
	metrics.RecordOperation("get_balance", err)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"balance": balance,
		"message": "Balance retrieved",
	})
}

// UpdateDeviceInfo handles partial device metadata updates
// @Summary Update device info
// @Description Partial update: omitted fields keep their stored values
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body DeviceInfoRequest true "Device info update"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Router /ledger/device-info [put]
func (h *LedgerHandlers) UpdateDeviceInfo(w http.ResponseWriter, r *http.Request) {
	var req DeviceInfoRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	err := h.ledger.UpdateDeviceInfo(r.Context(), req.Account, &req.DeviceInfo)
	metrics.RecordOperation("update_device_info", err)
	if err != nil {
		log.Printf("[LEDGER] Device info update failed: %v", err)
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Device info updated",
	})
}

// Deregister handles account soft deletion
// @Summary Deregister a device
// @Description Soft-delete: balance and audit history are preserved
// @Tags ledger
// @Accept json
// @Produce json
// @Param request body AccountRequest true "Deregistration request"
// @Success 200 {object} map[string]any
// @Failure 404 {object} ErrorResponse
// @Router /ledger/deregister [post]
func (h *LedgerHandlers) Deregister(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if !decodeJSON(w, r, h.validator, &req) {
		return
	}

	err := h.ledger.Deregister(r.Context(), req.Account)
	metrics.RecordOperation("deregister", err)
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Device deregistered",
	})
}
