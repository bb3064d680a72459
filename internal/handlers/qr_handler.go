package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/watchtoken/backend/internal/services"
)

type QRHandler struct {
	service   *services.QRService
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService) *QRHandler {
	return &QRHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// GenerateQR generates a receive code for the authenticated account
// @Summary Generate receive QR code
// @Description Generate a single-use QR code other devices scan to transfer here
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=string} false "Optional requested amount"
// @Success 200 {object} map[string]any
// @Failure 401 {object} services.ErrorResponse
// @Router /qr/receive [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	accountID, ok := r.Context().Value("accountID").(string)
	if !ok || accountID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount *decimal.Decimal `json:"amount"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil && err != io.EOF {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	code, image, err := h.service.GenerateReceiveCode(r.Context(), accountID, req.Amount)
	if err != nil {
		if _, ok := services.AsLedgerError(err); ok {
			services.SendLedgerError(w, err)
			return
		}
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"qrCode":  code,
		"qrImage": image,
	})
}

// ProcessQR consumes a scanned receive code
// @Summary Process receive QR code
// @Description Resolve a scanned code into the transfer target
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrCode=string} true "Scanned code"
// @Success 200 {object} map[string]any
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/process [post]
func (h *QRHandler) ProcessQR(w http.ResponseWriter, r *http.Request) {
	var req struct {
		QRCode string `json:"qrCode" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	payload, err := h.service.ProcessReceiveCode(r.Context(), req.QRCode)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	services.SendJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"target":  payload,
	})
}
