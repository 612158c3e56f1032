package handler

import (
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/request"
	"github.com/campuskit/centpay/internal/response"
	"github.com/campuskit/centpay/internal/session"
	"github.com/campuskit/centpay/internal/validator"
)

type SessionHandler struct {
	Machine    *session.Machine
	ErrHandler *errHandler.ErrorHandler
}

func NewSessionHandler(handler *SessionHandler) *SessionHandler {
	return &SessionHandler{
		Machine:    handler.Machine,
		ErrHandler: handler.ErrHandler,
	}
}

func (h *SessionHandler) HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	var input struct {
		PayeeWalletID string              `json:"payee_wallet_id"`
		Amount        int64               `json:"amount"`
		Validator     validator.Validator `json:"-"`
	}

	if err := request.DecodeJSON(w, r, &input); err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.PayeeWalletID), "Payee wallet id is required")
	input.Validator.Check(input.Amount > 0, "Amount must be a positive number of cents")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator)
		return
	}

	sess, qr, err := h.Machine.Create(r.Context(), input.PayeeWalletID, input.Amount)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}

	message := "Payment session created"
	data := map[string]any{
		"session": newSessionResponse(sess),
		"qr":      qr,
	}
	if err := response.JSONCreatedResponse(w, data, message); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *SessionHandler) HandleScanSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var input struct {
		DeviceID  string              `json:"device_id"`
		Nonce     string              `json:"nonce"`
		Validator validator.Validator `json:"-"`
	}

	if err := request.DecodeJSON(w, r, &input); err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.DeviceID), "Device id is required")
	input.Validator.Check(validator.NotBlank(input.Nonce), "Nonce is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator)
		return
	}

	sess, err := h.Machine.Scan(r.Context(), sessionID, input.DeviceID, input.Nonce)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}

	message := "QR code accepted"
	if err := response.JSONOkResponse(w, newSessionResponse(sess), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *SessionHandler) HandleSubmitAssertion(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	var input struct {
		DeviceID  string              `json:"device_id"`
		Signature string              `json:"signature"`
		Validator validator.Validator `json:"-"`
	}

	if err := request.DecodeJSON(w, r, &input); err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.DeviceID), "Device id is required")
	input.Validator.Check(validator.NotBlank(input.Signature), "Signature is required")

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator)
		return
	}

	signature, err := base64.StdEncoding.DecodeString(input.Signature)
	if err != nil {
		h.ErrHandler.BadRequest(w, r, errors.New("signature must be base64 encoded"))
		return
	}

	sess, err := h.Machine.SubmitAssertion(r.Context(), sessionID, input.DeviceID, signature)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}

	message := "Payment settled"
	if err := response.JSONOkResponse(w, newSessionResponse(sess), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *SessionHandler) HandleSessionDetails(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	sess, err := h.Machine.Get(r.Context(), sessionID)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}

	message := "Session fetched successfully"
	if err := response.JSONOkResponse(w, newSessionResponse(sess), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *SessionHandler) HandleCancelSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	sess, err := h.Machine.Cancel(r.Context(), sessionID)
	if err != nil {
		h.sessionError(w, r, err)
		return
	}

	message := "Session cancelled"
	if err := response.JSONOkResponse(w, newSessionResponse(sess), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// sessionError maps machine and settlement errors onto HTTP statuses. A
// declined payment is a valid outcome, not a server failure, so everything
// the caller can act on comes back as a 4xx with the reason.
func (h *SessionHandler) sessionError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		h.ErrHandler.NotFound(w, r)

	case errors.Is(err, session.ErrSessionExpired):
		response.JSONErrorResponse(w, nil, err.Error(), http.StatusGone, nil)

	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrNonceReplayed):
		response.JSONErrorResponse(w, nil, err.Error(), http.StatusConflict, nil)

	case errors.Is(err, session.ErrAmountTooLarge),
		errors.Is(err, session.ErrPayeeNotPayable),
		errors.Is(err, session.ErrNonceMismatch),
		errors.Is(err, session.ErrDeviceNotUsable),
		errors.Is(err, session.ErrDeviceMismatch),
		errors.Is(err, session.ErrNoPayerWallet),
		errors.Is(err, session.ErrBadSignature),
		errors.Is(err, coordinator.ErrInvalidAmount),
		errors.Is(err, coordinator.ErrSelfTransfer):
		response.JSONErrorResponse(w, nil, err.Error(), http.StatusUnprocessableEntity, nil)

	case errors.Is(err, repository.ErrInsufficientBalance),
		errors.Is(err, repository.ErrCapExceeded),
		errors.Is(err, repository.ErrWalletFrozen),
		errors.Is(err, repository.ErrWalletNotFound),
		errors.Is(err, coordinator.ErrTransactionExpired):
		response.JSONErrorResponse(w, nil, err.Error(), http.StatusPaymentRequired, nil)

	default:
		h.ErrHandler.ServerError(w, r, err)
	}
}
