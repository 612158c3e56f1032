package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/response"
	"github.com/campuskit/centpay/internal/topup"
	"github.com/campuskit/centpay/internal/validator"
)

// SignatureHeader carries the provider's HMAC over the raw webhook body.
const SignatureHeader = "X-Webhook-Signature"

type TopUpHandler struct {
	Processor  *topup.Processor
	ErrHandler *errHandler.ErrorHandler
}

func NewTopUpHandler(handler *TopUpHandler) *TopUpHandler {
	return &TopUpHandler{
		Processor:  handler.Processor,
		ErrHandler: handler.ErrHandler,
	}
}

// HandleTopUpWebhook ingests one provider delivery. The provider treats any
// 2xx as delivered, so a rejection (capped, frozen or unknown wallet) is
// still acknowledged with 200; retrying it would reject forever.
func (h *TopUpHandler) HandleTopUpWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
	if err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	if err := h.Processor.VerifySignature(body, r.Header.Get(SignatureHeader)); err != nil {
		message := "Invalid webhook signature"
		response.JSONErrorResponse(w, nil, message, http.StatusUnauthorized, nil)
		return
	}

	var notification topup.Notification
	if err := json.Unmarshal(body, &notification); err != nil {
		h.ErrHandler.BadRequest(w, r, errors.New("body contains badly-formed JSON"))
		return
	}

	var v validator.Validator
	v.Check(validator.NotBlank(notification.ExternalRef), "External reference is required")
	v.Check(validator.NotBlank(notification.WalletID), "Wallet id is required")
	v.Check(notification.Amount > 0, "Amount must be a positive number of cents")

	if v.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, v)
		return
	}

	topUpRow, result, err := h.Processor.HandleNotification(r.Context(), notification)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	data := map[string]any{
		"result": string(result),
		"top_up": newTopUpResponse(topUpRow),
	}

	message := "Notification processed"
	if err := response.JSONOkResponse(w, data, message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
