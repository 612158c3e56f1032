package handler

import (
	"errors"
	"net/http"

	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/response"
)

type TransactionHandler struct {
	Coordinator *coordinator.Coordinator
	DB          repository.Database
	ErrHandler  *errHandler.ErrorHandler
}

func NewTransactionHandler(handler *TransactionHandler) *TransactionHandler {
	return &TransactionHandler{
		Coordinator: handler.Coordinator,
		DB:          handler.DB,
		ErrHandler:  handler.ErrHandler,
	}
}

func (h *TransactionHandler) HandleTransactionDetails(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("id")

	txn, found, err := h.DB.Transaction().GetOne(r.Context(), transactionID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found {
		h.ErrHandler.NotFound(w, r)
		return
	}

	message := "Transaction fetched successfully"
	if err := response.JSONOkResponse(w, newTransactionResponse(txn), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// HandleRefundTransaction reverses a settled transaction in full. Refunding
// an already-refunded transaction succeeds without moving money again.
func (h *TransactionHandler) HandleRefundTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := r.PathValue("id")

	txn, err := h.Coordinator.Reverse(r.Context(), transactionID)
	if err != nil {
		switch {
		case errors.Is(err, coordinator.ErrTransactionNotFound):
			h.ErrHandler.NotFound(w, r)

		case errors.Is(err, coordinator.ErrNotSettled),
			errors.Is(err, coordinator.ErrRefundWindowElapsed):
			response.JSONErrorResponse(w, nil, err.Error(), http.StatusConflict, nil)

		case errors.Is(err, repository.ErrInsufficientBalance),
			errors.Is(err, repository.ErrCapExceeded),
			errors.Is(err, repository.ErrWalletFrozen),
			errors.Is(err, repository.ErrWalletNotFound):
			response.JSONErrorResponse(w, nil, err.Error(), http.StatusUnprocessableEntity, nil)

		default:
			h.ErrHandler.ServerError(w, r, err)
		}
		return
	}

	message := "Transaction refunded"
	if err := response.JSONOkResponse(w, newTransactionResponse(txn), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}
