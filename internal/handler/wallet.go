package handler

import (
	"database/sql"
	"errors"
	"net/http"
	"strconv"

	"github.com/campuskit/centpay/internal/config"
	"github.com/campuskit/centpay/internal/errHandler"
	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/request"
	"github.com/campuskit/centpay/internal/response"
	"github.com/campuskit/centpay/internal/validator"
)

type WalletHandler struct {
	DB         repository.Database
	Config     *config.Config
	ErrHandler *errHandler.ErrorHandler
}

func NewWalletHandler(handler *WalletHandler) *WalletHandler {
	return &WalletHandler{
		DB:         handler.DB,
		Config:     handler.Config,
		ErrHandler: handler.ErrHandler,
	}
}

func (h *WalletHandler) HandleCreateWallet(w http.ResponseWriter, r *http.Request) {
	var input struct {
		OwnerRef  string              `json:"owner_ref"`
		OwnerType string              `json:"owner_type"`
		Validator validator.Validator `json:"-"`
	}

	if err := request.DecodeJSON(w, r, &input); err != nil {
		h.ErrHandler.BadRequest(w, r, err)
		return
	}

	input.Validator.Check(validator.NotBlank(input.OwnerRef), "Owner reference is required")
	input.Validator.Check(
		input.OwnerType == models.WalletOwnerUser || input.OwnerType == models.WalletOwnerAssociation,
		"Owner type must be user or association",
	)

	if input.Validator.HasErrors() {
		h.ErrHandler.FailedValidation(w, r, input.Validator)
		return
	}

	wallet := &models.Wallet{
		OwnerRef:  input.OwnerRef,
		OwnerType: input.OwnerType,
	}

	// Personal wallets carry the configured cap; association wallets hold
	// whatever their members pay in.
	if input.OwnerType == models.WalletOwnerUser {
		wallet.Cap = sql.NullInt64{Int64: h.Config.Payment.DefaultWalletCap, Valid: true}
	}

	id, err := h.DB.Wallet().Insert(r.Context(), wallet)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicateWalletOwner) {
			message := "A wallet already exists for this owner"
			response.JSONErrorResponse(w, nil, message, http.StatusConflict, nil)
			return
		}
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	created, _, err := h.DB.Wallet().GetOne(r.Context(), id)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	message := "Wallet created successfully"
	if err := response.JSONCreatedResponse(w, newWalletResponse(created), message); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *WalletHandler) HandleWalletDetails(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("id")

	wallet, found, err := h.DB.Wallet().GetOne(r.Context(), walletID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found {
		h.ErrHandler.NotFound(w, r)
		return
	}

	message := "Wallet fetched successfully"
	if err := response.JSONOkResponse(w, newWalletResponse(wallet), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func (h *WalletHandler) HandleWalletHistory(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("id")

	_, found, err := h.DB.Wallet().GetOne(r.Context(), walletID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found {
		h.ErrHandler.NotFound(w, r)
		return
	}

	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := h.DB.Ledger().ListForWallet(r.Context(), walletID, limit, offset)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	history := make([]*LedgerEntryResponseData, 0, len(entries))
	for i := range entries {
		history = append(history, newLedgerEntryResponse(&entries[i]))
	}

	message := "Wallet history fetched successfully"
	data := map[string]any{
		"wallet_id": walletID,
		"entries":   history,
	}
	if err := response.JSONOkResponse(w, data, message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

// HandleFreezeWallet takes a wallet out of circulation. Freezing is the
// operator's kill switch; every debit, credit and top-up on the wallet is
// rejected from that point on.
func (h *WalletHandler) HandleFreezeWallet(w http.ResponseWriter, r *http.Request) {
	walletID := r.PathValue("id")

	wallet, found, err := h.DB.Wallet().GetOne(r.Context(), walletID)
	if err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}
	if !found {
		h.ErrHandler.NotFound(w, r)
		return
	}

	if err := h.DB.Wallet().Freeze(r.Context(), walletID); err != nil {
		h.ErrHandler.ServerError(w, r, err)
		return
	}

	wallet.Status = models.WalletFrozenStatus

	message := "Wallet frozen successfully"
	if err := response.JSONOkResponse(w, newWalletResponse(wallet), message, nil); err != nil {
		h.ErrHandler.ServerError(w, r, err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	value := r.URL.Query().Get(key)
	if value == "" {
		return fallback
	}

	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}

	return n
}
