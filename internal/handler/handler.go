package handler

import (
	"time"

	"github.com/campuskit/centpay/internal/models"
)

// Response shapes shared across handlers. Amounts are cents everywhere; no
// float leaves this API.

type WalletResponseData struct {
	ID        string    `json:"id"`
	OwnerRef  string    `json:"owner_ref"`
	OwnerType string    `json:"owner_type"`
	Balance   int64     `json:"balance"`
	Cap       *int64    `json:"cap,omitempty"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func newWalletResponse(wallet *models.Wallet) *WalletResponseData {
	data := &WalletResponseData{
		ID:        wallet.ID,
		OwnerRef:  wallet.OwnerRef,
		OwnerType: wallet.OwnerType,
		Balance:   wallet.Balance,
		Status:    wallet.Status,
		CreatedAt: wallet.CreatedAt,
	}
	if wallet.Cap.Valid {
		cap := wallet.Cap.Int64
		data.Cap = &cap
	}
	return data
}

type LedgerEntryResponseData struct {
	ID            string    `json:"id"`
	Amount        int64     `json:"amount"`
	EntryType     string    `json:"entry_type"`
	TransactionID string    `json:"transaction_id"`
	CreatedAt     time.Time `json:"created_at"`
}

func newLedgerEntryResponse(entry *models.LedgerEntry) *LedgerEntryResponseData {
	return &LedgerEntryResponseData{
		ID:            entry.ID,
		Amount:        entry.Amount,
		EntryType:     entry.EntryType,
		TransactionID: entry.TransactionID,
		CreatedAt:     entry.CreatedAt,
	}
}

type TransactionResponseData struct {
	ID            string     `json:"id"`
	PayerWalletID string     `json:"payer_wallet_id,omitempty"`
	PayeeWalletID string     `json:"payee_wallet_id"`
	Amount        int64      `json:"amount"`
	Status        string     `json:"status"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SettledAt     *time.Time `json:"settled_at,omitempty"`
}

func newTransactionResponse(txn *models.Transaction) *TransactionResponseData {
	data := &TransactionResponseData{
		ID:            txn.ID,
		PayeeWalletID: txn.PayeeWalletID,
		Amount:        txn.Amount,
		Status:        txn.Status,
		CreatedAt:     txn.CreatedAt,
	}
	if txn.PayerWalletID.Valid {
		data.PayerWalletID = txn.PayerWalletID.String
	}
	if txn.FailureReason.Valid {
		data.FailureReason = txn.FailureReason.String
	}
	if txn.SettledAt.Valid {
		settledAt := txn.SettledAt.Time
		data.SettledAt = &settledAt
	}
	return data
}

type SessionResponseData struct {
	ID            string    `json:"id"`
	PayeeWalletID string    `json:"payee_wallet_id"`
	PayerWalletID string    `json:"payer_wallet_id,omitempty"`
	Amount        int64     `json:"amount"`
	State         string    `json:"state"`
	FailureReason string    `json:"failure_reason,omitempty"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}

func newSessionResponse(session *models.PaymentSession) *SessionResponseData {
	data := &SessionResponseData{
		ID:            session.ID,
		PayeeWalletID: session.PayeeWalletID,
		Amount:        session.Amount,
		State:         session.State,
		ExpiresAt:     session.ExpiresAt,
		CreatedAt:     session.CreatedAt,
	}
	if session.PayerWalletID.Valid {
		data.PayerWalletID = session.PayerWalletID.String
	}
	if session.FailureReason.Valid {
		data.FailureReason = session.FailureReason.String
	}
	return data
}

type DeviceResponseData struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

func newDeviceResponse(device *models.Device) *DeviceResponseData {
	return &DeviceResponseData{
		ID:        device.ID,
		Name:      device.Name,
		Status:    device.Status,
		CreatedAt: device.CreatedAt,
	}
}

type TopUpResponseData struct {
	ID          string `json:"id"`
	WalletID    string `json:"wallet_id"`
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
	Status      string `json:"status"`
}

func newTopUpResponse(topUp *models.TopUp) *TopUpResponseData {
	return &TopUpResponseData{
		ID:          topUp.ID,
		WalletID:    topUp.WalletID,
		ExternalRef: topUp.ExternalRef,
		Amount:      topUp.Amount,
		Status:      topUp.Status,
	}
}
