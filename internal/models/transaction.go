package models

import (
	"database/sql"
	"time"
)

// Transaction is one payer to payee transfer request and its lifecycle. The
// payer is unknown until a device scans the session's QR code, hence the
// nullable columns.
type Transaction struct {
	ID            string         `db:"id"`
	PayerWalletID sql.NullString `db:"payer_wallet_id"`
	PayeeWalletID string         `db:"payee_wallet_id"`
	Amount        int64          `db:"amount"`
	Status        string         `db:"status"`
	FailureReason sql.NullString `db:"failure_reason"`
	DeviceID      sql.NullString `db:"device_id"`
	CreatedAt     time.Time      `db:"created_at"`
	SettledAt     sql.NullTime   `db:"settled_at"`
}

const (
	TransactionStatusPending  = "pending"
	TransactionStatusSettled  = "settled"
	TransactionStatusFailed   = "failed"
	TransactionStatusExpired  = "expired"
	TransactionStatusReversed = "reversed"
)

// Terminal reports whether the transaction reached an outcome that can never
// change again. Replays of a terminal transaction return the stored outcome.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case TransactionStatusSettled, TransactionStatusFailed, TransactionStatusExpired, TransactionStatusReversed:
		return true
	}
	return false
}
