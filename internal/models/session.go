package models

import (
	"database/sql"
	"time"
)

// PaymentSession is the durable record of one in-person QR payment flow.
// Every transition is a guarded UPDATE against the expected prior state, so a
// crashed worker can never leak a half-finished session; the TTL expires
// whatever never completes. The session id doubles as the transaction id,
// which is what makes duplicate settlement attempts idempotent.
type PaymentSession struct {
	ID            string         `db:"id"`
	PayeeWalletID string         `db:"payee_wallet_id"`
	PayerWalletID sql.NullString `db:"payer_wallet_id"`
	DeviceID      sql.NullString `db:"device_id"`
	Amount        int64          `db:"amount"`
	State         string         `db:"state"`
	Nonce         string         `db:"nonce"`
	FailureReason sql.NullString `db:"failure_reason"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     sql.NullTime   `db:"updated_at"`
	ExpiresAt     time.Time      `db:"expires_at"`
}

const (
	SessionStateQRIssued         = "qr_issued"
	SessionStateScanned          = "scanned"
	SessionStateBiometricPending = "biometric_pending"
	SessionStateAuthorized       = "authorized"
	SessionStateSettled          = "settled"
	SessionStateDeclined         = "declined"
	SessionStateExpired          = "expired"
	SessionStateCancelled        = "cancelled_by_payer"
)

// Terminal reports whether the session can never move again. A declined or
// expired session is never resumed; a fresh one must be issued.
func (s *PaymentSession) Terminal() bool {
	switch s.State {
	case SessionStateSettled, SessionStateDeclined, SessionStateExpired, SessionStateCancelled:
		return true
	}
	return false
}

// Expired reports whether the TTL has elapsed for a session that has not yet
// reached a terminal state.
func (s *PaymentSession) Expired(now time.Time) bool {
	return !s.Terminal() && now.After(s.ExpiresAt)
}
