package models

import (
	"database/sql"
	"time"
)

// TopUp is an external-provider credit notification. ExternalRef is the
// provider's globally unique id and is what prevents double-crediting when
// the provider retries its webhook.
type TopUp struct {
	ID          string       `db:"id"`
	WalletID    string       `db:"wallet_id"`
	ExternalRef string       `db:"external_ref"`
	Amount      int64        `db:"amount"`
	Status      string       `db:"status"`
	CreatedAt   time.Time    `db:"created_at"`
	AppliedAt   sql.NullTime `db:"applied_at"`
}

const (
	TopUpStatusReceived = "received"
	TopUpStatusApplied  = "applied"
	TopUpStatusRejected = "rejected"
)
