package models

import (
	"database/sql"
	"time"
)

// Balances are held in cents. A wallet is never deleted; freezing it is the
// terminal way to take it out of circulation without breaking the ledger.
type Wallet struct {
	ID        string        `db:"id"`
	OwnerRef  string        `db:"owner_ref"`
	OwnerType string        `db:"owner_type"`
	Balance   int64         `db:"balance"`
	Cap       sql.NullInt64 `db:"cap"`
	Status    string        `db:"status"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt sql.NullTime  `db:"updated_at"`
}

const (
	WalletActiveStatus = "active"
	WalletFrozenStatus = "frozen"
)

const (
	// WalletOwnerUser is a personal wallet, subject to the configured cap.
	WalletOwnerUser = "user"
	// WalletOwnerAssociation is a payee wallet. It has no cap; association
	// balances are settled out of band.
	WalletOwnerAssociation = "association"
)
