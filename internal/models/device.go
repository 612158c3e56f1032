package models

import (
	"database/sql"
	"time"
)

// Device is a phone (or terminal) bound to a user for payment authorization.
// Its ed25519 public key is registered at creation and the device only becomes
// usable once the one-time activation link is followed.
type Device struct {
	ID              string       `db:"id"`
	OwnerUserID     string       `db:"owner_user_id"`
	Name            string       `db:"name"`
	PublicKey       []byte       `db:"public_key"`
	ActivationToken string       `db:"activation_token"`
	TokenExpiresAt  time.Time    `db:"token_expires_at"`
	Status          string       `db:"status"`
	ActivatedAt     sql.NullTime `db:"activated_at"`
	CreatedAt       time.Time    `db:"created_at"`
}

const (
	DevicePendingActivationStatus = "pending_activation"
	DeviceActiveStatus            = "active"
	DeviceRevokedStatus           = "revoked"
)
