package repository

import "errors"

// Business-rule rejections surfaced by the store. These are terminal outcomes
// for the operation that hit them and are never retried automatically.
var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrWalletFrozen        = errors.New("wallet is frozen")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrCapExceeded         = errors.New("balance cap exceeded")
)

// Idempotency conflicts. Callers treat these as "the work already happened"
// and return the prior outcome instead of failing.
var (
	ErrDuplicateLedgerEntry = errors.New("duplicate ledger entry")
	ErrDuplicateExternalRef = errors.New("duplicate external reference")
	ErrDuplicateWalletOwner = errors.New("owner already has a wallet")
)
