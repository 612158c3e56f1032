package models

import "time"

// LedgerEntry is one immutable signed balance change. The sum of a wallet's
// entries must always equal its current balance.
type LedgerEntry struct {
	ID             string    `db:"id"`
	WalletID       string    `db:"wallet_id"`
	Amount         int64     `db:"amount"`
	EntryType      string    `db:"entry_type"`
	TransactionID  string    `db:"transaction_id"`
	IdempotencyKey string    `db:"idempotency_key"`
	CreatedAt      time.Time `db:"created_at"`
}

const (
	LedgerEntryCredit   = "credit"
	LedgerEntryDebit    = "debit"
	LedgerEntryTopUp    = "topup"
	LedgerEntryReversal = "reversal"
)

// LedgerIdempotencyKey builds the write-once key for an entry. For settlement
// and top-up entries the key is "<transaction_id>:<entry_type>", which is what
// makes a replayed settlement attempt fail on the second append. Reversal
// postings come in pairs under the original transaction id, so the wallet id
// is part of the key.
func LedgerIdempotencyKey(transactionID, entryType, walletID string) string {
	if entryType == LedgerEntryReversal {
		return transactionID + ":" + entryType + ":" + walletID
	}
	return transactionID + ":" + entryType
}
