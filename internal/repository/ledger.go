package repository

import (
	"context"

	"github.com/campuskit/centpay/internal/models"
	"github.com/jmoiron/sqlx"
)

// LedgerRepository owns the append-only journal. Entries are write-once; the
// unique idempotency key makes a replayed settlement attempt fail loudly
// instead of double-posting. Nothing here ever updates or deletes a row.
type LedgerRepository interface {
	Append(ctx context.Context, entry *models.LedgerEntry) error

	// SumForWallet is the audit sum used by reconciliation. It is O(entries)
	// and never sits on the hot path.
	SumForWallet(ctx context.Context, walletID string) (int64, error)

	ListForWallet(ctx context.Context, walletID string, limit, offset int) ([]models.LedgerEntry, error)
}

type LedgerRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewLedgerRepository(db sqlx.ExtContext) LedgerRepository {
	return &LedgerRepositoryImpl{db: db}
}

func (repo *LedgerRepositoryImpl) Append(ctx context.Context, entry *models.LedgerEntry) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO ledger_entries (wallet_id, amount, entry_type, transaction_id, idempotency_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	err := repo.db.QueryRowxContext(ctx, query,
		entry.WalletID,
		entry.Amount,
		entry.EntryType,
		entry.TransactionID,
		entry.IdempotencyKey,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateLedgerEntry
		}
		return err
	}

	return nil
}

func (repo *LedgerRepositoryImpl) SumForWallet(ctx context.Context, walletID string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var sum int64

	query := `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE wallet_id = $1`

	err := sqlx.GetContext(ctx, repo.db, &sum, query, walletID)
	if err != nil {
		return 0, err
	}

	return sum, nil
}

func (repo *LedgerRepositoryImpl) ListForWallet(ctx context.Context, walletID string, limit, offset int) ([]models.LedgerEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var entries []models.LedgerEntry

	query := `
        SELECT id, wallet_id, amount, entry_type, transaction_id, idempotency_key, created_at
        FROM ledger_entries
        WHERE wallet_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`

	err := sqlx.SelectContext(ctx, repo.db, &entries, query, walletID, limit, offset)
	if err != nil {
		return nil, err
	}

	return entries, nil
}
