package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/campuskit/centpay/internal/models"
	"github.com/jmoiron/sqlx"
)

// TransactionRepository owns the transfer lifecycle rows. The coordinator
// locks the row for the duration of a settlement attempt so that concurrent
// replays of the same transaction id serialize behind each other.
type TransactionRepository interface {
	// TryInsert creates the pending row, reporting false when another worker
	// already inserted the same id. ON CONFLICT keeps the enclosing database
	// transaction usable either way.
	TryInsert(ctx context.Context, transaction *models.Transaction) (bool, error)
	GetOne(ctx context.Context, id string) (*models.Transaction, bool, error)
	Lock(ctx context.Context, id string) (*models.Transaction, bool, error)
	SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error
	SetOutcome(ctx context.Context, id, status, failureReason string) error
}

type TransactionRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewTransactionRepository(db sqlx.ExtContext) TransactionRepository {
	return &TransactionRepositoryImpl{db: db}
}

func (repo *TransactionRepositoryImpl) TryInsert(ctx context.Context, transaction *models.Transaction) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO transactions (id, payer_wallet_id, payee_wallet_id, amount, device_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
		RETURNING status, created_at`

	err := repo.db.QueryRowxContext(ctx, query,
		transaction.ID,
		transaction.PayerWalletID,
		transaction.PayeeWalletID,
		transaction.Amount,
		transaction.DeviceID,
	).Scan(&transaction.Status, &transaction.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (repo *TransactionRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Transaction, bool, error) {
	return repo.get(ctx, `
        SELECT id, payer_wallet_id, payee_wallet_id, amount, status, failure_reason, device_id, created_at, settled_at
        FROM transactions WHERE id = $1`, id)
}

func (repo *TransactionRepositoryImpl) Lock(ctx context.Context, id string) (*models.Transaction, bool, error) {
	return repo.get(ctx, `
        SELECT id, payer_wallet_id, payee_wallet_id, amount, status, failure_reason, device_id, created_at, settled_at
        FROM transactions WHERE id = $1 FOR UPDATE`, id)
}

func (repo *TransactionRepositoryImpl) get(ctx context.Context, query string, args ...any) (*models.Transaction, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var transaction models.Transaction

	err := sqlx.GetContext(ctx, repo.db, &transaction, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &transaction, true, nil
}

func (repo *TransactionRepositoryImpl) SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE transactions SET payer_wallet_id = $1, device_id = $2 WHERE id = $3`

	device := sql.NullString{String: deviceID, Valid: deviceID != ""}

	_, err := repo.db.ExecContext(ctx, query, payerWalletID, device, id)
	return err
}

func (repo *TransactionRepositoryImpl) SetOutcome(ctx context.Context, id, status, failureReason string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE transactions
		SET status = $1,
		    failure_reason = $2,
		    settled_at = CASE WHEN $1 = 'settled' THEN now() ELSE settled_at END
		WHERE id = $3`

	reason := sql.NullString{String: failureReason, Valid: failureReason != ""}

	_, err := repo.db.ExecContext(ctx, query, status, reason, id)
	return err
}
