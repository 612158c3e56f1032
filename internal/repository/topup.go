package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/campuskit/centpay/internal/models"
	"github.com/jmoiron/sqlx"
)

// TopUpRepository owns top-up rows. The unique external_ref column is the
// idempotency barrier for provider webhook retries.
type TopUpRepository interface {
	// TryInsert records a newly received top-up, reporting false when the
	// external_ref was already claimed by a concurrent delivery.
	TryInsert(ctx context.Context, topUp *models.TopUp) (bool, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error)
	LockByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error)
	MarkApplied(ctx context.Context, id string) error
	MarkRejected(ctx context.Context, id string) error
}

type TopUpRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewTopUpRepository(db sqlx.ExtContext) TopUpRepository {
	return &TopUpRepositoryImpl{db: db}
}

func (repo *TopUpRepositoryImpl) TryInsert(ctx context.Context, topUp *models.TopUp) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO topups (wallet_id, external_ref, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (external_ref) DO NOTHING
		RETURNING id, status, created_at`

	err := repo.db.QueryRowxContext(ctx, query,
		topUp.WalletID,
		topUp.ExternalRef,
		topUp.Amount,
	).Scan(&topUp.ID, &topUp.Status, &topUp.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}

	return true, nil
}

func (repo *TopUpRepositoryImpl) GetByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error) {
	return repo.get(ctx, `
        SELECT id, wallet_id, external_ref, amount, status, created_at, applied_at
        FROM topups WHERE external_ref = $1`, externalRef)
}

// LockByExternalRef serializes concurrent deliveries of the same webhook.
func (repo *TopUpRepositoryImpl) LockByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error) {
	return repo.get(ctx, `
        SELECT id, wallet_id, external_ref, amount, status, created_at, applied_at
        FROM topups WHERE external_ref = $1 FOR UPDATE`, externalRef)
}

func (repo *TopUpRepositoryImpl) get(ctx context.Context, query string, args ...any) (*models.TopUp, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var topUp models.TopUp

	err := sqlx.GetContext(ctx, repo.db, &topUp, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &topUp, true, nil
}

func (repo *TopUpRepositoryImpl) MarkApplied(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE topups SET status = $1, applied_at = now() WHERE id = $2`

	_, err := repo.db.ExecContext(ctx, query, models.TopUpStatusApplied, id)
	return err
}

func (repo *TopUpRepositoryImpl) MarkRejected(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE topups SET status = $1 WHERE id = $2`

	_, err := repo.db.ExecContext(ctx, query, models.TopUpStatusRejected, id)
	return err
}
