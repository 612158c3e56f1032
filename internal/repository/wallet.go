package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/campuskit/centpay/internal/models"
	"github.com/jmoiron/sqlx"
)

// WalletRepository owns wallet rows. Debit and Credit are conditional,
// single-statement mutations: the post-condition 0 <= balance <= cap sits in
// the WHERE clause, so a stale read can never push a balance out of range no
// matter how many workers race. They are only called by the transaction
// coordinator, inside InTx, after Lock has been taken on the row.
type WalletRepository interface {
	Insert(ctx context.Context, wallet *models.Wallet) (string, error)
	GetOne(ctx context.Context, id string) (*models.Wallet, bool, error)
	GetByOwner(ctx context.Context, ownerRef, ownerType string) (*models.Wallet, bool, error)
	Lock(ctx context.Context, id string) (*models.Wallet, bool, error)
	Debit(ctx context.Context, id string, amount int64) error
	Credit(ctx context.Context, id string, amount int64) error
	Freeze(ctx context.Context, id string) error
	IDs(ctx context.Context) ([]string, error)
}

type WalletRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewWalletRepository(db sqlx.ExtContext) WalletRepository {
	return &WalletRepositoryImpl{db: db}
}

func (repo *WalletRepositoryImpl) Insert(ctx context.Context, wallet *models.Wallet) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id string

	query := `
		INSERT INTO wallets (owner_ref, owner_type, cap)
		VALUES ($1, $2, $3)
		RETURNING id`

	err := sqlx.GetContext(ctx, repo.db, &id, query,
		wallet.OwnerRef,
		wallet.OwnerType,
		wallet.Cap,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", ErrDuplicateWalletOwner
		}
		return "", err
	}

	return id, nil
}

func (repo *WalletRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Wallet, bool, error) {
	return repo.get(ctx, `
        SELECT id, owner_ref, owner_type, balance, cap, status, created_at, updated_at
        FROM wallets WHERE id = $1`, id)
}

func (repo *WalletRepositoryImpl) GetByOwner(ctx context.Context, ownerRef, ownerType string) (*models.Wallet, bool, error) {
	return repo.get(ctx, `
        SELECT id, owner_ref, owner_type, balance, cap, status, created_at, updated_at
        FROM wallets WHERE owner_ref = $1 AND owner_type = $2`, ownerRef, ownerType)
}

// Lock reads the wallet row FOR UPDATE. Only meaningful inside InTx; the lock
// is what serializes every balance mutation on this wallet across workers.
func (repo *WalletRepositoryImpl) Lock(ctx context.Context, id string) (*models.Wallet, bool, error) {
	return repo.get(ctx, `
        SELECT id, owner_ref, owner_type, balance, cap, status, created_at, updated_at
        FROM wallets WHERE id = $1 FOR UPDATE`, id)
}

func (repo *WalletRepositoryImpl) get(ctx context.Context, query string, args ...any) (*models.Wallet, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var wallet models.Wallet

	err := sqlx.GetContext(ctx, repo.db, &wallet, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &wallet, true, nil
}

func (repo *WalletRepositoryImpl) Debit(ctx context.Context, id string, amount int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE wallets SET balance = balance - $1, updated_at = now()
		WHERE id = $2 AND status = $3 AND balance >= $1`

	res, err := repo.db.ExecContext(ctx, query, amount, id, models.WalletActiveStatus)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	return repo.classifyRejection(ctx, id, func(w *models.Wallet) error {
		return ErrInsufficientBalance
	})
}

func (repo *WalletRepositoryImpl) Credit(ctx context.Context, id string, amount int64) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE wallets SET balance = balance + $1, updated_at = now()
		WHERE id = $2 AND status = $3 AND (cap IS NULL OR balance + $1 <= cap)`

	res, err := repo.db.ExecContext(ctx, query, amount, id, models.WalletActiveStatus)
	if err != nil {
		return err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 1 {
		return nil
	}

	return repo.classifyRejection(ctx, id, func(w *models.Wallet) error {
		return ErrCapExceeded
	})
}

// classifyRejection turns a zero-row conditional update into the precise
// business error. The caller holds the row lock, so the re-read is stable.
func (repo *WalletRepositoryImpl) classifyRejection(ctx context.Context, id string, fallback func(*models.Wallet) error) error {
	wallet, found, err := repo.GetOne(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrWalletNotFound
	}
	if wallet.Status != models.WalletActiveStatus {
		return ErrWalletFrozen
	}
	return fallback(wallet)
}

func (repo *WalletRepositoryImpl) Freeze(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE wallets SET status = $1, updated_at = now() WHERE id = $2`

	_, err := repo.db.ExecContext(ctx, query, models.WalletFrozenStatus, id)
	return err
}

func (repo *WalletRepositoryImpl) IDs(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var ids []string

	query := `SELECT id FROM wallets ORDER BY created_at`

	err := sqlx.SelectContext(ctx, repo.db, &ids, query)
	if err != nil {
		return nil, err
	}

	return ids, nil
}
