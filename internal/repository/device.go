package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/campuskit/centpay/internal/models"
	"github.com/jmoiron/sqlx"
)

// DeviceRepository owns device rows. Activation is a guarded one-shot
// transition; a revoked device can never come back through its old token.
type DeviceRepository interface {
	Insert(ctx context.Context, device *models.Device) (string, error)
	GetOne(ctx context.Context, id string) (*models.Device, bool, error)
	GetByActivationToken(ctx context.Context, token string) (*models.Device, bool, error)
	GetAllByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error)
	Activate(ctx context.Context, id string) (bool, error)
	Revoke(ctx context.Context, id string) error
}

type DeviceRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewDeviceRepository(db sqlx.ExtContext) DeviceRepository {
	return &DeviceRepositoryImpl{db: db}
}

func (repo *DeviceRepositoryImpl) Insert(ctx context.Context, device *models.Device) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var id string

	query := `
		INSERT INTO devices (owner_user_id, name, public_key, activation_token, token_expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	err := sqlx.GetContext(ctx, repo.db, &id, query,
		device.OwnerUserID,
		device.Name,
		device.PublicKey,
		device.ActivationToken,
		device.TokenExpiresAt,
	)
	if err != nil {
		return "", err
	}

	return id, nil
}

func (repo *DeviceRepositoryImpl) GetOne(ctx context.Context, id string) (*models.Device, bool, error) {
	return repo.get(ctx, `
        SELECT id, owner_user_id, name, public_key, activation_token, token_expires_at, status, activated_at, created_at
        FROM devices WHERE id = $1`, id)
}

func (repo *DeviceRepositoryImpl) GetByActivationToken(ctx context.Context, token string) (*models.Device, bool, error) {
	return repo.get(ctx, `
        SELECT id, owner_user_id, name, public_key, activation_token, token_expires_at, status, activated_at, created_at
        FROM devices WHERE activation_token = $1`, token)
}

func (repo *DeviceRepositoryImpl) get(ctx context.Context, query string, args ...any) (*models.Device, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var device models.Device

	err := sqlx.GetContext(ctx, repo.db, &device, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &device, true, nil
}

func (repo *DeviceRepositoryImpl) GetAllByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var devices []models.Device

	query := `
        SELECT id, owner_user_id, name, public_key, activation_token, token_expires_at, status, activated_at, created_at
        FROM devices WHERE owner_user_id = $1 ORDER BY created_at DESC`

	err := sqlx.SelectContext(ctx, repo.db, &devices, query, ownerUserID)
	if err != nil {
		return nil, err
	}

	return devices, nil
}

// Activate flips a pending device to active. Returns false when the device
// already left the pending state, which the registry reports as a used token.
func (repo *DeviceRepositoryImpl) Activate(ctx context.Context, id string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE devices SET status = $1, activated_at = now()
		WHERE id = $2 AND status = $3`

	res, err := repo.db.ExecContext(ctx, query, models.DeviceActiveStatus, id, models.DevicePendingActivationStatus)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (repo *DeviceRepositoryImpl) Revoke(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `UPDATE devices SET status = $1 WHERE id = $2`

	_, err := repo.db.ExecContext(ctx, query, models.DeviceRevokedStatus, id)
	return err
}
