// Package device manages the registry of payer devices and their ed25519
// public keys. A device signs biometric assertions only after its one-time
// activation link has been followed.
package device

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrInvalidPublicKey = errors.New("public key must be a 32-byte ed25519 key")
	ErrTokenNotFound    = errors.New("activation token not recognized")
	ErrTokenExpired     = errors.New("activation token has expired")
	ErrTokenAlreadyUsed = errors.New("activation token has already been used")
)

type Registry struct {
	db       repository.Database
	logger   *slog.Logger
	tokenTTL time.Duration
}

func NewRegistry(db repository.Database, logger *slog.Logger, tokenTTL time.Duration) *Registry {
	return &Registry{
		db:       db,
		logger:   logger,
		tokenTTL: tokenTTL,
	}
}

// RequestActivation registers a device in the pending state and returns it
// with a fresh one-time activation token. The caller is responsible for
// delivering the token to the owner out of band.
func (r *Registry) RequestActivation(ctx context.Context, ownerUserID, name string, publicKey []byte) (*models.Device, error) {
	if len(publicKey) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}

	token, err := newActivationToken()
	if err != nil {
		return nil, err
	}

	device := &models.Device{
		OwnerUserID:     ownerUserID,
		Name:            name,
		PublicKey:       publicKey,
		ActivationToken: token,
		TokenExpiresAt:  time.Now().UTC().Add(r.tokenTTL),
		Status:          models.DevicePendingActivationStatus,
	}

	id, err := r.db.Device().Insert(ctx, device)
	if err != nil {
		return nil, err
	}
	device.ID = id

	r.logger.Info("device activation requested",
		"device_id", id,
		"owner_user_id", ownerUserID,
		"name", name,
	)

	return device, nil
}

// Activate consumes a one-time token. A token that already flipped its
// device, or that belongs to a revoked device, is reported as used; the
// owner must register the device again to obtain a new one.
func (r *Registry) Activate(ctx context.Context, token string) (*models.Device, error) {
	device, found, err := r.db.Device().GetByActivationToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrTokenNotFound
	}

	if device.Status != models.DevicePendingActivationStatus {
		return nil, ErrTokenAlreadyUsed
	}
	if time.Now().UTC().After(device.TokenExpiresAt) {
		return nil, ErrTokenExpired
	}

	flipped, err := r.db.Device().Activate(ctx, device.ID)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrTokenAlreadyUsed
	}

	device.Status = models.DeviceActiveStatus
	r.logger.Info("device activated", "device_id", device.ID, "owner_user_id", device.OwnerUserID)

	return device, nil
}

// Revoke permanently retires a device. Revocation is terminal: in-flight
// sessions bound to the device fail at assertion time.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	_, found, err := r.db.Device().GetOne(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return ErrDeviceNotFound
	}

	if err := r.db.Device().Revoke(ctx, id); err != nil {
		return err
	}

	r.logger.Info("device revoked", "device_id", id)
	return nil
}

// Get returns a single device.
func (r *Registry) Get(ctx context.Context, id string) (*models.Device, error) {
	device, found, err := r.db.Device().GetOne(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

// ListByOwner returns every device registered to the given user, newest
// first.
func (r *Registry) ListByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error) {
	return r.db.Device().GetAllByOwner(ctx, ownerUserID)
}

// ActivationLink builds the URL mailed to the device owner.
func ActivationLink(baseURL, token string) string {
	return fmt.Sprintf("%s/v1/devices/activate?token=%s", baseURL, token)
}

func newActivationToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
