package mocks

import (
	"context"
	"time"

	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

// The locked* repositories serve direct (non-InTx) access: each call takes
// the store mutex for its duration, the in-memory stand-in for autocommit.

type lockedWalletRepo struct {
	store *MemoryStore
}

func (r *lockedWalletRepo) raw() repository.WalletRepository {
	return &memWalletRepo{state: r.store.state}
}

func (r *lockedWalletRepo) Insert(ctx context.Context, wallet *models.Wallet) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Insert(ctx, wallet)
}

func (r *lockedWalletRepo) GetOne(ctx context.Context, id string) (*models.Wallet, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetOne(ctx, id)
}

func (r *lockedWalletRepo) GetByOwner(ctx context.Context, ownerRef, ownerType string) (*models.Wallet, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetByOwner(ctx, ownerRef, ownerType)
}

func (r *lockedWalletRepo) Lock(ctx context.Context, id string) (*models.Wallet, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Lock(ctx, id)
}

func (r *lockedWalletRepo) Debit(ctx context.Context, id string, amount int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Debit(ctx, id, amount)
}

func (r *lockedWalletRepo) Credit(ctx context.Context, id string, amount int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Credit(ctx, id, amount)
}

func (r *lockedWalletRepo) Freeze(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Freeze(ctx, id)
}

func (r *lockedWalletRepo) IDs(ctx context.Context) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().IDs(ctx)
}

type lockedLedgerRepo struct {
	store *MemoryStore
}

func (r *lockedLedgerRepo) raw() repository.LedgerRepository {
	return &memLedgerRepo{state: r.store.state}
}

func (r *lockedLedgerRepo) Append(ctx context.Context, entry *models.LedgerEntry) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Append(ctx, entry)
}

func (r *lockedLedgerRepo) SumForWallet(ctx context.Context, walletID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().SumForWallet(ctx, walletID)
}

func (r *lockedLedgerRepo) ListForWallet(ctx context.Context, walletID string, limit, offset int) ([]models.LedgerEntry, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().ListForWallet(ctx, walletID, limit, offset)
}

type lockedTransactionRepo struct {
	store *MemoryStore
}

func (r *lockedTransactionRepo) raw() repository.TransactionRepository {
	return &memTransactionRepo{state: r.store.state}
}

func (r *lockedTransactionRepo) TryInsert(ctx context.Context, transaction *models.Transaction) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().TryInsert(ctx, transaction)
}

func (r *lockedTransactionRepo) GetOne(ctx context.Context, id string) (*models.Transaction, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetOne(ctx, id)
}

func (r *lockedTransactionRepo) Lock(ctx context.Context, id string) (*models.Transaction, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Lock(ctx, id)
}

func (r *lockedTransactionRepo) SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().SetParticipants(ctx, id, payerWalletID, deviceID)
}

func (r *lockedTransactionRepo) SetOutcome(ctx context.Context, id, status, failureReason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().SetOutcome(ctx, id, status, failureReason)
}

type lockedTopUpRepo struct {
	store *MemoryStore
}

func (r *lockedTopUpRepo) raw() repository.TopUpRepository {
	return &memTopUpRepo{state: r.store.state}
}

func (r *lockedTopUpRepo) TryInsert(ctx context.Context, topUp *models.TopUp) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().TryInsert(ctx, topUp)
}

func (r *lockedTopUpRepo) GetByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetByExternalRef(ctx, externalRef)
}

func (r *lockedTopUpRepo) LockByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().LockByExternalRef(ctx, externalRef)
}

func (r *lockedTopUpRepo) MarkApplied(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().MarkApplied(ctx, id)
}

func (r *lockedTopUpRepo) MarkRejected(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().MarkRejected(ctx, id)
}

type lockedSessionRepo struct {
	store *MemoryStore
}

func (r *lockedSessionRepo) raw() repository.SessionRepository {
	return &memSessionRepo{state: r.store.state}
}

func (r *lockedSessionRepo) Insert(ctx context.Context, session *models.PaymentSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Insert(ctx, session)
}

func (r *lockedSessionRepo) GetOne(ctx context.Context, id string) (*models.PaymentSession, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetOne(ctx, id)
}

func (r *lockedSessionRepo) Transition(ctx context.Context, id, fromState, toState string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Transition(ctx, id, fromState, toState)
}

func (r *lockedSessionRepo) SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().SetParticipants(ctx, id, payerWalletID, deviceID)
}

func (r *lockedSessionRepo) Terminate(ctx context.Context, id, fromState, toState, reason string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Terminate(ctx, id, fromState, toState, reason)
}

func (r *lockedSessionRepo) ExpireStale(ctx context.Context, now time.Time, reason string) ([]string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().ExpireStale(ctx, now, reason)
}

type lockedDeviceRepo struct {
	store *MemoryStore
}

func (r *lockedDeviceRepo) raw() repository.DeviceRepository {
	return &memDeviceRepo{state: r.store.state}
}

func (r *lockedDeviceRepo) Insert(ctx context.Context, device *models.Device) (string, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Insert(ctx, device)
}

func (r *lockedDeviceRepo) GetOne(ctx context.Context, id string) (*models.Device, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetOne(ctx, id)
}

func (r *lockedDeviceRepo) GetByActivationToken(ctx context.Context, token string) (*models.Device, bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetByActivationToken(ctx, token)
}

func (r *lockedDeviceRepo) GetAllByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().GetAllByOwner(ctx, ownerUserID)
}

func (r *lockedDeviceRepo) Activate(ctx context.Context, id string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Activate(ctx, id)
}

func (r *lockedDeviceRepo) Revoke(ctx context.Context, id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.raw().Revoke(ctx, id)
}
