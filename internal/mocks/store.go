// Package mocks provides in-memory test doubles. MemoryStore implements
// repository.Database with a single global mutex standing in for the
// database's transactionality: InTx snapshots the state and restores it when
// the unit of work fails, so rollback semantics hold in tests too.
package mocks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

type memState struct {
	wallets      map[string]*models.Wallet
	ledger       []models.LedgerEntry
	ledgerKeys   map[string]bool
	transactions map[string]*models.Transaction
	topUps       map[string]*models.TopUp
	sessions     map[string]*models.PaymentSession
	devices      map[string]*models.Device
	seq          int
}

func newMemState() *memState {
	return &memState{
		wallets:      make(map[string]*models.Wallet),
		ledgerKeys:   make(map[string]bool),
		transactions: make(map[string]*models.Transaction),
		topUps:       make(map[string]*models.TopUp),
		sessions:     make(map[string]*models.PaymentSession),
		devices:      make(map[string]*models.Device),
	}
}

func (st *memState) snapshot() *memState {
	clone := newMemState()
	clone.seq = st.seq
	for id, w := range st.wallets {
		cp := *w
		clone.wallets[id] = &cp
	}
	clone.ledger = append([]models.LedgerEntry(nil), st.ledger...)
	for k := range st.ledgerKeys {
		clone.ledgerKeys[k] = true
	}
	for id, t := range st.transactions {
		cp := *t
		clone.transactions[id] = &cp
	}
	for ref, t := range st.topUps {
		cp := *t
		clone.topUps[ref] = &cp
	}
	for id, s := range st.sessions {
		cp := *s
		clone.sessions[id] = &cp
	}
	for id, d := range st.devices {
		cp := *d
		cp.PublicKey = append([]byte(nil), d.PublicKey...)
		clone.devices[id] = &cp
	}
	return clone
}

func (st *memState) nextID(prefix string) string {
	st.seq++
	return fmt.Sprintf("%s-%04d", prefix, st.seq)
}

type MemoryStore struct {
	mu    sync.Mutex
	state *memState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

var _ repository.Database = (*MemoryStore)(nil)

// InTx serializes units of work behind one mutex and restores the snapshot
// when fn fails, mirroring a rolled-back database transaction.
func (m *MemoryStore) InTx(ctx context.Context, fn func(repository.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.state.snapshot()

	if err := fn(&rawStore{state: m.state}); err != nil {
		m.state = before
		return err
	}

	return nil
}

// InReadTx serializes behind the same mutex and always restores the snapshot
// afterwards: a read-only transaction must leave no writes behind.
func (m *MemoryStore) InReadTx(ctx context.Context, fn func(repository.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.state.snapshot()
	defer func() { m.state = before }()

	return fn(&rawStore{state: m.state})
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) Wallet() repository.WalletRepository {
	return &lockedWalletRepo{store: m}
}
func (m *MemoryStore) Ledger() repository.LedgerRepository {
	return &lockedLedgerRepo{store: m}
}
func (m *MemoryStore) Transaction() repository.TransactionRepository {
	return &lockedTransactionRepo{store: m}
}
func (m *MemoryStore) TopUp() repository.TopUpRepository {
	return &lockedTopUpRepo{store: m}
}
func (m *MemoryStore) Session() repository.SessionRepository {
	return &lockedSessionRepo{store: m}
}
func (m *MemoryStore) Device() repository.DeviceRepository {
	return &lockedDeviceRepo{store: m}
}

// rawStore is the view handed to InTx callbacks: the mutex is already held,
// so its repositories touch the state directly.
type rawStore struct {
	state *memState
}

func (s *rawStore) Wallet() repository.WalletRepository {
	return &memWalletRepo{state: s.state}
}
func (s *rawStore) Ledger() repository.LedgerRepository {
	return &memLedgerRepo{state: s.state}
}
func (s *rawStore) Transaction() repository.TransactionRepository {
	return &memTransactionRepo{state: s.state}
}
func (s *rawStore) TopUp() repository.TopUpRepository {
	return &memTopUpRepo{state: s.state}
}
func (s *rawStore) Session() repository.SessionRepository {
	return &memSessionRepo{state: s.state}
}
func (s *rawStore) Device() repository.DeviceRepository {
	return &memDeviceRepo{state: s.state}
}

// ---- wallets ----

type memWalletRepo struct {
	state *memState
}

func (r *memWalletRepo) Insert(ctx context.Context, wallet *models.Wallet) (string, error) {
	for _, w := range r.state.wallets {
		if w.OwnerRef == wallet.OwnerRef && w.OwnerType == wallet.OwnerType {
			return "", repository.ErrDuplicateWalletOwner
		}
	}

	id := r.state.nextID("wal")
	stored := *wallet
	stored.ID = id
	stored.Balance = 0
	stored.Status = models.WalletActiveStatus
	stored.CreatedAt = time.Now().UTC()
	r.state.wallets[id] = &stored

	return id, nil
}

func (r *memWalletRepo) GetOne(ctx context.Context, id string) (*models.Wallet, bool, error) {
	w, ok := r.state.wallets[id]
	if !ok {
		return nil, false, nil
	}
	cp := *w
	return &cp, true, nil
}

func (r *memWalletRepo) GetByOwner(ctx context.Context, ownerRef, ownerType string) (*models.Wallet, bool, error) {
	for _, w := range r.state.wallets {
		if w.OwnerRef == ownerRef && w.OwnerType == ownerType {
			cp := *w
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (r *memWalletRepo) Lock(ctx context.Context, id string) (*models.Wallet, bool, error) {
	return r.GetOne(ctx, id)
}

func (r *memWalletRepo) Debit(ctx context.Context, id string, amount int64) error {
	w, ok := r.state.wallets[id]
	if !ok {
		return repository.ErrWalletNotFound
	}
	if w.Status != models.WalletActiveStatus {
		return repository.ErrWalletFrozen
	}
	if w.Balance < amount {
		return repository.ErrInsufficientBalance
	}
	w.Balance -= amount
	return nil
}

func (r *memWalletRepo) Credit(ctx context.Context, id string, amount int64) error {
	w, ok := r.state.wallets[id]
	if !ok {
		return repository.ErrWalletNotFound
	}
	if w.Status != models.WalletActiveStatus {
		return repository.ErrWalletFrozen
	}
	if w.Cap.Valid && w.Balance+amount > w.Cap.Int64 {
		return repository.ErrCapExceeded
	}
	w.Balance += amount
	return nil
}

func (r *memWalletRepo) Freeze(ctx context.Context, id string) error {
	if w, ok := r.state.wallets[id]; ok {
		w.Status = models.WalletFrozenStatus
	}
	return nil
}

func (r *memWalletRepo) IDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(r.state.wallets))
	for id := range r.state.wallets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- ledger ----

type memLedgerRepo struct {
	state *memState
}

func (r *memLedgerRepo) Append(ctx context.Context, entry *models.LedgerEntry) error {
	if r.state.ledgerKeys[entry.IdempotencyKey] {
		return repository.ErrDuplicateLedgerEntry
	}
	entry.ID = r.state.nextID("led")
	entry.CreatedAt = time.Now().UTC()
	r.state.ledgerKeys[entry.IdempotencyKey] = true
	r.state.ledger = append(r.state.ledger, *entry)
	return nil
}

func (r *memLedgerRepo) SumForWallet(ctx context.Context, walletID string) (int64, error) {
	var sum int64
	for _, e := range r.state.ledger {
		if e.WalletID == walletID {
			sum += e.Amount
		}
	}
	return sum, nil
}

func (r *memLedgerRepo) ListForWallet(ctx context.Context, walletID string, limit, offset int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	for i := len(r.state.ledger) - 1; i >= 0; i-- {
		if r.state.ledger[i].WalletID == walletID {
			entries = append(entries, r.state.ledger[i])
		}
	}
	if offset >= len(entries) {
		return nil, nil
	}
	entries = entries[offset:]
	if limit < len(entries) {
		entries = entries[:limit]
	}
	return entries, nil
}

// ---- transactions ----

type memTransactionRepo struct {
	state *memState
}

func (r *memTransactionRepo) TryInsert(ctx context.Context, transaction *models.Transaction) (bool, error) {
	if _, ok := r.state.transactions[transaction.ID]; ok {
		return false, nil
	}
	stored := *transaction
	stored.Status = models.TransactionStatusPending
	stored.CreatedAt = time.Now().UTC()
	r.state.transactions[transaction.ID] = &stored
	transaction.Status = stored.Status
	transaction.CreatedAt = stored.CreatedAt
	return true, nil
}

func (r *memTransactionRepo) GetOne(ctx context.Context, id string) (*models.Transaction, bool, error) {
	t, ok := r.state.transactions[id]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (r *memTransactionRepo) Lock(ctx context.Context, id string) (*models.Transaction, bool, error) {
	return r.GetOne(ctx, id)
}

func (r *memTransactionRepo) SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error {
	t, ok := r.state.transactions[id]
	if !ok {
		return nil
	}
	t.PayerWalletID.String = payerWalletID
	t.PayerWalletID.Valid = true
	t.DeviceID.String = deviceID
	t.DeviceID.Valid = deviceID != ""
	return nil
}

func (r *memTransactionRepo) SetOutcome(ctx context.Context, id, status, failureReason string) error {
	t, ok := r.state.transactions[id]
	if !ok {
		return nil
	}
	t.Status = status
	t.FailureReason.String = failureReason
	t.FailureReason.Valid = failureReason != ""
	if status == models.TransactionStatusSettled {
		t.SettledAt.Time = time.Now().UTC()
		t.SettledAt.Valid = true
	}
	return nil
}

// ---- top-ups ----

type memTopUpRepo struct {
	state *memState
}

func (r *memTopUpRepo) TryInsert(ctx context.Context, topUp *models.TopUp) (bool, error) {
	if _, ok := r.state.topUps[topUp.ExternalRef]; ok {
		return false, nil
	}
	stored := *topUp
	stored.ID = r.state.nextID("top")
	stored.Status = models.TopUpStatusReceived
	stored.CreatedAt = time.Now().UTC()
	r.state.topUps[topUp.ExternalRef] = &stored
	topUp.ID = stored.ID
	topUp.Status = stored.Status
	topUp.CreatedAt = stored.CreatedAt
	return true, nil
}

func (r *memTopUpRepo) GetByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error) {
	t, ok := r.state.topUps[externalRef]
	if !ok {
		return nil, false, nil
	}
	cp := *t
	return &cp, true, nil
}

func (r *memTopUpRepo) LockByExternalRef(ctx context.Context, externalRef string) (*models.TopUp, bool, error) {
	return r.GetByExternalRef(ctx, externalRef)
}

func (r *memTopUpRepo) MarkApplied(ctx context.Context, id string) error {
	for _, t := range r.state.topUps {
		if t.ID == id {
			t.Status = models.TopUpStatusApplied
			t.AppliedAt.Time = time.Now().UTC()
			t.AppliedAt.Valid = true
		}
	}
	return nil
}

func (r *memTopUpRepo) MarkRejected(ctx context.Context, id string) error {
	for _, t := range r.state.topUps {
		if t.ID == id {
			t.Status = models.TopUpStatusRejected
		}
	}
	return nil
}

// ---- sessions ----

type memSessionRepo struct {
	state *memState
}

func (r *memSessionRepo) Insert(ctx context.Context, session *models.PaymentSession) error {
	stored := *session
	stored.State = models.SessionStateQRIssued
	stored.CreatedAt = time.Now().UTC()
	r.state.sessions[session.ID] = &stored
	session.State = stored.State
	session.CreatedAt = stored.CreatedAt
	return nil
}

func (r *memSessionRepo) GetOne(ctx context.Context, id string) (*models.PaymentSession, bool, error) {
	s, ok := r.state.sessions[id]
	if !ok {
		return nil, false, nil
	}
	cp := *s
	return &cp, true, nil
}

func (r *memSessionRepo) Transition(ctx context.Context, id, fromState, toState string) (bool, error) {
	s, ok := r.state.sessions[id]
	if !ok || s.State != fromState || !time.Now().UTC().Before(s.ExpiresAt) {
		return false, nil
	}
	s.State = toState
	return true, nil
}

func (r *memSessionRepo) SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error {
	s, ok := r.state.sessions[id]
	if !ok {
		return nil
	}
	s.PayerWalletID.String = payerWalletID
	s.PayerWalletID.Valid = true
	s.DeviceID.String = deviceID
	s.DeviceID.Valid = true
	return nil
}

func (r *memSessionRepo) Terminate(ctx context.Context, id, fromState, toState, reason string) (bool, error) {
	s, ok := r.state.sessions[id]
	if !ok || s.State != fromState {
		return false, nil
	}
	s.State = toState
	s.FailureReason.String = reason
	s.FailureReason.Valid = reason != ""
	return true, nil
}

func (r *memSessionRepo) ExpireStale(ctx context.Context, now time.Time, reason string) ([]string, error) {
	var ids []string
	for id, s := range r.state.sessions {
		if !s.Terminal() && !now.Before(s.ExpiresAt) {
			s.State = models.SessionStateExpired
			s.FailureReason.String = reason
			s.FailureReason.Valid = reason != ""
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ---- devices ----

type memDeviceRepo struct {
	state *memState
}

func (r *memDeviceRepo) Insert(ctx context.Context, device *models.Device) (string, error) {
	id := r.state.nextID("dev")
	stored := *device
	stored.ID = id
	stored.Status = models.DevicePendingActivationStatus
	stored.CreatedAt = time.Now().UTC()
	stored.PublicKey = append([]byte(nil), device.PublicKey...)
	r.state.devices[id] = &stored
	return id, nil
}

func (r *memDeviceRepo) GetOne(ctx context.Context, id string) (*models.Device, bool, error) {
	d, ok := r.state.devices[id]
	if !ok {
		return nil, false, nil
	}
	cp := *d
	return &cp, true, nil
}

func (r *memDeviceRepo) GetByActivationToken(ctx context.Context, token string) (*models.Device, bool, error) {
	for _, d := range r.state.devices {
		if d.ActivationToken == token {
			cp := *d
			return &cp, true, nil
		}
	}
	return nil, false, nil
}

func (r *memDeviceRepo) GetAllByOwner(ctx context.Context, ownerUserID string) ([]models.Device, error) {
	var devices []models.Device
	for _, d := range r.state.devices {
		if d.OwnerUserID == ownerUserID {
			devices = append(devices, *d)
		}
	}
	sort.Slice(devices, func(i, j int) bool {
		return devices[i].CreatedAt.After(devices[j].CreatedAt)
	})
	return devices, nil
}

func (r *memDeviceRepo) Activate(ctx context.Context, id string) (bool, error) {
	d, ok := r.state.devices[id]
	if !ok || d.Status != models.DevicePendingActivationStatus {
		return false, nil
	}
	d.Status = models.DeviceActiveStatus
	d.ActivatedAt.Time = time.Now().UTC()
	d.ActivatedAt.Valid = true
	return true, nil
}

func (r *memDeviceRepo) Revoke(ctx context.Context, id string) error {
	if d, ok := r.state.devices[id]; ok {
		d.Status = models.DeviceRevokedStatus
	}
	return nil
}
