// Package session drives the in-person QR payment flow. The machine is
// stateless; every state lives in the payment_sessions table and moves only
// through guarded transitions, so any number of workers can serve the same
// session without stepping on each other.
package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

var (
	ErrSessionNotFound = errors.New("payment session not found")
	ErrSessionExpired  = errors.New("payment session has expired")
	ErrInvalidState    = errors.New("payment session is not in the required state")
	ErrAmountTooLarge  = errors.New("amount exceeds the per-session maximum")
	ErrPayeeNotPayable = errors.New("payee wallet cannot receive payments")
	ErrNonceMismatch   = errors.New("scanned nonce does not match the session")
	ErrNonceReplayed   = errors.New("QR code has already been scanned")
	ErrDeviceNotUsable = errors.New("device is not active")
	ErrDeviceMismatch  = errors.New("assertion device does not match the scanning device")
	ErrNoPayerWallet   = errors.New("device owner has no wallet")
	ErrBadSignature    = errors.New("biometric assertion signature is invalid")
)

// Session-level decline reasons, persisted on both the session and its
// transaction.
const (
	reasonBadSignature    = "invalid_signature"
	reasonDeviceNotActive = "device_not_active"
)

// NonceGuard is the single-use barrier for QR nonces. The first claimant
// wins; every replay of the same nonce is rejected even across workers.
type NonceGuard interface {
	SetIfNotExists(key string, value string, expiration time.Duration) (bool, error)
}

type Machine struct {
	db        repository.Database
	coord     *coordinator.Coordinator
	guard     NonceGuard
	logger    *slog.Logger
	ttl       time.Duration
	maxAmount int64
}

func NewMachine(db repository.Database, coord *coordinator.Coordinator, guard NonceGuard, logger *slog.Logger, ttl time.Duration, maxAmount int64) *Machine {
	return &Machine{
		db:        db,
		coord:     coord,
		guard:     guard,
		logger:    logger,
		ttl:       ttl,
		maxAmount: maxAmount,
	}
}

// QRPayload is the document encoded into the QR code shown by the payee
// terminal. The nonce makes each issued code single-use.
type QRPayload struct {
	SessionID     string `json:"session_id"`
	PayeeWalletID string `json:"payee_wallet_id"`
	Amount        int64  `json:"amount"`
	Nonce         string `json:"nonce"`
	IssuedAt      string `json:"issued_at"`
}

// SignaturePayload is the canonical byte string the payer device signs with
// its ed25519 key. Both sides derive it independently from the session.
func SignaturePayload(sessionID, payeeWalletID string, amount int64, nonce string) []byte {
	return []byte(fmt.Sprintf("centpay:v1:%s:%s:%d:%s", sessionID, payeeWalletID, amount, nonce))
}

// Create opens a session for the given payee and amount and returns the QR
// payload to display. A pending transaction sharing the session id is created
// up front; that shared id is what makes every later settlement attempt
// idempotent.
func (m *Machine) Create(ctx context.Context, payeeWalletID string, amount int64) (*models.PaymentSession, *QRPayload, error) {
	if amount <= 0 {
		return nil, nil, coordinator.ErrInvalidAmount
	}
	if amount > m.maxAmount {
		return nil, nil, ErrAmountTooLarge
	}

	nonce, err := newNonce()
	if err != nil {
		return nil, nil, err
	}

	session := &models.PaymentSession{
		ID:            uuid.NewString(),
		PayeeWalletID: payeeWalletID,
		Amount:        amount,
		Nonce:         nonce,
		ExpiresAt:     time.Now().UTC().Add(m.ttl),
	}

	err = m.db.InTx(ctx, func(s repository.Store) error {
		wallet, found, err := s.Wallet().GetOne(ctx, payeeWalletID)
		if err != nil {
			return err
		}
		if !found || wallet.Status != models.WalletActiveStatus {
			return ErrPayeeNotPayable
		}

		if err := s.Session().Insert(ctx, session); err != nil {
			return err
		}

		_, err = s.Transaction().TryInsert(ctx, &models.Transaction{
			ID:            session.ID,
			PayeeWalletID: payeeWalletID,
			Amount:        amount,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	payload := &QRPayload{
		SessionID:     session.ID,
		PayeeWalletID: payeeWalletID,
		Amount:        amount,
		Nonce:         nonce,
		IssuedAt:      session.CreatedAt.UTC().Format(time.RFC3339),
	}

	m.logger.Info("payment session created",
		"session_id", session.ID,
		"payee_wallet_id", payeeWalletID,
		"amount", amount,
	)

	return session, payload, nil
}

// Scan binds a payer device to the session. The nonce must match the issued
// QR code and may only ever be claimed once.
func (m *Machine) Scan(ctx context.Context, sessionID, deviceID, nonce string) (*models.PaymentSession, error) {
	session, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.State != models.SessionStateQRIssued {
		return nil, ErrInvalidState
	}
	if nonce != session.Nonce {
		return nil, ErrNonceMismatch
	}

	claimed, err := m.guard.SetIfNotExists("qr_nonce:"+nonce, sessionID, m.ttl)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, ErrNonceReplayed
	}

	device, found, err := m.db.Device().GetOne(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !found || device.Status != models.DeviceActiveStatus {
		return nil, ErrDeviceNotUsable
	}

	payer, found, err := m.db.Wallet().GetByOwner(ctx, device.OwnerUserID, models.WalletOwnerUser)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNoPayerWallet
	}
	if payer.ID == session.PayeeWalletID {
		return nil, coordinator.ErrSelfTransfer
	}

	moved, err := m.db.Session().Transition(ctx, sessionID, models.SessionStateQRIssued, models.SessionStateScanned)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, m.staleTransition(ctx, sessionID)
	}

	if err := m.db.Session().SetParticipants(ctx, sessionID, payer.ID, deviceID); err != nil {
		return nil, err
	}

	session.State = models.SessionStateScanned
	session.PayerWalletID = sql.NullString{String: payer.ID, Valid: true}
	session.DeviceID = sql.NullString{String: deviceID, Valid: true}

	return session, nil
}

// SubmitAssertion verifies the device's ed25519 signature over the canonical
// session payload and, on success, settles the payment. A session stranded in
// the authorized state by an earlier infrastructure failure may resubmit; the
// settlement is idempotent either way.
func (m *Machine) SubmitAssertion(ctx context.Context, sessionID, deviceID string, signature []byte) (*models.PaymentSession, error) {
	session, err := m.loadLive(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	switch session.State {
	case models.SessionStateScanned:
	case models.SessionStateAuthorized:
		// Signature was already accepted; only the settlement is pending.
		return m.settle(ctx, session)
	default:
		return nil, ErrInvalidState
	}

	if !session.DeviceID.Valid || session.DeviceID.String != deviceID {
		return nil, ErrDeviceMismatch
	}

	moved, err := m.db.Session().Transition(ctx, sessionID, models.SessionStateScanned, models.SessionStateBiometricPending)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, m.staleTransition(ctx, sessionID)
	}
	session.State = models.SessionStateBiometricPending

	device, found, err := m.db.Device().GetOne(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if !found || device.Status != models.DeviceActiveStatus {
		return nil, m.decline(ctx, session, reasonDeviceNotActive, ErrDeviceNotUsable)
	}

	payload := SignaturePayload(session.ID, session.PayeeWalletID, session.Amount, session.Nonce)
	if len(device.PublicKey) != ed25519.PublicKeySize || !ed25519.Verify(ed25519.PublicKey(device.PublicKey), payload, signature) {
		return nil, m.decline(ctx, session, reasonBadSignature, ErrBadSignature)
	}

	moved, err = m.db.Session().Transition(ctx, sessionID, models.SessionStateBiometricPending, models.SessionStateAuthorized)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, m.staleTransition(ctx, sessionID)
	}
	session.State = models.SessionStateAuthorized

	return m.settle(ctx, session)
}

// settle runs the money movement for an authorized session and records the
// outcome on the session row.
func (m *Machine) settle(ctx context.Context, session *models.PaymentSession) (*models.PaymentSession, error) {
	txn, err := m.coord.Transfer(ctx, coordinator.TransferInput{
		TransactionID: session.ID,
		PayerWalletID: session.PayerWalletID.String,
		PayeeWalletID: session.PayeeWalletID,
		DeviceID:      session.DeviceID.String,
		Amount:        session.Amount,
	})

	switch {
	case err == nil:
		if _, terr := m.db.Session().Terminate(ctx, session.ID, models.SessionStateAuthorized, models.SessionStateSettled, ""); terr != nil {
			return nil, terr
		}
		session.State = models.SessionStateSettled
		return session, nil

	case txn != nil:
		// Business rejection: the transaction already carries the reason.
		reason := err.Error()
		if txn.FailureReason.Valid {
			reason = txn.FailureReason.String
		}
		if _, terr := m.db.Session().Terminate(ctx, session.ID, models.SessionStateAuthorized, models.SessionStateDeclined, reason); terr != nil {
			return nil, terr
		}
		session.State = models.SessionStateDeclined
		session.FailureReason = sql.NullString{String: reason, Valid: true}
		return session, err

	default:
		// Infrastructure failure: leave the session authorized so the
		// assertion can be resubmitted; the TTL cleans up abandonment.
		return nil, err
	}
}

// Cancel lets the payer abandon a session before authorization. An already
// cancelled session is a no-op; an authorized one is past the point of no
// return.
func (m *Machine) Cancel(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	session, err := m.loadLive(ctx, sessionID)
	if err != nil {
		if errors.Is(err, errAlreadyTerminal) {
			session, _, gerr := m.db.Session().GetOne(ctx, sessionID)
			if gerr != nil {
				return nil, gerr
			}
			if session != nil && session.State == models.SessionStateCancelled {
				return session, nil
			}
			return nil, ErrInvalidState
		}
		return nil, err
	}

	switch session.State {
	case models.SessionStateQRIssued, models.SessionStateScanned:
	default:
		return nil, ErrInvalidState
	}

	moved, err := m.db.Session().Terminate(ctx, sessionID, session.State, models.SessionStateCancelled, coordinator.ReasonCancelledByPayer)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, m.staleTransition(ctx, sessionID)
	}

	if err := m.coord.MarkCancelled(ctx, sessionID); err != nil {
		return nil, err
	}

	session.State = models.SessionStateCancelled
	session.FailureReason = sql.NullString{String: coordinator.ReasonCancelledByPayer, Valid: true}
	return session, nil
}

// Get returns the session, lazily expiring it when the TTL has elapsed, so a
// poll observes expiry without waiting on the sweeper.
func (m *Machine) Get(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	session, found, err := m.db.Session().GetOne(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	if session.Expired(time.Now().UTC()) {
		if err := m.expire(ctx, session); err != nil {
			return nil, err
		}
	}

	return session, nil
}

// ExpireStale sweeps every live session past its TTL and expires its pending
// transaction alongside.
func (m *Machine) ExpireStale(ctx context.Context) (int, error) {
	ids, err := m.db.Session().ExpireStale(ctx, time.Now().UTC(), coordinator.ReasonSessionExpired)
	if err != nil {
		return 0, err
	}

	for _, id := range ids {
		if err := m.coord.MarkExpired(ctx, id); err != nil {
			return 0, err
		}
	}

	if len(ids) > 0 {
		m.logger.Info("expired stale payment sessions", "count", len(ids))
	}

	return len(ids), nil
}

// RunSweeper expires stale sessions on a fixed interval until ctx is done.
func (m *Machine) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.ExpireStale(ctx); err != nil {
				m.logger.Error("session sweep failed", "error", err)
			}
		}
	}
}

var errAlreadyTerminal = errors.New("payment session already terminal")

// loadLive fetches the session and enforces liveness: terminal sessions and
// sessions past their TTL are rejected (the latter is expired on the spot).
func (m *Machine) loadLive(ctx context.Context, sessionID string) (*models.PaymentSession, error) {
	session, found, err := m.db.Session().GetOne(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrSessionNotFound
	}

	if session.Expired(time.Now().UTC()) {
		if err := m.expire(ctx, session); err != nil {
			return nil, err
		}
		return nil, ErrSessionExpired
	}

	if session.Terminal() {
		if session.State == models.SessionStateExpired {
			return nil, ErrSessionExpired
		}
		return nil, errAlreadyTerminal
	}

	return session, nil
}

func (m *Machine) expire(ctx context.Context, session *models.PaymentSession) error {
	moved, err := m.db.Session().Terminate(ctx, session.ID, session.State, models.SessionStateExpired, coordinator.ReasonSessionExpired)
	if err != nil {
		return err
	}
	if moved {
		session.State = models.SessionStateExpired
		session.FailureReason = sql.NullString{String: coordinator.ReasonSessionExpired, Valid: true}
		return m.coord.MarkExpired(ctx, session.ID)
	}
	return nil
}

// decline terminates a biometric-pending session and fails its transaction,
// then surfaces the original business error to the caller.
func (m *Machine) decline(ctx context.Context, session *models.PaymentSession, reason string, cause error) error {
	if _, err := m.db.Session().Terminate(ctx, session.ID, session.State, models.SessionStateDeclined, reason); err != nil {
		return err
	}
	if err := m.coord.Decline(ctx, session.ID, reason); err != nil {
		return err
	}
	session.State = models.SessionStateDeclined
	session.FailureReason = sql.NullString{String: reason, Valid: true}
	return cause
}

// staleTransition explains a lost guarded update: the session either expired
// or another worker moved it first.
func (m *Machine) staleTransition(ctx context.Context, sessionID string) error {
	session, found, err := m.db.Session().GetOne(ctx, sessionID)
	if err != nil {
		return err
	}
	if !found {
		return ErrSessionNotFound
	}
	if session.Expired(time.Now().UTC()) || session.State == models.SessionStateExpired {
		return ErrSessionExpired
	}
	return ErrInvalidState
}

func newNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
