package session

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/cache"
	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/mocks"
	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

type fixture struct {
	machine *Machine
	db      *mocks.MemoryStore
	cache   *cache.Cache
	payer   string
	payee   string
	device  string
	privKey ed25519.PrivateKey
}

func newFixture(t *testing.T, ttl time.Duration) *fixture {
	t.Helper()
	ctx := context.Background()

	db := mocks.NewMemoryStore()
	producer := mocks.NewMockProducer()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	guard := cache.New(mr.Addr(), 0)
	t.Cleanup(func() { guard.Close() })

	coord := coordinator.New(db, producer, logger, 720*time.Hour)
	machine := NewMachine(db, coord, guard, logger, ttl, 2000)

	payer, err := db.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
		Cap:       sql.NullInt64{Int64: 10_000, Valid: true},
	})
	require.NoError(t, err)
	require.NoError(t, db.Wallet().Credit(ctx, payer, 1500))

	payee, err := db.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "assoc-1",
		OwnerType: models.WalletOwnerAssociation,
	})
	require.NoError(t, err)

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	deviceID, err := db.Device().Insert(ctx, &models.Device{
		OwnerUserID:     "user-1",
		Name:            "phone",
		PublicKey:       pubKey,
		ActivationToken: "tok-1",
		TokenExpiresAt:  time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	activated, err := db.Device().Activate(ctx, deviceID)
	require.NoError(t, err)
	require.True(t, activated)

	return &fixture{
		machine: machine,
		db:      db,
		cache:   guard,
		payer:   payer,
		payee:   payee,
		device:  deviceID,
		privKey: privKey,
	}
}

func (f *fixture) sign(sess *models.PaymentSession) []byte {
	payload := SignaturePayload(sess.ID, sess.PayeeWalletID, sess.Amount, sess.Nonce)
	return ed25519.Sign(f.privKey, payload)
}

func TestFullPaymentFlow(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 750)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateQRIssued, sess.State)
	require.Equal(t, sess.ID, qr.SessionID)
	require.NotEmpty(t, qr.Nonce)

	scanned, err := f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateScanned, scanned.State)
	require.Equal(t, f.payer, scanned.PayerWalletID.String)

	settled, err := f.machine.SubmitAssertion(ctx, sess.ID, f.device, f.sign(scanned))
	require.NoError(t, err)
	require.Equal(t, models.SessionStateSettled, settled.State)

	payerWallet, _, err := f.db.Wallet().GetOne(ctx, f.payer)
	require.NoError(t, err)
	require.Equal(t, int64(750), payerWallet.Balance)

	payeeWallet, _, err := f.db.Wallet().GetOne(ctx, f.payee)
	require.NoError(t, err)
	require.Equal(t, int64(750), payeeWallet.Balance)

	txn, found, err := f.db.Transaction().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, models.TransactionStatusSettled, txn.Status)
}

func TestCreateRejectsOversizedAmount(t *testing.T) {
	f := newFixture(t, 2*time.Minute)

	_, _, err := f.machine.Create(context.Background(), f.payee, 2001)
	require.ErrorIs(t, err, ErrAmountTooLarge)

	_, _, err = f.machine.Create(context.Background(), f.payee, 0)
	require.ErrorIs(t, err, coordinator.ErrInvalidAmount)
}

func TestCreateRejectsFrozenPayee(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	require.NoError(t, f.db.Wallet().Freeze(ctx, f.payee))

	_, _, err := f.machine.Create(ctx, f.payee, 100)
	require.ErrorIs(t, err, ErrPayeeNotPayable)
}

func TestScanRejectsReplayedNonce(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	// Another terminal already claimed this nonce.
	claimed, err := f.cache.SetIfNotExists("qr_nonce:"+qr.Nonce, "elsewhere", time.Minute)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.ErrorIs(t, err, ErrNonceReplayed)
}

func TestScanRejectsWrongNonce(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, _, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	_, err = f.machine.Scan(ctx, sess.ID, f.device, "forged")
	require.ErrorIs(t, err, ErrNonceMismatch)
}

func TestScanRejectsInactiveDevice(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	require.NoError(t, f.db.Device().Revoke(ctx, f.device))

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	_, err = f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.ErrorIs(t, err, ErrDeviceNotUsable)
}

func TestAssertionRejectsWrongKey(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	scanned, err := f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.NoError(t, err)

	_, otherKey, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	forged := ed25519.Sign(otherKey, SignaturePayload(sess.ID, sess.PayeeWalletID, sess.Amount, scanned.Nonce))

	_, err = f.machine.SubmitAssertion(ctx, sess.ID, f.device, forged)
	require.ErrorIs(t, err, ErrBadSignature)

	stored, err := f.machine.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateDeclined, stored.State)

	txn, _, err := f.db.Transaction().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)

	payerWallet, _, err := f.db.Wallet().GetOne(ctx, f.payer)
	require.NoError(t, err)
	require.Equal(t, int64(1500), payerWallet.Balance, "forged assertion must not move money")
}

func TestAssertionRejectsDeviceRevokedAfterScan(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	scanned, err := f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.NoError(t, err)

	require.NoError(t, f.db.Device().Revoke(ctx, f.device))

	_, err = f.machine.SubmitAssertion(ctx, sess.ID, f.device, f.sign(scanned))
	require.ErrorIs(t, err, ErrDeviceNotUsable)

	stored, err := f.machine.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateDeclined, stored.State)
	require.Equal(t, reasonDeviceNotActive, stored.FailureReason.String,
		"a revoked device is not a forged signature")

	txn, _, err := f.db.Transaction().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)
	require.Equal(t, reasonDeviceNotActive, txn.FailureReason.String)
}

func TestAssertionRejectsMismatchedDevice(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	scanned, err := f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.NoError(t, err)

	_, err = f.machine.SubmitAssertion(ctx, sess.ID, "some-other-device", f.sign(scanned))
	require.ErrorIs(t, err, ErrDeviceMismatch)
}

func TestInsufficientBalanceDeclinesSession(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	// Drain the payer first.
	require.NoError(t, f.db.Wallet().Debit(ctx, f.payer, 1500))

	sess, qr, err := f.machine.Create(ctx, f.payee, 500)
	require.NoError(t, err)

	scanned, err := f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.NoError(t, err)

	_, err = f.machine.SubmitAssertion(ctx, sess.ID, f.device, f.sign(scanned))
	require.ErrorIs(t, err, repository.ErrInsufficientBalance)

	stored, err := f.machine.Get(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateDeclined, stored.State)
	require.Equal(t, coordinator.ReasonInsufficientBalance, stored.FailureReason.String)
}

func TestExpiredSessionRejectsScan(t *testing.T) {
	f := newFixture(t, -time.Second)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	_, err = f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.ErrorIs(t, err, ErrSessionExpired)

	txn, _, err := f.db.Transaction().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusExpired, txn.Status)
}

func TestCancelBeforeAuthorization(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, _, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	cancelled, err := f.machine.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateCancelled, cancelled.State)

	txn, _, err := f.db.Transaction().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)
	require.Equal(t, coordinator.ReasonCancelledByPayer, txn.FailureReason.String)

	// Cancelling again is a no-op.
	again, err := f.machine.Cancel(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.SessionStateCancelled, again.State)
}

func TestCancelAfterSettlementRefused(t *testing.T) {
	f := newFixture(t, 2*time.Minute)
	ctx := context.Background()

	sess, qr, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	scanned, err := f.machine.Scan(ctx, sess.ID, f.device, qr.Nonce)
	require.NoError(t, err)

	_, err = f.machine.SubmitAssertion(ctx, sess.ID, f.device, f.sign(scanned))
	require.NoError(t, err)

	_, err = f.machine.Cancel(ctx, sess.ID)
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestExpireStaleSweepsSessions(t *testing.T) {
	f := newFixture(t, -time.Second)
	ctx := context.Background()

	sess, _, err := f.machine.Create(ctx, f.payee, 100)
	require.NoError(t, err)

	count, err := f.machine.ExpireStale(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	stored, found, err := f.db.Session().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, models.SessionStateExpired, stored.State)
	require.Equal(t, coordinator.ReasonSessionExpired, stored.FailureReason.String,
		"swept sessions must carry the same reason as lazily expired ones")

	txn, _, err := f.db.Transaction().GetOne(ctx, sess.ID)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusExpired, txn.Status)
}
