package topup

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/coordinator"
	"github.com/campuskit/centpay/internal/mocks"
	"github.com/campuskit/centpay/internal/models"
)

func newTestProcessor(t *testing.T) (*Processor, *mocks.MemoryStore) {
	t.Helper()

	db := mocks.NewMemoryStore()
	producer := mocks.NewMockProducer()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := coordinator.New(db, producer, logger, 720*time.Hour)

	return NewProcessor(coord, NewHMACVerifier("secret"), logger), db
}

func TestHMACVerifier(t *testing.T) {
	verifier := NewHMACVerifier("secret")
	body := []byte(`{"external_ref":"ref-1"}`)

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write(body)
	signature := hex.EncodeToString(mac.Sum(nil))

	require.NoError(t, verifier.Verify(body, signature))
	require.ErrorIs(t, verifier.Verify(body, "deadbeef"), ErrBadSignature)
	require.ErrorIs(t, verifier.Verify(body, "not-hex"), ErrBadSignature)
	require.ErrorIs(t, verifier.Verify([]byte("tampered"), signature), ErrBadSignature)
}

func TestNotificationAppliedOnceAcrossRedeliveries(t *testing.T) {
	processor, db := newTestProcessor(t)
	ctx := context.Background()

	wallet, err := db.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
		Cap:       sql.NullInt64{Int64: 10_000, Valid: true},
	})
	require.NoError(t, err)

	notification := Notification{
		ExternalRef: "prov-ref-1",
		WalletID:    wallet,
		Amount:      750,
	}

	// The provider delivers the same notification five times.
	results := make([]Result, 0, 5)
	for i := 0; i < 5; i++ {
		_, result, err := processor.HandleNotification(ctx, notification)
		require.NoError(t, err)
		results = append(results, result)
	}

	require.Equal(t, ResultApplied, results[0])
	for _, result := range results[1:] {
		require.Equal(t, ResultAlreadyApplied, result)
	}

	w, _, err := db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(750), w.Balance, "five deliveries must credit once")
}

func TestNotificationRejectedStaysRejected(t *testing.T) {
	processor, db := newTestProcessor(t)
	ctx := context.Background()

	wallet, err := db.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
		Cap:       sql.NullInt64{Int64: 500, Valid: true},
	})
	require.NoError(t, err)

	notification := Notification{
		ExternalRef: "prov-ref-1",
		WalletID:    wallet,
		Amount:      900,
	}

	topUp, result, err := processor.HandleNotification(ctx, notification)
	require.NoError(t, err, "a rejection is an outcome, not a failure")
	require.Equal(t, ResultRejected, result)
	require.Equal(t, models.TopUpStatusRejected, topUp.Status)

	// Redelivery observes the stored rejection.
	_, result, err = processor.HandleNotification(ctx, notification)
	require.NoError(t, err)
	require.Equal(t, ResultRejected, result)

	w, _, err := db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(0), w.Balance)
}

func TestNotificationUnknownWalletRejected(t *testing.T) {
	processor, _ := newTestProcessor(t)

	_, result, err := processor.HandleNotification(context.Background(), Notification{
		ExternalRef: "prov-ref-1",
		WalletID:    "missing",
		Amount:      100,
	})
	require.NoError(t, err)
	require.Equal(t, ResultRejected, result)
}
