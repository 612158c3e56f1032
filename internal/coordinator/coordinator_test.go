package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/mocks"
	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/stream"
)

func newTestCoordinator(t *testing.T) (*Coordinator, *mocks.MemoryStore, *mocks.MockProducer) {
	t.Helper()

	db := mocks.NewMemoryStore()
	producer := mocks.NewMockProducer()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	return New(db, producer, logger, 720*time.Hour), db, producer
}

func seedWallet(t *testing.T, db *mocks.MemoryStore, ownerRef, ownerType string, balance int64, cap int64) string {
	t.Helper()
	ctx := context.Background()

	wallet := &models.Wallet{OwnerRef: ownerRef, OwnerType: ownerType}
	if cap > 0 {
		wallet.Cap = sql.NullInt64{Int64: cap, Valid: true}
	}

	id, err := db.Wallet().Insert(ctx, wallet)
	require.NoError(t, err)

	if balance > 0 {
		require.NoError(t, db.Wallet().Credit(ctx, id, balance))
	}

	return id
}

func TestTransferSettles(t *testing.T) {
	coord, db, producer := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 1000, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	txn, err := coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		DeviceID:      "dev-1",
		Amount:        300,
	})
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusSettled, txn.Status)
	require.True(t, txn.SettledAt.Valid)

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(700), payerWallet.Balance)

	payeeWallet, _, err := db.Wallet().GetOne(ctx, payee)
	require.NoError(t, err)
	require.Equal(t, int64(300), payeeWallet.Balance)

	debits, err := db.Ledger().ListForWallet(ctx, payer, 10, 0)
	require.NoError(t, err)
	require.Len(t, debits, 1)
	require.Equal(t, int64(-300), debits[0].Amount)
	require.Equal(t, models.LedgerEntryDebit, debits[0].EntryType)

	credits, err := db.Ledger().ListForWallet(ctx, payee, 10, 0)
	require.NoError(t, err)
	require.Len(t, credits, 1)
	require.Equal(t, int64(300), credits[0].Amount)

	settled := producer.Produced(stream.SettledTopic)
	require.Len(t, settled, 1)

	var event stream.SettledEvent
	require.NoError(t, json.Unmarshal([]byte(settled[0]), &event))
	require.Equal(t, "txn-1", event.TransactionID)
	require.Equal(t, int64(300), event.Amount)
}

func TestTransferReplayReturnsStoredOutcome(t *testing.T) {
	coord, db, producer := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 1000, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	input := TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        250,
	}

	_, err := coord.Transfer(ctx, input)
	require.NoError(t, err)

	replay, err := coord.Transfer(ctx, input)
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusSettled, replay.Status)

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(750), payerWallet.Balance, "replay must not debit twice")

	require.Len(t, producer.Produced(stream.SettledTopic), 1, "replay must not announce twice")
}

func TestTransferInsufficientBalance(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 100, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	txn, err := coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        500,
	})
	require.ErrorIs(t, err, repository.ErrInsufficientBalance)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)
	require.Equal(t, ReasonInsufficientBalance, txn.FailureReason.String)

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(100), payerWallet.Balance)

	entries, err := db.Ledger().ListForWallet(ctx, payer, 10, 0)
	require.NoError(t, err)
	require.Empty(t, entries)

	// A replay of the failed transaction reports the same rejection.
	_, err = coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        500,
	})
	require.ErrorIs(t, err, repository.ErrInsufficientBalance)
}

func TestTransferCapExceededCompensatesPayer(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 1000, 10_000)
	payee := seedWallet(t, db, "user-2", models.WalletOwnerUser, 900, 1000)

	txn, err := coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        500,
	})
	require.ErrorIs(t, err, repository.ErrCapExceeded)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)
	require.Equal(t, ReasonCapExceeded, txn.FailureReason.String)

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(1000), payerWallet.Balance, "debit must be compensated")

	payeeWallet, _, err := db.Wallet().GetOne(ctx, payee)
	require.NoError(t, err)
	require.Equal(t, int64(900), payeeWallet.Balance)
}

func TestTransferFrozenPayer(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 1000, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	require.NoError(t, db.Wallet().Freeze(ctx, payer))

	txn, err := coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        100,
	})
	require.ErrorIs(t, err, repository.ErrWalletFrozen)
	require.Equal(t, models.TransactionStatusFailed, txn.Status)
	require.Equal(t, ReasonWalletFrozen, txn.FailureReason.String)
}

func TestTransferValidation(t *testing.T) {
	coord, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Transfer(ctx, TransferInput{TransactionID: "t", PayerWalletID: "a", PayeeWalletID: "b", Amount: 0})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = coord.Transfer(ctx, TransferInput{TransactionID: "t", PayerWalletID: "a", PayeeWalletID: "a", Amount: 10})
	require.ErrorIs(t, err, ErrSelfTransfer)
}

func TestTransferConcurrentDoubleSpend(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 500, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)

	for i, id := range []string{"txn-a", "txn-b"} {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, errs[i] = coord.Transfer(ctx, TransferInput{
				TransactionID: id,
				PayerWalletID: payer,
				PayeeWalletID: payee,
				Amount:        400,
			})
		}(i, id)
	}
	wg.Wait()

	var settled, insufficient int
	for _, err := range errs {
		switch {
		case err == nil:
			settled++
		case errors.Is(err, repository.ErrInsufficientBalance):
			insufficient++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, settled, "exactly one transfer may win the balance")
	require.Equal(t, 1, insufficient)

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(100), payerWallet.Balance)

	sum, err := db.Ledger().SumForWallet(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(-400), sum)
}

func TestTransferConcurrentSameTransaction(t *testing.T) {
	coord, db, producer := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 500, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	// Two workers settle the same transaction at once; exactly one may move
	// the money, the other must converge on the stored outcome.
	input := TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        500,
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	txns := make([]*models.Transaction, 2)

	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txns[i], errs[i] = coord.Transfer(ctx, input)
		}(i)
	}
	wg.Wait()

	for i := range errs {
		require.NoError(t, errs[i])
		require.Equal(t, models.TransactionStatusSettled, txns[i].Status)
	}

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(0), payerWallet.Balance, "the debit may land once")

	payeeWallet, _, err := db.Wallet().GetOne(ctx, payee)
	require.NoError(t, err)
	require.Equal(t, int64(500), payeeWallet.Balance)

	debits, err := db.Ledger().ListForWallet(ctx, payer, 10, 0)
	require.NoError(t, err)
	require.Len(t, debits, 1)

	credits, err := db.Ledger().ListForWallet(ctx, payee, 10, 0)
	require.NoError(t, err)
	require.Len(t, credits, 1)

	require.Len(t, producer.Produced(stream.SettledTopic), 1, "one settlement, one event")
}

func TestReverseRestoresBalances(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 1000, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	_, err := coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        400,
	})
	require.NoError(t, err)

	reversed, err := coord.Reverse(ctx, "txn-1")
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusReversed, reversed.Status)

	payerWallet, _, err := db.Wallet().GetOne(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(1000), payerWallet.Balance)

	payeeWallet, _, err := db.Wallet().GetOne(ctx, payee)
	require.NoError(t, err)
	require.Equal(t, int64(0), payeeWallet.Balance)

	sum, err := db.Ledger().SumForWallet(ctx, payer)
	require.NoError(t, err)
	require.Equal(t, int64(0), sum, "debit and reversal must cancel out")

	entries, err := db.Ledger().ListForWallet(ctx, payer, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Reversing again is a no-op.
	again, err := coord.Reverse(ctx, "txn-1")
	require.NoError(t, err)
	require.Equal(t, models.TransactionStatusReversed, again.Status)

	entries, err = db.Ledger().ListForWallet(ctx, payer, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2, "second reversal must not post again")
}

func TestReverseRejectsNonSettled(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	_, err := coord.Reverse(ctx, "missing")
	require.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = db.Transaction().TryInsert(ctx, &models.Transaction{
		ID:            "txn-pending",
		PayeeWalletID: "wal-x",
		Amount:        100,
	})
	require.NoError(t, err)

	_, err = coord.Reverse(ctx, "txn-pending")
	require.ErrorIs(t, err, ErrNotSettled)
}

func TestReverseRefundWindowElapsed(t *testing.T) {
	_, db, producer := newTestCoordinator(t)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// Zero window: anything already settled is out of range.
	coord := New(db, producer, logger, 0)

	payer := seedWallet(t, db, "user-1", models.WalletOwnerUser, 1000, 10_000)
	payee := seedWallet(t, db, "assoc-1", models.WalletOwnerAssociation, 0, 0)

	_, err := coord.Transfer(ctx, TransferInput{
		TransactionID: "txn-1",
		PayerWalletID: payer,
		PayeeWalletID: payee,
		Amount:        100,
	})
	require.NoError(t, err)

	_, err = coord.Reverse(ctx, "txn-1")
	require.ErrorIs(t, err, ErrRefundWindowElapsed)
}

func TestTopUpCreditAppliedExactlyOnce(t *testing.T) {
	coord, db, _ := newTestCoordinator(t)
	ctx := context.Background()

	wallet := seedWallet(t, db, "user-1", models.WalletOwnerUser, 0, 10_000)

	topUp, applied, err := coord.TopUpCredit(ctx, wallet, 500, "prov-ref-1")
	require.NoError(t, err)
	require.True(t, applied)
	require.Equal(t, models.TopUpStatusApplied, topUp.Status)

	// Provider redelivers the same notification.
	replay, applied, err := coord.TopUpCredit(ctx, wallet, 500, "prov-ref-1")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, models.TopUpStatusApplied, replay.Status)

	w, _, err := db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(500), w.Balance)

	entries, err := db.Ledger().ListForWallet(ctx, wallet, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, models.LedgerEntryTopUp, entries[0].EntryType)
}

func TestTopUpCapExceededRejectedAndAlerted(t *testing.T) {
	coord, db, producer := newTestCoordinator(t)
	ctx := context.Background()

	wallet := seedWallet(t, db, "user-1", models.WalletOwnerUser, 900, 1000)

	topUp, applied, err := coord.TopUpCredit(ctx, wallet, 500, "prov-ref-1")
	require.ErrorIs(t, err, repository.ErrCapExceeded)
	require.False(t, applied)
	require.Equal(t, models.TopUpStatusRejected, topUp.Status)

	w, _, err := db.Wallet().GetOne(ctx, wallet)
	require.NoError(t, err)
	require.Equal(t, int64(900), w.Balance)

	alerts := producer.Produced(stream.AlertsTopic)
	require.Len(t, alerts, 1)

	var alert stream.AlertEvent
	require.NoError(t, json.Unmarshal([]byte(alerts[0]), &alert))
	require.Equal(t, stream.AlertTopUpRejected, alert.Type)
	require.Equal(t, "prov-ref-1", alert.Reference)

	// Redelivery converges on the stored rejection without another alert.
	replay, applied, err := coord.TopUpCredit(ctx, wallet, 500, "prov-ref-1")
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, models.TopUpStatusRejected, replay.Status)
	require.Len(t, producer.Produced(stream.AlertsTopic), 1)
}
