// Package coordinator is the sole writer of wallet balances and ledger
// entries. Every balance mutation in the system, whether it comes from a
// payment session or a top-up webhook, funnels through here and runs inside
// one database transaction with the wallet rows locked first.
package coordinator

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/stream"
)

var (
	ErrSelfTransfer        = errors.New("payer and payee wallets must differ")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrNotSettled          = errors.New("transaction is not settled")
	ErrRefundWindowElapsed = errors.New("refund window has elapsed")
	ErrTransactionExpired  = errors.New("transaction has expired")
	ErrTransactionDeclined = errors.New("transaction was declined")
)

// Failure reasons persisted on failed transactions. A replayed transfer maps
// the stored reason back to the original business error.
const (
	ReasonInsufficientBalance = "insufficient_balance"
	ReasonCapExceeded         = "cap_exceeded"
	ReasonWalletFrozen        = "wallet_frozen"
	ReasonWalletNotFound      = "wallet_not_found"
	ReasonCancelledByPayer    = "cancelled_by_payer"
	ReasonSessionExpired      = "session_expired"
)

type Coordinator struct {
	db           repository.Database
	producer     stream.Producer
	logger       *slog.Logger
	refundWindow time.Duration
}

func New(db repository.Database, producer stream.Producer, logger *slog.Logger, refundWindow time.Duration) *Coordinator {
	return &Coordinator{
		db:           db,
		producer:     producer,
		logger:       logger,
		refundWindow: refundWindow,
	}
}

type TransferInput struct {
	TransactionID string
	PayerWalletID string
	PayeeWalletID string
	DeviceID      string
	Amount        int64
}

// Transfer moves Amount from the payer wallet to the payee wallet as one
// unit. Replaying a transaction id that already reached a terminal status
// returns the stored outcome without touching any balance. The returned
// error is nil for a settled transfer, a business-rule sentinel for a
// rejected one (the rejection is also recorded on the transaction), or an
// infrastructure error, in which case nothing was committed.
func (c *Coordinator) Transfer(ctx context.Context, in TransferInput) (*models.Transaction, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.PayerWalletID == in.PayeeWalletID {
		return nil, ErrSelfTransfer
	}

	var (
		result     *models.Transaction
		outcomeErr error
		settledNow bool
	)

	err := c.db.InTx(ctx, func(s repository.Store) error {
		txn, found, err := s.Transaction().Lock(ctx, in.TransactionID)
		if err != nil {
			return err
		}

		if !found {
			txn = &models.Transaction{
				ID:            in.TransactionID,
				PayerWalletID: sql.NullString{String: in.PayerWalletID, Valid: true},
				PayeeWalletID: in.PayeeWalletID,
				Amount:        in.Amount,
				DeviceID:      sql.NullString{String: in.DeviceID, Valid: in.DeviceID != ""},
			}

			inserted, err := s.Transaction().TryInsert(ctx, txn)
			if err != nil {
				return err
			}
			if !inserted {
				// Lost the insert race. The second Lock blocks until the
				// winner commits, then we read its outcome.
				txn, _, err = s.Transaction().Lock(ctx, in.TransactionID)
				if err != nil {
					return err
				}
				if txn == nil {
					return fmt.Errorf("transaction %s vanished after insert conflict", in.TransactionID)
				}
			}
		}

		if txn.Terminal() {
			result = txn
			outcomeErr = businessErrorForTransaction(txn)
			return nil
		}

		// A pending row created at session start carries the authoritative
		// amount and payee; the input must agree with it.
		if txn.Amount != in.Amount || txn.PayeeWalletID != in.PayeeWalletID {
			return fmt.Errorf("transaction %s does not match transfer input", txn.ID)
		}

		if err := s.Transaction().SetParticipants(ctx, txn.ID, in.PayerWalletID, in.DeviceID); err != nil {
			return err
		}
		txn.PayerWalletID = sql.NullString{String: in.PayerWalletID, Valid: true}
		txn.DeviceID = sql.NullString{String: in.DeviceID, Valid: in.DeviceID != ""}

		// Lock both wallets in ascending id order. The fixed total order is
		// the only thing standing between two opposite-direction transfers
		// and a deadlock.
		if err := lockWalletPair(ctx, s, in.PayerWalletID, in.PayeeWalletID); err != nil {
			if isBusinessError(err) {
				result, outcomeErr = txn, err
				return c.markFailed(ctx, s, txn, reasonForError(err))
			}
			return err
		}

		if err := s.Wallet().Debit(ctx, in.PayerWalletID, in.Amount); err != nil {
			if isBusinessError(err) {
				result, outcomeErr = txn, err
				return c.markFailed(ctx, s, txn, reasonForError(err))
			}
			return err
		}

		if err := s.Wallet().Credit(ctx, in.PayeeWalletID, in.Amount); err != nil {
			if !isBusinessError(err) {
				return err
			}

			// The debit must never be left dangling: credit the payer back
			// before recording the failure. If even that fails the whole
			// unit rolls back and the operator is alerted.
			if cerr := s.Wallet().Credit(ctx, in.PayerWalletID, in.Amount); cerr != nil {
				c.alert(stream.AlertEvent{
					Type:      stream.AlertCompensationFailure,
					Message:   fmt.Sprintf("compensating credit failed after debit of transaction %s: %v", txn.ID, cerr),
					WalletID:  in.PayerWalletID,
					Reference: txn.ID,
					Amount:    in.Amount,
				})
				return fmt.Errorf("compensating credit for transaction %s: %w", txn.ID, cerr)
			}

			result, outcomeErr = txn, err
			return c.markFailed(ctx, s, txn, reasonForError(err))
		}

		debitKey := models.LedgerIdempotencyKey(txn.ID, models.LedgerEntryDebit, in.PayerWalletID)
		if err := s.Ledger().Append(ctx, &models.LedgerEntry{
			WalletID:       in.PayerWalletID,
			Amount:         -in.Amount,
			EntryType:      models.LedgerEntryDebit,
			TransactionID:  txn.ID,
			IdempotencyKey: debitKey,
		}); err != nil {
			return err
		}

		creditKey := models.LedgerIdempotencyKey(txn.ID, models.LedgerEntryCredit, in.PayeeWalletID)
		if err := s.Ledger().Append(ctx, &models.LedgerEntry{
			WalletID:       in.PayeeWalletID,
			Amount:         in.Amount,
			EntryType:      models.LedgerEntryCredit,
			TransactionID:  txn.ID,
			IdempotencyKey: creditKey,
		}); err != nil {
			return err
		}

		if err := s.Transaction().SetOutcome(ctx, txn.ID, models.TransactionStatusSettled, ""); err != nil {
			return err
		}

		txn.Status = models.TransactionStatusSettled
		txn.SettledAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		result = txn
		settledNow = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Announce only the attempt that moved the money; replays of a settled
	// transaction stay silent.
	if settledNow {
		c.announceSettled(result)
	}

	if outcomeErr != nil {
		c.logger.Warn("transfer rejected",
			"transaction_id", in.TransactionID,
			"payer_wallet_id", in.PayerWalletID,
			"payee_wallet_id", in.PayeeWalletID,
			"amount", in.Amount,
			"reason", outcomeErr.Error(),
		)
	}

	return result, outcomeErr
}

// TopUpCredit applies an external-provider credit exactly once per external
// reference. The boolean result is true only for the delivery that actually
// moved money; replays return the stored top-up untouched.
func (c *Coordinator) TopUpCredit(ctx context.Context, walletID string, amount int64, externalRef string) (*models.TopUp, bool, error) {
	if amount <= 0 {
		return nil, false, ErrInvalidAmount
	}

	var (
		result     *models.TopUp
		applied    bool
		outcomeErr error
	)

	err := c.db.InTx(ctx, func(s repository.Store) error {
		topUp, found, err := s.TopUp().LockByExternalRef(ctx, externalRef)
		if err != nil {
			return err
		}

		if !found {
			topUp = &models.TopUp{
				WalletID:    walletID,
				ExternalRef: externalRef,
				Amount:      amount,
			}

			inserted, err := s.TopUp().TryInsert(ctx, topUp)
			if err != nil {
				return err
			}
			if !inserted {
				topUp, _, err = s.TopUp().LockByExternalRef(ctx, externalRef)
				if err != nil {
					return err
				}
				if topUp == nil {
					return fmt.Errorf("top-up %s vanished after insert conflict", externalRef)
				}
			}
		}

		if topUp.Status != models.TopUpStatusReceived {
			result = topUp
			return nil
		}

		if topUp.WalletID != walletID || topUp.Amount != amount {
			return fmt.Errorf("top-up %s does not match stored notification", externalRef)
		}

		if _, found, err := s.Wallet().Lock(ctx, walletID); err != nil {
			return err
		} else if !found {
			return c.rejectTopUp(ctx, s, topUp, repository.ErrWalletNotFound, &result, &outcomeErr)
		}

		if err := s.Wallet().Credit(ctx, walletID, amount); err != nil {
			if isBusinessError(err) {
				return c.rejectTopUp(ctx, s, topUp, err, &result, &outcomeErr)
			}
			return err
		}

		key := models.LedgerIdempotencyKey(topUp.ID, models.LedgerEntryTopUp, walletID)
		if err := s.Ledger().Append(ctx, &models.LedgerEntry{
			WalletID:       walletID,
			Amount:         amount,
			EntryType:      models.LedgerEntryTopUp,
			TransactionID:  topUp.ID,
			IdempotencyKey: key,
		}); err != nil {
			return err
		}

		if err := s.TopUp().MarkApplied(ctx, topUp.ID); err != nil {
			return err
		}

		topUp.Status = models.TopUpStatusApplied
		topUp.AppliedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}
		result = topUp
		applied = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if outcomeErr != nil {
		c.logger.Error("top-up rejected",
			"external_ref", externalRef,
			"wallet_id", walletID,
			"amount", amount,
			"reason", outcomeErr.Error(),
		)
		c.alert(stream.AlertEvent{
			Type:      stream.AlertTopUpRejected,
			Message:   fmt.Sprintf("top-up %s could not be credited: %v", externalRef, outcomeErr),
			WalletID:  walletID,
			Reference: externalRef,
			Amount:    amount,
		})
	}

	return result, applied, outcomeErr
}

// Reverse refunds a settled transaction: the payee is debited and the payer
// credited back, with a mirrored pair of reversal entries appended under the
// original transaction id. Reversing an already-reversed transaction is a
// no-op returning the stored row.
func (c *Coordinator) Reverse(ctx context.Context, transactionID string) (*models.Transaction, error) {
	var (
		result     *models.Transaction
		outcomeErr error
	)

	err := c.db.InTx(ctx, func(s repository.Store) error {
		txn, found, err := s.Transaction().Lock(ctx, transactionID)
		if err != nil {
			return err
		}
		if !found {
			outcomeErr = ErrTransactionNotFound
			return nil
		}

		if txn.Status == models.TransactionStatusReversed {
			result = txn
			return nil
		}
		if txn.Status != models.TransactionStatusSettled || !txn.PayerWalletID.Valid {
			result, outcomeErr = txn, ErrNotSettled
			return nil
		}
		if txn.SettledAt.Valid && time.Since(txn.SettledAt.Time) > c.refundWindow {
			result, outcomeErr = txn, ErrRefundWindowElapsed
			return nil
		}

		payer := txn.PayerWalletID.String
		payee := txn.PayeeWalletID

		if err := lockWalletPair(ctx, s, payer, payee); err != nil {
			if isBusinessError(err) {
				result, outcomeErr = txn, err
				return nil
			}
			return err
		}

		// Undo in the opposite direction: take back from the payee first so
		// a payee that already spent the money rejects the refund cleanly.
		if err := s.Wallet().Debit(ctx, payee, txn.Amount); err != nil {
			if isBusinessError(err) {
				result, outcomeErr = txn, err
				return nil
			}
			return err
		}

		if err := s.Wallet().Credit(ctx, payer, txn.Amount); err != nil {
			if !isBusinessError(err) {
				return err
			}
			if cerr := s.Wallet().Credit(ctx, payee, txn.Amount); cerr != nil {
				c.alert(stream.AlertEvent{
					Type:      stream.AlertCompensationFailure,
					Message:   fmt.Sprintf("compensating credit failed while reversing transaction %s: %v", txn.ID, cerr),
					WalletID:  payee,
					Reference: txn.ID,
					Amount:    txn.Amount,
				})
				return fmt.Errorf("compensating credit for reversal of %s: %w", txn.ID, cerr)
			}
			result, outcomeErr = txn, err
			return nil
		}

		for _, entry := range []*models.LedgerEntry{
			{
				WalletID:       payee,
				Amount:         -txn.Amount,
				EntryType:      models.LedgerEntryReversal,
				TransactionID:  txn.ID,
				IdempotencyKey: models.LedgerIdempotencyKey(txn.ID, models.LedgerEntryReversal, payee),
			},
			{
				WalletID:       payer,
				Amount:         txn.Amount,
				EntryType:      models.LedgerEntryReversal,
				TransactionID:  txn.ID,
				IdempotencyKey: models.LedgerIdempotencyKey(txn.ID, models.LedgerEntryReversal, payer),
			},
		} {
			if err := s.Ledger().Append(ctx, entry); err != nil {
				return err
			}
		}

		if err := s.Transaction().SetOutcome(ctx, txn.ID, models.TransactionStatusReversed, ""); err != nil {
			return err
		}

		txn.Status = models.TransactionStatusReversed
		result = txn
		return nil
	})
	if err != nil {
		return nil, err
	}

	if outcomeErr != nil {
		c.logger.Warn("reversal rejected", "transaction_id", transactionID, "reason", outcomeErr.Error())
	}

	return result, outcomeErr
}

// MarkExpired moves a pending transaction to expired when its session timed
// out. Terminal rows are left alone.
func (c *Coordinator) MarkExpired(ctx context.Context, transactionID string) error {
	return c.db.InTx(ctx, func(s repository.Store) error {
		txn, found, err := s.Transaction().Lock(ctx, transactionID)
		if err != nil {
			return err
		}
		if !found || txn.Terminal() {
			return nil
		}
		return s.Transaction().SetOutcome(ctx, txn.ID, models.TransactionStatusExpired, ReasonSessionExpired)
	})
}

// Decline marks a pending transaction failed with the given reason. Terminal
// rows are left alone, so a decline that races a settlement loses cleanly.
func (c *Coordinator) Decline(ctx context.Context, transactionID, reason string) error {
	return c.db.InTx(ctx, func(s repository.Store) error {
		txn, found, err := s.Transaction().Lock(ctx, transactionID)
		if err != nil {
			return err
		}
		if !found || txn.Terminal() {
			return nil
		}
		return s.Transaction().SetOutcome(ctx, txn.ID, models.TransactionStatusFailed, reason)
	})
}

// MarkCancelled records a payer-initiated cancellation of a pending
// transaction.
func (c *Coordinator) MarkCancelled(ctx context.Context, transactionID string) error {
	return c.Decline(ctx, transactionID, ReasonCancelledByPayer)
}

func (c *Coordinator) markFailed(ctx context.Context, s repository.Store, txn *models.Transaction, reason string) error {
	if err := s.Transaction().SetOutcome(ctx, txn.ID, models.TransactionStatusFailed, reason); err != nil {
		return err
	}
	txn.Status = models.TransactionStatusFailed
	txn.FailureReason = sql.NullString{String: reason, Valid: true}
	return nil
}

func (c *Coordinator) rejectTopUp(ctx context.Context, s repository.Store, topUp *models.TopUp, cause error, result **models.TopUp, outcomeErr *error) error {
	if err := s.TopUp().MarkRejected(ctx, topUp.ID); err != nil {
		return err
	}
	topUp.Status = models.TopUpStatusRejected
	*result = topUp
	*outcomeErr = cause
	return nil
}

// lockWalletPair takes FOR UPDATE locks on both wallets in ascending id
// order and verifies both rows exist.
func lockWalletPair(ctx context.Context, s repository.Store, a, b string) error {
	first, second := a, b
	if second < first {
		first, second = second, first
	}

	for _, id := range []string{first, second} {
		_, found, err := s.Wallet().Lock(ctx, id)
		if err != nil {
			return err
		}
		if !found {
			return repository.ErrWalletNotFound
		}
	}

	return nil
}

func (c *Coordinator) announceSettled(txn *models.Transaction) {
	event := stream.SettledEvent{
		TransactionID: txn.ID,
		PayerWalletID: txn.PayerWalletID.String,
		PayeeWalletID: txn.PayeeWalletID,
		Amount:        txn.Amount,
		SettledAt:     txn.SettledAt.Time.Format(time.RFC3339),
	}

	message, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("marshal settled event", "transaction_id", txn.ID, "error", err)
		return
	}

	if err := c.producer.ProduceMessage(stream.SettledTopic, string(message)); err != nil {
		c.logger.Error("produce settled event", "transaction_id", txn.ID, "error", err)
	}
}

func (c *Coordinator) alert(event stream.AlertEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		c.logger.Error("marshal alert event", "alert_type", event.Type, "error", err)
		return
	}

	if err := c.producer.ProduceMessage(stream.AlertsTopic, string(message)); err != nil {
		c.logger.Error("produce alert event", "alert_type", event.Type, "error", err)
	}
}

func isBusinessError(err error) bool {
	return errors.Is(err, repository.ErrInsufficientBalance) ||
		errors.Is(err, repository.ErrCapExceeded) ||
		errors.Is(err, repository.ErrWalletFrozen) ||
		errors.Is(err, repository.ErrWalletNotFound)
}

func reasonForError(err error) string {
	switch {
	case errors.Is(err, repository.ErrInsufficientBalance):
		return ReasonInsufficientBalance
	case errors.Is(err, repository.ErrCapExceeded):
		return ReasonCapExceeded
	case errors.Is(err, repository.ErrWalletFrozen):
		return ReasonWalletFrozen
	case errors.Is(err, repository.ErrWalletNotFound):
		return ReasonWalletNotFound
	default:
		return ""
	}
}

// ErrorForReason maps a stored failure reason back to its sentinel error, so
// a replay observes the same rejection as the original attempt.
func ErrorForReason(reason string) error {
	switch reason {
	case ReasonInsufficientBalance:
		return repository.ErrInsufficientBalance
	case ReasonCapExceeded:
		return repository.ErrCapExceeded
	case ReasonWalletFrozen:
		return repository.ErrWalletFrozen
	case ReasonWalletNotFound:
		return repository.ErrWalletNotFound
	case ReasonSessionExpired:
		return ErrTransactionExpired
	default:
		return nil
	}
}

func businessErrorForTransaction(txn *models.Transaction) error {
	switch txn.Status {
	case models.TransactionStatusExpired:
		return ErrTransactionExpired
	case models.TransactionStatusFailed:
		if txn.FailureReason.Valid {
			if err := ErrorForReason(txn.FailureReason.String); err != nil {
				return err
			}
		}
		// Reasons without a sentinel (payer cancel, rejected assertion)
		// still must not read as success on replay.
		return ErrTransactionDeclined
	default:
		return nil
	}
}
