// Package reconcile periodically audits every wallet balance against the sum
// of its ledger entries. A mismatch means an invariant was broken somewhere;
// the job never corrects it, it freezes nothing and only raises an alert for
// a human to investigate.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/exp/constraints"

	"github.com/campuskit/centpay/internal/repository"
	"github.com/campuskit/centpay/internal/stream"
)

// Mismatch is one wallet whose stored balance disagrees with its ledger.
type Mismatch struct {
	WalletID string
	Balance  int64
	Sum      int64
}

func (m Mismatch) Drift() int64 {
	return abs(m.Balance - m.Sum)
}

type Job struct {
	db       repository.Database
	producer stream.Producer
	logger   *slog.Logger
	interval time.Duration
}

func NewJob(db repository.Database, producer stream.Producer, logger *slog.Logger, interval time.Duration) *Job {
	return &Job{
		db:       db,
		producer: producer,
		logger:   logger,
		interval: interval,
	}
}

// Run checks all wallets on the configured interval until ctx is done. The
// first pass runs immediately so a fresh deployment is audited at once.
func (j *Job) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.CheckAll(ctx); err != nil {
			j.logger.Error("reconciliation pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// CheckAll audits every wallet and returns the mismatches it found. Each
// wallet is compared inside its own repeatable-read transaction; balance and
// sum must come from one snapshot or a transfer committing between the two
// reads would show as drift.
func (j *Job) CheckAll(ctx context.Context) ([]Mismatch, error) {
	ids, err := j.db.Wallet().IDs(ctx)
	if err != nil {
		return nil, err
	}

	var mismatches []Mismatch

	for _, id := range ids {
		mismatch, err := j.checkOne(ctx, id)
		if err != nil {
			return nil, err
		}
		if mismatch != nil {
			mismatches = append(mismatches, *mismatch)
			j.report(*mismatch)
		}
	}

	j.logger.Info("reconciliation pass complete",
		"wallets", len(ids),
		"mismatches", len(mismatches),
	)

	return mismatches, nil
}

func (j *Job) checkOne(ctx context.Context, walletID string) (*Mismatch, error) {
	var mismatch *Mismatch

	err := j.db.InReadTx(ctx, func(s repository.Store) error {
		wallet, found, err := s.Wallet().GetOne(ctx, walletID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		sum, err := s.Ledger().SumForWallet(ctx, walletID)
		if err != nil {
			return err
		}

		if wallet.Balance != sum {
			mismatch = &Mismatch{WalletID: walletID, Balance: wallet.Balance, Sum: sum}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return mismatch, nil
}

func (j *Job) report(m Mismatch) {
	j.logger.Error("wallet balance does not match ledger",
		"wallet_id", m.WalletID,
		"balance", m.Balance,
		"ledger_sum", m.Sum,
		"drift", m.Drift(),
	)

	event := stream.AlertEvent{
		Type:     stream.AlertReconciliationMismatch,
		Message:  fmt.Sprintf("wallet %s balance %d disagrees with ledger sum %d", m.WalletID, m.Balance, m.Sum),
		WalletID: m.WalletID,
		Amount:   m.Drift(),
	}

	message, err := json.Marshal(event)
	if err != nil {
		j.logger.Error("marshal mismatch alert", "wallet_id", m.WalletID, "error", err)
		return
	}

	if err := j.producer.ProduceMessage(stream.AlertsTopic, string(message)); err != nil {
		j.logger.Error("produce mismatch alert", "wallet_id", m.WalletID, "error", err)
	}
}

func abs[T constraints.Signed](v T) T {
	if v < 0 {
		return -v
	}
	return v
}
