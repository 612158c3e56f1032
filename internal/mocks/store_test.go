package mocks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

func TestInTxRollsBackOnError(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
	})
	require.NoError(t, err)
	require.NoError(t, store.Wallet().Credit(ctx, id, 500))

	boom := errors.New("boom")
	err = store.InTx(ctx, func(s repository.Store) error {
		if err := s.Wallet().Debit(ctx, id, 300); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	w, _, err := store.Wallet().GetOne(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(500), w.Balance, "failed unit of work must leave no writes")
}

func TestInReadTxDiscardsWrites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	id, err := store.Wallet().Insert(ctx, &models.Wallet{
		OwnerRef:  "user-1",
		OwnerType: models.WalletOwnerUser,
	})
	require.NoError(t, err)
	require.NoError(t, store.Wallet().Credit(ctx, id, 500))

	err = store.InReadTx(ctx, func(s repository.Store) error {
		w, found, err := s.Wallet().GetOne(ctx, id)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, int64(500), w.Balance)

		// A stray write inside a read transaction must not stick.
		return s.Wallet().Debit(ctx, id, 100)
	})
	require.NoError(t, err)

	w, _, err := store.Wallet().GetOne(ctx, id)
	require.NoError(t, err)
	require.Equal(t, int64(500), w.Balance)
}
