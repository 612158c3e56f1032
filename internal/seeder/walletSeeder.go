package seeders

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/campuskit/centpay/internal/models"
	"github.com/campuskit/centpay/internal/repository"
)

// seedDemoWallets creates a handful of wallets for local development: two
// personal wallets and two association tills. Owner references mirror the ids
// the platform's identity service hands out in its own dev seed.
func (seeder *Seeder) seedDemoWallets(ctx context.Context) {
	wallets := []models.Wallet{
		{OwnerRef: "user-demo-alice", OwnerType: models.WalletOwnerUser, Cap: sql.NullInt64{Int64: 10_000, Valid: true}},
		{OwnerRef: "user-demo-bob", OwnerType: models.WalletOwnerUser, Cap: sql.NullInt64{Int64: 10_000, Valid: true}},
		{OwnerRef: "assoc-demo-cafeteria", OwnerType: models.WalletOwnerAssociation},
		{OwnerRef: "assoc-demo-gala", OwnerType: models.WalletOwnerAssociation},
	}

	for i := range wallets {
		_, err := seeder.DB.Wallet().Insert(ctx, &wallets[i])
		if err != nil {
			if errors.Is(err, repository.ErrDuplicateWalletOwner) {
				continue
			}
			log.Fatalf("Failed to seed wallet for %s: %v", wallets[i].OwnerRef, err)
		}
	}

	log.Println("Demo wallets seeded")
}
