package repository

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/campuskit/centpay/assets"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	_ "github.com/golang-migrate/migrate/v4/database/postgres"
)

const defaultTimeout = 3 * time.Second

// Store is the set of repositories visible inside a unit of work. The
// balance-mutating repositories are only ever driven by the transaction
// coordinator, inside InTx, with the wallet rows locked first.
type Store interface {
	Wallet() WalletRepository
	Ledger() LedgerRepository
	Transaction() TransactionRepository
	TopUp() TopUpRepository
	Session() SessionRepository
	Device() DeviceRepository
}

// Database is the authoritative shared store. Multiple stateless workers run
// against one Database; all cross-row consistency comes from InTx and the
// row locks taken inside it, never from in-process state.
type Database interface {
	Store

	// InTx runs fn inside one database transaction. A nil return commits,
	// any error rolls the whole unit of work back.
	InTx(ctx context.Context, fn func(Store) error) error

	// InReadTx runs fn inside one read-only transaction at repeatable read,
	// so every statement in fn observes the same snapshot. Audit reads that
	// compare rows across tables go through here.
	InReadTx(ctx context.Context, fn func(Store) error) error

	Close() error
}

type DatabaseImpl struct {
	db *sqlx.DB

	walletRepo      WalletRepository
	ledgerRepo      LedgerRepository
	transactionRepo TransactionRepository
	topUpRepo       TopUpRepository
	sessionRepo     SessionRepository
	deviceRepo      DeviceRepository

	mu sync.Mutex
}

// New initializes a database connection and runs migrations if enabled.
func New(dsn string, automigrate bool) (Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.ConnectContext(ctx, "postgres", "postgres://"+dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(2 * time.Hour)

	if automigrate {
		iofsDriver, err := iofs.New(assets.EmbeddedFiles, "migrations")
		if err != nil {
			return nil, err
		}

		migrator, err := migrate.NewWithSourceInstance("iofs", iofsDriver, "postgres://"+dsn)
		if err != nil {
			return nil, err
		}

		if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return nil, err
		}
	}

	return &DatabaseImpl{db: db}, nil
}

func (d *DatabaseImpl) Close() error {
	return d.db.Close()
}

func (d *DatabaseImpl) InTx(ctx context.Context, fn func(Store) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(newTxStore(tx)); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *DatabaseImpl) InReadTx(ctx context.Context, fn func(Store) error) error {
	tx, err := d.db.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelRepeatableRead,
		ReadOnly:  true,
	})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(newTxStore(tx)); err != nil {
		return err
	}

	return tx.Commit()
}

func (d *DatabaseImpl) Wallet() WalletRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.walletRepo == nil {
		d.walletRepo = NewWalletRepository(d.db)
	}
	return d.walletRepo
}

func (d *DatabaseImpl) Ledger() LedgerRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ledgerRepo == nil {
		d.ledgerRepo = NewLedgerRepository(d.db)
	}
	return d.ledgerRepo
}

func (d *DatabaseImpl) Transaction() TransactionRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transactionRepo == nil {
		d.transactionRepo = NewTransactionRepository(d.db)
	}
	return d.transactionRepo
}

func (d *DatabaseImpl) TopUp() TopUpRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.topUpRepo == nil {
		d.topUpRepo = NewTopUpRepository(d.db)
	}
	return d.topUpRepo
}

func (d *DatabaseImpl) Session() SessionRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sessionRepo == nil {
		d.sessionRepo = NewSessionRepository(d.db)
	}
	return d.sessionRepo
}

func (d *DatabaseImpl) Device() DeviceRepository {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.deviceRepo == nil {
		d.deviceRepo = NewDeviceRepository(d.db)
	}
	return d.deviceRepo
}

// txStore binds every repository to one open transaction.
type txStore struct {
	tx *sqlx.Tx
}

func newTxStore(tx *sqlx.Tx) *txStore {
	return &txStore{tx: tx}
}

func (s *txStore) Wallet() WalletRepository           { return NewWalletRepository(s.tx) }
func (s *txStore) Ledger() LedgerRepository           { return NewLedgerRepository(s.tx) }
func (s *txStore) Transaction() TransactionRepository { return NewTransactionRepository(s.tx) }
func (s *txStore) TopUp() TopUpRepository             { return NewTopUpRepository(s.tx) }
func (s *txStore) Session() SessionRepository         { return NewSessionRepository(s.tx) }
func (s *txStore) Device() DeviceRepository           { return NewDeviceRepository(s.tx) }

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
