package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/campuskit/centpay/internal/models"
	"github.com/jmoiron/sqlx"
)

// SessionRepository owns payment session rows. Transitions are guarded
// UPDATEs against the expected prior state; a transition that returns false
// means another worker got there first (or the TTL elapsed) and the caller
// must re-read instead of assuming progress.
type SessionRepository interface {
	Insert(ctx context.Context, session *models.PaymentSession) error
	GetOne(ctx context.Context, id string) (*models.PaymentSession, bool, error)

	// Transition moves the session between two live states. It refuses to
	// move a session whose TTL has elapsed.
	Transition(ctx context.Context, id, fromState, toState string) (bool, error)

	// SetParticipants records the payer side discovered at scan time.
	SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error

	// Terminate moves the session into a terminal state, recording the
	// failure reason when there is one. Terminal states ignore the TTL:
	// an expired session is still marked declined-or-expired truthfully.
	Terminate(ctx context.Context, id, fromState, toState, reason string) (bool, error)

	// ExpireStale marks every live session past its TTL as expired,
	// recording the given failure reason, and returns the affected ids so
	// their pending transactions can follow.
	ExpireStale(ctx context.Context, now time.Time, reason string) ([]string, error)
}

type SessionRepositoryImpl struct {
	db sqlx.ExtContext
}

func NewSessionRepository(db sqlx.ExtContext) SessionRepository {
	return &SessionRepositoryImpl{db: db}
}

func (repo *SessionRepositoryImpl) Insert(ctx context.Context, session *models.PaymentSession) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		INSERT INTO payment_sessions (id, payee_wallet_id, amount, nonce, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING state, created_at`

	err := repo.db.QueryRowxContext(ctx, query,
		session.ID,
		session.PayeeWalletID,
		session.Amount,
		session.Nonce,
		session.ExpiresAt,
	).Scan(&session.State, &session.CreatedAt)

	return err
}

func (repo *SessionRepositoryImpl) GetOne(ctx context.Context, id string) (*models.PaymentSession, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var session models.PaymentSession

	query := `
        SELECT id, payee_wallet_id, payer_wallet_id, device_id, amount, state, nonce,
               failure_reason, created_at, updated_at, expires_at
        FROM payment_sessions WHERE id = $1`

	err := sqlx.GetContext(ctx, repo.db, &session, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	return &session, true, nil
}

func (repo *SessionRepositoryImpl) Transition(ctx context.Context, id, fromState, toState string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE payment_sessions SET state = $1, updated_at = now()
		WHERE id = $2 AND state = $3 AND expires_at > now()`

	res, err := repo.db.ExecContext(ctx, query, toState, id, fromState)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (repo *SessionRepositoryImpl) SetParticipants(ctx context.Context, id, payerWalletID, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE payment_sessions SET payer_wallet_id = $1, device_id = $2, updated_at = now()
		WHERE id = $3`

	_, err := repo.db.ExecContext(ctx, query, payerWalletID, deviceID, id)
	return err
}

func (repo *SessionRepositoryImpl) Terminate(ctx context.Context, id, fromState, toState, reason string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	query := `
		UPDATE payment_sessions SET state = $1, failure_reason = $2, updated_at = now()
		WHERE id = $3 AND state = $4`

	failureReason := sql.NullString{String: reason, Valid: reason != ""}

	res, err := repo.db.ExecContext(ctx, query, toState, failureReason, id, fromState)
	if err != nil {
		return false, err
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return rows == 1, nil
}

func (repo *SessionRepositoryImpl) ExpireStale(ctx context.Context, now time.Time, reason string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var ids []string

	query := `
		UPDATE payment_sessions SET state = $1, failure_reason = $2, updated_at = now()
		WHERE expires_at <= $3 AND state NOT IN ($4, $5, $6, $7)
		RETURNING id`

	err := sqlx.SelectContext(ctx, repo.db, &ids, query,
		models.SessionStateExpired,
		sql.NullString{String: reason, Valid: reason != ""},
		now,
		models.SessionStateSettled,
		models.SessionStateDeclined,
		models.SessionStateExpired,
		models.SessionStateCancelled,
	)
	if err != nil {
		return nil, err
	}

	return ids, nil
}
