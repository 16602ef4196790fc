package outcome

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable indicates the database dependency is not configured.
var ErrStoreUnavailable = errors.New("outcome: store unavailable")

// Execer is the subset of *pgxpool.Pool the store needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PGStore writes outcomes to the checkout_outcomes table. Re-recording the
// same session epoch is a no-op.
type PGStore struct {
	db Execer
}

// NewPGStore constructs a PGStore, typically over a *pgxpool.Pool.
func NewPGStore(db Execer) *PGStore {
	return &PGStore{db: db}
}

const insertOutcomeSQL = `INSERT INTO checkout_outcomes
    (session_id, booking_id, epoch, state, status, attempts, failures, amount, currency, payment_url, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, CAST($8::text AS NUMERIC), $9, NULLIF($10, ''), $11, $12)
ON CONFLICT (session_id, epoch) DO NOTHING`

// Record implements Sink.
func (s *PGStore) Record(ctx context.Context, o Outcome) error {
	if s == nil || s.db == nil {
		return ErrStoreUnavailable
	}
	sessionID, err := uuid.Parse(o.SessionID)
	if err != nil {
		return err
	}
	var amount *string
	if o.Amount.Valid {
		v := o.Amount.Decimal.String()
		amount = &v
	}
	_, err = s.db.Exec(ctx, insertOutcomeSQL,
		sessionID,
		o.BookingID,
		int64(o.Epoch),
		o.State,
		o.Status,
		o.Attempts,
		o.Failures,
		amount,
		o.Currency,
		o.PaymentURL,
		o.StartedAt.UTC(),
		o.FinishedAt.UTC(),
	)
	return err
}
