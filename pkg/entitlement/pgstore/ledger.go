package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrymomot/tokengate/pkg/idempotency"
)

// Ledger records processed webhook events in the processed_events table.
type Ledger struct {
	db  DB
	ttl time.Duration
	now func() time.Time
}

func NewLedger(db DB, ttl time.Duration) *Ledger {
	if db == nil {
		panic("pgstore: db is required")
	}
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &Ledger{db: db, ttl: ttl, now: time.Now}
}

func (l *Ledger) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, idempotency.ErrEmptyEventID
	}
	var seen bool
	err := l.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM processed_events WHERE event_id = $1 AND expires_at > $2
		)`, eventID, l.now().UTC(),
	).Scan(&seen)
	if err != nil {
		return false, errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return seen, nil
}

func (l *Ledger) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return idempotency.ErrEmptyEventID
	}
	now := l.now().UTC()
	_, err := l.db.Exec(ctx, `
		INSERT INTO processed_events (event_id, processed_at, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO UPDATE
		SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at
		WHERE processed_events.expires_at <= EXCLUDED.processed_at`,
		eventID, now, now.Add(l.ttl),
	)
	if err != nil {
		return errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return nil
}

// Purge deletes expired entries and returns how many were removed.
func (l *Ledger) Purge(ctx context.Context) (int64, error) {
	tag, err := l.db.Exec(ctx, `DELETE FROM processed_events WHERE expires_at <= $1`, l.now().UTC())
	if err != nil {
		return 0, errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return tag.RowsAffected(), nil
}

var _ idempotency.Ledger = (*Ledger)(nil)
