package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/pg"
)

// DB is the subset of *pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store struct {
	db  DB
	now func() time.Time
}

type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(db DB, opts ...Option) *Store {
	if db == nil {
		panic("pgstore: db is required")
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const accountColumns = `id, email, email_verified, paid_subscription, created_at, updated_at`

func (s *Store) CreateAccount(ctx context.Context, acct entitlement.Account) error {
	if acct.ID == "" {
		return entitlement.ErrInvalidAccount
	}

	now := s.now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO accounts (id, email, email_verified, paid_subscription, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			acct.ID, entitlement.NormalizeEmail(acct.Email), acct.EmailVerified, acct.PaidSubscription, acct.CreatedAt, now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: %s", entitlement.ErrAccountExists, acct.ID)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO usage_records (account_id, total_tokens, updated_at)
			VALUES ($1, 0, $2)`,
			acct.ID, now,
		)
		return err
	})
	return wrap(err)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*entitlement.Account, error) {
	row := s.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, wrap(err)
	}
	return acct, nil
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*entitlement.Account, error) {
	email = entitlement.NormalizeEmail(email)
	if email == "" {
		return nil, entitlement.ErrAccountNotFound
	}

	row := s.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, email)
	acct, err := scanAccount(row)
	if err != nil {
		return nil, wrap(err)
	}
	return acct, nil
}

func (s *Store) SetPaidSubscription(ctx context.Context, id string, paid bool) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts SET paid_subscription = $2, updated_at = $3
		WHERE id = $1`, id, paid, s.now().UTC())
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrAccountNotFound
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE accounts
		SET email_verified = TRUE,
		    updated_at = CASE WHEN email_verified THEN updated_at ELSE $2 END
		WHERE id = $1`, id, s.now().UTC())
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrAccountNotFound
	}
	return nil
}

func (s *Store) GetUsage(ctx context.Context, id string) (*entitlement.UsageRecord, error) {
	var (
		rec   entitlement.UsageRecord
		total int64
	)
	err := s.db.QueryRow(ctx, `
		SELECT account_id, total_tokens, updated_at
		FROM usage_records WHERE account_id = $1`, id,
	).Scan(&rec.AccountID, &total, &rec.UpdatedAt)
	if err != nil {
		return nil, wrap(err)
	}
	rec.TotalTokens = uint64(total)
	return &rec, nil
}

func (s *Store) IncrementUsage(ctx context.Context, id string, delta uint64) (uint64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		UPDATE usage_records
		SET total_tokens = total_tokens + $2, updated_at = $3
		WHERE account_id = $1
		RETURNING total_tokens`, id, int64(delta), s.now().UTC(),
	).Scan(&total)
	if err != nil {
		return 0, wrap(err)
	}
	return uint64(total), nil
}

func (s *Store) SeedUsage(ctx context.Context, id string, floor uint64) (uint64, error) {
	var total int64
	err := s.db.QueryRow(ctx, `
		UPDATE usage_records
		SET total_tokens = GREATEST(total_tokens, $2),
		    updated_at = CASE WHEN total_tokens < $2 THEN $3 ELSE updated_at END
		WHERE account_id = $1
		RETURNING total_tokens`, id, int64(floor), s.now().UTC(),
	).Scan(&total)
	if err != nil {
		return 0, wrap(err)
	}
	return uint64(total), nil
}

func (s *Store) GetDeviceBinding(ctx context.Context, fingerprint string) (*entitlement.DeviceBinding, error) {
	row := s.db.QueryRow(ctx, `
		SELECT fingerprint, account_id, trial_consumed_tokens, created_at, superseded_at
		FROM device_bindings
		WHERE fingerprint = $1 AND superseded_at IS NULL`, fingerprint)
	b, err := scanBinding(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, entitlement.ErrBindingNotFound
		}
		return nil, wrap(err)
	}
	return b, nil
}

func (s *Store) CreateDeviceBinding(ctx context.Context, b entitlement.DeviceBinding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO device_bindings (fingerprint, account_id, trial_consumed_tokens, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (fingerprint) WHERE superseded_at IS NULL DO NOTHING`,
		b.Fingerprint, b.AccountID, int64(b.TrialConsumedTokens), b.CreatedAt,
	)
	if err != nil {
		return wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return entitlement.ErrBindingExists
	}
	return nil
}

func (s *Store) RebindDevice(ctx context.Context, fingerprint, expectedAccountID string, next entitlement.DeviceBinding) error {
	now := s.now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE device_bindings SET superseded_at = $3
			WHERE fingerprint = $1 AND account_id = $2 AND superseded_at IS NULL`,
			fingerprint, expectedAccountID, now,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return entitlement.ErrBindingConflict
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO device_bindings (fingerprint, account_id, trial_consumed_tokens, created_at)
			VALUES ($1, $2, $3, $4)`,
			fingerprint, next.AccountID, int64(next.TrialConsumedTokens), next.CreatedAt,
		)
		return err
	})
	if err != nil && pg.IsDuplicateKeyError(err) {
		return entitlement.ErrBindingConflict
	}
	return wrap(err)
}

// BindingHistory returns every binding of a fingerprint, superseded ones included, oldest first.
func (s *Store) BindingHistory(ctx context.Context, fingerprint string) ([]entitlement.DeviceBinding, error) {
	rows, err := s.db.Query(ctx, `
		SELECT fingerprint, account_id, trial_consumed_tokens, created_at, superseded_at
		FROM device_bindings
		WHERE fingerprint = $1
		ORDER BY created_at, id`, fingerprint)
	if err != nil {
		return nil, wrap(err)
	}
	defer rows.Close()

	var out []entitlement.DeviceBinding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, wrap(err)
		}
		out = append(out, *b)
	}
	return out, wrap(rows.Err())
}

func scanAccount(row pgx.Row) (*entitlement.Account, error) {
	var acct entitlement.Account
	err := row.Scan(&acct.ID, &acct.Email, &acct.EmailVerified, &acct.PaidSubscription, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func scanBinding(row pgx.Row) (*entitlement.DeviceBinding, error) {
	var (
		b          entitlement.DeviceBinding
		consumed   int64
		superseded *time.Time
	)
	if err := row.Scan(&b.Fingerprint, &b.AccountID, &consumed, &b.CreatedAt, &superseded); err != nil {
		return nil, err
	}
	b.TrialConsumedTokens = uint64(consumed)
	if superseded != nil {
		b.SupersededAt = *superseded
	}
	return &b, nil
}

// wrap maps driver errors onto the entitlement taxonomy.
func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entitlement.ErrAccountExists),
		errors.Is(err, entitlement.ErrBindingConflict),
		errors.Is(err, entitlement.ErrBindingNotFound):
		return err
	case pg.IsNotFoundError(err):
		return entitlement.ErrAccountNotFound
	case pg.IsRetryable(err):
		return errors.Join(entitlement.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("pgstore: %w", err)
	}
}

var _ entitlement.Store = (*Store)(nil)
