package pg

import (
	"context"
	"errors"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrEmptyConnectionString = errors.New("postgres: PG_CONN_URL is not set")
	ErrInvalidDSN            = errors.New("postgres: invalid connection string")
	ErrConnect               = errors.New("postgres: database unreachable")
	ErrUnhealthy             = errors.New("postgres: ping failed")
	ErrMigrate               = errors.New("postgres: migration failed")
	ErrMigrationsNotProvided = errors.New("postgres: no migrations filesystem")
)

// IsNotFoundError detects pgx.ErrNoRows.
func IsNotFoundError(err error) bool {
	return err != nil && errors.Is(err, pgx.ErrNoRows)
}

// IsDuplicateKeyError detects unique constraint violations (SQLSTATE 23505).
func IsDuplicateKeyError(err error) bool {
	return hasCode(err, "23505")
}

// IsForeignKeyViolationError detects referential integrity violations (SQLSTATE 23503).
func IsForeignKeyViolationError(err error) bool {
	return hasCode(err, "23503")
}

// IsRetryable reports failures that may succeed on a later attempt:
// lost or refused connections, timeouts, serialization failures (40001),
// deadlocks (40P01) and server shutdown (57P01).
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if hasCode(err, "40001") || hasCode(err, "40P01") || hasCode(err, "57P01") {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var connectErr *pgconn.ConnectError
	return errors.As(err, &connectErr)
}

func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
