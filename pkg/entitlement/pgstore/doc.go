// Package pgstore implements entitlement.Store and idempotency.Ledger on PostgreSQL.
//
// Usage changes are single UPDATE ... RETURNING statements, so concurrent
// increments never lose updates. Seeding uses GREATEST and never lowers a
// total. Rebinding a device supersedes the active row and inserts the new one
// in one transaction; a partial unique index keeps at most one active binding
// per fingerprint.
//
// The schema ships as goose migrations in Migrations:
//
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, log); err != nil {
//		return err
//	}
//	store := pgstore.New(pool)
package pgstore

import "embed"

// Migrations holds the goose migrations under "migrations/".
//
//go:embed migrations/*.sql
var Migrations embed.FS
