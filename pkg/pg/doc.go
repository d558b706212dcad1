// Package pg bootstraps PostgreSQL access with pgx/v5.
//
// Connect opens a *pgxpool.Pool and pings it, retrying with a fixed delay
// until the database answers. Migrate applies goose migrations read from an
// fs.FS, typically an embed.FS owned by the store package that defines the
// schema. Check adapts the pool to a readiness probe.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, pgstore.Migrations, log); err != nil {
//		return err
//	}
//
// The error helpers classify driver errors: IsNotFoundError, IsDuplicateKeyError
// and IsRetryable for connection loss, timeouts, serialization failures and deadlocks.
package pg
