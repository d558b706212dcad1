// Package mongo connects to MongoDB with the v2 driver.
//
// New applies the pool settings from Config and pings the server, retrying
// with a fixed delay. NewWithDatabase returns the configured database handle.
// Check adapts a client to a readiness probe, and IsRetryable classifies
// driver errors worth another attempt.
//
//	db, err := mongo.NewWithDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	store := mongostore.New(db)
package mongo
