// Package mongostore implements entitlement.Store and idempotency.Ledger on MongoDB.
//
// An account and its usage counter live in one document, so usage changes are
// single-document $inc / $max updates and subscription changes are $set merges
// that never touch the counter. Each fingerprint owns one binding document; a
// rebind is a filtered FindOneAndUpdate that moves the current holder into the
// history array only when it still matches the expected account.
//
//	store := mongostore.New(db)
//	if err := store.EnsureIndexes(ctx); err != nil {
//		return err
//	}
package mongostore
