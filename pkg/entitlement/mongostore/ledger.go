package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/tokengate/pkg/idempotency"
)

const eventsCollection = "processed_events"

// Ledger records processed webhook events. A TTL index on expires_at lets the
// server drop old entries.
type Ledger struct {
	events *mongo.Collection
	ttl    time.Duration
	now    func() time.Time
}

func NewLedger(db *mongo.Database, ttl time.Duration) *Ledger {
	if db == nil {
		panic("mongostore: database is required")
	}
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	return &Ledger{events: db.Collection(eventsCollection), ttl: ttl, now: time.Now}
}

// EnsureIndexes creates the TTL index. It is idempotent.
func (l *Ledger) EnsureIndexes(ctx context.Context) error {
	_, err := l.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return nil
}

func (l *Ledger) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, idempotency.ErrEmptyEventID
	}
	n, err := l.events.CountDocuments(ctx, bson.D{
		{Key: "_id", Value: eventID},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: l.now().UTC()}}},
	})
	if err != nil {
		return false, errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return n > 0, nil
}

func (l *Ledger) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return idempotency.ErrEmptyEventID
	}
	now := l.now().UTC()
	_, err := l.events.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: eventID}},
		bson.D{{Key: "$setOnInsert", Value: bson.D{
			{Key: "processed_at", Value: now},
			{Key: "expires_at", Value: now.Add(l.ttl)},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return errors.Join(idempotency.ErrLedgerUnavailable, err)
	}
	return nil
}

var _ idempotency.Ledger = (*Ledger)(nil)
