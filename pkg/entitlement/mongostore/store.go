package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	mongodb "github.com/dmitrymomot/tokengate/pkg/mongo"
)

const (
	accountsCollection = "accounts"
	bindingsCollection = "device_bindings"
)

type accountDoc struct {
	ID               string    `bson:"_id"`
	Email            string    `bson:"email"`
	EmailVerified    bool      `bson:"email_verified"`
	PaidSubscription bool      `bson:"paid_subscription"`
	TotalTokens      int64     `bson:"total_tokens"`
	UsageUpdatedAt   time.Time `bson:"usage_updated_at"`
	CreatedAt        time.Time `bson:"created_at"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

func (d accountDoc) account() *entitlement.Account {
	return &entitlement.Account{
		ID:               d.ID,
		Email:            d.Email,
		EmailVerified:    d.EmailVerified,
		PaidSubscription: d.PaidSubscription,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

func (d accountDoc) usage() *entitlement.UsageRecord {
	return &entitlement.UsageRecord{
		AccountID:   d.ID,
		TotalTokens: uint64(d.TotalTokens),
		UpdatedAt:   d.UsageUpdatedAt,
	}
}

type bindingEntry struct {
	AccountID           string    `bson:"account_id"`
	TrialConsumedTokens int64     `bson:"trial_consumed_tokens"`
	CreatedAt           time.Time `bson:"created_at"`
	SupersededAt        time.Time `bson:"superseded_at,omitempty"`
}

type bindingDoc struct {
	Fingerprint         string         `bson:"_id"`
	AccountID           string         `bson:"account_id"`
	TrialConsumedTokens int64          `bson:"trial_consumed_tokens"`
	CreatedAt           time.Time      `bson:"created_at"`
	History             []bindingEntry `bson:"history,omitempty"`
}

func (d bindingDoc) binding() *entitlement.DeviceBinding {
	return &entitlement.DeviceBinding{
		Fingerprint:         d.Fingerprint,
		AccountID:           d.AccountID,
		TrialConsumedTokens: uint64(d.TrialConsumedTokens),
		CreatedAt:           d.CreatedAt,
	}
}

type Store struct {
	accounts *mongo.Collection
	bindings *mongo.Collection
	now      func() time.Time
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

func New(db *mongo.Database, opts ...Option) *Store {
	if db == nil {
		panic("mongostore: database is required")
	}
	s := &Store{
		accounts: db.Collection(accountsCollection),
		bindings: db.Collection(bindingsCollection),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnsureIndexes creates the email lookup index. It is idempotent.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.accounts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "email", Value: 1}, {Key: "created_at", Value: -1}},
	})
	return wrap(err)
}

func (s *Store) CreateAccount(ctx context.Context, acct entitlement.Account) error {
	if acct.ID == "" {
		return entitlement.ErrInvalidAccount
	}
	now := s.now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}

	_, err := s.accounts.InsertOne(ctx, accountDoc{
		ID:               acct.ID,
		Email:            entitlement.NormalizeEmail(acct.Email),
		EmailVerified:    acct.EmailVerified,
		PaidSubscription: acct.PaidSubscription,
		UsageUpdatedAt:   now,
		CreatedAt:        acct.CreatedAt,
		UpdatedAt:        now,
	})
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", entitlement.ErrAccountExists, acct.ID)
	}
	return wrap(err)
}

func (s *Store) GetAccount(ctx context.Context, id string) (*entitlement.Account, error) {
	var doc accountDoc
	if err := s.accounts.FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&doc); err != nil {
		return nil, wrap(err)
	}
	return doc.account(), nil
}

func (s *Store) FindAccountByEmail(ctx context.Context, email string) (*entitlement.Account, error) {
	email = entitlement.NormalizeEmail(email)
	if email == "" {
		return nil, entitlement.ErrAccountNotFound
	}

	var doc accountDoc
	err := s.accounts.FindOne(ctx,
		bson.D{{Key: "email", Value: email}},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}),
	).Decode(&doc)
	if err != nil {
		return nil, wrap(err)
	}
	return doc.account(), nil
}

func (s *Store) SetPaidSubscription(ctx context.Context, id string, paid bool) error {
	res, err := s.accounts.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "paid_subscription", Value: paid},
			{Key: "updated_at", Value: s.now().UTC()},
		}}},
	)
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return entitlement.ErrAccountNotFound
	}
	return nil
}

func (s *Store) MarkEmailVerified(ctx context.Context, id string) error {
	res, err := s.accounts.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: id}, {Key: "email_verified", Value: false}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "email_verified", Value: true},
			{Key: "updated_at", Value: s.now().UTC()},
		}}},
	)
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	_, err = s.GetAccount(ctx, id)
	return err
}

func (s *Store) GetUsage(ctx context.Context, id string) (*entitlement.UsageRecord, error) {
	var doc accountDoc
	err := s.accounts.FindOne(ctx,
		bson.D{{Key: "_id", Value: id}},
		options.FindOne().SetProjection(bson.D{{Key: "total_tokens", Value: 1}, {Key: "usage_updated_at", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		return nil, wrap(err)
	}
	return doc.usage(), nil
}

func (s *Store) IncrementUsage(ctx context.Context, id string, delta uint64) (uint64, error) {
	return s.updateUsage(ctx, id, bson.D{
		{Key: "$inc", Value: bson.D{{Key: "total_tokens", Value: int64(delta)}}},
		{Key: "$set", Value: bson.D{{Key: "usage_updated_at", Value: s.now().UTC()}}},
	})
}

func (s *Store) SeedUsage(ctx context.Context, id string, floor uint64) (uint64, error) {
	f := int64(floor)
	return s.updateUsage(ctx, id, bson.A{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "usage_updated_at", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$lt", Value: bson.A{"$total_tokens", f}}},
				s.now().UTC(),
				"$usage_updated_at",
			}}}},
			{Key: "total_tokens", Value: bson.D{{Key: "$max", Value: bson.A{"$total_tokens", f}}}},
		}}},
	})
}

func (s *Store) updateUsage(ctx context.Context, id string, update any) (uint64, error) {
	var doc accountDoc
	err := s.accounts.FindOneAndUpdate(ctx,
		bson.D{{Key: "_id", Value: id}},
		update,
		options.FindOneAndUpdate().
			SetReturnDocument(options.After).
			SetProjection(bson.D{{Key: "total_tokens", Value: 1}}),
	).Decode(&doc)
	if err != nil {
		return 0, wrap(err)
	}
	return uint64(doc.TotalTokens), nil
}

func (s *Store) GetDeviceBinding(ctx context.Context, fingerprint string) (*entitlement.DeviceBinding, error) {
	var doc bindingDoc
	err := s.bindings.FindOne(ctx,
		bson.D{{Key: "_id", Value: fingerprint}},
		options.FindOne().SetProjection(bson.D{{Key: "history", Value: 0}}),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, entitlement.ErrBindingNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	return doc.binding(), nil
}

func (s *Store) CreateDeviceBinding(ctx context.Context, b entitlement.DeviceBinding) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now().UTC()
	}
	_, err := s.bindings.InsertOne(ctx, bindingDoc{
		Fingerprint:         b.Fingerprint,
		AccountID:           b.AccountID,
		TrialConsumedTokens: int64(b.TrialConsumedTokens),
		CreatedAt:           b.CreatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return entitlement.ErrBindingExists
	}
	return wrap(err)
}

func (s *Store) RebindDevice(ctx context.Context, fingerprint, expectedAccountID string, next entitlement.DeviceBinding) error {
	now := s.now().UTC()
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	// One $set stage reads the pre-update document, so the archived entry
	// captures the previous holder.
	update := bson.A{
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "history", Value: bson.D{{Key: "$concatArrays", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$history", bson.A{}}}},
				bson.A{bson.D{
					{Key: "account_id", Value: "$account_id"},
					{Key: "trial_consumed_tokens", Value: "$trial_consumed_tokens"},
					{Key: "created_at", Value: "$created_at"},
					{Key: "superseded_at", Value: now},
				}},
			}}}},
			{Key: "account_id", Value: next.AccountID},
			{Key: "trial_consumed_tokens", Value: int64(next.TrialConsumedTokens)},
			{Key: "created_at", Value: next.CreatedAt},
		}}},
	}

	res, err := s.bindings.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: fingerprint}, {Key: "account_id", Value: expectedAccountID}},
		update,
	)
	if err != nil {
		return wrap(err)
	}
	if res.MatchedCount == 0 {
		return entitlement.ErrBindingConflict
	}
	return nil
}

// BindingHistory returns every binding of a fingerprint, the active one last.
func (s *Store) BindingHistory(ctx context.Context, fingerprint string) ([]entitlement.DeviceBinding, error) {
	var doc bindingDoc
	err := s.bindings.FindOne(ctx, bson.D{{Key: "_id", Value: fingerprint}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err)
	}

	out := make([]entitlement.DeviceBinding, 0, len(doc.History)+1)
	for _, h := range doc.History {
		out = append(out, entitlement.DeviceBinding{
			Fingerprint:         fingerprint,
			AccountID:           h.AccountID,
			TrialConsumedTokens: uint64(h.TrialConsumedTokens),
			CreatedAt:           h.CreatedAt,
			SupersededAt:        h.SupersededAt,
		})
	}
	return append(out, *doc.binding()), nil
}

// wrap maps driver errors onto the entitlement taxonomy.
func wrap(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return entitlement.ErrAccountNotFound
	case mongodb.IsRetryable(err):
		return errors.Join(entitlement.ErrStoreUnavailable, err)
	default:
		return fmt.Errorf("mongostore: %w", err)
	}
}

var _ entitlement.Store = (*Store)(nil)
