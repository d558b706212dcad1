// Package storetest holds the behavioural test suite every
// entitlement.Store implementation must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
)

// Factory returns an empty store. Implementations backed by shared
// infrastructure may return a store scoped to a unique namespace instead.
type Factory func(t *testing.T) entitlement.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("accounts", func(t *testing.T) { testAccounts(t, newStore(t)) })
	t.Run("find by email", func(t *testing.T) { testFindByEmail(t, newStore(t)) })
	t.Run("paid subscription", func(t *testing.T) { testPaidSubscription(t, newStore(t)) })
	t.Run("email verified", func(t *testing.T) { testEmailVerified(t, newStore(t)) })
	t.Run("usage", func(t *testing.T) { testUsage(t, newStore(t)) })
	t.Run("concurrent increments", func(t *testing.T) { testConcurrentIncrements(t, newStore(t)) })
	t.Run("device bindings", func(t *testing.T) { testBindings(t, newStore(t)) })
	t.Run("concurrent rebind", func(t *testing.T) { testConcurrentRebind(t, newStore(t)) })
}

// ID returns a unique identifier for test fixtures.
func ID(t *testing.T, prefix string) string {
	t.Helper()
	return prefix + "-" + uuid.NewString()
}

func testAccounts(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	id := ID(t, "acct")

	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: id, Email: "Owner@Example.com", EmailVerified: true}))
	require.ErrorIs(t, s.CreateAccount(ctx, entitlement.Account{ID: id, Email: "other@example.com"}), entitlement.ErrAccountExists)

	acct, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", acct.Email)
	assert.True(t, acct.EmailVerified)
	assert.False(t, acct.PaidSubscription)

	usage, err := s.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, usage.TotalTokens)

	_, err = s.GetAccount(ctx, ID(t, "missing"))
	require.ErrorIs(t, err, entitlement.ErrAccountNotFound)
}

func testFindByEmail(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	email := "find-" + uuid.NewString() + "@example.com"
	older, newer := ID(t, "old"), ID(t, "new")

	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Millisecond)
	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: older, Email: email, CreatedAt: base}))
	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: newer, Email: email, CreatedAt: base.Add(time.Minute)}))

	acct, err := s.FindAccountByEmail(ctx, "  "+email+" ")
	require.NoError(t, err)
	assert.Equal(t, newer, acct.ID)

	_, err = s.FindAccountByEmail(ctx, "nobody-"+email)
	require.ErrorIs(t, err, entitlement.ErrAccountNotFound)
}

func testPaidSubscription(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	id := ID(t, "paid")
	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: id, Email: "paid@example.com", EmailVerified: true}))
	_, err := s.IncrementUsage(ctx, id, 42)
	require.NoError(t, err)

	require.NoError(t, s.SetPaidSubscription(ctx, id, true))
	require.NoError(t, s.SetPaidSubscription(ctx, id, true))

	acct, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.PaidSubscription)
	assert.Equal(t, "paid@example.com", acct.Email)
	assert.True(t, acct.EmailVerified)

	usage, err := s.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), usage.TotalTokens)

	require.NoError(t, s.SetPaidSubscription(ctx, id, false))
	acct, err = s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.False(t, acct.PaidSubscription)

	require.ErrorIs(t, s.SetPaidSubscription(ctx, ID(t, "missing"), true), entitlement.ErrAccountNotFound)
}

func testEmailVerified(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	id := ID(t, "verify")
	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: id, Email: "v@example.com"}))
	require.NoError(t, s.SetPaidSubscription(ctx, id, true))

	require.NoError(t, s.MarkEmailVerified(ctx, id))
	require.NoError(t, s.MarkEmailVerified(ctx, id))

	acct, err := s.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.True(t, acct.EmailVerified)
	assert.True(t, acct.PaidSubscription)

	require.ErrorIs(t, s.MarkEmailVerified(ctx, ID(t, "missing")), entitlement.ErrAccountNotFound)
}

func testUsage(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	id := ID(t, "usage")
	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: id, Email: "usage@example.com"}))

	total, err := s.IncrementUsage(ctx, id, 9500)
	require.NoError(t, err)
	assert.Equal(t, uint64(9500), total)

	total, err = s.IncrementUsage(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(9500), total)

	total, err = s.SeedUsage(ctx, id, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(9500), total, "seeding never lowers usage")

	total, err = s.SeedUsage(ctx, id, 10000)
	require.NoError(t, err)
	assert.Equal(t, uint64(10000), total)

	_, err = s.IncrementUsage(ctx, ID(t, "missing"), 1)
	require.ErrorIs(t, err, entitlement.ErrAccountNotFound)
	_, err = s.SeedUsage(ctx, ID(t, "missing"), 1)
	require.ErrorIs(t, err, entitlement.ErrAccountNotFound)
	_, err = s.GetUsage(ctx, ID(t, "missing"))
	require.ErrorIs(t, err, entitlement.ErrAccountNotFound)
}

func testConcurrentIncrements(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	id := ID(t, "concurrent")
	require.NoError(t, s.CreateAccount(ctx, entitlement.Account{ID: id, Email: "c@example.com"}))

	const workers = 20
	var wg sync.WaitGroup
	var want uint64
	for i := range workers {
		delta := uint64(i + 1)
		want += delta
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.IncrementUsage(ctx, id, delta)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	usage, err := s.GetUsage(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, want, usage.TotalTokens)
}

func testBindings(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	fp := ID(t, "fp")

	_, err := s.GetDeviceBinding(ctx, fp)
	require.ErrorIs(t, err, entitlement.ErrBindingNotFound)

	require.NoError(t, s.CreateDeviceBinding(ctx, entitlement.DeviceBinding{Fingerprint: fp, AccountID: "a1", TrialConsumedTokens: 10}))
	require.ErrorIs(t, s.CreateDeviceBinding(ctx, entitlement.DeviceBinding{Fingerprint: fp, AccountID: "a2"}), entitlement.ErrBindingExists)

	b, err := s.GetDeviceBinding(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "a1", b.AccountID)
	assert.Equal(t, uint64(10), b.TrialConsumedTokens)
	assert.True(t, b.Active())

	err = s.RebindDevice(ctx, fp, "someone-else", entitlement.DeviceBinding{AccountID: "a3"})
	require.ErrorIs(t, err, entitlement.ErrBindingConflict)

	require.NoError(t, s.RebindDevice(ctx, fp, "a1", entitlement.DeviceBinding{AccountID: "a2", TrialConsumedTokens: 10000}))
	b, err = s.GetDeviceBinding(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, "a2", b.AccountID)
	assert.Equal(t, uint64(10000), b.TrialConsumedTokens)
	assert.Equal(t, fp, b.Fingerprint)

	err = s.RebindDevice(ctx, fp, "a1", entitlement.DeviceBinding{AccountID: "a3"})
	require.ErrorIs(t, err, entitlement.ErrBindingConflict)

	err = s.RebindDevice(ctx, ID(t, "unbound"), "a1", entitlement.DeviceBinding{AccountID: "a3"})
	require.ErrorIs(t, err, entitlement.ErrBindingConflict)
}

func testConcurrentRebind(t *testing.T, s entitlement.Store) {
	ctx := context.Background()
	fp := ID(t, "race")
	require.NoError(t, s.CreateDeviceBinding(ctx, entitlement.DeviceBinding{Fingerprint: fp, AccountID: "origin"}))

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.RebindDevice(ctx, fp, "origin", entitlement.DeviceBinding{AccountID: fmt.Sprintf("w%d", i)})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, entitlement.ErrBindingConflict)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	b, err := s.GetDeviceBinding(ctx, fp)
	require.NoError(t, err)
	assert.NotEqual(t, "origin", b.AccountID)
}
