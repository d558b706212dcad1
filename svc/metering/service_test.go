package metering_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/tokengate/pkg/entitlement"
	"github.com/dmitrymomot/tokengate/pkg/logger"
	"github.com/dmitrymomot/tokengate/pkg/retry"
	"github.com/dmitrymomot/tokengate/svc/metering"
)

var fastRetry = retry.Config{Attempts: 3, Interval: time.Millisecond}

func newService(t *testing.T, store entitlement.Store) metering.Service {
	t.Helper()
	return metering.NewService(store, entitlement.DefaultPolicy(),
		metering.WithLogger(logger.Discard()),
		metering.WithRetry(fastRetry),
	)
}

func createAccount(t *testing.T, store entitlement.Store, id string, usage uint64, paid bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.CreateAccount(ctx, entitlement.NewAccount(id, id+"@example.com", true, time.Now())))
	if usage > 0 {
		_, err := store.IncrementUsage(ctx, id, usage)
		require.NoError(t, err)
	}
	if paid {
		require.NoError(t, store.SetPaidSubscription(ctx, id, true))
	}
}

func usageOf(t *testing.T, store entitlement.Store, id string) uint64 {
	t.Helper()
	rec, err := store.GetUsage(context.Background(), id)
	require.NoError(t, err)
	return rec.TotalTokens
}

func TestNewServicePanicsWithoutStore(t *testing.T) {
	t.Parallel()
	assert.Panics(t, func() { metering.NewService(nil, entitlement.DefaultPolicy()) })
}

func TestTrialExhaustionScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	svc := newService(t, store)
	createAccount(t, store, "a1", 9500, false)

	d, err := svc.CheckAllowance(ctx, "a1", "")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	total, err := svc.CommitUsage(ctx, "a1", 800)
	require.NoError(t, err)
	assert.Equal(t, uint64(10300), total)

	d, err = svc.CheckAllowance(ctx, "a1", "")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, entitlement.ReasonTrialExhausted, d.Reason)
}

func TestPaidAccountAlwaysAllowed(t *testing.T) {
	t.Parallel()

	store := entitlement.NewMemoryStore()
	svc := newService(t, store)
	createAccount(t, store, "paid", 50000, true)

	d, err := svc.CheckAllowance(context.Background(), "paid", "fp-paid")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestCheckAllowanceUnknownAccount(t *testing.T) {
	t.Parallel()

	svc := newService(t, entitlement.NewMemoryStore())

	_, err := svc.CheckAllowance(context.Background(), "ghost", "fp")
	require.ErrorIs(t, err, entitlement.ErrAccountNotFound)

	_, err = svc.CheckAllowance(context.Background(), "", "fp")
	require.ErrorIs(t, err, metering.ErrMissingAccountID)
}

func TestDeviceBinding(t *testing.T) {
	t.Parallel()

	t.Run("first use binds with current usage", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		createAccount(t, store, "a1", 1200, false)

		_, err := svc.CheckAllowance(ctx, "a1", "fp")
		require.NoError(t, err)

		b, err := store.GetDeviceBinding(ctx, "fp")
		require.NoError(t, err)
		assert.Equal(t, "a1", b.AccountID)
		assert.Equal(t, uint64(1200), b.TrialConsumedTokens)
	})

	t.Run("same account is a no-op", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		createAccount(t, store, "a1", 0, false)

		for range 3 {
			_, err := svc.CheckAllowance(ctx, "a1", "fp")
			require.NoError(t, err)
		}
		history, err := store.BindingHistory(ctx, "fp")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "a1", history[0].AccountID)
	})

	t.Run("reused device seeds and blocks new account", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		createAccount(t, store, "a1", 10000, false)
		createAccount(t, store, "a2", 0, false)
		require.NoError(t, store.CreateDeviceBinding(ctx, entitlement.DeviceBinding{
			Fingerprint: "F", AccountID: "a1", TrialConsumedTokens: 10000,
		}))

		d, err := svc.CheckAllowance(ctx, "a2", "F")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, entitlement.ReasonTrialExhausted, d.Reason)
		assert.Equal(t, uint64(10000), usageOf(t, store, "a2"))

		b, err := store.GetDeviceBinding(ctx, "F")
		require.NoError(t, err)
		assert.Equal(t, "a2", b.AccountID)
		assert.Equal(t, uint64(10000), b.TrialConsumedTokens)
		history, err := store.BindingHistory(ctx, "F")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, "a1", history[0].AccountID)
	})

	t.Run("seed uses bound account usage accrued after binding", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		createAccount(t, store, "a1", 0, false)
		createAccount(t, store, "a2", 0, false)

		_, err := svc.CheckAllowance(ctx, "a1", "F")
		require.NoError(t, err)
		_, err = svc.CommitUsage(ctx, "a1", 7000)
		require.NoError(t, err)

		d, err := svc.CheckAllowance(ctx, "a2", "F")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, uint64(7000), usageOf(t, store, "a2"))
	})

	t.Run("seeding never decreases usage", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		createAccount(t, store, "a1", 300, false)
		createAccount(t, store, "a2", 4000, false)
		require.NoError(t, store.CreateDeviceBinding(ctx, entitlement.DeviceBinding{
			Fingerprint: "F", AccountID: "a1", TrialConsumedTokens: 300,
		}))

		_, err := svc.CheckAllowance(ctx, "a2", "F")
		require.NoError(t, err)
		assert.Equal(t, uint64(4000), usageOf(t, store, "a2"))
	})

	t.Run("bound account deleted still rebinds", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		createAccount(t, store, "a2", 0, false)
		require.NoError(t, store.CreateDeviceBinding(ctx, entitlement.DeviceBinding{
			Fingerprint: "F", AccountID: "gone", TrialConsumedTokens: 2500,
		}))

		_, err := svc.CheckAllowance(ctx, "a2", "F")
		require.NoError(t, err)
		assert.Equal(t, uint64(2500), usageOf(t, store, "a2"))
	})

	t.Run("ping-pong between accounts does not reset trial", func(t *testing.T) {
		t.Parallel()
		ctx := context.Background()
		store := entitlement.NewMemoryStore()
		svc := newService(t, store)
		for _, id := range []string{"a1", "a2", "a3"} {
			createAccount(t, store, id, 0, false)
		}

		_, err := svc.CheckAllowance(ctx, "a1", "F")
		require.NoError(t, err)
		_, err = svc.CommitUsage(ctx, "a1", 10000)
		require.NoError(t, err)

		for _, id := range []string{"a2", "a3", "a1", "a2"} {
			d, err := svc.CheckAllowance(ctx, id, "F")
			require.NoError(t, err)
			assert.False(t, d.Allowed, "account %s", id)
		}
	})
}

func TestConcurrentFirstUseLeavesOneBinding(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	svc := newService(t, store)

	// Each lost race is caused by another account's win, so with five
	// accounts nobody runs out of binding attempts.
	const accounts = 5
	for i := range accounts {
		createAccount(t, store, fmt.Sprintf("a%d", i), 0, false)
	}

	var wg sync.WaitGroup
	for i := range accounts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CheckAllowance(ctx, fmt.Sprintf("a%d", i), "shared")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	b, err := store.GetDeviceBinding(ctx, "shared")
	require.NoError(t, err)
	assert.True(t, b.Active())
	// One account creates the binding, every other one rebinds exactly once.
	history, err := store.BindingHistory(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, accounts)
}

func TestConcurrentCommitsLoseNoUpdates(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := entitlement.NewMemoryStore()
	svc := newService(t, store)
	createAccount(t, store, "a1", 100, false)

	const workers = 50
	var wg sync.WaitGroup
	var want uint64 = 100
	for i := range workers {
		delta := uint64(i*7 + 1)
		want += delta
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CommitUsage(ctx, "a1", delta)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, want, usageOf(t, store, "a1"))
}

// flakyStore fails IncrementUsage with a transient error a fixed number of times.
type flakyStore struct {
	entitlement.Store
	failures int32
	calls    atomic.Int32
	rebind   error
}

func (f *flakyStore) IncrementUsage(ctx context.Context, id string, delta uint64) (uint64, error) {
	if f.calls.Add(1) <= f.failures {
		return 0, fmt.Errorf("%w: connection reset", entitlement.ErrStoreUnavailable)
	}
	return f.Store.IncrementUsage(ctx, id, delta)
}

func (f *flakyStore) RebindDevice(ctx context.Context, fp, expected string, next entitlement.DeviceBinding) error {
	if f.rebind != nil {
		return f.rebind
	}
	return f.Store.RebindDevice(ctx, fp, expected, next)
}

func TestCommitUsageRetries(t *testing.T) {
	t.Parallel()

	t.Run("recovers from transient failures", func(t *testing.T) {
		t.Parallel()
		mem := entitlement.NewMemoryStore()
		createAccount(t, mem, "a1", 0, false)
		store := &flakyStore{Store: mem, failures: 2}

		total, err := newService(t, store).CommitUsage(context.Background(), "a1", 800)
		require.NoError(t, err)
		assert.Equal(t, uint64(800), total)
		assert.Equal(t, int32(3), store.calls.Load())
	})

	t.Run("exhausted retries surface ErrUsageNotRecorded", func(t *testing.T) {
		t.Parallel()
		mem := entitlement.NewMemoryStore()
		createAccount(t, mem, "a1", 0, false)
		store := &flakyStore{Store: mem, failures: 100}

		_, err := newService(t, store).CommitUsage(context.Background(), "a1", 800)
		require.ErrorIs(t, err, metering.ErrUsageNotRecorded)
		require.ErrorIs(t, err, entitlement.ErrStoreUnavailable)
		assert.Equal(t, int32(3), store.calls.Load())
		assert.Zero(t, usageOf(t, mem, "a1"))
	})

	t.Run("permanent errors are not retried", func(t *testing.T) {
		t.Parallel()
		store := &flakyStore{Store: entitlement.NewMemoryStore()}

		_, err := newService(t, store).CommitUsage(context.Background(), "ghost", 1)
		require.ErrorIs(t, err, metering.ErrUsageNotRecorded)
		require.ErrorIs(t, err, entitlement.ErrAccountNotFound)
		assert.Equal(t, int32(1), store.calls.Load())
	})

	t.Run("cancelled request still records", func(t *testing.T) {
		t.Parallel()
		mem := entitlement.NewMemoryStore()
		createAccount(t, mem, "a1", 0, false)
		store := &flakyStore{Store: mem, failures: 1}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		total, err := newService(t, store).CommitUsage(ctx, "a1", 5)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), total)
	})
}

func TestBindingContention(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mem := entitlement.NewMemoryStore()
	createAccount(t, mem, "a1", 0, false)
	createAccount(t, mem, "a2", 0, false)
	require.NoError(t, mem.CreateDeviceBinding(ctx, entitlement.DeviceBinding{Fingerprint: "F", AccountID: "a1"}))

	store := &flakyStore{Store: mem, rebind: entitlement.ErrBindingConflict}
	_, err := newService(t, store).CheckAllowance(ctx, "a2", "F")
	require.ErrorIs(t, err, metering.ErrBindingContention)
}

func TestUsageSnapshot(t *testing.T) {
	t.Parallel()

	store := entitlement.NewMemoryStore()
	svc := newService(t, store)
	createAccount(t, store, "a1", 9500, false)

	snap, err := svc.Usage(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, &metering.Snapshot{
		AccountID:       "a1",
		TotalTokens:     9500,
		TrialTokenLimit: 10000,
		Remaining:       500,
		Decision:        entitlement.Allowed(),
	}, snap)
}
