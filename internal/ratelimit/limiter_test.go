package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/salon-payguard/internal/model"
	"github.com/mmeshcher/salon-payguard/internal/repository"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *repository.MemoryStore, *fakeClock) {
	t.Helper()
	store := repository.NewMemoryStore()
	clock := newFakeClock()
	return New(store, Config{}, WithClock(clock.Now)), store, clock
}

func TestNew_Defaults(t *testing.T) {
	l := New(repository.NewMemoryStore(), Config{})
	assert.Equal(t, DefaultMaxAttempts, l.Config().MaxAttempts)
	assert.Equal(t, DefaultCooldown, l.Config().Cooldown)
}

func TestCheck_UnknownActorAllowed(t *testing.T) {
	l, store, _ := newTestLimiter(t)

	d, err := l.Check(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Zero(t, d.RemainingCooldown)
	assert.Equal(t, 0, store.Len())
}

func TestBlockAfterMaxAttempts(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < DefaultMaxAttempts; i++ {
		require.NoError(t, l.Record(ctx, "u1"))
		clock.Advance(time.Second)
	}

	d, err := l.Check(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, DefaultCooldown-time.Second, d.RemainingCooldown)
}

func TestScenario_U1(t *testing.T) {
	l, store, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Record(ctx, "u1"))
		d, err := l.Check(ctx, "u1")
		require.NoError(t, err)
		if i < 2 {
			assert.True(t, d.Allowed, "check after attempt %d", i+1)
		} else {
			assert.False(t, d.Allowed, "check after attempt %d", i+1)
			assert.Greater(t, d.RemainingCooldown, time.Duration(0))
		}
	}

	d, err := l.Check(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	clock.Advance(DefaultCooldown + time.Millisecond)

	d, err = l.Check(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, store.Len(), "stale record must be purged")
}

func TestCooldownExpiryResetsState(t *testing.T) {
	l, store, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Record(ctx, "u2"))
	}

	clock.Advance(DefaultCooldown)

	d, err := l.Check(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, ok, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Record(ctx, "u2"))
	rec, ok, err := store.Get(ctx, "u2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, rec.Count)
}

func TestRecord_RestartsExpiredRecord(t *testing.T) {
	l, store, clock := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "u3"))
	require.NoError(t, l.Record(ctx, "u3"))
	clock.Advance(DefaultCooldown + time.Minute)
	require.NoError(t, l.Record(ctx, "u3"))

	rec, _, err := store.Get(ctx, "u3")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Count)
	assert.Equal(t, clock.Now(), rec.LastAttemptAt)
}

func TestClear_Idempotent(t *testing.T) {
	l, store, _ := newTestLimiter(t)
	ctx := context.Background()

	require.NoError(t, l.Clear(ctx, "nobody"))

	require.NoError(t, l.Record(ctx, "u4"))
	require.NoError(t, l.Clear(ctx, "u4"))
	require.NoError(t, l.Clear(ctx, "u4"))

	assert.Equal(t, 0, store.Len())

	d, err := l.Check(ctx, "u4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAcquire_ConcurrentAttemptsRespectLimit(t *testing.T) {
	l, store, _ := newTestLimiter(t)
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Acquire(ctx, "racer")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(DefaultMaxAttempts), allowed.Load())

	rec, ok, err := store.Get(ctx, "racer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxAttempts, rec.Count)
}

// slowStore замедляет чтение, как сетевое хранилище, и сохраняет атомарные операции MemoryStore.
type slowStore struct {
	*repository.MemoryStore
}

func (s slowStore) Get(ctx context.Context, actorID string) (model.AttemptRecord, bool, error) {
	time.Sleep(2 * time.Millisecond)
	return s.MemoryStore.Get(ctx, actorID)
}

func TestAcquire_LimitersSharingStore(t *testing.T) {
	store := slowStore{MemoryStore: repository.NewMemoryStore()}
	clock := newFakeClock()
	limiters := []*Limiter{
		New(store, Config{}, WithClock(clock.Now)),
		New(store, Config{}, WithClock(clock.Now)),
	}
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(l *Limiter) {
			defer wg.Done()
			d, err := l.Acquire(ctx, "racer")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}(limiters[i%len(limiters)])
	}
	wg.Wait()

	assert.Equal(t, int32(DefaultMaxAttempts), allowed.Load())

	rec, ok, err := store.Get(ctx, "racer")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxAttempts, rec.Count)

	d, err := limiters[1].Check(ctx, "racer")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestRecord_LimitersSharingStoreKeepEveryAttempt(t *testing.T) {
	store := slowStore{MemoryStore: repository.NewMemoryStore()}
	clock := newFakeClock()
	a := New(store, Config{MaxAttempts: 100}, WithClock(clock.Now))
	b := New(store, Config{MaxAttempts: 100}, WithClock(clock.Now))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, a.Record(ctx, "u5")) }()
		go func() { defer wg.Done(); assert.NoError(t, b.Record(ctx, "u5")) }()
	}
	wg.Wait()

	rec, _, err := store.Get(ctx, "u5")
	require.NoError(t, err)
	assert.Equal(t, 20, rec.Count)
}

// plainStore предоставляет только Get/Set/Delete, без атомарных операций.
type plainStore struct {
	inner *repository.MemoryStore
}

func (s plainStore) Get(ctx context.Context, actorID string) (model.AttemptRecord, bool, error) {
	return s.inner.Get(ctx, actorID)
}

func (s plainStore) Set(ctx context.Context, rec model.AttemptRecord, ttl time.Duration) error {
	return s.inner.Set(ctx, rec, ttl)
}

func (s plainStore) Delete(ctx context.Context, actorID string) error {
	return s.inner.Delete(ctx, actorID)
}

func TestAcquire_PlainStoreSerializedInProcess(t *testing.T) {
	store := plainStore{inner: repository.NewMemoryStore()}
	clock := newFakeClock()
	l := New(store, Config{}, WithClock(clock.Now))
	ctx := context.Background()

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Acquire(ctx, "racer")
			if err == nil && d.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(DefaultMaxAttempts), allowed.Load())

	clock.Advance(DefaultCooldown)
	d, err := l.Check(ctx, "racer")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, store.inner.Len())
}

type failingStore struct{}

var errStoreDown = errors.New("store down")

func (failingStore) Get(context.Context, string) (model.AttemptRecord, bool, error) {
	return model.AttemptRecord{}, false, errStoreDown
}

func (failingStore) Set(context.Context, model.AttemptRecord, time.Duration) error {
	return errStoreDown
}

func (failingStore) Delete(context.Context, string) error {
	return errStoreDown
}

func TestStoreErrorsPropagate(t *testing.T) {
	l := New(failingStore{}, Config{MaxAttempts: 1, Cooldown: time.Minute})
	ctx := context.Background()

	_, err := l.Check(ctx, "a")
	assert.ErrorIs(t, err, errStoreDown)

	_, err = l.Acquire(ctx, "a")
	assert.ErrorIs(t, err, errStoreDown)

	assert.ErrorIs(t, l.Record(ctx, "a"), errStoreDown)
	assert.ErrorIs(t, l.Clear(ctx, "a"), errStoreDown)
}
