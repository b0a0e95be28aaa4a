package etcd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

type fakeLockStore struct {
	mu   sync.Mutex
	held map[string]string
	ttl  map[string]time.Duration

	acquireAttempts int
	releases        int
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{
		held: make(map[string]string),
		ttl:  make(map[string]time.Duration),
	}
}

func (s *fakeLockStore) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.acquireAttempts++
	if _, exists := s.held[key]; exists {
		return false, nil
	}
	s.held[key] = token
	s.ttl[key] = ttl
	return true, nil
}

func (s *fakeLockStore) release(ctx context.Context, key, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.held[key] != token {
		return errors.New("lock not held by this token")
	}
	delete(s.held, key)
	s.releases++
	return nil
}

func (s *fakeLockStore) remainingTTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ttl[key], nil
}

func newTestLocker(store lockStore, cfg LockConfig) *Locker {
	return &Locker{
		store: store,
		cfg:   cfg,
		sleep: func(ctx context.Context, d time.Duration) error { return nil },
	}
}

func TestWithLockMutualExclusion(t *testing.T) {
	store := newFakeLockStore()
	cfg := DefaultLockConfig()
	cfg.MaxRetries = 50

	locker := newTestLocker(store, cfg)
	locker.sleep = func(ctx context.Context, d time.Duration) error {
		time.Sleep(time.Millisecond)
		return nil
	}
	key := LockKey(domain.KindDeal, 101)

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxInside, "two holders must never overlap for the same key")
	assert.Equal(t, 8, store.releases)
}

func TestWithLockRetriesExhausted(t *testing.T) {
	store := newFakeLockStore()
	key := LockKey(domain.KindDeal, 202)

	// Un holder previo con TTL alto sigue vivo durante todos los reintentos.
	acquired, err := store.tryAcquire(context.Background(), key, "other-holder", 296*time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	cfg := LockConfig{
		TTL:        300 * time.Second,
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
	}
	locker := newTestLocker(store, cfg)

	err = locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		t.Fatal("callback must not run when the lock is never acquired")
		return nil
	})
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeMaxRetries))
	assert.True(t, domain.IsLockContention(err))

	remaining, ok := RemainingTTL(err)
	require.True(t, ok)
	assert.Equal(t, 296*time.Second, remaining)

	// Intento inicial + MaxRetries reintentos, más la adquisición del holder previo.
	assert.Equal(t, 1+cfg.MaxRetries+1, store.acquireAttempts)
}

func TestWithLockReleasesOnBusinessFailure(t *testing.T) {
	store := newFakeLockStore()
	locker := newTestLocker(store, DefaultLockConfig())
	key := LockKey(domain.KindDeal, 303)

	wantErr := errors.New("business failure")
	err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)

	store.mu.Lock()
	_, stillHeld := store.held[key]
	store.mu.Unlock()
	assert.False(t, stillHeld, "lock must be released on every exit path")
}

func TestBackoffDelaysMonotonic(t *testing.T) {
	cfg := LockConfig{
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  2 * time.Second,
		Jitter:    0, // determinista para la aserción de monotonicidad
	}
	policy := newBackoffPolicy(cfg)

	prev := time.Duration(0)
	for i := 0; i < 12; i++ {
		next := policy.NextBackOff()
		assert.GreaterOrEqual(t, next, prev, "delays must be non-decreasing")
		assert.LessOrEqual(t, next, cfg.MaxDelay)
		prev = next
	}
	assert.Equal(t, cfg.MaxDelay, prev, "delays must reach the configured cap")
}

func TestWithLockCancelledWhileWaiting(t *testing.T) {
	store := newFakeLockStore()
	key := LockKey(domain.KindDeal, 404)

	acquired, err := store.tryAcquire(context.Background(), key, "other-holder", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	cfg := DefaultLockConfig()
	locker := &Locker{
		store: store,
		cfg:   cfg,
		sleep: sleepCtx,
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = locker.WithLock(ctx, key, func(ctx context.Context) error { return nil })
	require.Error(t, err)
	assert.True(t, domain.IsCode(err, domain.ErrCodeLockAcquisition))
}
