package cache

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackendDown = errors.New("connection refused")

// switchableStore behaves like a LocalStore until down is set.
type switchableStore struct {
	mu      sync.Mutex
	down    bool
	inner   *LocalStore
	deletes int
}

func newSwitchableStore() *switchableStore {
	return &switchableStore{inner: NewLocalStore()}
}

func (s *switchableStore) setDown(down bool) {
	s.mu.Lock()
	s.down = down
	s.mu.Unlock()
}

func (s *switchableStore) isDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.down
}

func (s *switchableStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isDown() {
		return nil, errBackendDown
	}
	return s.inner.Get(ctx, key)
}

func (s *switchableStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.isDown() {
		return errBackendDown
	}
	return s.inner.Set(ctx, key, value, ttl)
}

func (s *switchableStore) Delete(ctx context.Context, keys ...string) error {
	if s.isDown() {
		return errBackendDown
	}
	s.mu.Lock()
	s.deletes++
	s.mu.Unlock()
	return s.inner.Delete(ctx, keys...)
}

func newTestFallback(primary Store) (*FallbackStore, *LocalStore) {
	local := NewLocalStore()
	return NewFallbackStore(primary, local, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))), local
}

func TestFallbackStore_HealthyPrimary(t *testing.T) {
	ctx := context.Background()
	primary := newSwitchableStore()
	s, local := newTestFallback(primary)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
	assert.Zero(t, local.Len(), "local store only used while degraded")

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFallbackStore_DegradesToLocal(t *testing.T) {
	ctx := context.Background()
	primary := newSwitchableStore()
	primary.setDown(true)
	s, local := newTestFallback(primary)

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Hour))
	assert.Equal(t, 1, local.Len())

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = s.Get(ctx, "other")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFallbackStore_DeleteNeverFailsAndReplays(t *testing.T) {
	ctx := context.Background()
	primary := newSwitchableStore()
	s, _ := newTestFallback(primary)

	require.NoError(t, s.Set(ctx, "k", []byte("stale"), time.Hour))

	primary.setDown(true)
	assert.NoError(t, s.Delete(ctx, "k"))

	// The primary still holds the stale value, but it must not be served.
	primary.setDown(false)
	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	_, err = primary.inner.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "pending delete replayed on recovery")
}

func TestFallbackStore_PendingDeleteWhilePrimaryStillDown(t *testing.T) {
	ctx := context.Background()
	primary := newSwitchableStore()
	s, _ := newTestFallback(primary)

	require.NoError(t, s.Set(ctx, "k", []byte("stale"), time.Hour))
	primary.setDown(true)
	require.NoError(t, s.Delete(ctx, "k"))

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestFallbackStore_FailedWriteHidesOlderPrimaryValue(t *testing.T) {
	ctx := context.Background()
	primary := newSwitchableStore()
	s, _ := newTestFallback(primary)

	require.NoError(t, s.Set(ctx, "k", []byte("old"), time.Hour))

	primary.setDown(true)
	require.NoError(t, s.Set(ctx, "k", []byte("new"), time.Hour))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)

	primary.setDown(false)
	got, err = s.Get(ctx, "k")
	if err == nil {
		assert.Equal(t, []byte("new"), got)
	} else {
		assert.ErrorIs(t, err, ErrCacheMiss)
	}
	_, err = primary.inner.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss, "old primary value removed on recovery")

	require.NoError(t, s.Set(ctx, "k", []byte("fresh"), time.Hour))
	got, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("fresh"), got)
}
