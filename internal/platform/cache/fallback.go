package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// FallbackStore fronts a primary (Redis) store with a local in-process store
// that takes over while the primary is failing. Deletes always reach the
// local store; deletes the primary rejected are remembered and replayed once
// it answers again, and those keys are never read back from the primary in
// the meantime. A write the primary rejected leaves its old value behind, so
// that key is queued for deletion the same way.
type FallbackStore struct {
	primary  Store
	local    *LocalStore
	localTTL time.Duration
	logger   *slog.Logger

	mu             sync.Mutex
	pendingDeletes map[string]struct{}
}

func NewFallbackStore(primary Store, local *LocalStore, localTTL time.Duration, logger *slog.Logger) *FallbackStore {
	return &FallbackStore{
		primary:        primary,
		local:          local,
		localTTL:       localTTL,
		logger:         logger.With("component", "fallback_cache"),
		pendingDeletes: make(map[string]struct{}),
	}
}

func (s *FallbackStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.isPendingDelete(key) {
		s.replayDeletes(ctx)
		if s.isPendingDelete(key) {
			return s.local.Get(ctx, key)
		}
	}

	val, err := s.primary.Get(ctx, key)
	if err == nil || errors.Is(err, ErrCacheMiss) {
		return val, err
	}

	degradedOperations.WithLabelValues("get").Inc()
	s.logger.WarnContext(ctx, "Primary cache read failed, using local store", "key", key, "error", err)
	return s.local.Get(ctx, key)
}

func (s *FallbackStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.primary.Set(ctx, key, value, ttl)
	if err == nil {
		s.clearPending(key)
		return nil
	}

	degradedOperations.WithLabelValues("set").Inc()
	s.logger.WarnContext(ctx, "Primary cache write failed, using local store", "key", key, "error", err)
	s.markPending(key)
	localTTL := ttl
	if s.localTTL > 0 && s.localTTL < localTTL {
		localTTL = s.localTTL
	}
	return s.local.Set(ctx, key, value, localTTL)
}

// Delete never fails because of the primary backend.
func (s *FallbackStore) Delete(ctx context.Context, keys ...string) error {
	_ = s.local.Delete(ctx, keys...)

	if err := s.primary.Delete(ctx, keys...); err != nil {
		degradedOperations.WithLabelValues("delete").Inc()
		s.logger.WarnContext(ctx, "Primary cache delete failed, will replay", "keys", keys, "error", err)
		s.markPending(keys...)
		return nil
	}
	s.clearPending(keys...)
	return nil
}

func (s *FallbackStore) replayDeletes(ctx context.Context) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.pendingDeletes))
	for k := range s.pendingDeletes {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	if len(keys) == 0 {
		return
	}
	if err := s.primary.Delete(ctx, keys...); err != nil {
		return
	}
	s.clearPending(keys...)
	s.logger.InfoContext(ctx, "Replayed pending cache deletes", "count", len(keys))
}

func (s *FallbackStore) isPendingDelete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pendingDeletes[key]
	return ok
}

func (s *FallbackStore) markPending(keys ...string) {
	s.mu.Lock()
	for _, k := range keys {
		s.pendingDeletes[k] = struct{}{}
	}
	s.mu.Unlock()
}

func (s *FallbackStore) clearPending(keys ...string) {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.pendingDeletes, k)
	}
	s.mu.Unlock()
}
