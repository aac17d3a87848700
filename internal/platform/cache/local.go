package cache

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	value     []byte
	expiresAt time.Time
}

// LocalStore is an in-process Store. Expired entries are evicted lazily on
// read, by Sweep and by the RunSweeper loop.
type LocalStore struct {
	mu    sync.RWMutex
	items map[string]localEntry
	now   func() time.Time
}

func NewLocalStore() *LocalStore {
	return &LocalStore{items: make(map[string]localEntry), now: time.Now}
}

func (s *LocalStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	entry, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if !s.now().Before(entry.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.items[key]; ok && cur.expiresAt.Equal(entry.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
		return nil, ErrCacheMiss
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (s *LocalStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	s.items[key] = localEntry{value: stored, expiresAt: s.now().Add(ttl)}
	s.mu.Unlock()
	return nil
}

func (s *LocalStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.items, k)
	}
	s.mu.Unlock()
	return nil
}

// Sweep removes expired entries and returns how many were dropped.
func (s *LocalStore) Sweep() int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k, e := range s.items {
		if !now.Before(e.expiresAt) {
			delete(s.items, k)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *LocalStore) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
