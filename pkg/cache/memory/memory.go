// Package memory provides an in-memory implementation of cache.TokenStore
// for testing and cacheless deployments. Entries are lost when the process
// restarts, which degrades token caching to per-process behavior.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mkallner/gemlink/pkg/cache"
)

// entry holds a stored value and its expiry deadline.
type entry struct {
	value     []byte
	expiresAt time.Time
}

// Store is an in-memory TokenStore.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// Ensure Store implements cache.TokenStore at compile time.
var _ cache.TokenStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// NewWithClock creates a store with an injectable clock for tests.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.now = now
	return s
}

// Get returns the value stored under key, or cache.ErrNotFound if the entry
// is absent or has expired.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, cache.ErrNotFound
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, key)
		return nil, cache.ErrNotFound
	}

	// Copy so callers cannot mutate the stored value.
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// SetWithTTL stores value under key. A non-positive TTL is a no-op.
func (s *Store) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.entries[key] = entry{
		value:     stored,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

// Delete removes the entry under key.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
