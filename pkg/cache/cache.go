// Package cache defines the shared token cache abstraction used by the
// upstream authentication manager. A TokenStore holds a single named entry
// in an external store so that a refreshed bearer token survives process
// restarts and is shared between replicas.
//
// Store failures are soft by contract: a failing Get reads as absent, a
// failing Set or Delete is a no-op. The system stays able to authenticate
// with the cache entirely unavailable; only the caching benefit is lost.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the entry does not exist or has expired.
var ErrNotFound = errors.New("cache entry not found")

// TokenStore is a single-entry external cache with TTL semantics.
//
// Implementations must be safe for concurrent use by multiple goroutines.
type TokenStore interface {
	// Get returns the value stored under key, or ErrNotFound if absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores value under key with the given lifetime.
	// A non-positive TTL means "do not cache" and is a no-op, not an error.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the entry under key. Deleting an absent entry is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying connection, if any.
	Close() error
}
