// Package listcache provides TTL-bounded storage for computed catalog listings.
package listcache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or has expired.
	ErrNotFound = errors.New("listcache: not found")

	// ErrCorrupted is returned when a stored record fails integrity checks.
	ErrCorrupted = errors.New("listcache: record corrupted")
)

// Cache stores opaque listing payloads under a key for a bounded time.
// Implementations must be safe for concurrent use. Concurrent writers to the
// same key are resolved last-writer-wins.
type Cache interface {
	// Get returns the payload stored under key.
	// Returns ErrNotFound if the key is absent or its TTL has elapsed.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key. A ttl of zero stores without expiry.
	Put(ctx context.Context, key string, data []byte, ttl time.Duration) error
}
