// Package cacher caches fetched values with a per-key TTL. Concurrent misses
// for the same key run the fetch only once, in process for the memory
// backend and across processes for the redis backend.
package cacher

import (
	"context"
	"time"
)

// FetchFunc loads a value on a cache miss.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Cacher is a read-through cache.
type Cacher[T any] interface {
	// GetOrFetch returns the cached value for key, or calls fetchFn, stores
	// its result for ttl and returns it. Failed fetches are not cached.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - key: The cache key
	//   - ttl: How long a fetched value stays cached
	//   - fetchFn: Loads the value on a miss
	//
	// Returns:
	//   - The cached or fetched value
	//   - An error if the fetch or the backend fails
	GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetchFn FetchFunc[T]) (T, error)

	// Delete drops key so the next GetOrFetch fetches again.
	Delete(ctx context.Context, key string) error
}
