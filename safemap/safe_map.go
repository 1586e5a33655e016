// Package safemap provides a generic concurrent map built on sync.Map that
// keeps a running entry count, so Len is O(1). It is used as the registry of
// live relays.
package safemap

import (
	"sync"
	"sync/atomic"
)

// SafeMap is a concurrent map that is safe for use by multiple goroutines.
// It must not be copied after first use.
type SafeMap[K comparable, V any] struct {
	m     sync.Map
	count atomic.Int64
}

// NewSafeMap returns an empty SafeMap.
func NewSafeMap[K comparable, V any]() *SafeMap[K, V] {
	return &SafeMap[K, V]{}
}

// Store sets the value for k, replacing any existing value.
//
// Parameters:
//   - k: The key to store
//   - v: The value to associate with k
func (m *SafeMap[K, V]) Store(k K, v V) {
	if _, loaded := m.m.Swap(k, v); !loaded {
		m.count.Add(1)
	}
}

// Load returns the value for k and whether it was present. A missing key
// yields the zero value of V.
func (m *SafeMap[K, V]) Load(k K) (V, bool) {
	v, found := m.m.Load(k)
	if !found {
		var empty V
		return empty, false
	}

	return v.(V), true
}

// Delete removes k and returns the value it held. Deleting a missing key is
// a no-op that returns false.
//
// Parameters:
//   - k: The key to delete
//
// Returns:
//   - The removed value, or the zero value of V
//   - true if k was present
func (m *SafeMap[K, V]) Delete(k K) (V, bool) {
	v, loaded := m.m.LoadAndDelete(k)
	if !loaded {
		var empty V
		return empty, false
	}

	m.count.Add(-1)
	return v.(V), true
}

// Range calls f for each entry until f returns false. Entries may be
// deleted from inside f.
func (m *SafeMap[K, V]) Range(f func(k K, v V) bool) {
	m.m.Range(func(k, v any) bool {
		return f(k.(K), v.(V))
	})
}

// Drain removes every entry present during the call and returns the removed
// values. Entries stored concurrently may or may not be included.
//
// Returns:
//   - The removed values in unspecified order
func (m *SafeMap[K, V]) Drain() []V {
	var out []V
	m.Range(func(k K, _ V) bool {
		if v, ok := m.Delete(k); ok {
			out = append(out, v)
		}
		return true
	})

	return out
}

// Len returns the number of entries.
func (m *SafeMap[K, V]) Len() int {
	return int(m.count.Load())
}
