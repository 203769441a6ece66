// Package syncmap provides a sharded map whose per-key read-modify-write
// steps run atomically.
package syncmap

import (
	"hash/maphash"
	"sync"
)

const defaultShards = 32

type shard[K comparable, V any] struct {
	mu    sync.Mutex
	items map[K]V
}

// Map is safe for concurrent use. Callers never lock; every check-then-act
// sequence on a key goes through Compute.
type Map[K comparable, V any] struct {
	seed   maphash.Seed
	shards []*shard[K, V]
}

// New returns an empty map.
func New[K comparable, V any]() *Map[K, V] {
	m := &Map[K, V]{
		seed:   maphash.MakeSeed(),
		shards: make([]*shard[K, V], defaultShards),
	}
	for i := range m.shards {
		m.shards[i] = &shard[K, V]{items: make(map[K]V)}
	}
	return m
}

func (m *Map[K, V]) shardFor(key K) *shard[K, V] {
	h := maphash.Comparable(m.seed, key)
	return m.shards[h%uint64(len(m.shards))]
}

// Compute runs fn with the current value of key while holding the key's
// shard lock. fn returns the new value and whether to keep it; keep=false
// deletes the key. Compute returns the stored value and whether the key is
// present afterwards. fn must not call back into the same Map.
func (m *Map[K, V]) Compute(key K, fn func(old V, loaded bool) (V, bool)) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	old, loaded := s.items[key]
	next, keep := fn(old, loaded)
	if !keep {
		delete(s.items, key)
		var zero V
		return zero, false
	}
	s.items[key] = next
	return next, true
}

// Load returns the value stored for key.
func (m *Map[K, V]) Load(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

// Has reports whether key is present.
func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Load(key)
	return ok
}

// Store sets the value for key.
func (m *Map[K, V]) Store(key K, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.items[key] = value
	s.mu.Unlock()
}

// LoadOrCompute returns the existing value for key, or stores and returns the
// result of create. loaded reports whether the value already existed.
func (m *Map[K, V]) LoadOrCompute(key K, create func() V) (actual V, loaded bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v, true
	}
	v := create()
	s.items[key] = v
	return v, false
}

// LoadAndDelete removes key and returns its previous value.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	if ok {
		delete(s.items, key)
	}
	return v, ok
}

// Delete removes key.
func (m *Map[K, V]) Delete(key K) {
	m.LoadAndDelete(key)
}

// Keys returns a snapshot of the present keys.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0)
	for _, s := range m.shards {
		s.mu.Lock()
		for k := range s.items {
			keys = append(keys, k)
		}
		s.mu.Unlock()
	}
	return keys
}

// Range calls fn for each entry of a snapshot taken shard by shard. fn runs
// without any lock held and may mutate the map; returning false stops early.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	type entry struct {
		k K
		v V
	}
	for _, s := range m.shards {
		s.mu.Lock()
		entries := make([]entry, 0, len(s.items))
		for k, v := range s.items {
			entries = append(entries, entry{k, v})
		}
		s.mu.Unlock()

		for _, e := range entries {
			if !fn(e.k, e.v) {
				return
			}
		}
	}
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Clear removes every entry.
func (m *Map[K, V]) Clear() {
	for _, s := range m.shards {
		s.mu.Lock()
		clear(s.items)
		s.mu.Unlock()
	}
}
