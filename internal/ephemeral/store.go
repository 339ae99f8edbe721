package ephemeral

import (
	"sync"
	"time"
)

// Store is a keyed map whose entries expire after a fixed TTL. Expiry is
// enforced by Sweep, which callers invoke opportunistically (the pipeline
// runs it at the start of each job) rather than from a background timer.
type Store[V any] struct {
	ttl     time.Duration
	onEvict func(key string, value V)

	mu      sync.Mutex
	entries map[string]entry[V]
}

type entry[V any] struct {
	value      V
	insertedAt time.Time
}

// New creates a store with the given TTL. onEvict, if non-nil, runs for
// every entry removed by Sweep (not for explicit Delete calls).
func New[V any](ttl time.Duration, onEvict func(key string, value V)) *Store[V] {
	return &Store[V]{
		ttl:     ttl,
		onEvict: onEvict,
		entries: make(map[string]entry[V]),
	}
}

func (s *Store[V]) Put(key string, value V, insertedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = entry[V]{value: value, insertedAt: insertedAt}
}

func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	return e.value, ok
}

func (s *Store[V]) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Sweep removes every entry older than the store TTL, invoking the eviction
// hook outside the lock so hooks may touch the filesystem freely.
func (s *Store[V]) Sweep(now time.Time) int {
	type evicted struct {
		key   string
		value V
	}

	s.mu.Lock()
	var expired []evicted
	for key, e := range s.entries {
		if now.Sub(e.insertedAt) > s.ttl {
			expired = append(expired, evicted{key: key, value: e.value})
			delete(s.entries, key)
		}
	}
	s.mu.Unlock()

	if s.onEvict != nil {
		for _, e := range expired {
			s.onEvict(e.key, e.value)
		}
	}
	return len(expired)
}

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
