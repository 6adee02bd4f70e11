package memstore

import (
	"sync"
	"time"
)

// entry is one keyed value with an optional expiry.
type entry struct {
	value     string
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Store is an embedded keyed value store with TTL support and atomic
// counters. It backs the health service's named lock and the queue
// counters; callers treat it as a potentially-unavailable dependency,
// so every method is also exposed behind the Ping probe.
type Store struct {
	mu       sync.Mutex
	entries  map[string]*entry
	counters map[string]int64
	closed   bool
}

// New creates an empty store.
func New() *Store {
	return &Store{
		entries:  make(map[string]*entry),
		counters: make(map[string]int64),
	}
}

// ErrClosed is returned once the store has been shut down.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "memstore closed" }

// SetNX sets key to value only if the key is absent (or expired) and
// returns whether the set happened. A zero ttl never expires.
func (s *Store) SetNX(key, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrClosed{}
	}

	now := time.Now()
	if e, ok := s.entries[key]; ok && !e.expired(now) {
		return false, nil
	}

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	s.entries[key] = e
	return true, nil
}

// Get returns the value for key, or ok=false when absent or expired.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false, ErrClosed{}
	}

	e, ok := s.entries[key]
	if !ok || e.expired(time.Now()) {
		delete(s.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed{}
	}
	delete(s.entries, key)
	return nil
}

// Incr atomically adds delta to the named counter and returns the new
// value. Counters never expire.
func (s *Store) Incr(key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed{}
	}
	s.counters[key] += delta
	return s.counters[key], nil
}

// Counter returns the current value of the named counter.
func (s *Store) Counter(key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed{}
	}
	return s.counters[key], nil
}

// Ping reports whether the store is usable.
func (s *Store) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed{}
	}
	return nil
}

// CleanupExpired removes expired entries and returns how many were dropped.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0
	}

	now := time.Now()
	removed := 0
	for key, e := range s.entries {
		if e.expired(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Close shuts the store down; subsequent calls fail with ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
