// Package markers tracks which final filenames were recently produced by
// a completed download, making them eligible for routing.
package markers

import (
	"sync"
	"time"
)

// Marker records that a final filename was just produced by a completed
// temp-artifact rename.
type Marker struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is a TTL-bounded set of download markers keyed by lowercase
// filename. At most one live marker exists per key; Put overwrites.
// All methods are safe for concurrent use.
type Store struct {
	ttl     time.Duration
	now     func() time.Time
	mu      sync.Mutex
	entries map[string]time.Time
}

// Option is a functional option for configuring the store.
type Option func(*Store)

// WithClock sets the time source. Used by tests to simulate expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a marker store whose entries expire after ttl.
func NewStore(ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Put inserts or overwrites the marker for key.
func (s *Store) Put(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = s.now()
}

// Has reports whether a live marker exists for key. It does not purge;
// callers gating a move must call PurgeExpired first to bound staleness.
func (s *Store) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[key]
	return ok
}

// Remove deletes the marker for key if present.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// PurgeExpired removes all markers older than the store TTL.
func (s *Store) PurgeExpired() {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, createdAt := range s.entries {
		if createdAt.Before(cutoff) {
			delete(s.entries, key)
		}
	}
}

// Len returns the number of live markers.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Snapshot returns a copy of the live markers for the API.
func (s *Store) Snapshot() []Marker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Marker, 0, len(s.entries))
	for key, createdAt := range s.entries {
		out = append(out, Marker{Key: key, CreatedAt: createdAt})
	}
	return out
}
