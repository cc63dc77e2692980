// Package staging keeps parsed uploads between the upload and categorize requests.
package staging

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const DefaultTTL = 30 * time.Minute

// Entry is a staged value and its opaque handle.
type Entry[T any] struct {
	ID        string
	Value     T
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Store holds values under random handles until they expire.
// Expired entries are invisible immediately and reclaimed by a background janitor.
type Store[T any] struct {
	items *gocache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// New creates a store whose entries live for ttl. A non-positive ttl uses DefaultTTL.
func New[T any](ttl time.Duration) *Store[T] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cleanup := ttl / 2
	if cleanup < time.Minute {
		cleanup = time.Minute
	}
	return &Store[T]{
		items: gocache.New(ttl, cleanup),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Put stages v under a new handle.
func (s *Store[T]) Put(v T) Entry[T] {
	now := s.now()
	e := Entry[T]{
		ID:        uuid.NewString(),
		Value:     v,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.items.Set(e.ID, e, s.ttl)
	return e
}

// Get returns the entry for id if it exists and has not expired.
func (s *Store[T]) Get(id string) (Entry[T], bool) {
	v, found := s.items.Get(id)
	if !found {
		return Entry[T]{}, false
	}
	e, ok := v.(Entry[T])
	return e, ok
}

// Delete drops id. Unknown ids are ignored.
func (s *Store[T]) Delete(id string) {
	s.items.Delete(id)
}

// Len counts entries, including expired ones the janitor has not reclaimed yet.
func (s *Store[T]) Len() int {
	return s.items.ItemCount()
}

// TTL returns the lifetime of new entries.
func (s *Store[T]) TTL() time.Duration {
	return s.ttl
}
