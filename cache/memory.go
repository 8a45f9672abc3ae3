package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jonwraymond/inferops/clock"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	clock   clock.Clock
}

// NewMemoryStore creates an empty in-memory store. A nil clock uses
// the wall clock.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		clock:   clock.OrReal(c),
	}
}

// Get returns a copy of the live entry for key. Expired entries are
// removed lazily and reported as ErrMiss.
func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	now := s.clock.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if entry.Expired(now) {
		delete(s.entries, key)
		return nil, ErrMiss
	}

	entry.AccessCount++
	entry.LastAccessedAt = now

	cp := *entry
	return &cp, nil
}

// Upsert replaces the entry for key.
func (s *MemoryStore) Upsert(_ context.Context, key string, value json.RawMessage, cacheContext string, ttl time.Duration) error {
	if err := validateUpsert(key, ttl); err != nil {
		return err
	}
	now := s.clock.Now()

	// Own the bytes so callers can reuse their buffer.
	v := make(json.RawMessage, len(value))
	copy(v, value)

	entry := &Entry{
		Key:       key,
		Value:     v,
		Context:   cacheContext,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()

	return nil
}

// SweepExpired deletes entries that expired before now.
func (s *MemoryStore) SweepExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, entry := range s.entries {
		if entry.ExpiresAt.Before(now) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Stats counts entries as of now.
func (s *MemoryStore) Stats(_ context.Context, now time.Time) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	for _, entry := range s.entries {
		st.TotalEntries++
		if entry.Expired(now) {
			st.ExpiredEntries++
		} else {
			st.ActiveEntries++
		}
	}
	return st, nil
}

// Len returns the number of physically stored entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

var _ Store = (*MemoryStore)(nil)
