package dedup

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/acquiring/internal/clock"
)

// sweepEvery is the number of inserts between full scans for expired marks.
const sweepEvery = 1024

// MemoryStore is a process-local Store. Expired marks are dropped on lookup
// and by a periodic sweep from Mark.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	clock   clock.Clock
	inserts int
}

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.New()
	}
	return &MemoryStore{
		entries: make(map[string]time.Time),
		clock:   c,
	}
}

func (s *MemoryStore) Seen(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(key, s.clock.Now()), nil
}

func (s *MemoryStore) Mark(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if err := validate(key, ttl); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if s.liveLocked(key, now) {
		return false, nil
	}
	s.inserts++
	if s.inserts >= sweepEvery {
		s.sweepLocked(now)
	}
	s.entries[key] = now.Add(ttl)
	return true, nil
}

// Sweep drops every expired mark and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.clock.Now())
}

// Len returns the number of stored marks, live or not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	s.inserts = 0
	removed := 0
	for key, expiresAt := range s.entries {
		if !now.Before(expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) liveLocked(key string, now time.Time) bool {
	expiresAt, ok := s.entries[key]
	if !ok {
		return false
	}
	if !now.Before(expiresAt) {
		delete(s.entries, key)
		return false
	}
	return true
}
