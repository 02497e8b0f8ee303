package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/smallbiznis/farerouter/internal/clock"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore is a process-local Store. Expired entries are dropped lazily on
// read and swept on write.
type MemoryStore struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]entry
	writes  int
}

const sweepEvery = 256

func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.System()
	}
	return &MemoryStore{clock: c, entries: make(map[string]entry)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && !s.clock.Now().Before(e.expiresAt) {
		s.mu.Lock()
		if current, ok := s.entries[key]; ok && current.expiresAt.Equal(e.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, ErrMiss
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("cache key is empty")
	}

	now := s.clock.Now()
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweepLocked(now)
	}
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, e := range s.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}
}
