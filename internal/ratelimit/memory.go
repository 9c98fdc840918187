package ratelimit

import (
	"context"
	"sync"
	"time"

	"profile-gate/internal/clock"
)

const (
	defaultMaxKeys    = 5000
	defaultSweepEvery = 1000
)

type memoryEntry struct {
	hits   []time.Time
	window time.Duration
}

// MemoryStore keeps hit timestamps per key in process memory. Stale keys are
// dropped on access once the map grows past maxKeys or every sweepEvery calls.
type MemoryStore struct {
	mu         sync.Mutex
	clock      clock.Clock
	entries    map[string]*memoryEntry
	maxKeys    int
	sweepEvery int
	calls      int
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryStore{
		clock:      clk,
		entries:    make(map[string]*memoryEntry),
		maxKeys:    defaultMaxKeys,
		sweepEvery: defaultSweepEvery,
	}
}

func (s *MemoryStore) WithLimits(maxKeys, sweepEvery int) *MemoryStore {
	if maxKeys > 0 {
		s.maxKeys = maxKeys
	}
	if sweepEvery > 0 {
		s.sweepEvery = sweepEvery
	}
	return s
}

func (s *MemoryStore) Allow(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	if limit <= 0 {
		return Result{Allowed: false, RetryAfter: minRetry(window)}, nil
	}

	now := s.clock.Now()
	threshold := now.Add(-window)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryEntry{}
		s.entries[key] = entry
	}
	if window > entry.window {
		entry.window = window
	}

	filtered := entry.hits[:0]
	for _, hit := range entry.hits {
		if hit.After(threshold) {
			filtered = append(filtered, hit)
		}
	}
	entry.hits = filtered

	var result Result
	if len(filtered) >= limit {
		result = Result{
			Allowed:    false,
			Remaining:  0,
			RetryAfter: minRetry(filtered[0].Add(window).Sub(now)),
		}
	} else {
		entry.hits = append(entry.hits, now)
		result = Result{Allowed: true, Remaining: limit - len(entry.hits)}
	}

	s.calls++
	if len(s.entries) > s.maxKeys || s.calls >= s.sweepEvery {
		s.sweepLocked(now)
	}

	return result, nil
}

func (s *MemoryStore) Sweep(_ context.Context) error {
	now := s.clock.Now()
	s.mu.Lock()
	s.sweepLocked(now)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	s.calls = 0
	for key, entry := range s.entries {
		if len(entry.hits) == 0 || !entry.hits[len(entry.hits)-1].After(now.Add(-entry.window)) {
			delete(s.entries, key)
		}
	}
}

// Len reports the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
