package ticket

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for single-instance runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	tickets map[string]Ticket
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tickets: make(map[string]Ticket)}
}

func (s *MemoryStore) Insert(_ context.Context, t Ticket) error {
	s.mu.Lock()
	s.tickets[t.ID] = t
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) DeleteUnexpired(_ context.Context, subjectID, purpose, tokenHash string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.tickets {
		if t.SubjectID == subjectID && t.Purpose == purpose && t.TokenHash == tokenHash && t.ExpiresAt.After(now) {
			delete(s.tickets, id)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expired := make([]Ticket, 0)
	for _, t := range s.tickets {
		if !t.ExpiresAt.After(now) {
			expired = append(expired, t)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ExpiresAt.Before(expired[j].ExpiresAt) })
	if batchSize > 0 && len(expired) > batchSize {
		expired = expired[:batchSize]
	}

	for _, t := range expired {
		delete(s.tickets, t.ID)
	}
	return int64(len(expired)), nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}
