package pin

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"profile-gate/internal/clock"
)

// MemoryStore keeps pages and the attempt ledger in process memory. It backs
// STORE_DRIVER=memory and the tests; it is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	clock    clock.Clock
	pages    map[string]ProtectedPage
	attempts []AttemptRecord
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.System()
	}
	return &MemoryStore{clock: clk, pages: make(map[string]ProtectedPage)}
}

func (s *MemoryStore) ActivePages(_ context.Context, profileID, targetPageID string) ([]ProtectedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages := make([]ProtectedPage, 0)
	for _, p := range s.pages {
		if p.ProfileID != profileID || !p.IsActive {
			continue
		}
		if targetPageID != "" && p.ID != targetPageID {
			continue
		}
		pages = append(pages, p)
	}
	sortPages(pages)
	return pages, nil
}

func (s *MemoryStore) ListPages(_ context.Context, profileID string) ([]ProtectedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pages := make([]ProtectedPage, 0)
	for _, p := range s.pages {
		if p.ProfileID == profileID {
			pages = append(pages, p)
		}
	}
	sortPages(pages)
	return pages, nil
}

func sortPages(pages []ProtectedPage) {
	sort.SliceStable(pages, func(i, j int) bool {
		if pages[i].CreatedAt.Equal(pages[j].CreatedAt) {
			return pages[i].ID < pages[j].ID
		}
		return pages[i].CreatedAt.Before(pages[j].CreatedAt)
	})
}

func (s *MemoryStore) Page(_ context.Context, pageID string) (ProtectedPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pages[pageID]
	if !ok {
		return ProtectedPage{}, ErrPageNotFound
	}
	return p, nil
}

func (s *MemoryStore) CreatePage(_ context.Context, profileID string, input PageInput) (ProtectedPage, error) {
	id, err := newPageID()
	if err != nil {
		return ProtectedPage{}, err
	}

	now := s.clock.Now()
	p := ProtectedPage{
		ID:             id,
		ProfileID:      profileID,
		Title:          input.Title,
		SecretDigest:   input.SecretDigest,
		SecretVersion:  1,
		VisibilityMode: input.VisibilityMode,
		AllowRemember:  input.AllowRemember,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.mu.Lock()
	s.pages[p.ID] = p
	s.mu.Unlock()
	return p, nil
}

// PutPage stores p as-is, for seeding fixtures.
func (s *MemoryStore) PutPage(p ProtectedPage) {
	s.mu.Lock()
	s.pages[p.ID] = p
	s.mu.Unlock()
}

func (s *MemoryStore) RotateSecret(_ context.Context, profileID, pageID, digest string) (ProtectedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[pageID]
	if !ok || p.ProfileID != profileID {
		return ProtectedPage{}, ErrPageNotFound
	}
	p.SecretDigest = digest
	p.SecretVersion++
	p.UpdatedAt = s.clock.Now()
	s.pages[pageID] = p
	return p, nil
}

func (s *MemoryStore) UpdatePage(_ context.Context, profileID, pageID string, patch PagePatch) (ProtectedPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pages[pageID]
	if !ok || p.ProfileID != profileID {
		return ProtectedPage{}, ErrPageNotFound
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.VisibilityMode != nil {
		p.VisibilityMode = *patch.VisibilityMode
	}
	if patch.AllowRemember != nil {
		p.AllowRemember = *patch.AllowRemember
	}
	if patch.IsActive != nil {
		p.IsActive = *patch.IsActive
	}
	p.UpdatedAt = s.clock.Now()
	s.pages[pageID] = p
	return p, nil
}

func (s *MemoryStore) RecordAttempt(_ context.Context, rec AttemptRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}

	s.mu.Lock()
	s.attempts = append(s.attempts, rec)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) FailureCountInWindow(_ context.Context, profileID, originHash string, since time.Time) (FailureWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var window FailureWindow
	for _, a := range s.attempts {
		if a.ProfileID != profileID || a.OriginHash != originHash || a.Success || !a.AttemptedAt.After(since) {
			continue
		}
		window.Count++
		if window.Oldest.IsZero() || a.AttemptedAt.Before(window.Oldest) {
			window.Oldest = a.AttemptedAt
		}
	}
	return window, nil
}

func (s *MemoryStore) DeleteAttemptsBefore(_ context.Context, cutoff time.Time, batchSize int) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.attempts[:0]
	var deleted int64
	for _, a := range s.attempts {
		if a.AttemptedAt.Before(cutoff) && (batchSize <= 0 || deleted < int64(batchSize)) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	s.attempts = kept
	return CleanupResult{DeletedAttempts: deleted}, nil
}

// Attempts returns a copy of the ledger.
func (s *MemoryStore) Attempts() []AttemptRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AttemptRecord, len(s.attempts))
	copy(out, s.attempts)
	return out
}
