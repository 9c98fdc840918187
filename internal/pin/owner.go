package pin

import (
	"context"

	"profile-gate/internal/audit"
	"profile-gate/internal/clock"
)

// OwnerStore is the write side of protected pages, always scoped to the
// owning profile.
type OwnerStore interface {
	ListPages(ctx context.Context, profileID string) ([]ProtectedPage, error)
	CreatePage(ctx context.Context, profileID string, input PageInput) (ProtectedPage, error)
	RotateSecret(ctx context.Context, profileID, pageID, digest string) (ProtectedPage, error)
	UpdatePage(ctx context.Context, profileID, pageID string, patch PagePatch) (ProtectedPage, error)
}

// Pages manages a profile owner's protected pages.
type Pages struct {
	store    OwnerStore
	hashCost int
	events   audit.Sink
	clock    clock.Clock
}

func NewPages(store OwnerStore, hashCost int, events audit.Sink, clk clock.Clock) *Pages {
	if events == nil {
		events = audit.NoOpSink{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Pages{store: store, hashCost: hashCost, events: events, clock: clk}
}

func (p *Pages) List(ctx context.Context, profileID string) ([]ProtectedPage, error) {
	return p.store.ListPages(ctx, profileID)
}

func (p *Pages) Create(ctx context.Context, profileID, title, pin string, mode VisibilityMode, allowRemember bool) (ProtectedPage, error) {
	digest, err := HashPIN(pin, p.hashCost)
	if err != nil {
		return ProtectedPage{}, err
	}

	return p.store.CreatePage(ctx, profileID, PageInput{
		Title:          title,
		SecretDigest:   digest,
		VisibilityMode: mode,
		AllowRemember:  allowRemember,
	})
}

// RotatePIN replaces the page's digest and bumps its secret version, which
// revokes every trust token issued for the page.
func (p *Pages) RotatePIN(ctx context.Context, profileID, pageID, pin string) (ProtectedPage, error) {
	digest, err := HashPIN(pin, p.hashCost)
	if err != nil {
		return ProtectedPage{}, err
	}

	page, err := p.store.RotateSecret(ctx, profileID, pageID, digest)
	if err != nil {
		return ProtectedPage{}, err
	}

	p.events.Emit(ctx, audit.Event{
		Type:      audit.EventSecretRotated,
		ProfileID: profileID,
		PageID:    pageID,
		At:        p.clock.Now(),
	})
	return page, nil
}

func (p *Pages) Update(ctx context.Context, profileID, pageID string, patch PagePatch) (ProtectedPage, error) {
	return p.store.UpdatePage(ctx, profileID, pageID, patch)
}
