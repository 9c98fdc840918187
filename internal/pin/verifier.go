package pin

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PageStore is the read side of protected pages used on the public path.
type PageStore interface {
	// ActivePages returns the active pages of a profile, narrowed to
	// targetPageID when it is not empty.
	ActivePages(ctx context.Context, profileID, targetPageID string) ([]ProtectedPage, error)
	Page(ctx context.Context, pageID string) (ProtectedPage, error)
}

type Verifier struct {
	pages PageStore
}

func NewVerifier(pages PageStore) *Verifier {
	return &Verifier{pages: pages}
}

// Verify compares pin against each active page of the profile in order and
// returns the first match. A profile without active pages never matches.
func (v *Verifier) Verify(ctx context.Context, profileID, pin, targetPageID string) (MatchResult, bool, error) {
	pages, err := v.pages.ActivePages(ctx, profileID, targetPageID)
	if err != nil {
		return MatchResult{}, false, fmt.Errorf("load active pages: %w", err)
	}

	for _, page := range pages {
		if bcrypt.CompareHashAndPassword([]byte(page.SecretDigest), []byte(pin)) == nil {
			return MatchResult{
				PageID:         page.ID,
				VisibilityMode: page.VisibilityMode,
				SecretVersion:  page.SecretVersion,
			}, true, nil
		}
	}

	return MatchResult{}, false, nil
}

func HashPIN(pin string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(pin), cost)
	if err != nil {
		return "", fmt.Errorf("hash pin: %w", err)
	}
	return string(digest), nil
}
