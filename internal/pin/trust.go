package pin

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"profile-gate/internal/versionsig"
)

const cookiePrefix = "pin_"

// TrustCodec mints and checks "remember this device" tokens. A token is bound
// to the page's secret version, so rotating the PIN revokes it.
type TrustCodec struct {
	signer *versionsig.Signer
}

func NewTrustCodec(signer *versionsig.Signer) *TrustCodec {
	return &TrustCodec{signer: signer}
}

func (c *TrustCodec) Issue(pageID string, secretVersion int64) string {
	return c.signer.Sign(pageID, secretVersion)
}

func (c *TrustCodec) Validate(token, pageID string, currentSecretVersion int64, maxAge time.Duration) bool {
	if token == "" {
		return false
	}
	return c.signer.Verify(token, pageID, currentSecretVersion, maxAge)
}

// CookieName is the cookie that carries the trust token for a page. Page ids
// come from newPageID, so the prefix is random.
func CookieName(pageID string) string {
	if len(pageID) > 8 {
		pageID = pageID[:8]
	}
	return cookiePrefix + pageID
}

// newPageID returns a random (v4) page id. Time-ordered ids share their first
// 8 characters for about a minute, which would collide cookie names.
func newPageID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate page id: %w", err)
	}
	return id.String(), nil
}
