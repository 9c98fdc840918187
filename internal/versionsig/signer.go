// Package versionsig signs "subject at version" claims. A token stays valid only
// while the verifier's current version for the subject equals the version it
// was signed with, so bumping the version revokes every outstanding token
// without keeping any revocation state.
package versionsig

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"profile-gate/internal/clock"
)

const (
	MinKeyLength = 32
	maxClockSkew = time.Minute
)

var ErrWeakKey = errors.New("signing key must be at least 32 bytes")

type Signer struct {
	key   []byte
	clock clock.Clock
}

func New(key []byte, clk clock.Clock) (*Signer, error) {
	if len(key) < MinKeyLength {
		return nil, ErrWeakKey
	}
	if clk == nil {
		clk = clock.System()
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k, clock: clk}, nil
}

// Sign returns "<issuedAtUnix>.<hexHMAC>". The version is bound into the MAC
// but not written into the token.
func (s *Signer) Sign(subjectID string, version int64) string {
	issuedAt := s.clock.Now().Unix()
	return strconv.FormatInt(issuedAt, 10) + "." + hex.EncodeToString(s.mac(subjectID, issuedAt, version))
}

// Verify recomputes the MAC with currentVersion and checks the token age.
func (s *Signer) Verify(token, subjectID string, currentVersion int64, maxAge time.Duration) bool {
	issuedAtRaw, sigHex, ok := strings.Cut(token, ".")
	if !ok || issuedAtRaw == "" || sigHex == "" {
		return false
	}

	issuedAt, err := strconv.ParseInt(issuedAtRaw, 10, 64)
	if err != nil || issuedAt <= 0 {
		return false
	}

	now := s.clock.Now()
	issued := time.Unix(issuedAt, 0)
	if now.Sub(issued) > maxAge {
		return false
	}
	if issued.Sub(now) > maxClockSkew {
		return false
	}

	presented, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}

	return hmac.Equal(presented, s.mac(subjectID, issuedAt, currentVersion))
}

func (s *Signer) mac(subjectID string, issuedAt, version int64) []byte {
	h := hmac.New(sha256.New, s.key)
	_, _ = h.Write([]byte(subjectID))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatInt(issuedAt, 10)))
	_, _ = h.Write([]byte{':'})
	_, _ = h.Write([]byte(strconv.FormatInt(version, 10)))
	return h.Sum(nil)
}
