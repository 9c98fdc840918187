package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"profile-gate/internal/clock"
)

const (
	minSecretLength = 32
	defaultOwnerTTL = time.Hour
)

// TokenIssuer mints owner tokens. Profile owners normally receive these from
// the account service; the issuer exists for operators and tests.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	clock  clock.Clock
}

func NewTokenIssuer(secret string, ttl time.Duration, clk clock.Clock) (*TokenIssuer, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	if ttl <= 0 {
		ttl = defaultOwnerTTL
	}
	if clk == nil {
		clk = clock.System()
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, clock: clk}, nil
}

func (i *TokenIssuer) Issue(profileID string) (OwnerToken, error) {
	profileID = strings.TrimSpace(profileID)
	if profileID == "" {
		return OwnerToken{}, ErrMissingProfileID
	}

	now := i.clock.Now()
	claims := jwt.MapClaims{
		"sub": profileID,
		"iat": now.Unix(),
		"exp": now.Add(i.ttl).Unix(),
		"typ": ownerTokenType,
	}
	encoded, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return OwnerToken{}, fmt.Errorf("sign jwt: %w", err)
	}

	return OwnerToken{
		AccessToken: encoded,
		TokenType:   "Bearer",
		ExpiresIn:   int64(i.ttl.Seconds()),
	}, nil
}
