package auth

import "errors"

const ownerTokenType = "owner"

type OwnerToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

var (
	ErrWeakSecret       = errors.New("owner jwt secret must be at least 32 bytes")
	ErrMissingProfileID = errors.New("profile id is required")
)
