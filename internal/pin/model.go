package pin

import (
	"errors"
	"time"
)

type VisibilityMode string

const (
	VisibilityHidden  VisibilityMode = "hidden"
	VisibilityVisible VisibilityMode = "visible"
)

func (m VisibilityMode) Valid() bool {
	return m == VisibilityHidden || m == VisibilityVisible
}

// ProtectedPage is a PIN-gated section of a profile. SecretVersion only ever
// grows; every PIN change bumps it.
type ProtectedPage struct {
	ID             string         `json:"id"`
	ProfileID      string         `json:"profileId"`
	Title          string         `json:"title"`
	SecretDigest   string         `json:"-"`
	SecretVersion  int64          `json:"secretVersion"`
	VisibilityMode VisibilityMode `json:"visibilityMode"`
	AllowRemember  bool           `json:"allowRemember"`
	IsActive       bool           `json:"isActive"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// AttemptRecord is one PIN verification outcome. Rows are never updated.
type AttemptRecord struct {
	ID          string
	ProfileID   string
	OriginHash  string
	Success     bool
	AttemptedAt time.Time
}

// FailureWindow summarises failed attempts inside a lockout window. Oldest is
// zero when Count is zero.
type FailureWindow struct {
	Count  int
	Oldest time.Time
}

type MatchResult struct {
	PageID         string
	VisibilityMode VisibilityMode
	SecretVersion  int64
}

type PageInput struct {
	Title          string
	SecretDigest   string
	VisibilityMode VisibilityMode
	AllowRemember  bool
}

// PagePatch carries optional owner edits; nil fields are left untouched.
type PagePatch struct {
	Title          *string
	VisibilityMode *VisibilityMode
	AllowRemember  *bool
	IsActive       *bool
}

type RememberedPage struct {
	PageID         string         `json:"pageId"`
	VisibilityMode VisibilityMode `json:"visibilityMode"`
}

var (
	ErrPageNotFound       = errors.New("protected page not found")
	ErrRememberNotAllowed = errors.New("remember is not allowed for this page")
	ErrLockoutUnavailable = errors.New("lockout state unavailable")
)

// ErrLocked is returned while an origin is over its failure budget.
type ErrLocked struct {
	RetryAfter time.Duration
}

func (e ErrLocked) Error() string {
	return "pin entry temporarily locked"
}
