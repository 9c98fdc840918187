// Package ticket issues single-use, time-boxed bearer tickets. Only a SHA-256
// of the raw value is stored; redemption is one atomic delete, so a ticket can
// succeed at most once however many requests race for it.
package ticket

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"profile-gate/internal/clock"
)

const (
	rawTokenBytes        = 32
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 500
)

var ErrInvalidTTL = errors.New("ticket ttl must be positive")

type Ticket struct {
	ID        string
	SubjectID string
	Purpose   string
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
}

type Store interface {
	Insert(ctx context.Context, t Ticket) error
	// DeleteUnexpired removes the matching ticket if it has not expired and
	// reports whether a row was removed.
	DeleteUnexpired(ctx context.Context, subjectID, purpose, tokenHash string, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type Issuer struct {
	store   Store
	purpose string
	clock   clock.Clock

	sweepInterval time.Duration
	sweepMu       sync.Mutex
	lastSweep     time.Time
	onSweepError  func(error)
}

func NewIssuer(store Store, purpose string, clk clock.Clock) *Issuer {
	if clk == nil {
		clk = clock.System()
	}
	return &Issuer{
		store:         store,
		purpose:       purpose,
		clock:         clk,
		sweepInterval: defaultSweepInterval,
	}
}

// WithSweep tunes the opportunistic expired-ticket sweep. A zero interval
// disables it.
func (i *Issuer) WithSweep(interval time.Duration, onError func(error)) *Issuer {
	i.sweepInterval = interval
	i.onSweepError = onError
	return i
}

func (i *Issuer) Purpose() string { return i.purpose }

// Issue persists a new ticket and returns its raw value. The raw value cannot
// be recovered later.
func (i *Issuer) Issue(ctx context.Context, subjectID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}

	raw, err := randomToken(rawTokenBytes)
	if err != nil {
		return "", fmt.Errorf("generate ticket: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate ticket id: %w", err)
	}

	now := i.clock.Now()
	if err := i.store.Insert(ctx, Ticket{
		ID:        id.String(),
		SubjectID: subjectID,
		Purpose:   i.purpose,
		TokenHash: HashToken(raw),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}); err != nil {
		return "", err
	}

	i.maybeSweep(now)

	return raw, nil
}

// Redeem consumes the ticket. Missing, expired, foreign and already redeemed
// tickets all return false.
func (i *Issuer) Redeem(ctx context.Context, subjectID, raw string) (bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || subjectID == "" {
		return false, nil
	}

	return i.store.DeleteUnexpired(ctx, subjectID, i.purpose, HashToken(raw), i.clock.Now())
}

func (i *Issuer) maybeSweep(now time.Time) {
	if i.sweepInterval <= 0 {
		return
	}

	i.sweepMu.Lock()
	if now.Sub(i.lastSweep) < i.sweepInterval {
		i.sweepMu.Unlock()
		return
	}
	i.lastSweep = now
	i.sweepMu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := i.store.DeleteExpired(ctx, now, defaultSweepBatch); err != nil && i.onSweepError != nil {
			i.onSweepError(err)
		}
	}()
}

func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func randomToken(size int) (string, error) {
	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
