package pin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"profile-gate/internal/audit"
	"profile-gate/internal/clock"
	"profile-gate/internal/observability"
	"profile-gate/internal/ticket"
	"profile-gate/internal/versionsig"
)

const (
	testProfile = "profile-1"
	testOrigin  = "origin-hash-a"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Emit(_ context.Context, e audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// countingPages records how often the page store is consulted.
type countingPages struct {
	PageStore
	mu    sync.Mutex
	calls int
}

func (c *countingPages) ActivePages(ctx context.Context, profileID, targetPageID string) ([]ProtectedPage, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.PageStore.ActivePages(ctx, profileID, targetPageID)
}

type fixture struct {
	clock   *clock.Manual
	store   *MemoryStore
	pagesRO *countingPages
	tickets *ticket.Issuer
	events  *recordingSink
	service *Service
	owner   *Pages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	clk := clock.NewManual(testStart)
	store := NewMemoryStore(clk)
	signer, err := versionsig.New([]byte(strings.Repeat("k", versionsig.MinKeyLength)), clk)
	require.NoError(t, err)

	f := &fixture{
		clock:   clk,
		store:   store,
		pagesRO: &countingPages{PageStore: store},
		tickets: ticket.NewIssuer(ticket.NewMemoryStore(), "contact_download", clk).WithSweep(0, nil),
		events:  &recordingSink{},
	}
	f.service = NewService(f.pagesRO, store, NewTrustCodec(signer), f.tickets, f.events, observability.Discard(), clk)
	f.owner = NewPages(store, bcrypt.MinCost, f.events, clk)
	return f
}

func (f *fixture) createPage(t *testing.T, pin string, mode VisibilityMode, allowRemember bool) ProtectedPage {
	t.Helper()
	page, err := f.owner.Create(context.Background(), testProfile, "Page "+pin, pin, mode, allowRemember)
	require.NoError(t, err)
	return page
}

func (f *fixture) unlock(pin string) (UnlockResult, error) {
	return f.service.Unlock(context.Background(), UnlockRequest{
		ProfileID:  testProfile,
		PIN:        pin,
		OriginHash: testOrigin,
	})
}

func (f *fixture) failTimes(t *testing.T, n int, step time.Duration) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := f.unlock("0000")
		var incorrect ErrIncorrectPIN
		require.ErrorAs(t, err, &incorrect)
		f.clock.Advance(step)
	}
}

func TestUnlockHiddenPageIssuesDownloadToken(t *testing.T) {
	f := newFixture(t)
	page := f.createPage(t, "1234", VisibilityHidden, false)

	result, err := f.unlock("1234")
	require.NoError(t, err)
	assert.Equal(t, page.ID, result.PageID)
	assert.Len(t, result.DownloadToken, 64)

	ok, err := f.tickets.Redeem(context.Background(), testProfile, result.DownloadToken)
	require.NoError(t, err)
	assert.True(t, ok)

	attempts := f.store.Attempts()
	require.Len(t, attempts, 1)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, testOrigin, attempts[0].OriginHash)
	assert.Equal(t, testStart, attempts[0].AttemptedAt)
	assert.Equal(t, []string{audit.EventUnlocked}, f.events.types())
}

func TestUnlockVisiblePageHasNoDownloadToken(t *testing.T) {
	f := newFixture(t)
	f.createPage(t, "1234", VisibilityVisible, false)

	result, err := f.unlock("1234")
	require.NoError(t, err)
	assert.Empty(t, result.DownloadToken)
}

func TestUnlockWrongPINCountsDown(t *testing.T) {
	f := newFixture(t)
	f.createPage(t, "1234", VisibilityVisible, false)

	for want := 4; want >= 0; want-- {
		_, err := f.unlock("9999")
		var incorrect ErrIncorrectPIN
		require.ErrorAs(t, err, &incorrect)
		assert.Equal(t, want, incorrect.RemainingAttempts)
	}

	attempts := f.store.Attempts()
	require.Len(t, attempts, 5)
	for _, a := range attempts {
		assert.False(t, a.Success)
	}
}

func TestLockoutSkipsComparisonEvenForCorrectPIN(t *testing.T) {
	f := newFixture(t)
	f.createPage(t, "1234", VisibilityVisible, false)
	f.failTimes(t, 5, time.Minute)

	consulted := f.pagesRO.calls
	_, err := f.unlock("1234")

	var locked ErrLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, 10*time.Minute, locked.RetryAfter)
	assert.Equal(t, consulted, f.pagesRO.calls, "locked attempts must not reach the verifier")
	assert.Len(t, f.store.Attempts(), 5, "locked attempts are not recorded")
	assert.Contains(t, f.events.types(), audit.EventLocked)
}

func TestLockoutAgesOut(t *testing.T) {
	f := newFixture(t)
	page := f.createPage(t, "1234", VisibilityVisible, false)
	f.failTimes(t, 5, 0)

	f.clock.Advance(15*time.Minute - time.Second)
	_, err := f.unlock("1234")
	var locked ErrLocked
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, time.Second, locked.RetryAfter)

	f.clock.Advance(time.Second)
	result, err := f.unlock("1234")
	require.NoError(t, err)
	assert.Equal(t, page.ID, result.PageID)
}

func TestSuccessDoesNotClearFailures(t *testing.T) {
	f := newFixture(t)
	f.createPage(t, "1234", VisibilityVisible, false)
	f.failTimes(t, 4, 0)

	_, err := f.unlock("1234")
	require.NoError(t, err)

	_, err = f.unlock("0000")
	var incorrect ErrIncorrectPIN
	require.ErrorAs(t, err, &incorrect)
	assert.Zero(t, incorrect.RemainingAttempts)

	_, err = f.unlock("1234")
	var locked ErrLocked
	assert.ErrorAs(t, err, &locked)
}

func TestLockoutIsPerOrigin(t *testing.T) {
	f := newFixture(t)
	f.createPage(t, "1234", VisibilityVisible, false)
	f.failTimes(t, 5, 0)

	_, err := f.service.Unlock(context.Background(), UnlockRequest{
		ProfileID:  testProfile,
		PIN:        "1234",
		OriginHash: "origin-hash-b",
	})
	assert.NoError(t, err)
}

type failingLedger struct {
	countErr  error
	recordErr error
	inner     AttemptLedger
}

func (l failingLedger) RecordAttempt(ctx context.Context, rec AttemptRecord) error {
	if l.recordErr != nil {
		return l.recordErr
	}
	return l.inner.RecordAttempt(ctx, rec)
}

func (l failingLedger) FailureCountInWindow(ctx context.Context, profileID, originHash string, since time.Time) (FailureWindow, error) {
	if l.countErr != nil {
		return FailureWindow{}, l.countErr
	}
	return l.inner.FailureCountInWindow(ctx, profileID, originHash, since)
}

func TestLockoutStorageFailureFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.createPage(t, "1234", VisibilityVisible, false)
	f.service.ledger = failingLedger{countErr: errors.New("connection refused"), inner: f.store}

	_, err := f.unlock("1234")
	assert.ErrorIs(t, err, ErrLockoutUnavailable)
	assert.Zero(t, f.pagesRO.calls)
}

func TestAttemptRecordFailureDoesNotChangeOutcome(t *testing.T) {
	f := newFixture(t)
	page := f.createPage(t, "1234", VisibilityVisible, false)
	f.service.ledger = failingLedger{recordErr: errors.New("disk full"), inner: f.store}

	result, err := f.unlock("1234")
	require.NoError(t, err)
	assert.Equal(t, page.ID, result.PageID)

	_, err = f.unlock("0000")
	var incorrect ErrIncorrectPIN
	assert.ErrorAs(t, err, &incorrect)
}

type failingIssuer struct{}

func (failingIssuer) Issue(context.Context, string, time.Duration) (string, error) {
	return "", errors.New("insert failed")
}

func TestCapabilityFailureKeepsUnlock(t *testing.T) {
	f := newFixture(t)
	page := f.createPage(t, "1234", VisibilityHidden, false)
	f.service.capabilities = failingIssuer{}

	result, err := f.unlock("1234")
	require.NoError(t, err)
	assert.Equal(t, page.ID, result.PageID)
	assert.Empty(t, result.DownloadToken)
}

func TestVerifierMatchesAcrossPages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.createPage(t, "1111", VisibilityVisible, false)
	f.clock.Advance(time.Second)
	second := f.createPage(t, "2222", VisibilityHidden, false)
	f.clock.Advance(time.Second)
	inactive := f.createPage(t, "3333", VisibilityVisible, false)
	off := false
	_, err := f.owner.Update(ctx, testProfile, inactive.ID, PagePatch{IsActive: &off})
	require.NoError(t, err)

	v := NewVerifier(f.store)

	match, ok, err := v.Verify(ctx, testProfile, "2222", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, MatchResult{PageID: second.ID, VisibilityMode: VisibilityHidden, SecretVersion: 1}, match)

	_, ok, err = v.Verify(ctx, testProfile, "2222", first.ID)
	require.NoError(t, err)
	assert.False(t, ok, "target page narrows the candidates")

	_, ok, err = v.Verify(ctx, testProfile, "3333", "")
	require.NoError(t, err)
	assert.False(t, ok, "inactive pages never match")

	_, ok, err = v.Verify(ctx, "profile-without-pages", "1111", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRememberAndCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.createPage(t, "1234", VisibilityHidden, true)
	f.createPage(t, "5678", VisibilityVisible, true)

	grant, err := f.service.Remember(ctx, testProfile, page.ID)
	require.NoError(t, err)
	assert.Equal(t, "pin_"+page.ID[:8], grant.CookieName)
	assert.Equal(t, 30*24*time.Hour, grant.MaxAge)

	jar := map[string]string{grant.CookieName: grant.Token}
	lookup := func(name string) (string, bool) {
		v, ok := jar[name]
		return v, ok
	}

	remembered, err := f.service.CheckRemembered(ctx, testProfile, lookup)
	require.NoError(t, err)
	assert.Equal(t, []RememberedPage{{PageID: page.ID, VisibilityMode: VisibilityHidden}}, remembered)

	f.clock.Advance(29 * 24 * time.Hour)
	remembered, err = f.service.CheckRemembered(ctx, testProfile, lookup)
	require.NoError(t, err)
	assert.Len(t, remembered, 1)

	f.clock.Advance(2 * 24 * time.Hour)
	remembered, err = f.service.CheckRemembered(ctx, testProfile, lookup)
	require.NoError(t, err)
	assert.Empty(t, remembered, "tokens expire after the max age")
}

func TestRotationRevokesTrustTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	page := f.createPage(t, "1234", VisibilityVisible, true)

	grant, err := f.service.Remember(ctx, testProfile, page.ID)
	require.NoError(t, err)
	lookup := func(name string) (string, bool) { return grant.Token, name == grant.CookieName }

	rotated, err := f.owner.RotatePIN(ctx, testProfile, page.ID, "4321")
	require.NoError(t, err)
	assert.EqualValues(t, 2, rotated.SecretVersion)

	remembered, err := f.service.CheckRemembered(ctx, testProfile, lookup)
	require.NoError(t, err)
	assert.Empty(t, remembered)
	assert.Contains(t, f.events.types(), audit.EventSecretRotated)

	_, err = f.unlock("1234")
	var incorrect ErrIncorrectPIN
	assert.ErrorAs(t, err, &incorrect, "old pin no longer unlocks")
}

func TestRememberRejects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	noRemember := f.createPage(t, "1234", VisibilityVisible, false)
	inactive := f.createPage(t, "5678", VisibilityVisible, true)
	off := false
	_, err := f.owner.Update(ctx, testProfile, inactive.ID, PagePatch{IsActive: &off})
	require.NoError(t, err)

	_, err = f.service.Remember(ctx, testProfile, noRemember.ID)
	assert.ErrorIs(t, err, ErrRememberNotAllowed)

	_, err = f.service.Remember(ctx, testProfile, inactive.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)

	_, err = f.service.Remember(ctx, "someone-else", noRemember.ID)
	assert.ErrorIs(t, err, ErrPageNotFound)

	_, err = f.service.Remember(ctx, testProfile, "missing")
	assert.ErrorIs(t, err, ErrPageNotFound)
}

func TestCookieName(t *testing.T) {
	assert.Equal(t, "pin_0192f1a4", CookieName("0192f1a4-7c1e-7000-8000-000000000000"))
	assert.Equal(t, "pin_abc", CookieName("abc"))
}

func TestPagesCreatedAtOnceGetDistinctCookieNames(t *testing.T) {
	f := newFixture(t)

	seen := make(map[string]string)
	for i := 0; i < 20; i++ {
		page := f.createPage(t, fmt.Sprintf("pin%d", i), VisibilityVisible, true)
		name := CookieName(page.ID)
		require.NotContains(t, seen, name, "pages %s and %s share a cookie", seen[name], page.ID)
		seen[name] = page.ID
	}

	for name, pageID := range seen {
		grant, err := f.service.Remember(context.Background(), testProfile, pageID)
		require.NoError(t, err)
		assert.Equal(t, name, grant.CookieName)
	}
}
