package ticket

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"profile-gate/internal/clock"
)

func newIssuer(t *testing.T) (*Issuer, *MemoryStore, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	return NewIssuer(store, "contact_download", clk).WithSweep(0, nil), store, clk
}

func TestIssueReturnsHighEntropyHex(t *testing.T) {
	issuer, store, _ := newIssuer(t)

	raw, err := issuer.Issue(context.Background(), "profile-1", time.Minute)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{64}$`), raw)

	other, err := issuer.Issue(context.Background(), "profile-1", time.Minute)
	require.NoError(t, err)
	assert.NotEqual(t, raw, other)

	for _, stored := range store.tickets {
		assert.NotEqual(t, raw, stored.TokenHash, "raw value must not be stored")
		assert.Len(t, stored.TokenHash, 64)
		assert.Equal(t, "contact_download", stored.Purpose)
	}
}

func TestRedeemExactlyOnce(t *testing.T) {
	issuer, _, _ := newIssuer(t)
	ctx := context.Background()

	raw, err := issuer.Issue(ctx, "profile-1", time.Minute)
	require.NoError(t, err)

	ok, err := issuer.Redeem(ctx, "profile-1", raw)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = issuer.Redeem(ctx, "profile-1", raw)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedeemConcurrent(t *testing.T) {
	issuer, _, _ := newIssuer(t)
	ctx := context.Background()

	raw, err := issuer.Issue(ctx, "profile-1", time.Minute)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ok, err := issuer.Redeem(ctx, "profile-1", raw)
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
}

func TestRedeemRejects(t *testing.T) {
	issuer, store, clk := newIssuer(t)
	ctx := context.Background()

	raw, err := issuer.Issue(ctx, "profile-1", time.Minute)
	require.NoError(t, err)

	ok, _ := issuer.Redeem(ctx, "profile-2", raw)
	assert.False(t, ok, "bound to subject")
	ok, _ = issuer.Redeem(ctx, "profile-1", "deadbeef")
	assert.False(t, ok, "unknown value")
	ok, _ = issuer.Redeem(ctx, "profile-1", "")
	assert.False(t, ok, "empty value")

	otherPurpose := NewIssuer(store, "invite", clk)
	ok, _ = otherPurpose.Redeem(ctx, "profile-1", raw)
	assert.False(t, ok, "bound to purpose")

	clk.Advance(time.Minute)
	ok, _ = issuer.Redeem(ctx, "profile-1", raw)
	assert.False(t, ok, "expired at exactly ttl")
}

func TestIssueRejectsNonPositiveTTL(t *testing.T) {
	issuer, _, _ := newIssuer(t)
	_, err := issuer.Issue(context.Background(), "profile-1", 0)
	assert.ErrorIs(t, err, ErrInvalidTTL)
}

func TestIssueSweepsExpiredOpportunistically(t *testing.T) {
	clk := clock.NewManual(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	store := NewMemoryStore()
	issuer := NewIssuer(store, "contact_download", clk).WithSweep(time.Minute, nil)
	ctx := context.Background()

	_, err := issuer.Issue(ctx, "profile-1", time.Second)
	require.NoError(t, err)
	_, err = issuer.Issue(ctx, "profile-1", time.Second)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = issuer.Issue(ctx, "profile-1", time.Hour)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return store.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreDeleteExpiredBatch(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Insert(ctx, Ticket{ID: id, ExpiresAt: now.Add(-time.Duration(3-i) * time.Minute)}))
	}
	require.NoError(t, store.Insert(ctx, Ticket{ID: "live", ExpiresAt: now.Add(time.Minute)}))

	n, err := store.DeleteExpired(ctx, now, 2)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 2, store.Len())

	n, err = store.DeleteExpired(ctx, now, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	assert.Equal(t, 1, store.Len())
}
