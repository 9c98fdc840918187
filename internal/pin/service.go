package pin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"profile-gate/internal/audit"
	"profile-gate/internal/clock"
	"profile-gate/internal/observability"
)

const (
	defaultMaxFailures      = 5
	defaultLockoutWindow    = 15 * time.Minute
	defaultRememberMaxAge   = 30 * 24 * time.Hour
	defaultDownloadTokenTTL = 5 * time.Minute
)

// AttemptLedger is the durable, append-only record of PIN attempts. It is the
// authority for lockout decisions.
type AttemptLedger interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord) error
	FailureCountInWindow(ctx context.Context, profileID, originHash string, since time.Time) (FailureWindow, error)
}

// CapabilityIssuer mints a single-use token scoped to a profile.
type CapabilityIssuer interface {
	Issue(ctx context.Context, subjectID string, ttl time.Duration) (string, error)
}

// ErrIncorrectPIN is a denied attempt. RemainingAttempts counts what is left
// of the current window's budget.
type ErrIncorrectPIN struct {
	RemainingAttempts int
}

func (e ErrIncorrectPIN) Error() string {
	return "incorrect pin"
}

type UnlockRequest struct {
	ProfileID    string
	PIN          string
	TargetPageID string
	OriginHash   string
}

type UnlockResult struct {
	PageID         string
	VisibilityMode VisibilityMode
	DownloadToken  string
}

type RememberGrant struct {
	CookieName string
	Token      string
	MaxAge     time.Duration
}

type Service struct {
	pages        PageStore
	ledger       AttemptLedger
	verifier     *Verifier
	trust        *TrustCodec
	capabilities CapabilityIssuer
	events       audit.Sink
	logger       *observability.Logger
	clock        clock.Clock

	maxFailures      int
	lockoutWindow    time.Duration
	rememberMaxAge   time.Duration
	downloadTokenTTL time.Duration
}

func NewService(pages PageStore, ledger AttemptLedger, trust *TrustCodec, capabilities CapabilityIssuer, events audit.Sink, logger *observability.Logger, clk clock.Clock) *Service {
	if events == nil {
		events = audit.NoOpSink{}
	}
	if clk == nil {
		clk = clock.System()
	}
	return &Service{
		pages:            pages,
		ledger:           ledger,
		verifier:         NewVerifier(pages),
		trust:            trust,
		capabilities:     capabilities,
		events:           events,
		logger:           logger,
		clock:            clk,
		maxFailures:      defaultMaxFailures,
		lockoutWindow:    defaultLockoutWindow,
		rememberMaxAge:   defaultRememberMaxAge,
		downloadTokenTTL: defaultDownloadTokenTTL,
	}
}

func (s *Service) WithPolicy(maxFailures int, lockoutWindow, rememberMaxAge, downloadTokenTTL time.Duration) {
	if maxFailures > 0 {
		s.maxFailures = maxFailures
	}
	if lockoutWindow > 0 {
		s.lockoutWindow = lockoutWindow
	}
	if rememberMaxAge > 0 {
		s.rememberMaxAge = rememberMaxAge
	}
	if downloadTokenTTL > 0 {
		s.downloadTokenTTL = downloadTokenTTL
	}
}

func (s *Service) RememberMaxAge() time.Duration { return s.rememberMaxAge }

// Unlock runs the lockout check, the PIN comparison and the success side
// effects. It returns ErrLocked, ErrIncorrectPIN or ErrLockoutUnavailable for
// the non-success outcomes.
func (s *Service) Unlock(ctx context.Context, req UnlockRequest) (UnlockResult, error) {
	now := s.clock.Now()

	failures, err := s.ledger.FailureCountInWindow(ctx, req.ProfileID, req.OriginHash, now.Add(-s.lockoutWindow))
	if err != nil {
		return UnlockResult{}, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	if failures.Count >= s.maxFailures {
		s.emit(ctx, audit.EventLocked, req.ProfileID, "", req.OriginHash, now)
		return UnlockResult{}, ErrLocked{RetryAfter: s.retryAfter(failures, now)}
	}

	match, ok, err := s.verifier.Verify(ctx, req.ProfileID, req.PIN, strings.TrimSpace(req.TargetPageID))
	if err != nil {
		return UnlockResult{}, err
	}

	s.recordAttempt(ctx, req, ok, now)

	if !ok {
		s.emit(ctx, audit.EventDenied, req.ProfileID, "", req.OriginHash, now)
		remaining := s.maxFailures - (failures.Count + 1)
		if remaining < 0 {
			remaining = 0
		}
		return UnlockResult{}, ErrIncorrectPIN{RemainingAttempts: remaining}
	}

	s.emit(ctx, audit.EventUnlocked, req.ProfileID, match.PageID, req.OriginHash, now)

	result := UnlockResult{PageID: match.PageID, VisibilityMode: match.VisibilityMode}
	if match.VisibilityMode == VisibilityHidden && s.capabilities != nil {
		token, err := s.capabilities.Issue(ctx, req.ProfileID, s.downloadTokenTTL)
		if err != nil {
			s.logger.Error("download_token_issue_failed", map[string]any{
				"profile_id": req.ProfileID,
				"page_id":    match.PageID,
				"error":      err.Error(),
			})
			observability.CaptureError(err)
		} else {
			result.DownloadToken = token
		}
	}

	return result, nil
}

func (s *Service) retryAfter(failures FailureWindow, now time.Time) time.Duration {
	wait := failures.Oldest.Add(s.lockoutWindow).Sub(now)
	if failures.Oldest.IsZero() || wait > s.lockoutWindow {
		wait = s.lockoutWindow
	}
	if wait < time.Second {
		wait = time.Second
	}
	return wait
}

func (s *Service) recordAttempt(ctx context.Context, req UnlockRequest, success bool, now time.Time) {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}

	err = s.ledger.RecordAttempt(ctx, AttemptRecord{
		ID:          id.String(),
		ProfileID:   req.ProfileID,
		OriginHash:  req.OriginHash,
		Success:     success,
		AttemptedAt: now,
	})
	if err != nil {
		s.logger.Error("pin_attempt_record_failed", map[string]any{
			"profile_id": req.ProfileID,
			"success":    success,
			"error":      err.Error(),
		})
		observability.CaptureError(err)
	}
}

func (s *Service) emit(ctx context.Context, eventType, profileID, pageID, originHash string, at time.Time) {
	s.events.Emit(ctx, audit.Event{
		Type:       eventType,
		ProfileID:  profileID,
		PageID:     pageID,
		OriginHash: originHash,
		At:         at,
	})
}

// Remember mints a trust token for an active page of profileID that allows it.
func (s *Service) Remember(ctx context.Context, profileID, pageID string) (RememberGrant, error) {
	page, err := s.pages.Page(ctx, pageID)
	if err != nil {
		return RememberGrant{}, err
	}
	if page.ProfileID != profileID || !page.IsActive {
		return RememberGrant{}, ErrPageNotFound
	}
	if !page.AllowRemember {
		return RememberGrant{}, ErrRememberNotAllowed
	}

	s.emit(ctx, audit.EventRemembered, profileID, page.ID, "", s.clock.Now())

	return RememberGrant{
		CookieName: CookieName(page.ID),
		Token:      s.trust.Issue(page.ID, page.SecretVersion),
		MaxAge:     s.rememberMaxAge,
	}, nil
}

// CheckRemembered returns the pages of profileID whose presented trust token
// still validates against the page's current secret version. lookup returns
// the raw cookie value for a cookie name.
func (s *Service) CheckRemembered(ctx context.Context, profileID string, lookup func(name string) (string, bool)) ([]RememberedPage, error) {
	pages, err := s.pages.ActivePages(ctx, profileID, "")
	if err != nil {
		return nil, fmt.Errorf("load active pages: %w", err)
	}

	remembered := make([]RememberedPage, 0, len(pages))
	for _, page := range pages {
		if !page.AllowRemember {
			continue
		}
		token, ok := lookup(CookieName(page.ID))
		if !ok {
			continue
		}
		if s.trust.Validate(token, page.ID, page.SecretVersion, s.rememberMaxAge) {
			remembered = append(remembered, RememberedPage{PageID: page.ID, VisibilityMode: page.VisibilityMode})
		}
	}

	return remembered, nil
}
