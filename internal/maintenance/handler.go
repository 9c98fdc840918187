package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"profile-gate/internal/clock"
	"profile-gate/internal/observability"
	"profile-gate/internal/pin"
)

type AttemptPruner interface {
	DeleteAttemptsBefore(ctx context.Context, cutoff time.Time, batchSize int) (pin.CleanupResult, error)
}

type TicketPruner interface {
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// LimiterSweeper drops idle rate limiter keys.
type LimiterSweeper interface {
	Sweep(ctx context.Context) error
}

type Result struct {
	DeletedAttempts int64 `json:"deleted_attempts"`
	DeletedTickets  int64 `json:"deleted_tickets"`
}

type CleanupHandler struct {
	attempts         AttemptPruner
	tickets          TicketPruner
	limiter          LimiterSweeper
	logger           *observability.Logger
	clock            clock.Clock
	cronSecret       string
	attemptRetention time.Duration
	batchSize        int
}

func NewCleanupHandler(
	attempts AttemptPruner,
	tickets TicketPruner,
	limiter LimiterSweeper,
	logger *observability.Logger,
	clk clock.Clock,
	cronSecret string,
	attemptRetention time.Duration,
	batchSize int,
) *CleanupHandler {
	if clk == nil {
		clk = clock.System()
	}
	return &CleanupHandler{
		attempts:         attempts,
		tickets:          tickets,
		limiter:          limiter,
		logger:           logger,
		clock:            clk,
		cronSecret:       strings.TrimSpace(cronSecret),
		attemptRetention: attemptRetention,
		batchSize:        batchSize,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		h.logger.Error("pin_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

// Guard serves next only to callers presenting the cron secret.
func (h *CleanupHandler) Guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.cronSecret == "" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		if !h.authorized(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	return len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") &&
		subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(h.cronSecret)) == 1
}

// Run prunes one batch of stale attempts and expired tickets.
func (h *CleanupHandler) Run(ctx context.Context) (Result, error) {
	now := h.clock.Now()

	attempts, err := h.attempts.DeleteAttemptsBefore(ctx, now.Add(-h.attemptRetention), h.batchSize)
	if err != nil {
		return Result{}, err
	}

	tickets, err := h.tickets.DeleteExpired(ctx, now, h.batchSize)
	if err != nil {
		return Result{}, err
	}

	if h.limiter != nil {
		if err := h.limiter.Sweep(ctx); err != nil {
			h.logger.Warn("rate_limit_sweep_failed", map[string]any{"error": err.Error()})
		}
	}

	result := Result{DeletedAttempts: attempts.DeletedAttempts, DeletedTickets: tickets}
	h.logger.Info("pin_cleanup_completed", map[string]any{
		"deleted_attempts": result.DeletedAttempts,
		"deleted_tickets":  result.DeletedTickets,
	})
	return result, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
