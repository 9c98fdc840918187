package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"profile-gate/internal/audit"
	"profile-gate/internal/auth"
	"profile-gate/internal/clock"
	"profile-gate/internal/config"
	"profile-gate/internal/content"
	"profile-gate/internal/maintenance"
	"profile-gate/internal/netx"
	"profile-gate/internal/observability"
	"profile-gate/internal/pin"
	"profile-gate/internal/ratelimit"
	"profile-gate/internal/ticket"
	"profile-gate/internal/versionsig"
)

const capabilityPurpose = "contact_download"

// PageBackend stores protected pages and the attempt ledger.
type PageBackend interface {
	pin.PageStore
	pin.AttemptLedger
	pin.OwnerStore
	maintenance.AttemptPruner
}

type Deps struct {
	Config   config.Config
	Logger   *observability.Logger
	Clock    clock.Clock
	Pages    PageBackend
	Tickets  ticket.Store
	Contacts content.Source
	Limiter  ratelimit.Store
	Events   audit.Sink
	// Metrics serves the meter provider's instruments. Nil disables the route.
	Metrics http.Handler
	// Health reports whether the backing store is reachable.
	Health func(ctx context.Context) error
}

// NewHandler assembles the services and returns the full route table.
func NewHandler(deps Deps) (http.Handler, error) {
	cfg := deps.Config
	logger := deps.Logger
	clk := deps.Clock
	if clk == nil {
		clk = clock.System()
	}

	signer, err := versionsig.New([]byte(cfg.TrustTokenSecret), clk)
	if err != nil {
		return nil, fmt.Errorf("init trust token signer: %w", err)
	}

	issuer := ticket.NewIssuer(deps.Tickets, capabilityPurpose, clk).WithSweep(time.Minute, func(err error) {
		logger.Warn("capability_sweep_failed", map[string]any{"error": err.Error()})
	})

	service := pin.NewService(deps.Pages, deps.Pages, pin.NewTrustCodec(signer), issuer, deps.Events, logger, clk)
	service.WithPolicy(cfg.PINMaxFailures, cfg.LockoutWindow, cfg.RememberMaxAge, cfg.DownloadTokenTTL)

	origins := netx.NewOriginHasher(cfg.OriginHashPepper, cfg.TrustedProxyHops)
	pinHandler := pin.NewHandler(service, origins, cfg.Production())
	ownerHandler := pin.NewOwnerHandler(pin.NewPages(deps.Pages, cfg.BcryptCost, deps.Events, clk))
	contactHandler := content.NewHandler(issuer, deps.Contacts, deps.Events, logger, clk)
	cleanupHandler := maintenance.NewCleanupHandler(
		deps.Pages,
		deps.Tickets,
		deps.Limiter,
		logger,
		clk,
		cfg.CronSecret,
		cfg.AttemptRetention,
		cfg.CleanupBatchSize,
	)

	throttle := func(scope string, next http.HandlerFunc) http.Handler {
		return ratelimit.Throttle(deps.Limiter, scope, cfg.RateLimitMax, cfg.RateLimitWindow, logger, origins.FromRequest, next)
	}
	owner := func(next http.HandlerFunc) http.Handler {
		return auth.Middleware(cfg.OwnerJWTSecret, next)
	}

	mux := http.NewServeMux()
	mux.Handle("POST /pin", throttle("pin", pinHandler.Unlock))
	mux.Handle("POST /pin/remember", throttle("pin_remember", pinHandler.Remember))
	mux.HandleFunc("GET /pin/check", pinHandler.Check)
	mux.HandleFunc("POST /pin/forget", pinHandler.Forget)
	mux.Handle("GET /profiles/{profileId}/contact.vcf", throttle("contact_download", contactHandler.DownloadContact))
	mux.Handle("GET /owner/pages", owner(ownerHandler.ListPages))
	mux.Handle("POST /owner/pages", owner(ownerHandler.CreatePage))
	mux.Handle("PUT /owner/pages/{id}/pin", owner(ownerHandler.RotatePIN))
	mux.Handle("PATCH /owner/pages/{id}", owner(ownerHandler.UpdatePage))
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("GET /health", healthHandler(deps.Health))
	if deps.Metrics != nil {
		mux.Handle("GET /internal/metrics", cleanupHandler.Guard(deps.Metrics))
	}

	return observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux)), nil
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if check != nil {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}
