package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"profile-gate/internal/observability"
)

// Throttle rejects requests whose key exceeds limit hits per window. Store
// errors let the request through: this limiter only sheds load.
func Throttle(store Store, scope string, limit int, window time.Duration, logger *observability.Logger, keyFn func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := store.Allow(r.Context(), scope+":"+keyFn(r), limit, window)
		if err != nil {
			logger.Warn("rate_limit_store_failed", map[string]any{"scope": scope, "error": err.Error()})
			next.ServeHTTP(w, r)
			return
		}

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(result.RetryAfter.Seconds())))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
			return
		}

		next.ServeHTTP(w, r)
	})
}
