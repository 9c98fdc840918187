package observability

import (
	"encoding/json"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/getsentry/sentry-go"
)

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.statusCode = status
	r.ResponseWriter.WriteHeader(status)
}

// route is the matched ServeMux pattern, or the raw path when nothing matched.
func route(r *http.Request) string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.URL.Path
}

// RequestLoggingMiddleware logs one line per request, keyed by route pattern.
// Client addresses are never logged.
func RequestLoggingMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		logger.Info("http_request", map[string]any{
			"method":      r.Method,
			"route":       route(r),
			"status":      recorder.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	})
}

func RecoverMiddleware(logger *Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("route", route(r))
				scope.SetTag("method", r.Method)
				scope.SetExtra("panic", rec)
				scope.SetExtra("stack", string(debug.Stack()))
				sentry.CaptureMessage("panic in request")
			})

			logger.Error("panic_recovered", map[string]any{
				"method": r.Method,
				"route":  route(r),
				"panic":  rec,
			})

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
		}()

		next.ServeHTTP(w, r)
	})
}
