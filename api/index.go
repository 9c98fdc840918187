package api

import (
	"encoding/json"
	"net/http"
	"sync"

	"profile-gate/internal/app"
	"profile-gate/internal/config"
	"profile-gate/internal/observability"
)

var (
	initOnce   sync.Once
	apiRuntime *app.Runtime
	initErr    error
)

// platformProxyHops is the edge proxy in front of every serverless invocation.
const platformProxyHops = 1

// Handler is the serverless entrypoint.
func Handler(w http.ResponseWriter, r *http.Request) {
	initOnce.Do(func() {
		apiRuntime, initErr = app.Build(app.Options{
			RunMigrations:    config.EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
			TrustedProxyHops: config.EnvNonNegativeIntOrDefault("TRUSTED_PROXY_HOPS", platformProxyHops),
		})
		if initErr != nil {
			observability.NewLogger().Error("bootstrap_failed", map[string]any{"error": initErr.Error()})
		}
	})

	if initErr != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "application bootstrap failed"})
		return
	}

	apiRuntime.Handler.ServeHTTP(w, r)
}
