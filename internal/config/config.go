// Package config reads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const minSecretLength = 32

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	StoreDriver string
	RedisURL    string
	SentryDSN   string

	TrustTokenSecret string
	OwnerJWTSecret   string
	OwnerTokenTTL    time.Duration
	CronSecret       string

	PINMaxFailures   int
	LockoutWindow    time.Duration
	RememberMaxAge   time.Duration
	DownloadTokenTTL time.Duration
	BcryptCost       int

	RateLimitMax    int
	RateLimitWindow time.Duration

	// TrustedProxyHops is the number of proxies in front of the service that
	// append to X-Forwarded-For. Zero means the header is ignored.
	TrustedProxyHops int
	OriginHashPepper string

	AttemptRetention time.Duration
	CleanupBatchSize int
	AuditBufferSize  int

	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration

	RunMigrationsOnStartup bool
}

// Load reads the environment and validates the result.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:      envOrDefault("APP_ENV", "development"),
		Port:        envOrDefault("PORT", "8080"),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		StoreDriver: strings.ToLower(envOrDefault("STORE_DRIVER", DriverPostgres)),
		RedisURL:    strings.TrimSpace(os.Getenv("REDIS_URL")),
		SentryDSN:   strings.TrimSpace(os.Getenv("SENTRY_DSN")),

		TrustTokenSecret: strings.TrimSpace(os.Getenv("TRUST_TOKEN_SECRET")),
		OwnerJWTSecret:   strings.TrimSpace(os.Getenv("OWNER_JWT_SECRET")),
		OwnerTokenTTL:    envMinutesOrDefault("OWNER_TOKEN_TTL_MINUTES", 60),
		CronSecret:       strings.TrimSpace(os.Getenv("CRON_SECRET")),

		PINMaxFailures:   envIntOrDefault("PIN_MAX_FAILURES", 5),
		LockoutWindow:    envMinutesOrDefault("PIN_LOCKOUT_WINDOW_MINUTES", 15),
		RememberMaxAge:   envDaysOrDefault("REMEMBER_MAX_AGE_DAYS", 30),
		DownloadTokenTTL: envSecondsOrDefault("DOWNLOAD_TOKEN_TTL_SECONDS", 300),
		BcryptCost:       envIntOrDefault("BCRYPT_COST", 10),

		RateLimitMax:    envIntOrDefault("PIN_RATE_LIMIT_MAX", 30),
		RateLimitWindow: envSecondsOrDefault("PIN_RATE_LIMIT_WINDOW_SECONDS", 60),

		TrustedProxyHops: EnvNonNegativeIntOrDefault("TRUSTED_PROXY_HOPS", 0),
		OriginHashPepper: os.Getenv("ORIGIN_HASH_PEPPER"),

		AttemptRetention: envDaysOrDefault("ATTEMPT_RETENTION_DAYS", 30),
		CleanupBatchSize: envIntOrDefault("CLEANUP_BATCH_SIZE", 500),
		AuditBufferSize:  envIntOrDefault("AUDIT_BUFFER_SIZE", 256),

		DBMaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		DBMaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		DBConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
		DBConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),

		RunMigrationsOnStartup: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", false),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return c.AppEnv == "production"
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("missing required env: DATABASE_URL"))
		}
	case DriverMemory:
		if c.Production() {
			errs = append(errs, errors.New("STORE_DRIVER=memory is not allowed in production"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.StoreDriver))
	}

	if len(c.TrustTokenSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("TRUST_TOKEN_SECRET must be at least %d characters", minSecretLength))
	}
	if len(c.OwnerJWTSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("OWNER_JWT_SECRET must be at least %d characters", minSecretLength))
	}
	if c.TrustTokenSecret != "" && c.TrustTokenSecret == c.OwnerJWTSecret {
		errs = append(errs, errors.New("TRUST_TOKEN_SECRET and OWNER_JWT_SECRET must differ"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, errors.New("BCRYPT_COST must be between 4 and 31"))
	}
	if c.TrustedProxyHops < 0 {
		errs = append(errs, errors.New("TRUSTED_PROXY_HOPS must not be negative"))
	}
	// Cleanup must never drop failures that still count toward a lockout.
	if c.AttemptRetention < c.LockoutWindow {
		errs = append(errs, fmt.Errorf("ATTEMPT_RETENTION_DAYS (%s) must cover PIN_LOCKOUT_WINDOW_MINUTES (%s)", c.AttemptRetention, c.LockoutWindow))
	}

	return errors.Join(errs...)
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

// EnvNonNegativeIntOrDefault is envIntOrDefault with zero allowed.
func EnvNonNegativeIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
