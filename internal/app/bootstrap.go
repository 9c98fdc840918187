package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"profile-gate/internal/audit"
	"profile-gate/internal/clock"
	"profile-gate/internal/config"
	"profile-gate/internal/content"
	"profile-gate/internal/db"
	"profile-gate/internal/observability"
	"profile-gate/internal/pin"
	"profile-gate/internal/ratelimit"
	"profile-gate/internal/ticket"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
	// TrustedProxyHops overrides TRUSTED_PROXY_HOPS when positive.
	TrustedProxyHops int
}

type Runtime struct {
	Config  config.Config
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if options.TrustedProxyHops > 0 {
		cfg.TrustedProxyHops = options.TrustedProxyHops
	}

	logger := observability.NewLogger()
	if err := observability.InitSentry(cfg.SentryDSN, cfg.AppEnv); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clk := clock.System()
	deps := Deps{Config: cfg, Logger: logger, Clock: clk}
	var closers []func() error

	switch cfg.StoreDriver {
	case config.DriverMemory:
		logger.Warn("memory_store_enabled", map[string]any{"store_driver": cfg.StoreDriver})
		deps.Pages = pin.NewMemoryStore(clk)
		deps.Tickets = ticket.NewMemoryStore()
		deps.Contacts = content.NewMemorySource()
	default:
		database, err := db.Open(ctx, cfg.DatabaseURL, db.PoolOptions{
			MaxOpenConns:    cfg.DBMaxOpenConns,
			MaxIdleConns:    cfg.DBMaxIdleConns,
			ConnMaxLifetime: cfg.DBConnMaxLifetime,
			ConnMaxIdleTime: cfg.DBConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		closers = append(closers, database.Close)

		if options.RunMigrations || cfg.RunMigrationsOnStartup {
			if err := db.RunMigrations(ctx, database); err != nil {
				_ = database.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
		}

		deps.Pages = pin.NewRepository(database, clk)
		deps.Tickets = ticket.NewPostgresStore(database)
		deps.Contacts = content.NewPostgresSource(database)
		deps.Health = pingHealth(database)
	}

	limiter, closeLimiter := newLimiter(ctx, cfg, logger, clk)
	deps.Limiter = limiter
	if closeLimiter != nil {
		closers = append(closers, closeLimiter)
	}

	metrics := observability.NewMetrics()
	otel.SetMeterProvider(metrics.Provider())
	closers = append(closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metrics.Shutdown(ctx)
	})
	deps.Metrics = metrics.Handler()

	dispatcher, err := newAuditDispatcher(cfg, logger, metrics.Meter("profile-gate"))
	if err != nil {
		closeAll(closers)
		return nil, err
	}
	deps.Events = dispatcher

	handler, err := NewHandler(deps)
	if err != nil {
		dispatcher.Close()
		closeAll(closers)
		return nil, err
	}

	return &Runtime{
		Config:  cfg,
		Handler: handler,
		Close: func() error {
			dispatcher.Close()
			observability.FlushSentry()
			return closeAll(closers)
		},
	}, nil
}

// newLimiter prefers the shared Redis store and falls back to a per-process
// one when Redis is not configured or not reachable.
func newLimiter(ctx context.Context, cfg config.Config, logger *observability.Logger, clk clock.Clock) (ratelimit.Store, func() error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryStore(clk), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("redis_url_invalid", map[string]any{"error": err.Error()})
		return ratelimit.NewMemoryStore(clk), nil
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis_unreachable", map[string]any{"error": err.Error()})
		_ = client.Close()
		return ratelimit.NewMemoryStore(clk), nil
	}

	return ratelimit.NewRedisStore(client, "profile-gate:ratelimit:", clk), client.Close
}

func newAuditDispatcher(cfg config.Config, logger *observability.Logger, meter metric.Meter) (*audit.Dispatcher, error) {
	metrics, err := audit.NewMetricsSink(meter)
	if err != nil {
		return nil, fmt.Errorf("init audit metrics: %w", err)
	}
	return audit.NewDispatcher(cfg.AuditBufferSize, audit.MultiSink{audit.NewLogSink(logger), metrics}), nil
}

func pingHealth(database *sql.DB) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return database.PingContext(ctx)
	}
}

func closeAll(closers []func() error) error {
	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
