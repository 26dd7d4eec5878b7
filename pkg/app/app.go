// Package app assembles the keystone services from configuration. Every
// binary builds one App and shares its store, caches and services.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/keystone/pkg/access"
	"github.com/platinummonkey/keystone/pkg/audit"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/config"
	"github.com/platinummonkey/keystone/pkg/dispatch"
	"github.com/platinummonkey/keystone/pkg/enrollment"
	"github.com/platinummonkey/keystone/pkg/health"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/shares"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/platinummonkey/keystone/pkg/store/memory"
	"github.com/platinummonkey/keystone/pkg/store/postgres"
	"github.com/platinummonkey/keystone/pkg/webhooks"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2/clientcredentials"
)

// App holds the wired services.
type App struct {
	Config  *config.Config
	Logger  *observability.Logger
	Metrics *observability.Metrics

	Store store.Store
	DB    *sql.DB       // nil for the memory store
	Redis *redis.Client // nil when no Redis URL is configured

	Resolver   *authz.Resolver
	Evaluator  *authz.Evaluator
	Gateway    *access.Gateway
	Enrollment *enrollment.Service
	Hook       *enrollment.Hook
	Shares     *shares.Service
	Health     *health.Service

	stopWatch context.CancelFunc
}

// New connects to the configured store and Redis and builds the services.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	if logger == nil {
		logger = observability.NopLogger()
	}
	a := &App{Config: cfg, Logger: logger}
	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}

	var shared authz.AttributeCache
	if cfg.Cache.RedisURL != "" {
		client, err := authz.NewRedisClient(cfg.Cache.RedisURL, cfg.Cache.RedisDB)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = client
		shared = authz.NewRedisAttributeCache(client, cfg.Cache.ResolverTTL)
		logger.Info("Using Redis for shared attribute cache")
	}

	a.Resolver = authz.NewResolver(authz.ResolverConfig{
		TTL:     cfg.Cache.ResolverTTL,
		Size:    cfg.Cache.ResolverSize,
		Shared:  shared,
		Metrics: a.Metrics,
		Logger:  logger,
	})
	if shared != nil {
		watchCtx, cancel := context.WithCancel(context.Background())
		a.stopWatch = cancel
		if err := a.Resolver.Watch(watchCtx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to watch attribute invalidations: %w", err)
		}
	}
	evaluator, err := authz.NewEvaluator(a.Resolver, authz.DefaultPolicies(), a.Metrics, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build policy evaluator: %w", err)
	}
	a.Evaluator = evaluator

	a.Gateway = access.NewGateway(a.Store, evaluator,
		access.DefaultPipeline(models.Now, a.Metrics, logger),
		access.WithLogger(logger))
	a.Enrollment = enrollment.NewService(a.Store, a.Resolver, a.Metrics, logger)
	a.Hook = enrollment.NewHook(a.Enrollment, cfg.Enrollment.MaxAttempts, cfg.Enrollment.RetryBackoff)
	a.Shares = shares.NewService(a.Store, evaluator, cfg.Shares.DefaultTTL, a.Metrics, logger)
	a.Health = health.NewService(a.Store, evaluator, a.Metrics, nil)
	return a, nil
}

func (a *App) openStore() error {
	switch a.Config.Database.Type {
	case config.StorePostgres:
		db, err := postgres.Open(postgres.ConnectionConfig{
			URL:         a.Config.Database.PostgresURL,
			MaxConns:    a.Config.Database.MaxConns,
			MinConns:    a.Config.Database.MinConns,
			Timeout:     a.Config.Database.Timeout,
			MaxLifetime: a.Config.Database.MaxLifetime,
		})
		if err != nil {
			return err
		}
		a.DB = db
		a.Store = postgres.New(db)
		a.Logger.Info("Using PostgreSQL store")
	default:
		s, err := memory.New()
		if err != nil {
			return fmt.Errorf("failed to create memory store: %w", err)
		}
		a.Store = s
		a.Logger.Info("Using in-memory store")
	}
	return nil
}

// Dispatcher builds the sweep runner.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return dispatch.New(a.Gateway, a.Health, dispatch.Config{
		MaxAttempts: a.Config.Enrollment.MaxAttempts,
	}, a.Metrics, a.Logger)
}

// Deliverer builds the notification webhook deliverer for d. It returns
// nil when no webhook URL is configured.
func (a *App) Deliverer(d *dispatch.Dispatcher) (*webhooks.Deliverer, error) {
	cfg := a.Config.Dispatcher
	if cfg.WebhookURL == "" {
		return nil, nil
	}
	senderCfg := webhooks.SenderConfig{
		URL:     cfg.WebhookURL,
		Secret:  cfg.WebhookSecret,
		Timeout: cfg.WebhookTimeout,
	}
	if cfg.WebhookTokenURL != "" {
		senderCfg.OAuth2 = &clientcredentials.Config{
			ClientID:     cfg.WebhookClientID,
			ClientSecret: cfg.WebhookClientSecret,
			TokenURL:     cfg.WebhookTokenURL,
		}
	}
	sender, err := webhooks.NewSender(senderCfg)
	if err != nil {
		return nil, err
	}
	return webhooks.NewDeliverer(d, sender, cfg.BatchSize, a.Metrics, a.Logger), nil
}

// Archiver builds the S3 audit archiver. It returns nil when no bucket is
// configured.
func (a *App) Archiver(ctx context.Context) (*audit.Archiver, error) {
	cfg := a.Config.Archive
	if cfg.S3Bucket == "" {
		return nil, nil
	}
	client, err := audit.NewS3Client(ctx, audit.S3Config{
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		Endpoint:     cfg.S3Endpoint,
		AccessKey:    cfg.S3AccessKey,
		SecretKey:    cfg.S3SecretKey,
		UsePathStyle: cfg.S3UsePathStyle,
	})
	if err != nil {
		return nil, err
	}
	return audit.NewArchiver(client, cfg.S3Bucket, cfg.Prefix, a.Logger), nil
}

// HealthChecker builds the liveness and readiness probes.
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	checker := observability.NewHealthChecker(version)
	checker.Register("store", true, func(ctx context.Context) error {
		return a.Store.View(ctx, func(store.Tx) error { return nil })
	})
	if a.DB != nil {
		checker.Register("database", true, observability.DatabaseProbe(a.DB))
	}
	if a.Redis != nil {
		// only the resolver cache and share limiter live in Redis
		checker.Register("redis", false, observability.RedisProbe(a.Redis))
	}
	return checker
}

// ShareLimiter limits anonymous share resolutions: in Redis when it is
// configured so replicas share the budget, in memory otherwise.
func (a *App) ShareLimiter() middleware.Limiter {
	cfg := &middleware.RateLimitConfig{
		RequestsPerWindow: a.Config.Shares.RateLimit,
		WindowDuration:    time.Minute,
	}
	if a.Redis != nil {
		return middleware.NewDistributedRateLimiter(a.Redis, cfg, "ratelimit:shares")
	}
	return middleware.NewRateLimiter(cfg)
}

// Close releases the store and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.stopWatch != nil {
		a.stopWatch()
	}
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}
