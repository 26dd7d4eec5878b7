package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/platinummonkey/keystone/pkg/api"
	"github.com/platinummonkey/keystone/pkg/app"
	"github.com/platinummonkey/keystone/pkg/config"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("KEYSTONE_CONFIG"), "Path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "keystone: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout)
	ctx := context.Background()

	tp, err := observability.InitTracing(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		logger.WithError(err).Warn("Failed to initialize tracing, continuing without it")
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}

	if cfg.Auth.OIDCIssuer == "" {
		a.Close()
		return errors.New("auth.oidc_issuer is required")
	}
	verifier, err := middleware.NewOIDCVerifier(ctx, cfg.Auth.OIDCIssuer, cfg.Auth.OIDCClientID)
	if err != nil {
		a.Close()
		return err
	}

	server := api.NewServer(api.Services{
		Gateway:    a.Gateway,
		Enrollment: a.Enrollment,
		Hook:       a.Hook,
		Shares:     a.Shares,
		Health:     a.Health,
	}, api.Options{
		Auth:         middleware.NewAuthenticator(a.Store, verifier, false, logger),
		HookSecret:   cfg.Auth.HookSecret,
		ShareLimiter: a.ShareLimiter(),
		Metrics:      a.Metrics,
		Logger:       logger,
	})

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(server, "keystone-api"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	opsServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: api.OpsHandler(a.HealthChecker(version), a.Metrics),
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("health server", opsServer.Shutdown)
	shutdown.Register("enrollment hooks", func(context.Context) error {
		a.Hook.Wait()
		return nil
	})
	if tp != nil {
		shutdown.Register("tracing", tp.Shutdown)
	}
	shutdown.Register("store", func(context.Context) error {
		return a.Close()
	})

	if configPath != "" {
		watcher, err := config.Watch(configPath, logger, config.LogLevelReloader(logger))
		if err != nil {
			logger.WithError(err).Warn("Config hot reload disabled")
		} else {
			shutdown.Register("config watcher", func(context.Context) error { return watcher.Close() })
		}
	}

	go func() {
		logger.Infof("Health server listening on %s", opsServer.Addr)
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
		}
	}()
	go func() {
		logger.Infof("Keystone API listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("API server failed")
		}
	}()

	return shutdown.WaitForShutdown()
}
