package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/keystone/pkg/app"
	"github.com/platinummonkey/keystone/pkg/config"
	"github.com/platinummonkey/keystone/pkg/dispatch"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/robfig/cron/v3"
)

var (
	configPath = flag.String("config", os.Getenv("KEYSTONE_CONFIG"), "Path to YAML config file")
	runOnce    = flag.Bool("run-once", false, "Run every sweep once and exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "keystone-dispatcher: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	logger := observability.NewLogger(cfg.Observability.Level(), os.Stdout).WithField("component", "dispatcher")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer a.Close()

	d := a.Dispatcher()
	deliverer, err := a.Deliverer(d)
	if err != nil {
		return err
	}
	notify := func() {
		if deliverer == nil {
			reportPending(ctx, d, cfg.Dispatcher.BatchSize, logger)
			return
		}
		if _, err := deliverer.Drain(ctx); err != nil {
			logger.WithError(err).Error("Notification drain failed")
		}
	}

	archiver, err := a.Archiver(ctx)
	if err != nil {
		return err
	}
	archive := func() {
		if archiver == nil {
			return
		}
		yesterday := time.Now().UTC().AddDate(0, 0, -1)
		if _, err := d.ArchiveAudit(ctx, archiver, yesterday); err != nil {
			logger.WithError(err).Error("Audit archive failed")
		}
	}

	if *runOnce {
		escalate(ctx, d, logger)
		refresh(ctx, d, logger)
		notify()
		archive()
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(cfg.Dispatcher.EscalationSchedule, func() {
		escalate(ctx, d, logger)
		notify()
	}); err != nil {
		return fmt.Errorf("invalid escalation schedule: %w", err)
	}
	if _, err := c.AddFunc(cfg.Dispatcher.HealthSchedule, func() {
		refresh(ctx, d, logger)
	}); err != nil {
		return fmt.Errorf("invalid health schedule: %w", err)
	}

	if archiver != nil {
		if _, err := c.AddFunc(cfg.Archive.Schedule, archive); err != nil {
			return fmt.Errorf("invalid archive schedule: %w", err)
		}
	}

	c.Start()
	logger.WithFields(map[string]interface{}{
		"escalation_schedule": cfg.Dispatcher.EscalationSchedule,
		"health_schedule":     cfg.Dispatcher.HealthSchedule,
	}).Info("Dispatcher started")

	<-ctx.Done()
	logger.Info("Shutting down dispatcher")
	<-c.Stop().Done()
	return nil
}

func escalate(ctx context.Context, d *dispatch.Dispatcher, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "escalation sweep")
	if _, err := d.EscalateOverdue(ctx, models.Now()); err != nil {
		logger.WithError(err).Error("Escalation sweep failed")
	}
}

func refresh(ctx context.Context, d *dispatch.Dispatcher, logger *observability.Logger) {
	defer observability.RecoverPanic(logger, "health sweep")
	if _, err := d.RefreshHealth(ctx); err != nil {
		logger.WithError(err).Error("Health sweep failed")
	}
}

func reportPending(ctx context.Context, d *dispatch.Dispatcher, limit int, logger *observability.Logger) {
	pending, err := d.PendingNotifications(ctx, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to list pending notifications")
		return
	}
	if len(pending) > 0 {
		logger.WithField("pending", len(pending)).Info("Notifications awaiting delivery")
	}
}
