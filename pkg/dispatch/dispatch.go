// Package dispatch exposes due work to external dispatchers: queued
// notifications, overdue RFIs and stale health snapshots. Every mutation
// runs through an access session as the system caller, so it passes the
// same maintainers and is recorded in the audit trail as a system write.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/access"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/async"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/health"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// DefaultMaxAttempts is how many failed deliveries a notification gets
// before it is marked failed.
const DefaultMaxAttempts = 5

// Config tunes a Dispatcher.
type Config struct {
	MaxAttempts int
	Workers     int
	TaskTimeout time.Duration
}

// Dispatcher runs the system sweeps.
type Dispatcher struct {
	system  *access.Session
	health  *health.Service
	cfg     Config
	metrics *observability.Metrics
	logger  *observability.Logger
}

// New creates a dispatcher.
func New(gateway *access.Gateway, healthSvc *health.Service, cfg Config, metrics *observability.Metrics, logger *observability.Logger) *Dispatcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Dispatcher{
		system:  gateway.For(authz.SystemCaller),
		health:  healthSvc,
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
	}
}

// PendingNotifications returns up to limit queued notifications, oldest
// first. A non-positive limit returns all of them.
func (d *Dispatcher) PendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error) {
	rows, err := d.system.List(ctx, models.TableNotifications, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	var pending []*models.Notification
	for _, row := range rows {
		if n := row.(*models.Notification); n.Status == models.NotificationPending {
			pending = append(pending, n)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

// MarkNotificationSent records a successful delivery. Marking an already
// sent notification again is ignored.
func (d *Dispatcher) MarkNotificationSent(ctx context.Context, id uuid.UUID) (*models.Notification, error) {
	return d.settle(ctx, id, func(n *models.Notification, now time.Time) {
		n.Status = models.NotificationSent
		n.Attempts++
		n.LastError = ""
		n.SentAt = &now
	})
}

// MarkNotificationFailed records a failed delivery. The notification stays
// pending until it has failed MaxAttempts times.
func (d *Dispatcher) MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Notification, error) {
	return d.settle(ctx, id, func(n *models.Notification, now time.Time) {
		n.Attempts++
		n.LastError = reason
		if n.Attempts >= d.cfg.MaxAttempts {
			n.Status = models.NotificationFailed
		}
	})
}

func (d *Dispatcher) settle(ctx context.Context, id uuid.UUID, apply func(*models.Notification, time.Time)) (*models.Notification, error) {
	var out *models.Notification
	err := d.system.Batch(ctx, func(stmt *access.Stmt) error {
		rec, err := stmt.Get(ctx, models.TableNotifications, id)
		if err != nil {
			return err
		}
		n := rec.(*models.Notification)
		if n.Status != models.NotificationPending {
			return apperrors.ConflictIgnored("notification %s is already %s", id, n.Status)
		}
		apply(n, models.Now())
		updated, err := stmt.Update(ctx, n)
		if err != nil {
			return err
		}
		out = updated.(*models.Notification)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// OverdueRFIs returns the open, unescalated RFIs past their due date at now.
func (d *Dispatcher) OverdueRFIs(ctx context.Context, now time.Time) ([]*models.RFI, error) {
	rows, err := d.system.List(ctx, models.TableRFIs, store.Filter{})
	if err != nil {
		return nil, fmt.Errorf("failed to list rfis: %w", err)
	}
	var overdue []*models.RFI
	for _, row := range rows {
		if rfi := row.(*models.RFI); !rfi.Escalated && rfi.Overdue(now) {
			overdue = append(overdue, rfi)
		}
	}
	return overdue, nil
}

// EscalateOverdue rewrites every overdue RFI so the escalation maintainer
// applies to it, and returns how many were escalated. Each RFI commits on
// its own; one failure does not hold back the rest.
func (d *Dispatcher) EscalateOverdue(ctx context.Context, now time.Time) (int, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.EscalateOverdue")
	defer span.End()

	overdue, err := d.OverdueRFIs(ctx, now)
	if err != nil {
		d.metrics.RecordSweep("escalation", err)
		return 0, err
	}

	escalated := 0
	var errs []error
	for _, rfi := range overdue {
		rec, err := d.system.Update(ctx, rfi)
		if err != nil {
			d.logger.WithError(err).WithField("rfi_id", rfi.ID.String()).Warn("Failed to escalate RFI")
			errs = append(errs, err)
			continue
		}
		if rec.(*models.RFI).Escalated {
			escalated++
		}
	}

	err = joinErrors("escalation", errs)
	d.metrics.RecordSweep("escalation", err)
	d.logger.WithFields(map[string]interface{}{
		"candidates": len(overdue),
		"escalated":  escalated,
	}).Info("Escalation sweep finished")
	return escalated, err
}

// RefreshHealth recomputes the health snapshot of every active project and
// returns how many were refreshed.
func (d *Dispatcher) RefreshHealth(ctx context.Context) (int, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.RefreshHealth")
	defer span.End()

	rows, err := d.system.List(ctx, models.TableProjects, store.Filter{})
	if err != nil {
		d.metrics.RecordSweep("health", err)
		return 0, fmt.Errorf("failed to list projects: %w", err)
	}
	var ids []uuid.UUID
	for _, row := range rows {
		if p := row.(*models.Project); p.Status == models.ProjectActive {
			ids = append(ids, p.ID)
		}
	}

	errs := async.Batch(ctx, d.logger, ids, d.cfg.Workers, "refresh-health", d.cfg.TaskTimeout,
		func(ctx context.Context, id uuid.UUID) error {
			if _, err := d.health.Compute(ctx, authz.SystemCaller, id); err != nil {
				return fmt.Errorf("project %s: %w", id, err)
			}
			return nil
		})

	err = joinErrors("health refresh", errs)
	d.metrics.RecordSweep("health", err)
	d.logger.WithFields(map[string]interface{}{
		"projects": len(ids),
		"failed":   len(errs),
	}).Info("Health sweep finished")
	return len(ids) - len(errs), err
}

// AuditArchiver stores one day of audit entries.
type AuditArchiver interface {
	ArchiveDay(ctx context.Context, day time.Time, entries []*models.AuditEntry) (int, error)
}

// ArchiveAudit hands the audit entries recorded on the UTC day containing
// day to archiver and returns how many objects it wrote.
func (d *Dispatcher) ArchiveAudit(ctx context.Context, archiver AuditArchiver, day time.Time) (int, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.ArchiveAudit")
	defer span.End()

	start := day.UTC().Truncate(24 * time.Hour)
	end := start.Add(24 * time.Hour)
	rows, err := d.system.List(ctx, models.TableAuditLogs, store.Filter{})
	if err != nil {
		d.metrics.RecordSweep("audit-archive", err)
		return 0, fmt.Errorf("failed to list audit entries: %w", err)
	}
	var entries []*models.AuditEntry
	for _, row := range rows {
		if e := row.(*models.AuditEntry); !e.At.Before(start) && e.At.Before(end) {
			entries = append(entries, e)
		}
	}

	written, err := archiver.ArchiveDay(ctx, start, entries)
	if err != nil {
		err = fmt.Errorf("audit archive: %w", err)
	}
	d.metrics.RecordSweep("audit-archive", err)
	d.logger.WithFields(map[string]interface{}{
		"day":     start.Format("2006-01-02"),
		"entries": len(entries),
		"objects": written,
	}).Info("Audit archive finished")
	return written, err
}

func joinErrors(job string, errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return fmt.Errorf("%s: %w", job, errs[0])
	}
	return fmt.Errorf("%s: %d failures, first: %w", job, len(errs), errs[0])
}
