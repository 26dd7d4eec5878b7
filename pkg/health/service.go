package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/store"
)

// Service computes and stores health snapshots.
type Service struct {
	store     store.Store
	evaluator *authz.Evaluator
	clock     func() time.Time
	metrics   *observability.Metrics
}

// NewService creates a health service. clock defaults to models.Now.
func NewService(s store.Store, evaluator *authz.Evaluator, metrics *observability.Metrics, clock func() time.Time) *Service {
	if clock == nil {
		clock = models.Now
	}
	return &Service{store: s, evaluator: evaluator, clock: clock, metrics: metrics}
}

// Compute scores a project the caller can read and stores the snapshot.
// Snapshots are written by the service only; no caller can write one
// directly.
func (s *Service) Compute(ctx context.Context, caller authz.Caller, projectID uuid.UUID) (*models.HealthSnapshot, error) {
	ctx, span := observability.Tracer().Start(ctx, "health.Compute")
	defer span.End()

	var snap *models.HealthSnapshot
	start := time.Now()
	err := s.store.Update(ctx, func(tx store.Tx) error {
		var err error
		snap, err = s.ComputeTx(ctx, tx, caller, projectID)
		return err
	})
	s.metrics.RecordRecompute("project_health", time.Since(start), err)
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// ComputeTx is Compute inside an existing unit of work.
func (s *Service) ComputeTx(ctx context.Context, tx store.Tx, caller authz.Caller, projectID uuid.UUID) (*models.HealthSnapshot, error) {
	project, err := store.GetAs[*models.Project](ctx, tx, models.TableProjects, projectID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && project.DeletedAt != nil) {
		return nil, apperrors.NotFound("project %s not found", projectID)
	}
	if err != nil {
		return nil, err
	}
	if err := s.evaluator.Check(ctx, tx, caller, authz.OpRead, project, nil); err != nil {
		return nil, err
	}

	now := s.clock()
	in, err := s.inputs(ctx, tx, project, now)
	if err != nil {
		return nil, err
	}
	b := Score(in)

	snap := &models.HealthSnapshot{
		ProjectID:     project.ID,
		TenantID:      project.TenantID,
		BudgetScore:   b.Budget,
		ScheduleScore: b.Schedule,
		SafetyScore:   b.Safety,
		QualityScore:  b.Quality,
		Overall:       b.Overall,
		ComputedAt:    now,
	}

	_, err = tx.Get(ctx, models.TableHealthSnapshots, project.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		err = tx.Insert(ctx, snap)
	case err == nil:
		err = tx.Update(ctx, snap)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store health snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the stored snapshot of a project the caller can read.
func (s *Service) Latest(ctx context.Context, caller authz.Caller, projectID uuid.UUID) (*models.HealthSnapshot, error) {
	var snap *models.HealthSnapshot
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		snap, err = store.GetAs[*models.HealthSnapshot](ctx, tx, models.TableHealthSnapshots, projectID)
		if errors.Is(err, store.ErrNotFound) {
			return apperrors.NotFound("no health snapshot for project %s", projectID)
		}
		if err != nil {
			return err
		}
		return s.evaluator.Check(ctx, tx, caller, authz.OpRead, snap, nil)
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Service) inputs(ctx context.Context, tx store.Tx, project *models.Project, now time.Time) (Inputs, error) {
	in := Inputs{
		Budget:              project.Budget,
		ActualCost:          project.ActualCost,
		PlannedEnd:          project.PlannedEnd,
		ForecastEnd:         project.ForecastEnd,
		PercentPlanComplete: project.PercentPlanComplete,
		Incidents:           make(map[models.Severity]int),
	}
	filter := store.Filter{ProjectID: project.ID}

	incidents, err := store.ListAs[*models.SafetyIncident](ctx, tx, models.TableSafetyIncidents, filter)
	if err != nil {
		return in, fmt.Errorf("failed to list safety incidents: %w", err)
	}
	since := now.Add(-SafetyWindow)
	for _, inc := range incidents {
		if inc.OccurredAt.Before(since) || inc.OccurredAt.After(now) {
			continue
		}
		in.Incidents[inc.Severity]++
	}

	punch, err := store.ListAs[*models.PunchItem](ctx, tx, models.TablePunchItems, filter)
	if err != nil {
		return in, fmt.Errorf("failed to list punch items: %w", err)
	}
	for _, p := range punch {
		in.PunchTotal++
		if p.Status == models.PunchClosed {
			in.PunchClosed++
		}
	}
	return in, nil
}
