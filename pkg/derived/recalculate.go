package derived

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

// Recalculator exposes the aggregates as explicit entry points. The
// recompute itself is privileged and writes columns the caller could not,
// so each entry point first checks that the caller can read the parent.
type Recalculator struct {
	evaluator *authz.Evaluator
	pipeline  *events.Pipeline
}

// NewRecalculator creates a recalculator over pipeline's aggregators.
func NewRecalculator(evaluator *authz.Evaluator, pipeline *events.Pipeline) *Recalculator {
	return &Recalculator{evaluator: evaluator, pipeline: pipeline}
}

// RecalculateEstimateTotals re-derives an estimate's totals.
func (r *Recalculator) RecalculateEstimateTotals(ctx context.Context, tx store.Tx, caller authz.Caller, estimateID uuid.UUID) (*models.CostEstimate, error) {
	if err := r.recalculate(ctx, tx, caller, models.TableEstimates, estimateID, AggEstimateTotals); err != nil {
		return nil, err
	}
	return store.GetAs[*models.CostEstimate](ctx, tx, models.TableEstimates, estimateID)
}

// RecalculateProjectCost re-derives a project's actual cost and percent
// plan complete.
func (r *Recalculator) RecalculateProjectCost(ctx context.Context, tx store.Tx, caller authz.Caller, projectID uuid.UUID) (*models.Project, error) {
	if err := r.recalculate(ctx, tx, caller, models.TableProjects, projectID, AggProjectCost, AggProjectPPC); err != nil {
		return nil, err
	}
	return store.GetAs[*models.Project](ctx, tx, models.TableProjects, projectID)
}

func (r *Recalculator) recalculate(ctx context.Context, tx store.Tx, caller authz.Caller, table models.Table, id uuid.UUID, aggregates ...string) error {
	parent, err := tx.Get(ctx, table, id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && models.IsDeleted(parent)) {
		return apperrors.NotFound("%s %s not found", table, id)
	}
	if err != nil {
		return err
	}

	ok, err := r.evaluator.Allowed(ctx, tx, caller, authz.OpRead, parent, nil)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.Unauthorized("not allowed to recalculate %s %s", table, id)
	}

	stmt := r.pipeline.Begin()
	for _, name := range aggregates {
		if _, ok := r.pipeline.Aggregator(name); !ok {
			return fmt.Errorf("aggregate %q is not registered", name)
		}
		stmt.Touch(name, id)
	}
	return stmt.Flush(ctx, tx)
}
