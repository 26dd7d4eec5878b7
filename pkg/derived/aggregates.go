package derived

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/shopspring/decimal"
)

// Aggregate names
const (
	AggEstimateTotals = "estimate_totals"
	AggProjectCost    = "project_cost"
	AggProjectPPC     = "project_ppc"
)

// keysFor returns the parent keys of evt. A direct write to the parent table
// touches the parent itself so its computed fields are re-derived; a moved
// child touches both its old and new parent.
func keysFor(evt events.ChangeEvent, parent, child models.Table, ref func(models.Record) uuid.UUID) []uuid.UUID {
	switch evt.Table {
	case parent:
		return []uuid.UUID{evt.Row().RecordID()}
	case child:
		var keys []uuid.UUID
		if evt.New != nil {
			keys = append(keys, ref(evt.New))
		}
		if evt.Old != nil {
			if old := ref(evt.Old); len(keys) == 0 || old != keys[0] {
				keys = append(keys, old)
			}
		}
		return keys
	}
	return nil
}

// getParent loads a parent row; a missing parent has nothing to recompute.
func getParent[T models.Record](ctx context.Context, tx store.Tx, table models.Table, id uuid.UUID) (T, bool, error) {
	rec, err := store.GetAs[T](ctx, tx, table, id)
	if errors.Is(err, store.ErrNotFound) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, fmt.Errorf("failed to load %s %s: %w", table, id, err)
	}
	return rec, true, nil
}

// EstimateTotals rolls non-tombstoned items up into their estimate.
type EstimateTotals struct{}

func (EstimateTotals) Name() string { return AggEstimateTotals }

func (EstimateTotals) Keys(evt events.ChangeEvent) []uuid.UUID {
	return keysFor(evt, models.TableEstimates, models.TableEstimateItems, models.ParentOf)
}

func (EstimateTotals) Recompute(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	estimate, ok, err := getParent[*models.CostEstimate](ctx, tx, models.TableEstimates, id)
	if err != nil || !ok {
		return err
	}
	items, err := store.ListAs[*models.EstimateItem](ctx, tx, models.TableEstimateItems, store.Filter{ParentID: id})
	if err != nil {
		return fmt.Errorf("failed to list estimate items: %w", err)
	}

	estimate.Subtotal = decimal.Zero
	estimate.MarkupAmount = decimal.Zero
	estimate.Total = decimal.Zero
	for _, item := range items {
		estimate.Subtotal = estimate.Subtotal.Add(item.Subtotal)
		estimate.MarkupAmount = estimate.MarkupAmount.Add(item.MarkupAmount)
		estimate.Total = estimate.Total.Add(item.Total)
	}
	estimate.ItemCount = len(items)
	return tx.Update(ctx, estimate)
}

// ProjectCost sums non-tombstoned cost transactions into the project's
// actual cost.
type ProjectCost struct{}

func (ProjectCost) Name() string { return AggProjectCost }

func (ProjectCost) Keys(evt events.ChangeEvent) []uuid.UUID {
	return keysFor(evt, models.TableProjects, models.TableCostTransactions, models.ProjectOf)
}

func (ProjectCost) Recompute(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	project, ok, err := getParent[*models.Project](ctx, tx, models.TableProjects, id)
	if err != nil || !ok {
		return err
	}
	txns, err := store.ListAs[*models.CostTransaction](ctx, tx, models.TableCostTransactions, store.Filter{ProjectID: id})
	if err != nil {
		return fmt.Errorf("failed to list cost transactions: %w", err)
	}

	total := decimal.Zero
	for _, t := range txns {
		total = total.Add(t.Amount)
	}
	project.ActualCost = total
	return tx.Update(ctx, project)
}

// ProjectPPC derives percent plan complete: completed committed activities
// over committed activities, nil when nothing is committed.
type ProjectPPC struct{}

func (ProjectPPC) Name() string { return AggProjectPPC }

func (ProjectPPC) Keys(evt events.ChangeEvent) []uuid.UUID {
	return keysFor(evt, models.TableProjects, models.TableScheduleActivities, models.ProjectOf)
}

func (ProjectPPC) Recompute(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	project, ok, err := getParent[*models.Project](ctx, tx, models.TableProjects, id)
	if err != nil || !ok {
		return err
	}
	activities, err := store.ListAs[*models.ScheduleActivity](ctx, tx, models.TableScheduleActivities, store.Filter{ProjectID: id})
	if err != nil {
		return fmt.Errorf("failed to list schedule activities: %w", err)
	}

	project.PercentPlanComplete = PercentPlanComplete(activities)
	return tx.Update(ctx, project)
}

// PercentPlanComplete returns completed/committed as a fraction in [0,1], or
// nil when no activity is committed.
func PercentPlanComplete(activities []*models.ScheduleActivity) *decimal.Decimal {
	var committed, completed int64
	for _, a := range activities {
		if !a.Committed {
			continue
		}
		committed++
		if a.Completed {
			completed++
		}
	}
	if committed == 0 {
		return nil
	}
	ppc := decimal.NewFromInt(completed).Div(decimal.NewFromInt(committed))
	return &ppc
}
