package derived

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/platinummonkey/keystone/pkg/store/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got)
}

func TestComputeItem(t *testing.T) {
	tests := []struct {
		name                    string
		item                    models.EstimateItem
		subtotal, markup, total string
	}{
		{
			name:     "material and labor with markup",
			item:     models.EstimateItem{MaterialCost: d("100"), LaborCost: d("50"), MarkupPercent: d("10")},
			subtotal: "150", markup: "15", total: "165",
		},
		{
			name:     "quantity multiplies every cost",
			item:     models.EstimateItem{Quantity: d("3"), MaterialCost: d("10"), LaborCost: d("5"), EquipmentCost: d("2.5")},
			subtotal: "52.5", markup: "0", total: "52.5",
		},
		{
			name:     "all nil",
			item:     models.EstimateItem{},
			subtotal: "0", markup: "0", total: "0",
		},
		{
			name:     "full precision kept",
			item:     models.EstimateItem{MaterialCost: d("10.005"), MarkupPercent: d("12.5")},
			subtotal: "10.005", markup: "1.250625", total: "11.255625",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := tt.item
			ComputeItem(&item)
			assertDec(t, tt.subtotal, item.Subtotal)
			assertDec(t, tt.markup, item.MarkupAmount)
			assertDec(t, tt.total, item.Total)
		})
	}
}

func TestComputeItem_OverwritesClientValues(t *testing.T) {
	item := models.EstimateItem{MaterialCost: d("100"), Subtotal: decimal.NewFromInt(1), Total: decimal.NewFromInt(999999)}
	ComputeItem(&item)
	assertDec(t, "100", item.Subtotal)
	assertDec(t, "100", item.Total)
}

func TestComputeEquipment(t *testing.T) {
	log := models.EquipmentLog{HourlyRate: d("85.50"), Hours: d("8"), FuelCost: d("42"), TotalCost: decimal.NewFromInt(1)}
	ComputeEquipment(&log)
	assertDec(t, "726", log.TotalCost)

	empty := models.EquipmentLog{Hours: d("8")}
	ComputeEquipment(&empty)
	assertDec(t, "0", empty.TotalCost)
}

func TestEscalate(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	rfi := &models.RFI{Status: models.RFIOpen, Priority: models.PriorityHigh, DueDate: &past}
	require.True(t, Escalate(rfi, now))
	assert.True(t, rfi.Escalated)
	assert.Equal(t, models.PriorityCritical, rfi.Priority)
	assert.Equal(t, now, *rfi.EscalatedAt)

	// once only
	assert.False(t, Escalate(rfi, now.Add(time.Hour)))
	assert.Equal(t, models.PriorityCritical, rfi.Priority)

	assert.False(t, Escalate(&models.RFI{Status: models.RFIOpen, DueDate: &future}, now))
	assert.False(t, Escalate(&models.RFI{Status: models.RFIAnswered, DueDate: &past}, now))
	assert.False(t, Escalate(&models.RFI{Status: models.RFIOpen}, now))
}

func TestPercentPlanComplete(t *testing.T) {
	assert.Nil(t, PercentPlanComplete(nil))
	assert.Nil(t, PercentPlanComplete([]*models.ScheduleActivity{{Completed: true}}))

	ppc := PercentPlanComplete([]*models.ScheduleActivity{
		{Committed: true, Completed: true},
		{Committed: true, Completed: true},
		{Committed: true},
		{Committed: true},
		{Completed: true},
	})
	require.NotNil(t, ppc)
	assertDec(t, "0.5", *ppc)
}

// write runs one statement of direct writes through the pipeline.
func write(t *testing.T, w *storetest.World, p *events.Pipeline, caller authz.Caller, evts ...*events.ChangeEvent) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.Store.Update(ctx, func(tx store.Tx) error {
		stmt := p.Begin()
		for _, evt := range evts {
			evt.Caller = caller
			evt.At = models.Now()
			if err := stmt.Prepare(ctx, evt); err != nil {
				return err
			}
			var err error
			if evt.Op == events.OpInsert {
				err = tx.Insert(ctx, evt.New)
			} else {
				err = tx.Update(ctx, evt.New)
			}
			if err != nil {
				return err
			}
			if err := stmt.Publish(ctx, tx, *evt); err != nil {
				return err
			}
		}
		return stmt.Flush(ctx, tx)
	}))
}

func insert(rec models.Record) *events.ChangeEvent {
	return &events.ChangeEvent{Table: rec.Table(), Op: events.OpInsert, New: rec}
}

func update(old, rec models.Record) *events.ChangeEvent {
	return &events.ChangeEvent{Table: rec.Table(), Op: events.OpUpdate, Old: old, New: rec}
}

func TestEstimateTotals_MultiRowStatement(t *testing.T) {
	w := storetest.NewWorld(t)
	p := events.NewPipeline(Options(nil)...)
	owner := authz.PrincipalCaller(w.OwnerA.ID)

	estimate := &models.CostEstimate{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Name: "Shell", Total: decimal.NewFromInt(42)}
	write(t, w, p, owner, insert(estimate))
	got := w.Fetch(t, models.TableEstimates, estimate.ID).(*models.CostEstimate)
	assertDec(t, "0", got.Total)
	assert.Equal(t, 0, got.ItemCount)

	newItem := func(material, labor, markup string) *models.EstimateItem {
		return &models.EstimateItem{ID: uuid.New(), EstimateID: estimate.ID, ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, MaterialCost: d(material), LaborCost: d(labor), MarkupPercent: d(markup)}
	}
	a := newItem("100", "50", "10")
	b := newItem("200", "0", "0")
	c := newItem("10", "10", "50")
	write(t, w, p, owner, insert(a), insert(b), insert(c))

	got = w.Fetch(t, models.TableEstimates, estimate.ID).(*models.CostEstimate)
	assertDec(t, "370", got.Subtotal)
	assertDec(t, "25", got.MarkupAmount)
	assertDec(t, "395", got.Total)
	assert.Equal(t, 3, got.ItemCount)

	// tombstoned items drop out of the totals
	gone := w.Fetch(t, models.TableEstimateItems, b.ID).(*models.EstimateItem)
	now := models.Now()
	tomb := gone.Clone().(*models.EstimateItem)
	tomb.DeletedAt = &now
	write(t, w, p, owner, update(gone, tomb))

	got = w.Fetch(t, models.TableEstimates, estimate.ID).(*models.CostEstimate)
	assertDec(t, "195", got.Total)
	assert.Equal(t, 2, got.ItemCount)

	// a direct write to the estimate cannot set its totals
	forged := got.Clone().(*models.CostEstimate)
	forged.Total = decimal.NewFromInt(1)
	forged.ItemCount = 99
	write(t, w, p, owner, update(got, forged))
	got = w.Fetch(t, models.TableEstimates, estimate.ID).(*models.CostEstimate)
	assertDec(t, "195", got.Total)
	assert.Equal(t, 2, got.ItemCount)
}

func TestEstimateTotals_ItemMovedBetweenEstimates(t *testing.T) {
	w := storetest.NewWorld(t)
	p := events.NewPipeline(Options(nil)...)
	owner := authz.PrincipalCaller(w.OwnerA.ID)

	first := &models.CostEstimate{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Name: "A"}
	second := &models.CostEstimate{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Name: "B"}
	item := &models.EstimateItem{ID: uuid.New(), EstimateID: first.ID, ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, MaterialCost: d("80")}
	write(t, w, p, owner, insert(first), insert(second), insert(item))

	stored := w.Fetch(t, models.TableEstimateItems, item.ID).(*models.EstimateItem)
	moved := stored.Clone().(*models.EstimateItem)
	moved.EstimateID = second.ID
	write(t, w, p, owner, update(stored, moved))

	assertDec(t, "0", w.Fetch(t, models.TableEstimates, first.ID).(*models.CostEstimate).Total)
	assertDec(t, "80", w.Fetch(t, models.TableEstimates, second.ID).(*models.CostEstimate).Total)
}

func TestProjectAggregates(t *testing.T) {
	w := storetest.NewWorld(t)
	p := events.NewPipeline(Options(nil)...)
	owner := authz.PrincipalCaller(w.OwnerA.ID)

	txn := func(amount string) *models.CostTransaction {
		return &models.CostTransaction{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Amount: *d(amount)}
	}
	act := func(committed, completed bool) *models.ScheduleActivity {
		return &models.ScheduleActivity{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Name: "pour", Committed: committed, Completed: completed}
	}
	write(t, w, p, owner,
		insert(txn("1200.50")), insert(txn("799.50")),
		insert(act(true, true)), insert(act(true, false)), insert(act(true, true)), insert(act(true, true)),
	)

	project := w.Fetch(t, models.TableProjects, w.ProjectA.ID).(*models.Project)
	assertDec(t, "2000", project.ActualCost)
	require.NotNil(t, project.PercentPlanComplete)
	assertDec(t, "0.75", *project.PercentPlanComplete)

	// a project untouched by the statement keeps its values
	other := w.Fetch(t, models.TableProjects, w.ProjectB.ID).(*models.Project)
	assertDec(t, "0", other.ActualCost)
	assert.Nil(t, other.PercentPlanComplete)
}

func TestRFIMaintainer(t *testing.T) {
	w := storetest.NewWorld(t)
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	p := events.NewPipeline(Options(func() time.Time { return now })...)
	owner := authz.PrincipalCaller(w.OwnerA.ID)

	past := now.Add(-48 * time.Hour)
	overdue := &models.RFI{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Subject: "Rebar", Status: models.RFIOpen, Priority: models.PriorityNormal, DueDate: &past, CreatedBy: w.MemberA.ID}
	forged := &models.RFI{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Subject: "Forged", Status: models.RFIOpen, Priority: models.PriorityNormal, Escalated: true, EscalatedAt: &past}
	write(t, w, p, owner, insert(overdue), insert(forged))

	got := w.Fetch(t, models.TableRFIs, overdue.ID).(*models.RFI)
	assert.True(t, got.Escalated)
	assert.Equal(t, models.PriorityHigh, got.Priority)

	got = w.Fetch(t, models.TableRFIs, forged.ID).(*models.RFI)
	assert.False(t, got.Escalated)
	assert.Nil(t, got.EscalatedAt)

	ctx := context.Background()
	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		notes, err := store.ListAs[*models.Notification](ctx, tx, models.TableNotifications, store.Filter{TenantID: w.TenantA.ID})
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Equal(t, w.MemberA.ID, notes[0].PrincipalID)
		assert.Equal(t, models.NotifyRFIEscalated, notes[0].Kind)

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(notes[0].Payload, &payload))
		assert.Equal(t, overdue.ID.String(), payload["rfi_id"])
		return nil
	}))

	// updating an escalated RFI keeps it escalated and does not notify again
	stored := w.Fetch(t, models.TableRFIs, overdue.ID).(*models.RFI)
	edited := stored.Clone().(*models.RFI)
	edited.Subject = "Rebar spacing"
	edited.Escalated = false
	write(t, w, p, owner, update(stored, edited))

	got = w.Fetch(t, models.TableRFIs, overdue.ID).(*models.RFI)
	assert.True(t, got.Escalated)
	assert.Equal(t, models.PriorityHigh, got.Priority)
}

func newRecalculator(t *testing.T) (*Recalculator, *events.Pipeline) {
	t.Helper()
	e, err := authz.NewEvaluator(authz.NewResolver(authz.ResolverConfig{}), authz.DefaultPolicies(), nil, nil)
	require.NoError(t, err)
	p := events.NewPipeline(Options(nil)...)
	return NewRecalculator(e, p), p
}

func TestRecalculate(t *testing.T) {
	w := storetest.NewWorld(t)
	r, _ := newRecalculator(t)
	ctx := context.Background()

	// rows seeded without the pipeline carry stale aggregates
	estimate := &models.CostEstimate{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Name: "Shell", Total: decimal.NewFromInt(7)}
	item := &models.EstimateItem{ID: uuid.New(), EstimateID: estimate.ID, ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, MaterialCost: d("100"), LaborCost: d("50"), MarkupPercent: d("10")}
	ComputeItem(item)
	w.Seed(t, estimate, item, &models.CostTransaction{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Amount: *d("12")})

	t.Run("member recalculates", func(t *testing.T) {
		require.NoError(t, w.Store.Update(ctx, func(tx store.Tx) error {
			got, err := r.RecalculateEstimateTotals(ctx, tx, authz.PrincipalCaller(w.MemberA.ID), estimate.ID)
			require.NoError(t, err)
			assertDec(t, "165", got.Total)
			assert.Equal(t, 1, got.ItemCount)

			project, err := r.RecalculateProjectCost(ctx, tx, authz.PrincipalCaller(w.MemberA.ID), w.ProjectA.ID)
			require.NoError(t, err)
			assertDec(t, "12", project.ActualCost)
			return nil
		}))
	})

	t.Run("foreign tenant is unauthorized", func(t *testing.T) {
		err := w.Store.Update(ctx, func(tx store.Tx) error {
			_, err := r.RecalculateEstimateTotals(ctx, tx, authz.PrincipalCaller(w.OwnerB.ID), estimate.ID)
			return err
		})
		assert.True(t, apperrors.IsUnauthorized(err))

		err = w.Store.Update(ctx, func(tx store.Tx) error {
			_, err := r.RecalculateProjectCost(ctx, tx, authz.PrincipalCaller(w.OwnerB.ID), w.ProjectA.ID)
			return err
		})
		assert.True(t, apperrors.IsUnauthorized(err))
	})

	t.Run("missing parent", func(t *testing.T) {
		err := w.Store.Update(ctx, func(tx store.Tx) error {
			_, err := r.RecalculateEstimateTotals(ctx, tx, authz.PrincipalCaller(w.OwnerA.ID), uuid.New())
			return err
		})
		assert.True(t, apperrors.IsNotFound(err))
	})
}
