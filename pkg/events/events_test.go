package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/platinummonkey/keystone/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingAggregator struct {
	name  string
	calls map[uuid.UUID]int
	order []uuid.UUID
	err   error
}

func newCounting(name string) *countingAggregator {
	return &countingAggregator{name: name, calls: make(map[uuid.UUID]int)}
}

func (c *countingAggregator) Name() string { return c.name }

func (c *countingAggregator) Keys(evt ChangeEvent) []uuid.UUID {
	return []uuid.UUID{models.ParentOf(evt.Row())}
}

func (c *countingAggregator) Recompute(ctx context.Context, tx store.Tx, id uuid.UUID) error {
	c.calls[id]++
	c.order = append(c.order, id)
	return c.err
}

func item(estimate uuid.UUID) *models.EstimateItem {
	return &models.EstimateItem{ID: uuid.New(), EstimateID: estimate}
}

func TestStatement_FlushOncePerParent(t *testing.T) {
	agg := newCounting("estimate_totals")
	p := NewPipeline(WithAggregator(agg))
	ctx := context.Background()

	e1, e2 := uuid.New(), uuid.New()
	stmt := p.Begin()
	for _, parent := range []uuid.UUID{e1, e2, e1, e1, e2} {
		require.NoError(t, stmt.Publish(ctx, nil, ChangeEvent{Table: models.TableEstimateItems, Op: OpInsert, New: item(parent)}))
	}
	assert.Len(t, stmt.Pending(), 2)

	require.NoError(t, stmt.Flush(ctx, nil))
	assert.Equal(t, 1, agg.calls[e1])
	assert.Equal(t, 1, agg.calls[e2])
	assert.Empty(t, stmt.Pending())

	// flushing again recomputes nothing
	require.NoError(t, stmt.Flush(ctx, nil))
	assert.Len(t, agg.order, 2)
}

func TestStatement_FlushOrder(t *testing.T) {
	first := newCounting("first")
	second := newCounting("second")
	p := NewPipeline(WithAggregator(first), WithAggregator(second))

	stmt := p.Begin()
	id := uuid.New()
	stmt.Touch("second", id)
	stmt.Touch("first", id)

	keys := stmt.Pending()
	require.Len(t, keys, 2)
	assert.Equal(t, "first", keys[0].Aggregate)
	assert.Equal(t, "second", keys[1].Aggregate)
}

func TestStatement_FlushError(t *testing.T) {
	agg := newCounting("broken")
	agg.err = errors.New("boom")
	p := NewPipeline(WithAggregator(agg))

	stmt := p.Begin()
	stmt.Touch("broken", uuid.New())
	err := stmt.Flush(context.Background(), nil)
	assert.ErrorIs(t, err, agg.err)

	stmt = p.Begin()
	stmt.Touch("missing", uuid.New())
	assert.Error(t, stmt.Flush(context.Background(), nil))
}

func TestStatement_PrepareRunsTableMaintainers(t *testing.T) {
	var seen []models.Table
	record := MaintainerFunc(func(ctx context.Context, evt *ChangeEvent) error {
		seen = append(seen, evt.Table)
		return nil
	})
	p := NewPipeline(WithMaintainer(models.TableRFIs, record))
	stmt := p.Begin()
	ctx := context.Background()

	require.NoError(t, stmt.Prepare(ctx, &ChangeEvent{Table: models.TableRFIs, New: &models.RFI{}}))
	require.NoError(t, stmt.Prepare(ctx, &ChangeEvent{Table: models.TableProjects, New: &models.Project{}}))
	require.NoError(t, stmt.Prepare(ctx, &ChangeEvent{Table: models.TableRFIs, Old: &models.RFI{}}))
	assert.Equal(t, []models.Table{models.TableRFIs}, seen)
}

func TestStatement_HandlerErrorAborts(t *testing.T) {
	boom := errors.New("boom")
	var audited bool
	p := NewPipeline(
		WithHandler(HandlerFunc(func(ctx context.Context, tx store.Tx, evt ChangeEvent) error { return boom })),
		WithAudit(HandlerFunc(func(ctx context.Context, tx store.Tx, evt ChangeEvent) error {
			audited = true
			return nil
		})),
	)
	err := p.Begin().Publish(context.Background(), nil, ChangeEvent{Table: models.TableRFIs, New: &models.RFI{}})
	assert.ErrorIs(t, err, boom)
	assert.False(t, audited)
}

func TestAutoEnrollAndAudit(t *testing.T) {
	w := storetest.NewWorld(t)
	p := NewPipeline(WithHandler(AutoEnroll()), WithAudit(Audit()))
	ctx := context.Background()

	project := &models.Project{ID: uuid.New(), TenantID: w.TenantA.ID, Name: "Annex", CreatedBy: w.PMA.ID}
	evt := ChangeEvent{Table: models.TableProjects, Op: OpInsert, New: project, Caller: authz.PrincipalCaller(w.PMA.ID), At: models.Now()}

	require.NoError(t, w.Store.Update(ctx, func(tx store.Tx) error {
		require.NoError(t, tx.Insert(ctx, project))
		stmt := p.Begin()
		if err := stmt.Publish(ctx, tx, evt); err != nil {
			return err
		}
		// publishing twice does not duplicate the membership
		return stmt.Publish(ctx, tx, evt)
	}))

	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		m, err := tx.MembershipFor(ctx, project.ID, w.PMA.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ProjectRoleAdmin, m.ProjectRole)
		assert.True(t, m.CanEdit && m.CanDelete && m.CanApprove)
		assert.Equal(t, w.TenantA.ID, m.TenantID)

		entries, err := store.ListAs[*models.AuditEntry](ctx, tx, models.TableAuditLogs, store.Filter{TenantID: w.TenantA.ID})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, project.ID, entries[0].RowID)
		assert.Equal(t, models.AuditInsert, entries[0].Op)
		assert.Equal(t, w.PMA.ID, entries[0].PrincipalID)
		return nil
	}))
}

func TestAudit_SystemCaller(t *testing.T) {
	w := storetest.NewWorld(t)
	ctx := context.Background()
	rfi := &models.RFI{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID}

	require.NoError(t, w.Store.Update(ctx, func(tx store.Tx) error {
		return Audit().Handle(ctx, tx, ChangeEvent{Table: models.TableRFIs, Op: OpUpdate, Old: rfi, New: rfi, Caller: authz.SystemCaller, At: models.Now()})
	}))

	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		entries, err := store.ListAs[*models.AuditEntry](ctx, tx, models.TableAuditLogs, store.Filter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.True(t, entries[0].System)
		assert.Equal(t, uuid.Nil, entries[0].PrincipalID)
		return nil
	}))
}
