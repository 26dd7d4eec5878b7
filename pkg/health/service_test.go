package health

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, w *storetest.World, now time.Time) *Service {
	t.Helper()
	e, err := authz.NewEvaluator(authz.NewResolver(authz.ResolverConfig{}), authz.DefaultPolicies(), nil, nil)
	require.NoError(t, err)
	return NewService(w.Store, e, nil, func() time.Time { return now })
}

func TestService_Compute(t *testing.T) {
	w := storetest.NewWorld(t)
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, w, now)

	w.Seed(t,
		&models.SafetyIncident{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Severity: models.SeverityRecordable, OccurredAt: now.Add(-10 * 24 * time.Hour)},
		// outside the window
		&models.SafetyIncident{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Severity: models.SeverityLostTime, OccurredAt: now.Add(-200 * 24 * time.Hour)},
		&models.PunchItem{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Title: "paint", Status: models.PunchClosed},
		&models.PunchItem{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Title: "trim", Status: models.PunchOpen},
	)

	snap, err := svc.Compute(context.Background(), authz.PrincipalCaller(w.MemberA.ID), w.ProjectA.ID)
	require.NoError(t, err)
	assertScore(t, "100", snap.BudgetScore)
	assertScore(t, "85", snap.SafetyScore)
	assertScore(t, "50", snap.QualityScore)
	// 40 + 40 + 8.5 + 5
	assertScore(t, "93.5", snap.Overall)
	assert.Equal(t, now, snap.ComputedAt)

	latest, err := svc.Latest(context.Background(), authz.PrincipalCaller(w.OwnerA.ID), w.ProjectA.ID)
	require.NoError(t, err)
	assert.True(t, snap.Overall.Equal(latest.Overall))

	// recompute replaces the snapshot
	_, err = svc.Compute(context.Background(), authz.SystemCaller, w.ProjectA.ID)
	require.NoError(t, err)
}

func TestService_Isolation(t *testing.T) {
	w := storetest.NewWorld(t)
	svc := newService(t, w, models.Now())
	ctx := context.Background()

	_, err := svc.Compute(ctx, authz.PrincipalCaller(w.OwnerB.ID), w.ProjectA.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Compute(ctx, authz.PrincipalCaller(w.OwnerA.ID), uuid.New())
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Compute(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.ProjectA.ID)
	require.NoError(t, err)

	_, err = svc.Latest(ctx, authz.PrincipalCaller(w.OwnerB.ID), w.ProjectA.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Latest(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.ProjectB.ID)
	assert.True(t, apperrors.IsNotFound(err))
}
