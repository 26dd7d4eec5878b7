package shares

import (
	"context"
	"encoding/json"
	"strings"
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

func newService(t *testing.T, w *storetest.World) *Service {
	t.Helper()
	e, err := authz.NewEvaluator(authz.NewResolver(authz.ResolverConfig{}), authz.DefaultPolicies(), nil, nil)
	require.NoError(t, err)
	return NewService(w.Store, e, 24*time.Hour, nil, nil)
}

func TestToken(t *testing.T) {
	a, err := NewToken()
	require.NoError(t, err)
	b, err := NewToken()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, TokenPrefix))
	assert.NotEqual(t, a, b)
	assert.True(t, WellFormed(a))

	assert.False(t, WellFormed(""))
	assert.False(t, WellFormed("ks_"))
	assert.False(t, WellFormed(strings.TrimPrefix(a, TokenPrefix)))
	assert.False(t, WellFormed("ks_not*base64"))
	assert.False(t, WellFormed(a+"AA"))
}

func TestCreateAndResolveProject(t *testing.T) {
	w := storetest.NewWorld(t)
	svc := newService(t, w)
	ctx := context.Background()

	share, err := svc.Create(ctx, authz.PrincipalCaller(w.MemberA.ID), ShareRequest{ResourceTable: models.TableProjects, ResourceID: w.ProjectA.ID})
	require.NoError(t, err)
	assert.True(t, WellFormed(share.Token))
	assert.Equal(t, w.ProjectA.ID, share.ProjectID)
	assert.Equal(t, w.TenantA.ID, share.TenantID)
	require.NotNil(t, share.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), *share.ExpiresAt, time.Minute)

	res, err := svc.Resolve(ctx, share.Token)
	require.NoError(t, err)
	project := res.Resource.(*models.Project)
	assert.Equal(t, "Harbor Tower", project.Name)
	assert.Nil(t, project.Budget, "budget hidden by default portal settings")
	assert.Empty(t, res.Share.Token)
	assert.Equal(t, int64(1), res.Share.ViewCount)

	// hidden money is absent from the payload rather than zero
	body, err := json.Marshal(res)
	require.NoError(t, err)
	var payload map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.NotContains(t, payload["resource"], "actual_cost")
	assert.NotContains(t, payload["resource"], "budget")
	assert.Equal(t, "Harbor Tower", payload["resource"]["name"])
	assert.NotContains(t, payload["share"], "token")

	_, err = svc.Resolve(ctx, share.Token)
	require.NoError(t, err)
	stored := w.Fetch(t, models.TableReportShares, share.ID).(*models.ReportShare)
	assert.Equal(t, int64(2), stored.ViewCount)
	assert.NotNil(t, stored.LastViewedAt)
}

func TestResolve_PortalSettings(t *testing.T) {
	w := storetest.NewWorld(t)
	svc := newService(t, w)
	ctx := context.Background()

	estimate := &models.CostEstimate{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, Name: "Shell"}
	w.Seed(t, estimate)

	share, err := svc.Create(ctx, authz.PrincipalCaller(w.OwnerA.ID), ShareRequest{ResourceTable: models.TableEstimates, ResourceID: estimate.ID})
	require.NoError(t, err)

	_, err = svc.Resolve(ctx, share.Token)
	assert.True(t, apperrors.IsNotFound(err), "costs are hidden by default")

	settings := models.DefaultPortalSettings(w.ProjectA.ID, w.TenantA.ID)
	settings.ShowBudget = true
	w.Seed(t, settings)

	res, err := svc.Resolve(ctx, share.Token)
	require.NoError(t, err)
	assert.Equal(t, estimate.ID, res.Resource.RecordID())
	assert.True(t, res.Settings.ShowBudget)
}

func TestResolve_InvalidTokens(t *testing.T) {
	w := storetest.NewWorld(t)
	svc := newService(t, w)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "garbage")
	assert.True(t, apperrors.IsInvalidToken(err))

	unknown, err := NewToken()
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, unknown)
	assert.True(t, apperrors.IsInvalidToken(err))

	share, err := svc.Create(ctx, authz.PrincipalCaller(w.OwnerA.ID), ShareRequest{ResourceTable: models.TableProjects, ResourceID: w.ProjectA.ID, TTL: time.Hour})
	require.NoError(t, err)

	svc.clock = func() time.Time { return models.Now().Add(2 * time.Hour) }
	_, err = svc.Resolve(ctx, share.Token)
	assert.True(t, apperrors.IsInvalidToken(err), "expired")
	svc.clock = models.Now

	_, err = svc.Revoke(ctx, authz.PrincipalCaller(w.OwnerA.ID), share.ID)
	require.NoError(t, err)
	_, err = svc.Resolve(ctx, share.Token)
	assert.True(t, apperrors.IsInvalidToken(err), "revoked")
}

func TestCreate_Authorization(t *testing.T) {
	w := storetest.NewWorld(t)
	svc := newService(t, w)
	ctx := context.Background()
	req := ShareRequest{ResourceTable: models.TableProjects, ResourceID: w.ProjectA.ID}

	_, err := svc.Create(ctx, authz.PrincipalCaller(w.OwnerB.ID), req)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Create(ctx, authz.PrincipalCaller(w.OutsiderA.ID), req)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Create(ctx, authz.PrincipalCaller(w.ClientA.ID), req)
	assert.True(t, apperrors.IsPermissionDenied(err))

	_, err = svc.Create(ctx, authz.PrincipalCaller(w.OwnerA.ID), ShareRequest{ResourceTable: models.TablePrincipals, ResourceID: w.OwnerA.ID})
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.Create(ctx, authz.PrincipalCaller(w.OwnerA.ID), ShareRequest{ResourceTable: models.TableProjects, ResourceID: uuid.New()})
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRevoke_Authorization(t *testing.T) {
	w := storetest.NewWorld(t)
	svc := newService(t, w)
	ctx := context.Background()

	share, err := svc.Create(ctx, authz.PrincipalCaller(w.MemberA.ID), ShareRequest{ResourceTable: models.TableProjects, ResourceID: w.ProjectA.ID})
	require.NoError(t, err)

	_, err = svc.Revoke(ctx, authz.PrincipalCaller(w.OwnerB.ID), share.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Revoke(ctx, authz.PrincipalCaller(w.ClientA.ID), share.ID)
	assert.True(t, apperrors.IsPermissionDenied(err))

	revoked, err := svc.Revoke(ctx, authz.PrincipalCaller(w.MemberA.ID), share.ID)
	require.NoError(t, err)
	assert.NotNil(t, revoked.RevokedAt)

	again, err := svc.Revoke(ctx, authz.PrincipalCaller(w.MemberA.ID), share.ID)
	require.NoError(t, err)
	assert.Equal(t, revoked.RevokedAt, again.RevokedAt)
}

func TestRedact(t *testing.T) {
	planned := time.Now()
	project := &models.Project{Name: "P", PlannedEnd: &planned}
	settings := &models.PortalSettings{ShowBudget: true}

	out := Redact(project, settings).(*models.Project)
	assert.Nil(t, out.PlannedEnd)
	assert.NotNil(t, project.PlannedEnd, "original untouched")
	assert.Equal(t, []string{"planned_end", "forecast_end", "percent_plan_complete"}, Withheld(project, settings))
	assert.Equal(t, []string{"budget", "actual_cost", "planned_end", "forecast_end", "percent_plan_complete"}, Withheld(project, &models.PortalSettings{}))
	assert.Nil(t, Withheld(&models.RFI{}, &models.PortalSettings{}))

	assert.False(t, Visible(models.TableRFIs, settings))
	assert.True(t, Visible(models.TableEstimateItems, settings))
	assert.False(t, Visible(models.TableAuditLogs, &models.PortalSettings{ShowBudget: true, ShowSchedule: true, ShowRFIs: true, ShowDocuments: true}))
}
