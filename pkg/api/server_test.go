package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/access"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/enrollment"
	"github.com/platinummonkey/keystone/pkg/health"
	"github.com/platinummonkey/keystone/pkg/httputil"
	"github.com/platinummonkey/keystone/pkg/middleware"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/platinummonkey/keystone/pkg/shares"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/platinummonkey/keystone/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hookSecret = "hook-secret"

// tokenVerifier treats the bearer token as the identity subject.
type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, raw string) (string, error) {
	if raw == "forged" {
		return "", errors.New("bad signature")
	}
	return raw, nil
}

func newTestServer(t *testing.T) (*storetest.World, *Server) {
	t.Helper()
	w := storetest.NewWorld(t)
	resolver := authz.NewResolver(authz.ResolverConfig{})
	e, err := authz.NewEvaluator(resolver, authz.DefaultPolicies(), nil, nil)
	require.NoError(t, err)

	gateway := access.NewGateway(w.Store, e, access.DefaultPipeline(nil, nil, nil))
	enroll := enrollment.NewService(w.Store, resolver, nil, nil)
	srv := NewServer(Services{
		Gateway:    gateway,
		Enrollment: enroll,
		Hook:       enrollment.NewHook(enroll, 1, time.Millisecond),
		Shares:     shares.NewService(w.Store, e, 24*time.Hour, nil, nil),
		Health:     health.NewService(w.Store, e, nil, nil),
	}, Options{
		Auth:         middleware.NewAuthenticator(w.Store, tokenVerifier{}, false, nil),
		HookSecret:   hookSecret,
		ShareLimiter: middleware.NewRateLimiter(&middleware.RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}),
	})
	return w, srv
}

// do sends a request as the principal whose identity key is as; an empty
// as sends no credentials.
func do(t *testing.T, srv http.Handler, method, path, as string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if as != "" {
		r.Header.Set("Authorization", "Bearer "+as)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, r)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Code
}

func TestEstimateLifecycle(t *testing.T) {
	w, srv := newTestServer(t)
	member := w.MemberA.IdentityKey

	rec := do(t, srv, http.MethodPost, "/estimates", member, map[string]interface{}{
		"project_id": w.ProjectA.ID,
		"company_id": w.TenantB.ID,
		"name":       "Foundation",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	estimate := decode(t, rec)
	assert.Equal(t, w.TenantA.ID.String(), estimate["company_id"], "tenant comes from the project")
	estimateID := estimate["id"].(string)

	rec = do(t, srv, http.MethodPost, "/estimates/"+estimateID+"/items", member, map[string]interface{}{
		"description":    "Formwork",
		"material_cost":  "100",
		"labor_cost":     "50",
		"markup_percent": "10",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode(t, rec)
	assert.Equal(t, "165", item["total"])
	itemID := item["id"].(string)

	rec = do(t, srv, http.MethodGet, "/estimates/"+estimateID, member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "150", got["subtotal"])
	assert.Equal(t, "15", got["markup_amount"])
	assert.Equal(t, "165", got["total"])
	assert.Len(t, got["items"], 1)

	rec = do(t, srv, http.MethodPut, "/estimate-items/"+itemID, member, map[string]interface{}{
		"estimate_id":   estimateID,
		"description":   "Formwork",
		"material_cost": "200",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "200", decode(t, rec)["total"])

	rec = do(t, srv, http.MethodPost, "/estimates/"+estimateID+"/recalculate", member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "200", decode(t, rec)["total"])

	rec = do(t, srv, http.MethodDelete, "/estimate-items/"+itemID, member, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, srv, http.MethodGet, "/estimates/"+estimateID, member, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got = decode(t, rec)
	assert.Equal(t, "0", got["total"])
	assert.Empty(t, got["items"])

	rec = do(t, srv, http.MethodGet, "/estimate_items/"+itemID+"/history", w.OwnerA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var history []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 3)

	// the trail of another tenant's row looks exactly like an unknown row
	rec = do(t, srv, http.MethodGet, "/estimate_items/"+itemID+"/history", w.OwnerB.IdentityKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/estimate_items/"+uuid.NewString()+"/history", w.OwnerB.IdentityKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, srv, http.MethodGet, "/estimate_items/"+itemID+"/history", member, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMoneyRoundedForPresentation(t *testing.T) {
	w, srv := newTestServer(t)
	owner := w.OwnerA.IdentityKey

	rec := do(t, srv, http.MethodPost, "/estimates", owner, map[string]interface{}{
		"project_id": w.ProjectA.ID,
		"name":       "Fractions",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	estimateID := decode(t, rec)["id"].(string)

	rec = do(t, srv, http.MethodPost, "/estimates/"+estimateID+"/items", owner, map[string]interface{}{
		"description":   "Rebar ties",
		"material_cost": "10.005",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	item := decode(t, rec)
	assert.Equal(t, "10.01", item["total"])
	assert.Equal(t, "10.005", item["material_cost"], "inputs echo as sent")

	rec = do(t, srv, http.MethodGet, "/estimates/"+estimateID, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, "10.01", got["subtotal"])
	assert.Equal(t, "10.01", got["total"])

	// storage keeps full precision
	itemID := uuid.MustParse(item["id"].(string))
	stored := w.Fetch(t, models.TableEstimateItems, itemID).(*models.EstimateItem)
	assert.Equal(t, "10.005", stored.Total.String())

	rec = do(t, srv, http.MethodPost, "/cost-transactions", owner, map[string]interface{}{
		"project_id":  w.ProjectA.ID,
		"amount":      "12.345",
		"description": "Delivery",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "12.35", decode(t, rec)["amount"])

	rec = do(t, srv, http.MethodGet, "/projects/"+w.ProjectA.ID.String(), owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "12.35", decode(t, rec)["actual_cost"])
	assert.Equal(t, "12.345", w.Fetch(t, models.TableProjects, w.ProjectA.ID).(*models.Project).ActualCost.String())
}

func TestTenantIsolation(t *testing.T) {
	w, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/estimates", w.MemberA.IdentityKey, map[string]interface{}{
		"project_id": w.ProjectA.ID,
		"name":       "Shell",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	estimateID := decode(t, rec)["id"].(string)

	foreign := w.OwnerB.IdentityKey
	rec = do(t, srv, http.MethodGet, "/estimates/"+estimateID, foreign, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, errorCode(t, rec))

	rec = do(t, srv, http.MethodPost, "/estimates/"+estimateID+"/recalculate", foreign, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, apperrors.CodeUnauthorized, errorCode(t, rec))

	rec = do(t, srv, http.MethodGet, "/projects", foreign, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var projects []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &projects))
	require.Len(t, projects, 1)
	assert.Equal(t, w.ProjectB.ID.String(), projects[0]["id"])

	rec = do(t, srv, http.MethodPost, "/rfis", foreign, map[string]interface{}{
		"project_id": w.ProjectA.ID,
		"subject":    "Rebar spacing",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuthentication(t *testing.T) {
	w, srv := newTestServer(t)

	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/me", "forged", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, srv, http.MethodGet, "/me", "never-enrolled", nil).Code)

	rec := do(t, srv, http.MethodGet, "/me", w.MemberA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode(t, rec)
	assert.Equal(t, w.MemberA.ID.String(), me["id"])
	assert.NotContains(t, me, "identity_key")
	assert.NotEmpty(t, rec.Header().Get(httputil.RequestIDHeader))

	rec = do(t, srv, http.MethodGet, "/tenants/"+w.TenantA.ID.String(), w.MemberA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Acme Builders", decode(t, rec)["name"])

	rec = do(t, srv, http.MethodGet, "/tenants/"+w.TenantB.ID.String(), w.MemberA.IdentityKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/tenants/not-a-uuid", w.MemberA.IdentityKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIdentityHookAndApproval(t *testing.T) {
	w, srv := newTestServer(t)
	evt := enrollment.IdentityEvent{Subject: "auth0|newhire", Email: "newhire@example.com", CompanyName: "acme builders"}

	rec := do(t, srv, http.MethodPost, "/hooks/identity-created", "", evt)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "hook secret required")

	body, err := json.Marshal(evt)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, "/hooks/identity-created", bytes.NewReader(body))
	r.Header.Set(middleware.HookSecretHeader, hookSecret)
	hook := httptest.NewRecorder()
	srv.ServeHTTP(hook, r)
	require.Equal(t, http.StatusAccepted, hook.Code)

	var joiner *models.Principal
	require.NoError(t, w.Store.View(context.Background(), func(tx store.Tx) error {
		joiner, err = tx.GetPrincipalByIdentity(context.Background(), "auth0|newhire")
		return err
	}))
	assert.Equal(t, models.ApprovalPending, joiner.ApprovalStatus)
	assert.Equal(t, w.TenantA.ID, joiner.TenantRef())

	path := "/principals/" + joiner.ID.String()
	rec = do(t, srv, http.MethodPost, path+"/approve", w.MemberA.IdentityKey, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, srv, http.MethodPost, path+"/approve", w.OwnerA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.ApprovalApproved), decode(t, rec)["approval_status"])

	rec = do(t, srv, http.MethodPut, path+"/role", w.OwnerA.IdentityKey, SetRoleRequest{Role: models.RoleProjectManager})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, string(models.RoleProjectManager), decode(t, rec)["role"])

	rec = do(t, srv, http.MethodPut, path+"/role", w.OwnerA.IdentityKey, SetRoleRequest{Role: "superuser"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// the approved joiner can now create projects as a project manager
	rec = do(t, srv, http.MethodPost, "/projects", "auth0|newhire", map[string]interface{}{"name": "Pier 9", "status": "active"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	project := decode(t, rec)
	assert.Equal(t, w.TenantA.ID.String(), project["company_id"])

	rec = do(t, srv, http.MethodGet, "/projects/"+project["id"].(string), "auth0|newhire", nil)
	assert.Equal(t, http.StatusOK, rec.Code, "creator is enrolled on their project")
}

func TestShares(t *testing.T) {
	w, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/shares", w.MemberA.IdentityKey, CreateShareRequest{
		ResourceTable: models.TableProjects,
		ResourceID:    w.ProjectA.ID,
		ExpiresIn:     "1h",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	share := decode(t, rec)
	token := share["token"].(string)
	require.True(t, shares.WellFormed(token))

	rec = do(t, srv, http.MethodGet, "/shared/"+token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resolved := decode(t, rec)
	resource := resolved["resource"].(map[string]interface{})
	assert.Equal(t, "Harbor Tower", resource["name"])
	assert.NotContains(t, resource, "budget", "budget hidden by default")
	assert.NotContains(t, resource, "actual_cost")

	rec = do(t, srv, http.MethodGet, "/shared/ks_unknown", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidToken, errorCode(t, rec))

	rec = do(t, srv, http.MethodPost, "/shares", w.MemberA.IdentityKey, CreateShareRequest{
		ResourceTable: models.TableProjects,
		ResourceID:    w.ProjectA.ID,
		ExpiresIn:     "soon",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodDelete, "/shares/"+share["id"].(string), w.MemberA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/shared/"+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "revoked")

	// the limiter allows three anonymous resolutions per minute
	rec = do(t, srv, http.MethodGet, "/shared/"+token, "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestProjectHealth(t *testing.T) {
	w, srv := newTestServer(t)
	path := "/projects/" + w.ProjectA.ID.String() + "/health"

	rec := do(t, srv, http.MethodGet, path, w.MemberA.IdentityKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, path+"?refresh=true", w.MemberA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, w.ProjectA.ID.String(), decode(t, rec)["project_id"])

	rec = do(t, srv, http.MethodGet, path, w.MemberA.IdentityKey, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, path, w.OwnerB.IdentityKey, nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/projects/"+w.ProjectA.ID.String()+"/recalculate", w.MemberA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/projects/"+uuid.NewString()+"/recalculate", w.MemberA.IdentityKey, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOpsHandler(t *testing.T) {
	h := OpsHandler(observability.NewHealthChecker("test"), nil)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditExport(t *testing.T) {
	w, srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/rfis", w.MemberA.IdentityKey, map[string]interface{}{
		"project_id": w.ProjectA.ID,
		"subject":    "Rebar spacing",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rfiID := decode(t, rec)["id"].(string)

	rec = do(t, srv, http.MethodGet, "/audit-logs?table=rfis&format=csv", w.OwnerA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/csv", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], rfiID)
	assert.Contains(t, lines[1], w.MemberA.ID.String())

	// the audit trail is for tenant admins only
	rec = do(t, srv, http.MethodGet, "/audit-logs", w.MemberA.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/audit-logs", w.OwnerB.IdentityKey, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), rfiID)

	rec = do(t, srv, http.MethodGet, "/audit-logs?format=xml", w.OwnerA.IdentityKey, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
