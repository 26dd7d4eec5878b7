package enrollment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/platinummonkey/keystone/pkg/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService(t *testing.T, s store.Store) (*Service, *authz.Resolver) {
	t.Helper()
	r := authz.NewResolver(authz.ResolverConfig{TTL: time.Minute})
	return NewService(s, r, nil, nil), r
}

func notificationsFor(t *testing.T, w *storetest.World, p *models.Principal) []*models.Notification {
	t.Helper()
	ctx := context.Background()
	var out []*models.Notification
	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		all, err := store.ListAs[*models.Notification](ctx, tx, models.TableNotifications, store.Filter{})
		for _, n := range all {
			if n.PrincipalID == p.ID {
				out = append(out, n)
			}
		}
		return err
	}))
	return out
}

func TestEnroll_NewCompanyMakesOwner(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)

	res, err := svc.Enroll(context.Background(), IdentityEvent{Subject: "auth0|new", Email: "new@example.com", CompanyName: "  Northwind Steel "})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOwner, res.Outcome)
	require.NotNil(t, res.Tenant)
	assert.Equal(t, "Northwind Steel", res.Tenant.Name)
	assert.Equal(t, "northwind steel", res.Tenant.NormalizedName)

	p := res.Principal
	assert.Equal(t, models.RoleOwner, p.Role)
	assert.Equal(t, models.ApprovalApproved, p.ApprovalStatus)
	assert.True(t, p.IsActive)
	assert.NotNil(t, p.ApprovedAt)
	assert.Equal(t, res.Tenant.ID, p.TenantRef())
}

func TestEnroll_Idempotent(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	ctx := context.Background()
	evt := IdentityEvent{Subject: "auth0|dup", CompanyName: "Dup Co"}

	first, err := svc.Enroll(ctx, evt)
	require.NoError(t, err)

	_, err = svc.Enroll(ctx, evt)
	assert.True(t, apperrors.IsConflictIgnored(err))

	// the seeded principals are enrolled too
	_, err = svc.Enroll(ctx, IdentityEvent{Subject: w.OwnerA.IdentityKey, CompanyName: "Anything"})
	assert.True(t, apperrors.IsConflictIgnored(err))

	got := w.Fetch(t, models.TablePrincipals, first.Principal.ID).(*models.Principal)
	assert.Equal(t, models.RoleOwner, got.Role)

	// a replayed event leaves exactly one principal and one tenant behind
	_, err = svc.Enroll(ctx, evt)
	assert.True(t, apperrors.IsConflictIgnored(err))
	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		principals, err := store.ListAs[*models.Principal](ctx, tx, models.TablePrincipals, store.Filter{IncludeDeleted: true})
		require.NoError(t, err)
		matching := 0
		for _, p := range principals {
			if p.IdentityKey == evt.Subject {
				matching++
			}
		}
		assert.Equal(t, 1, matching)

		tenants, err := store.ListAs[*models.Tenant](ctx, tx, models.TableTenants, store.Filter{IncludeDeleted: true})
		require.NoError(t, err)
		matching = 0
		for _, tenant := range tenants {
			if tenant.NormalizedName == "dup co" {
				matching++
			}
		}
		assert.Equal(t, 1, matching)
		return nil
	}))
}

func TestEnroll_JoinExistingTenant(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)

	res, err := svc.Enroll(context.Background(), IdentityEvent{Subject: "auth0|joiner", Email: "j@example.com", CompanyName: "ACME builders  "})
	require.NoError(t, err)
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, w.TenantA.ID, res.Tenant.ID)

	p := res.Principal
	assert.Equal(t, models.RoleFieldEmployee, p.Role)
	assert.Equal(t, models.ApprovalPending, p.ApprovalStatus)
	assert.False(t, p.IsActive)
	assert.Nil(t, p.ApprovedAt)

	notes := notificationsFor(t, w, w.OwnerA)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotifyApprovalRequested, notes[0].Kind)
	assert.Empty(t, notificationsFor(t, w, w.MemberA))
	assert.Empty(t, notificationsFor(t, w, w.OwnerB))
}

func TestEnroll_DeletedTenantIsNotJoined(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	ctx := context.Background()

	now := models.Now()
	closed := w.TenantA.Clone().(*models.Tenant)
	closed.DeletedAt = &now
	require.NoError(t, w.Store.Update(ctx, func(tx store.Tx) error { return tx.Update(ctx, closed) }))

	res, err := svc.Enroll(ctx, IdentityEvent{Subject: "auth0|late", CompanyName: "Acme Builders"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOnboarding, res.Outcome)
	assert.Nil(t, res.Tenant)
	assert.Nil(t, res.Principal.TenantID)
	assert.Equal(t, models.ApprovalPending, res.Principal.ApprovalStatus)
	assert.Empty(t, notificationsFor(t, w, w.OwnerA))
}

func TestEnroll_NoCompanyIsOnboarding(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)

	res, err := svc.Enroll(context.Background(), IdentityEvent{Subject: "auth0|solo", CompanyName: "   "})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOnboarding, res.Outcome)
	assert.Nil(t, res.Tenant)
	assert.Nil(t, res.Principal.TenantID)
	assert.Equal(t, models.ApprovalPending, res.Principal.ApprovalStatus)
}

func TestEnroll_RequiresSubject(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)

	_, err := svc.Enroll(context.Background(), IdentityEvent{Subject: " ", CompanyName: "X"})
	assert.True(t, apperrors.IsValidation(err))
}

// racyStore hides existing tenants from the first unit of work, as if a
// concurrent enrollment committed the same company between the lookup and
// the insert.
type racyStore struct {
	store.Store
	calls atomic.Int32
}

type hidingTx struct{ store.Tx }

func (hidingTx) GetTenantByNormalizedName(ctx context.Context, normalized string) (*models.Tenant, error) {
	return nil, store.ErrNotFound
}

func (r *racyStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	if r.calls.Add(1) == 1 {
		return r.Store.Update(ctx, func(tx store.Tx) error { return fn(hidingTx{tx}) })
	}
	return r.Store.Update(ctx, fn)
}

func TestEnroll_TenantRaceJoinsWinner(t *testing.T) {
	w := storetest.NewWorld(t)
	racy := &racyStore{Store: w.Store}
	svc, _ := newService(t, racy)

	res, err := svc.Enroll(context.Background(), IdentityEvent{Subject: "auth0|loser", CompanyName: "Acme Builders"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), racy.calls.Load())
	assert.Equal(t, OutcomePending, res.Outcome)
	assert.Equal(t, w.TenantA.ID, res.Principal.TenantRef())
}

func TestApprove(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, resolver := newService(t, w.Store)
	ctx := context.Background()

	// warm the cache with the pending attributes
	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		attrs, err := resolver.Resolve(ctx, tx, w.PendingA.ID)
		assert.False(t, attrs.CanWrite())
		return err
	}))

	p, err := svc.Approve(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.PendingA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalApproved, p.ApprovalStatus)
	assert.True(t, p.IsActive)
	require.NotNil(t, p.ApprovedBy)
	assert.Equal(t, w.OwnerA.ID, *p.ApprovedBy)
	assert.NotNil(t, p.ApprovedAt)

	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		attrs, err := resolver.Resolve(ctx, tx, w.PendingA.ID)
		assert.True(t, attrs.CanWrite(), "cache invalidated on approval")
		return err
	}))

	notes := notificationsFor(t, w, w.PendingA)
	require.Len(t, notes, 1)
	assert.Equal(t, models.NotifyEnrollmentDecided, notes[0].Kind)

	_, err = svc.Approve(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.PendingA.ID)
	assert.True(t, apperrors.IsValidation(err))
}

func TestTransitions_ActorChecks(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor authz.Caller
		check func(error) bool
	}{
		{"anonymous", authz.Anonymous, apperrors.IsUnauthorized},
		{"field employee", authz.PrincipalCaller(w.MemberA.ID), apperrors.IsPermissionDenied},
		{"pending principal", authz.PrincipalCaller(w.PendingA.ID), apperrors.IsPermissionDenied},
		{"owner of another tenant", authz.PrincipalCaller(w.OwnerB.ID), apperrors.IsPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Approve(ctx, tt.actor, w.PendingA.ID)
			assert.True(t, tt.check(err), "unexpected error: %v", err)
		})
	}

	got := w.Fetch(t, models.TablePrincipals, w.PendingA.ID).(*models.Principal)
	assert.Equal(t, models.ApprovalPending, got.ApprovalStatus)
}

func TestRejectAndReopen(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	ctx := context.Background()
	owner := authz.PrincipalCaller(w.OwnerA.ID)

	_, err := svc.Reopen(ctx, owner, w.PendingA.ID)
	assert.True(t, apperrors.IsValidation(err))

	p, err := svc.Reject(ctx, owner, w.PendingA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalRejected, p.ApprovalStatus)
	assert.False(t, p.IsActive)

	_, err = svc.Approve(ctx, owner, w.PendingA.ID)
	assert.True(t, apperrors.IsValidation(err), "rejected is terminal until reopened")

	p, err = svc.Reopen(ctx, owner, w.PendingA.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalPending, p.ApprovalStatus)

	_, err = svc.Approve(ctx, owner, w.PendingA.ID)
	require.NoError(t, err)
}

func TestSetRole(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	ctx := context.Background()

	p, err := svc.SetRole(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.MemberA.ID, models.RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)

	// the new admin manages others but cannot mint owners
	admin := authz.PrincipalCaller(w.MemberA.ID)
	_, err = svc.SetRole(ctx, admin, w.OutsiderA.ID, models.RoleProjectManager)
	require.NoError(t, err)
	_, err = svc.SetRole(ctx, admin, w.OutsiderA.ID, models.RoleOwner)
	assert.True(t, apperrors.IsPermissionDenied(err))
	_, err = svc.SetRole(ctx, admin, w.OwnerA.ID, models.RoleClient)
	assert.True(t, apperrors.IsPermissionDenied(err))

	_, err = svc.SetRole(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.OwnerA.ID, models.RoleAdmin)
	assert.True(t, apperrors.IsValidation(err))

	_, err = svc.SetRole(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.MemberA.ID, models.Role("superuser"))
	assert.True(t, apperrors.IsValidation(err))
}

func TestSoftDelete(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	ctx := context.Background()

	p, err := svc.SoftDelete(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.OutsiderA.ID)
	require.NoError(t, err)
	assert.NotNil(t, p.DeletedAt)

	// the row is still there, tombstoned
	got := w.Fetch(t, models.TablePrincipals, w.OutsiderA.ID).(*models.Principal)
	assert.NotNil(t, got.DeletedAt)

	_, err = svc.SoftDelete(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.OutsiderA.ID)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.SoftDelete(ctx, authz.PrincipalCaller(w.OwnerA.ID), w.OwnerA.ID)
	assert.True(t, apperrors.IsValidation(err))
}

// flakyStore fails its first n units of work.
type flakyStore struct {
	store.Store
	failures atomic.Int32
}

func (f *flakyStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	if f.failures.Add(-1) >= 0 {
		return errors.New("connection reset")
	}
	return f.Store.Update(ctx, fn)
}

func TestHook_RetriesInBackground(t *testing.T) {
	w := storetest.NewWorld(t)
	flaky := &flakyStore{Store: w.Store}
	flaky.failures.Store(2)
	svc, _ := newService(t, flaky)
	hook := NewHook(svc, 5, time.Millisecond)

	hook.OnIdentityCreated(context.Background(), IdentityEvent{Subject: "auth0|late", CompanyName: "Late Co"})
	hook.Wait()

	ctx := context.Background()
	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		p, err := tx.GetPrincipalByIdentity(ctx, "auth0|late")
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, p.Role)
		return nil
	}))
}

// panickyStore panics on its first unit of work.
type panickyStore struct {
	store.Store
	panicked atomic.Bool
}

func (p *panickyStore) Update(ctx context.Context, fn func(store.Tx) error) error {
	if p.panicked.CompareAndSwap(false, true) {
		panic("nil map write")
	}
	return p.Store.Update(ctx, fn)
}

func TestHook_RecoversPanic(t *testing.T) {
	w := storetest.NewWorld(t)
	panicky := &panickyStore{Store: w.Store}
	svc, _ := newService(t, panicky)
	hook := NewHook(svc, 3, time.Millisecond)

	assert.NotPanics(t, func() {
		hook.OnIdentityCreated(context.Background(), IdentityEvent{Subject: "auth0|boom", CompanyName: "Boom Co"})
	})
	hook.Wait()
	assert.True(t, panicky.panicked.Load())

	ctx := context.Background()
	require.NoError(t, w.Store.View(ctx, func(tx store.Tx) error {
		p, err := tx.GetPrincipalByIdentity(ctx, "auth0|boom")
		require.NoError(t, err)
		assert.Equal(t, models.RoleOwner, p.Role)
		return nil
	}))
}

func TestHook_SwallowsDuplicateAndInvalid(t *testing.T) {
	w := storetest.NewWorld(t)
	svc, _ := newService(t, w.Store)
	hook := NewHook(svc, 3, time.Millisecond)

	hook.OnIdentityCreated(context.Background(), IdentityEvent{Subject: w.OwnerA.IdentityKey})
	hook.OnIdentityCreated(context.Background(), IdentityEvent{Subject: ""})
	hook.Wait()
}
