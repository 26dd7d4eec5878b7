// Package storetest seeds a memory store with two tenants for tests of the
// layers above the store.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/platinummonkey/keystone/pkg/store/memory"
	"github.com/shopspring/decimal"
)

// World is a seeded store.
//
// Tenant A has one project, ProjectA, with these principals:
//
//	OwnerA     owner, approved
//	PMA        project_manager, approved, no membership
//	MemberA    field_employee, approved, member with CanEdit
//	OutsiderA  field_employee, approved, no membership
//	ClientA    client, approved, member with CanEdit
//	PendingA   field_employee, pending, inactive
//
// Tenant B has OwnerB and ProjectB.
type World struct {
	Store *memory.Store

	TenantA *models.Tenant
	TenantB *models.Tenant

	OwnerA    *models.Principal
	PMA       *models.Principal
	MemberA   *models.Principal
	OutsiderA *models.Principal
	ClientA   *models.Principal
	PendingA  *models.Principal
	OwnerB    *models.Principal

	ProjectA *models.Project
	ProjectB *models.Project

	MembershipA *models.Membership
}

// NewWorld builds and seeds a World.
func NewWorld(t testing.TB) *World {
	t.Helper()

	s, err := memory.New()
	if err != nil {
		t.Fatalf("failed to create memory store: %v", err)
	}

	now := models.Now()
	w := &World{Store: s}

	w.TenantA = &models.Tenant{ID: uuid.New(), Name: "Acme Builders", NormalizedName: "acme builders", CreatedAt: now, UpdatedAt: now}
	w.TenantB = &models.Tenant{ID: uuid.New(), Name: "Bolt Construction", NormalizedName: "bolt construction", CreatedAt: now, UpdatedAt: now}

	w.OwnerA = principal(w.TenantA.ID, "owner-a", models.RoleOwner, true)
	w.PMA = principal(w.TenantA.ID, "pm-a", models.RoleProjectManager, true)
	w.MemberA = principal(w.TenantA.ID, "member-a", models.RoleFieldEmployee, true)
	w.OutsiderA = principal(w.TenantA.ID, "outsider-a", models.RoleFieldEmployee, true)
	w.ClientA = principal(w.TenantA.ID, "client-a", models.RoleClient, true)
	w.PendingA = principal(w.TenantA.ID, "pending-a", models.RoleFieldEmployee, false)
	w.OwnerB = principal(w.TenantB.ID, "owner-b", models.RoleOwner, true)

	budget := decimal.NewFromInt(100000)
	w.ProjectA = &models.Project{ID: uuid.New(), TenantID: w.TenantA.ID, Name: "Harbor Tower", Status: models.ProjectActive, Budget: &budget, CreatedBy: w.OwnerA.ID, CreatedAt: now, UpdatedAt: now}
	w.ProjectB = &models.Project{ID: uuid.New(), TenantID: w.TenantB.ID, Name: "Ridge Plaza", Status: models.ProjectActive, CreatedBy: w.OwnerB.ID, CreatedAt: now, UpdatedAt: now}

	w.MembershipA = &models.Membership{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, PrincipalID: w.MemberA.ID, ProjectRole: models.ProjectRoleMember, CanEdit: true, CreatedAt: now}
	clientMembership := &models.Membership{ID: uuid.New(), ProjectID: w.ProjectA.ID, TenantID: w.TenantA.ID, PrincipalID: w.ClientA.ID, ProjectRole: models.ProjectRoleViewer, CanEdit: true, CreatedAt: now}

	w.Seed(t,
		w.TenantA, w.TenantB,
		w.OwnerA, w.PMA, w.MemberA, w.OutsiderA, w.ClientA, w.PendingA, w.OwnerB,
		w.ProjectA, w.ProjectB,
		w.MembershipA, clientMembership,
	)
	return w
}

// Seed inserts rows directly, bypassing every policy.
func (w *World) Seed(t testing.TB, recs ...models.Record) {
	t.Helper()
	ctx := context.Background()
	err := w.Store.Update(ctx, func(tx store.Tx) error {
		for _, rec := range recs {
			if err := tx.Insert(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("failed to seed store: %v", err)
	}
}

// Fetch reads a row directly, bypassing every policy.
func (w *World) Fetch(t testing.TB, table models.Table, id uuid.UUID) models.Record {
	t.Helper()
	ctx := context.Background()
	var rec models.Record
	err := w.Store.View(ctx, func(tx store.Tx) error {
		var err error
		rec, err = tx.Get(ctx, table, id)
		return err
	})
	if err != nil {
		t.Fatalf("failed to fetch %s %s: %v", table, id, err)
	}
	return rec
}

func principal(tenant uuid.UUID, key string, role models.Role, approved bool) *models.Principal {
	now := models.Now()
	p := &models.Principal{
		ID:             uuid.New(),
		IdentityKey:    key,
		Email:          key + "@example.com",
		FullName:       key,
		TenantID:       &tenant,
		Role:           role,
		ApprovalStatus: models.ApprovalPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if approved {
		at := now.Add(-time.Hour)
		p.ApprovalStatus = models.ApprovalApproved
		p.IsActive = true
		p.ApprovedAt = &at
	}
	return p
}
