package access

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/authz"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
)

// scope sets the tenant and project of a new row from its parent. The
// parent must be visible to the caller; client-supplied ownership is
// always overwritten.
func (st *Stmt) scope(ctx context.Context, rec models.Record) error {
	switch r := rec.(type) {
	case models.ChildRecord:
		parent, err := st.Get(ctx, r.ParentTable(), r.ParentRef())
		if err != nil {
			return err
		}
		r.AssignProject(models.ProjectOf(parent))
		r.AssignTenant(models.TenantOf(parent))
	case models.ProjectOwned:
		project, err := st.Get(ctx, models.TableProjects, r.ProjectRef())
		if err != nil {
			return err
		}
		r.AssignTenant(models.TenantOf(project))
		if m, ok := rec.(*models.Membership); ok {
			return st.checkMember(ctx, m)
		}
	case models.TenantAssignable:
		if st.session.caller.System {
			if r.TenantRef() == uuid.Nil {
				return apperrors.Validation("company_id is required")
			}
			return nil
		}
		attrs, err := st.session.g.evaluator.WriterAttributes(ctx, st.tx, st.session.caller)
		if err != nil {
			return err
		}
		if attrs == nil || attrs.TenantID == uuid.Nil {
			return apperrors.Unauthorized("caller has no company")
		}
		r.AssignTenant(attrs.TenantID)
	}
	return nil
}

// rescope pins the ownership of an updated row to the stored row. Items may
// move between parents of the same project.
func (st *Stmt) rescope(ctx context.Context, rec, prior models.Record) error {
	switch r := rec.(type) {
	case models.ChildRecord:
		if r.ParentRef() != models.ParentOf(prior) {
			parent, err := st.Get(ctx, r.ParentTable(), r.ParentRef())
			if err != nil {
				return err
			}
			if models.ProjectOf(parent) != models.ProjectOf(prior) {
				return apperrors.Validation("cannot move %s to another project", rec.Table())
			}
		}
		r.AssignProject(models.ProjectOf(prior))
		r.AssignTenant(models.TenantOf(prior))
	case models.ProjectOwned:
		if r.ProjectRef() != models.ProjectOf(prior) {
			return apperrors.Validation("project_id cannot change")
		}
		if m, ok := rec.(*models.Membership); ok && m.PrincipalID != prior.(*models.Membership).PrincipalID {
			return apperrors.Validation("user_id cannot change")
		}
		r.AssignTenant(models.TenantOf(prior))
	case models.TenantAssignable:
		r.AssignTenant(models.TenantOf(prior))
	}
	return nil
}

// checkMember requires the enrolled principal to be a live member of the
// project's tenant.
func (st *Stmt) checkMember(ctx context.Context, m *models.Membership) error {
	p, err := st.tx.GetPrincipal(ctx, m.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		return apperrors.Validation("user %s does not exist", m.PrincipalID)
	}
	if err != nil {
		return err
	}
	if p.DeletedAt != nil || p.TenantRef() != m.TenantID {
		return apperrors.Validation("user %s is not in this company", m.PrincipalID)
	}
	return nil
}

// timestamps returns the creation and modification fields of rec. Either
// may be nil.
func timestamps(rec models.Record) (created, updated *time.Time) {
	switch r := rec.(type) {
	case *models.Tenant:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.Principal:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.Project:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.Membership:
		return &r.CreatedAt, nil
	case *models.CostEstimate:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.EstimateItem:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.EquipmentLog:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.CostTransaction:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.RFI:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.ScheduleActivity:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.SafetyIncident:
		return &r.CreatedAt, nil
	case *models.PunchItem:
		return &r.CreatedAt, &r.UpdatedAt
	case *models.PortalSettings:
		return nil, &r.UpdatedAt
	case *models.ReportShare:
		return &r.CreatedAt, nil
	case *models.Notification:
		return &r.CreatedAt, nil
	case *models.HealthSnapshot:
		return nil, &r.ComputedAt
	case *models.AuditEntry:
		return &r.At, nil
	}
	return nil, nil
}

// creator returns the created-by field of rec, if it has one.
func creator(rec models.Record) *uuid.UUID {
	switch r := rec.(type) {
	case *models.Project:
		return &r.CreatedBy
	case *models.CostEstimate:
		return &r.CreatedBy
	case *models.RFI:
		return &r.CreatedBy
	case *models.ReportShare:
		return &r.CreatedBy
	}
	return nil
}

func stampInsert(rec models.Record, caller authz.Caller, now time.Time) {
	created, updated := timestamps(rec)
	if created != nil {
		*created = now
	}
	if updated != nil {
		*updated = now
	}
	if by := creator(rec); by != nil && !caller.System {
		*by = caller.PrincipalID
	}
}

func stampUpdate(rec models.Record, now time.Time) {
	if _, updated := timestamps(rec); updated != nil {
		*updated = now
	}
}

// preserve copies server-owned fields of prior onto rec.
func preserve(rec, prior models.Record, now time.Time) {
	if created, _ := timestamps(rec); created != nil {
		was, _ := timestamps(prior)
		*created = *was
	}
	if by := creator(rec); by != nil {
		*by = *creator(prior)
	}
	if sd, ok := rec.(models.SoftDeletable); ok {
		sd.SetDeleted(prior.(models.SoftDeletable).DeletedTime())
	}

	switch r := rec.(type) {
	case *models.Principal:
		// Role, approval and activation change only through enrollment.
		p := prior.(*models.Principal)
		r.IdentityKey = p.IdentityKey
		r.TenantID = p.TenantID
		r.Role = p.Role
		r.ApprovalStatus = p.ApprovalStatus
		r.IsActive = p.IsActive
		r.ApprovedAt = p.ApprovedAt
		r.ApprovedBy = p.ApprovedBy
	case *models.ReportShare:
		p := prior.(*models.ReportShare)
		r.Token = p.Token
		r.ViewCount = p.ViewCount
		r.LastViewedAt = p.LastViewedAt
		r.ResourceTable = p.ResourceTable
		r.ResourceID = p.ResourceID
	}
	stampUpdate(rec, now)
}

func sortEntries(entries []*models.AuditEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].At.Before(entries[j].At)
	})
}
