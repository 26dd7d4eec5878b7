package authz

import (
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
)

// DefaultPolicies returns the policy set of every table.
func DefaultPolicies() map[models.Table]PolicySet {
	projectResource := PolicySet{
		Read:   projectReader,
		Insert: projectEditor,
		Update: projectEditor,
		Delete: projectDeleter,
	}

	rfis := projectResource
	rfis.Update = allOf(projectEditor, closingNeedsApprover)

	return map[models.Table]PolicySet{
		models.TableTenants: {
			Read:   ownTenant,
			Update: tenantAdmin,
		},
		models.TablePrincipals: {
			Read:   anyOf(self, sameTenantApproved, tenantAdmin),
			Update: anyOf(selfProfileOnly, allOf(tenantAdmin, tenantUnchanged)),
		},
		models.TableProjects: {
			Read:   projectReader,
			Insert: projectCreator,
			Update: projectEditor,
			Delete: projectDeleter,
		},
		models.TableMemberships: {
			Read:   anyOf(projectReader, ownMembership),
			Insert: projectAdmin,
			Update: projectAdmin,
			Delete: projectAdmin,
		},
		models.TableEstimates:          projectResource,
		models.TableEstimateItems:      projectResource,
		models.TableEquipmentLogs:      projectResource,
		models.TableCostTransactions:   projectResource,
		models.TableRFIs:               rfis,
		models.TableScheduleActivities: projectResource,
		models.TableSafetyIncidents:    projectResource,
		models.TablePunchItems:         projectResource,
		models.TablePortalSettings: {
			Read:   projectReader,
			Insert: projectAdmin,
			Update: projectAdmin,
		},
		models.TableReportShares: {
			Read:   projectReader,
			Insert: allOf(writer, notClient, projectReader),
			Update: anyOf(projectAdmin, allOf(writer, shareCreator)),
		},
		models.TableNotifications: {
			Read:   ownNotification,
			Update: ownNotification,
		},
		models.TableHealthSnapshots: {
			Read: projectReader,
		},
		models.TableAuditLogs: {
			Read: tenantAdmin,
		},
	}
}

func anyOf(rules ...Rule) Rule {
	return func(req *Request) (bool, error) {
		for _, rule := range rules {
			ok, err := rule(req)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	}
}

func allOf(rules ...Rule) Rule {
	return func(req *Request) (bool, error) {
		for _, rule := range rules {
			ok, err := rule(req)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}
}

func sameTenant(req *Request) bool {
	tenant := models.TenantOf(req.Row)
	return req.Attrs != nil && tenant != uuid.Nil && req.Attrs.TenantID == tenant
}

func writer(req *Request) (bool, error) {
	return req.Attrs.CanWrite(), nil
}

func notClient(req *Request) (bool, error) {
	return req.Attrs != nil && req.Attrs.Role != models.RoleClient, nil
}

// ownTenant lets every live principal, pending ones included, read their own
// tenant's metadata.
func ownTenant(req *Request) (bool, error) {
	return sameTenant(req), nil
}

func tenantAdmin(req *Request) (bool, error) {
	return req.Attrs.ElevatedIn(models.TenantOf(req.Row)), nil
}

func self(req *Request) (bool, error) {
	return req.Attrs != nil && req.Row.RecordID() == req.Attrs.PrincipalID, nil
}

func sameTenantApproved(req *Request) (bool, error) {
	return req.Attrs.Approved() && sameTenant(req), nil
}

// selfProfileOnly allows a principal to edit their own profile but never
// their tenant, role, approval or activation.
func selfProfileOnly(req *Request) (bool, error) {
	if ok, _ := self(req); !ok {
		return false, nil
	}
	next, ok := req.Row.(*models.Principal)
	if !ok {
		return false, nil
	}
	prior, ok := req.Prior.(*models.Principal)
	if !ok {
		return false, nil
	}
	return next.TenantRef() == prior.TenantRef() &&
		next.Role == prior.Role &&
		next.ApprovalStatus == prior.ApprovalStatus &&
		next.IsActive == prior.IsActive &&
		sameTime(next.ApprovedAt, prior.ApprovedAt) &&
		sameID(next.ApprovedBy, prior.ApprovedBy) &&
		sameTime(next.DeletedAt, prior.DeletedAt), nil
}

func tenantUnchanged(req *Request) (bool, error) {
	if req.Prior == nil {
		return false, nil
	}
	return models.TenantOf(req.Row) == models.TenantOf(req.Prior), nil
}

// projectReader: approved principal of the project's tenant who is either
// elevated or a member of the project.
func projectReader(req *Request) (bool, error) {
	if !req.Attrs.Approved() || !sameTenant(req) {
		return false, nil
	}
	if req.Attrs.Role.Elevated() {
		return true, nil
	}
	m, err := req.Membership()
	if err != nil {
		return false, err
	}
	return m != nil, nil
}

func projectCapable(req *Request, capable func(*models.Membership) bool) (bool, error) {
	if !req.Attrs.CanWrite() || !sameTenant(req) {
		return false, nil
	}
	if req.Attrs.Role.Elevated() {
		return true, nil
	}
	if req.Attrs.Role == models.RoleClient {
		return false, nil
	}
	m, err := req.Membership()
	if err != nil || m == nil {
		return false, err
	}
	return capable(m), nil
}

func projectEditor(req *Request) (bool, error) {
	return projectCapable(req, func(m *models.Membership) bool { return m.CanEdit })
}

func projectDeleter(req *Request) (bool, error) {
	return projectCapable(req, func(m *models.Membership) bool { return m.CanDelete })
}

func projectApprover(req *Request) (bool, error) {
	return projectCapable(req, func(m *models.Membership) bool { return m.CanApprove })
}

func projectAdmin(req *Request) (bool, error) {
	return projectCapable(req, func(m *models.Membership) bool { return m.ProjectRole == models.ProjectRoleAdmin })
}

// projectCreator: owners, admins and project managers create projects in
// their own tenant.
func projectCreator(req *Request) (bool, error) {
	if !req.Attrs.CanWrite() || !sameTenant(req) {
		return false, nil
	}
	switch req.Attrs.Role {
	case models.RoleOwner, models.RoleAdmin, models.RoleProjectManager:
		return true, nil
	}
	return false, nil
}

func ownMembership(req *Request) (bool, error) {
	m, ok := req.Row.(*models.Membership)
	return ok && req.Attrs.Approved() && sameTenant(req) && m.PrincipalID == req.Attrs.PrincipalID, nil
}

// closingNeedsApprover requires CanApprove to move an RFI to closed.
func closingNeedsApprover(req *Request) (bool, error) {
	next, ok := req.Row.(*models.RFI)
	if !ok || next.Status != models.RFIClosed {
		return true, nil
	}
	if prior, ok := req.Prior.(*models.RFI); ok && prior.Status == models.RFIClosed {
		return true, nil
	}
	return projectApprover(req)
}

func shareCreator(req *Request) (bool, error) {
	s, ok := req.Row.(*models.ReportShare)
	return ok && sameTenant(req) && s.CreatedBy == req.Attrs.PrincipalID, nil
}

func ownNotification(req *Request) (bool, error) {
	n, ok := req.Row.(*models.Notification)
	return ok && req.Attrs != nil && sameTenant(req) && n.PrincipalID == req.Attrs.PrincipalID, nil
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameID(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
