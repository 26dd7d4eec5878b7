package models

import (
	"time"

	"github.com/google/uuid"
)

// Table names a protected row collection. Values match the relational
// table names used by the postgres store.
type Table string

const (
	TableTenants            Table = "companies"
	TablePrincipals         Table = "users"
	TableProjects           Table = "projects"
	TableMemberships        Table = "project_users"
	TableEstimates          Table = "cost_estimates"
	TableEstimateItems      Table = "cost_estimate_items"
	TableEquipmentLogs      Table = "equipment_logs"
	TableCostTransactions   Table = "cost_transactions"
	TableRFIs               Table = "rfis"
	TableScheduleActivities Table = "schedule_activities"
	TableSafetyIncidents    Table = "safety_incidents"
	TablePunchItems         Table = "punch_items"
	TablePortalSettings     Table = "client_portal_settings"
	TableReportShares       Table = "report_shares"
	TableNotifications      Table = "notifications"
	TableHealthSnapshots    Table = "project_health"
	TableAuditLogs          Table = "audit_logs"
)

// AllTables lists every table in registration order.
var AllTables = []Table{
	TableTenants,
	TablePrincipals,
	TableProjects,
	TableMemberships,
	TableEstimates,
	TableEstimateItems,
	TableEquipmentLogs,
	TableCostTransactions,
	TableRFIs,
	TableScheduleActivities,
	TableSafetyIncidents,
	TablePunchItems,
	TablePortalSettings,
	TableReportShares,
	TableNotifications,
	TableHealthSnapshots,
	TableAuditLogs,
}

// Record is implemented by every stored row.
type Record interface {
	Table() Table
	RecordID() uuid.UUID
	Clone() Record
}

// Identifiable rows get a generated ID on insert.
type Identifiable interface {
	Record
	AssignID(id uuid.UUID)
}

// TenantOwned rows trace directly to one tenant.
type TenantOwned interface {
	Record
	TenantRef() uuid.UUID
}

// TenantAssignable rows have their tenant set by the server, never the client.
type TenantAssignable interface {
	TenantOwned
	AssignTenant(id uuid.UUID)
}

// ProjectOwned rows belong to one project and inherit its tenant.
type ProjectOwned interface {
	TenantAssignable
	ProjectRef() uuid.UUID
}

// ChildRecord rows hang off a parent row inside a project (estimate items
// under an estimate) and inherit the parent's project.
type ChildRecord interface {
	ProjectOwned
	ParentTable() Table
	ParentRef() uuid.UUID
	AssignProject(id uuid.UUID)
}

// SoftDeletable rows are tombstoned instead of removed.
type SoftDeletable interface {
	Record
	DeletedTime() *time.Time
	SetDeleted(at *time.Time)
}

// Validator rows check their client-supplied fields.
type Validator interface {
	Validate() error
}

// New returns an empty record for table, or false for an unknown table.
func New(table Table) (Record, bool) {
	switch table {
	case TableTenants:
		return &Tenant{}, true
	case TablePrincipals:
		return &Principal{}, true
	case TableProjects:
		return &Project{}, true
	case TableMemberships:
		return &Membership{}, true
	case TableEstimates:
		return &CostEstimate{}, true
	case TableEstimateItems:
		return &EstimateItem{}, true
	case TableEquipmentLogs:
		return &EquipmentLog{}, true
	case TableCostTransactions:
		return &CostTransaction{}, true
	case TableRFIs:
		return &RFI{}, true
	case TableScheduleActivities:
		return &ScheduleActivity{}, true
	case TableSafetyIncidents:
		return &SafetyIncident{}, true
	case TablePunchItems:
		return &PunchItem{}, true
	case TablePortalSettings:
		return &PortalSettings{}, true
	case TableReportShares:
		return &ReportShare{}, true
	case TableNotifications:
		return &Notification{}, true
	case TableHealthSnapshots:
		return &HealthSnapshot{}, true
	case TableAuditLogs:
		return &AuditEntry{}, true
	}
	return nil, false
}

// IsDeleted reports whether rec carries a tombstone.
func IsDeleted(rec Record) bool {
	if sd, ok := rec.(SoftDeletable); ok {
		return sd.DeletedTime() != nil
	}
	return false
}

// TenantOf returns the owning tenant of rec, or uuid.Nil.
func TenantOf(rec Record) uuid.UUID {
	if t, ok := rec.(TenantOwned); ok {
		return t.TenantRef()
	}
	return uuid.Nil
}

// ProjectOf returns the owning project of rec, or uuid.Nil.
func ProjectOf(rec Record) uuid.UUID {
	if p, ok := rec.(ProjectOwned); ok {
		return p.ProjectRef()
	}
	return uuid.Nil
}

// ParentOf returns the parent key of rec, or uuid.Nil.
func ParentOf(rec Record) uuid.UUID {
	if c, ok := rec.(ChildRecord); ok {
		return c.ParentRef()
	}
	return uuid.Nil
}

// Now returns the current time truncated to microseconds in UTC, the
// precision postgres keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func deref(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
