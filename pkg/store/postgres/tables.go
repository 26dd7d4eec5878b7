package postgres

import (
	"fmt"

	"github.com/platinummonkey/keystone/pkg/models"
)

// tableMap maps one record type onto its relational table. The first column
// is always the primary key.
type tableMap struct {
	columns []string

	// Filter columns; "" when the table has no such column.
	tenantCol  string
	projectCol string
	parentCol  string
	deletedCol string

	values func(models.Record) []interface{}
	dest   func(models.Record) []interface{}
}

func (m *tableMap) pk() string {
	return m.columns[0]
}

var tableMaps = map[models.Table]*tableMap{
	models.TableTenants: {
		columns:    []string{"id", "name", "normalized_name", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			t := r.(*models.Tenant)
			return []interface{}{t.ID, t.Name, t.NormalizedName, t.CreatedAt, t.UpdatedAt, t.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			t := r.(*models.Tenant)
			return []interface{}{&t.ID, &t.Name, &t.NormalizedName, &t.CreatedAt, &t.UpdatedAt, &t.DeletedAt}
		},
	},
	models.TablePrincipals: {
		columns: []string{"id", "identity_key", "email", "full_name", "company_id", "role", "approval_status",
			"is_active", "approved_at", "approved_by", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			p := r.(*models.Principal)
			return []interface{}{p.ID, p.IdentityKey, p.Email, p.FullName, p.TenantID, p.Role, p.ApprovalStatus,
				p.IsActive, p.ApprovedAt, p.ApprovedBy, p.CreatedAt, p.UpdatedAt, p.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			p := r.(*models.Principal)
			return []interface{}{&p.ID, &p.IdentityKey, &p.Email, &p.FullName, &p.TenantID, &p.Role, &p.ApprovalStatus,
				&p.IsActive, &p.ApprovedAt, &p.ApprovedBy, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt}
		},
	},
	models.TableProjects: {
		columns: []string{"id", "company_id", "name", "status", "budget", "actual_cost", "percent_plan_complete",
			"planned_end", "forecast_end", "created_by", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			p := r.(*models.Project)
			return []interface{}{p.ID, p.TenantID, p.Name, p.Status, p.Budget, p.ActualCost, p.PercentPlanComplete,
				p.PlannedEnd, p.ForecastEnd, p.CreatedBy, p.CreatedAt, p.UpdatedAt, p.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			p := r.(*models.Project)
			return []interface{}{&p.ID, &p.TenantID, &p.Name, &p.Status, &p.Budget, &p.ActualCost, &p.PercentPlanComplete,
				&p.PlannedEnd, &p.ForecastEnd, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt}
		},
	},
	models.TableMemberships: {
		columns: []string{"id", "project_id", "company_id", "user_id", "project_role",
			"can_edit", "can_delete", "can_approve", "created_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		values: func(r models.Record) []interface{} {
			m := r.(*models.Membership)
			return []interface{}{m.ID, m.ProjectID, m.TenantID, m.PrincipalID, m.ProjectRole,
				m.CanEdit, m.CanDelete, m.CanApprove, m.CreatedAt}
		},
		dest: func(r models.Record) []interface{} {
			m := r.(*models.Membership)
			return []interface{}{&m.ID, &m.ProjectID, &m.TenantID, &m.PrincipalID, &m.ProjectRole,
				&m.CanEdit, &m.CanDelete, &m.CanApprove, &m.CreatedAt}
		},
	},
	models.TableEstimates: {
		columns: []string{"id", "project_id", "company_id", "name", "subtotal", "markup_amount", "total",
			"item_count", "created_by", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			e := r.(*models.CostEstimate)
			return []interface{}{e.ID, e.ProjectID, e.TenantID, e.Name, e.Subtotal, e.MarkupAmount, e.Total,
				e.ItemCount, e.CreatedBy, e.CreatedAt, e.UpdatedAt, e.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			e := r.(*models.CostEstimate)
			return []interface{}{&e.ID, &e.ProjectID, &e.TenantID, &e.Name, &e.Subtotal, &e.MarkupAmount, &e.Total,
				&e.ItemCount, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt, &e.DeletedAt}
		},
	},
	models.TableEstimateItems: {
		columns: []string{"id", "estimate_id", "project_id", "company_id", "description", "quantity",
			"material_cost", "labor_cost", "equipment_cost", "markup_percent", "subtotal", "markup_amount",
			"total", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		parentCol:  "estimate_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			i := r.(*models.EstimateItem)
			return []interface{}{i.ID, i.EstimateID, i.ProjectID, i.TenantID, i.Description, i.Quantity,
				i.MaterialCost, i.LaborCost, i.EquipmentCost, i.MarkupPercent, i.Subtotal, i.MarkupAmount,
				i.Total, i.CreatedAt, i.UpdatedAt, i.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			i := r.(*models.EstimateItem)
			return []interface{}{&i.ID, &i.EstimateID, &i.ProjectID, &i.TenantID, &i.Description, &i.Quantity,
				&i.MaterialCost, &i.LaborCost, &i.EquipmentCost, &i.MarkupPercent, &i.Subtotal, &i.MarkupAmount,
				&i.Total, &i.CreatedAt, &i.UpdatedAt, &i.DeletedAt}
		},
	},
	models.TableEquipmentLogs: {
		columns: []string{"id", "project_id", "company_id", "equipment", "hourly_rate", "hours", "fuel_cost",
			"total_cost", "logged_on", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			l := r.(*models.EquipmentLog)
			return []interface{}{l.ID, l.ProjectID, l.TenantID, l.Equipment, l.HourlyRate, l.Hours, l.FuelCost,
				l.TotalCost, l.LoggedOn, l.CreatedAt, l.UpdatedAt, l.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			l := r.(*models.EquipmentLog)
			return []interface{}{&l.ID, &l.ProjectID, &l.TenantID, &l.Equipment, &l.HourlyRate, &l.Hours, &l.FuelCost,
				&l.TotalCost, &l.LoggedOn, &l.CreatedAt, &l.UpdatedAt, &l.DeletedAt}
		},
	},
	models.TableCostTransactions: {
		columns:    []string{"id", "project_id", "company_id", "amount", "description", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			c := r.(*models.CostTransaction)
			return []interface{}{c.ID, c.ProjectID, c.TenantID, c.Amount, c.Description, c.CreatedAt, c.UpdatedAt, c.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			c := r.(*models.CostTransaction)
			return []interface{}{&c.ID, &c.ProjectID, &c.TenantID, &c.Amount, &c.Description, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt}
		},
	},
	models.TableRFIs: {
		columns: []string{"id", "project_id", "company_id", "number", "subject", "status", "priority", "due_date",
			"escalated", "escalated_at", "created_by", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			f := r.(*models.RFI)
			return []interface{}{f.ID, f.ProjectID, f.TenantID, f.Number, f.Subject, f.Status, f.Priority, f.DueDate,
				f.Escalated, f.EscalatedAt, f.CreatedBy, f.CreatedAt, f.UpdatedAt, f.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			f := r.(*models.RFI)
			return []interface{}{&f.ID, &f.ProjectID, &f.TenantID, &f.Number, &f.Subject, &f.Status, &f.Priority, &f.DueDate,
				&f.Escalated, &f.EscalatedAt, &f.CreatedBy, &f.CreatedAt, &f.UpdatedAt, &f.DeletedAt}
		},
	},
	models.TableScheduleActivities: {
		columns: []string{"id", "project_id", "company_id", "name", "planned_finish", "committed", "completed",
			"created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			a := r.(*models.ScheduleActivity)
			return []interface{}{a.ID, a.ProjectID, a.TenantID, a.Name, a.PlannedFinish, a.Committed, a.Completed,
				a.CreatedAt, a.UpdatedAt, a.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			a := r.(*models.ScheduleActivity)
			return []interface{}{&a.ID, &a.ProjectID, &a.TenantID, &a.Name, &a.PlannedFinish, &a.Committed, &a.Completed,
				&a.CreatedAt, &a.UpdatedAt, &a.DeletedAt}
		},
	},
	models.TableSafetyIncidents: {
		columns:    []string{"id", "project_id", "company_id", "severity", "description", "occurred_at", "created_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			s := r.(*models.SafetyIncident)
			return []interface{}{s.ID, s.ProjectID, s.TenantID, s.Severity, s.Description, s.OccurredAt, s.CreatedAt, s.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			s := r.(*models.SafetyIncident)
			return []interface{}{&s.ID, &s.ProjectID, &s.TenantID, &s.Severity, &s.Description, &s.OccurredAt, &s.CreatedAt, &s.DeletedAt}
		},
	},
	models.TablePunchItems: {
		columns:    []string{"id", "project_id", "company_id", "title", "status", "created_at", "updated_at", "deleted_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		deletedCol: "deleted_at",
		values: func(r models.Record) []interface{} {
			p := r.(*models.PunchItem)
			return []interface{}{p.ID, p.ProjectID, p.TenantID, p.Title, p.Status, p.CreatedAt, p.UpdatedAt, p.DeletedAt}
		},
		dest: func(r models.Record) []interface{} {
			p := r.(*models.PunchItem)
			return []interface{}{&p.ID, &p.ProjectID, &p.TenantID, &p.Title, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.DeletedAt}
		},
	},
	models.TablePortalSettings: {
		columns: []string{"project_id", "company_id", "show_budget", "show_schedule", "show_documents",
			"show_photos", "show_rfis", "updated_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		values: func(r models.Record) []interface{} {
			s := r.(*models.PortalSettings)
			return []interface{}{s.ProjectID, s.TenantID, s.ShowBudget, s.ShowSchedule, s.ShowDocuments,
				s.ShowPhotos, s.ShowRFIs, s.UpdatedAt}
		},
		dest: func(r models.Record) []interface{} {
			s := r.(*models.PortalSettings)
			return []interface{}{&s.ProjectID, &s.TenantID, &s.ShowBudget, &s.ShowSchedule, &s.ShowDocuments,
				&s.ShowPhotos, &s.ShowRFIs, &s.UpdatedAt}
		},
	},
	models.TableReportShares: {
		columns: []string{"id", "project_id", "company_id", "token", "resource_table", "resource_id", "is_public",
			"expires_at", "view_count", "last_viewed_at", "created_by", "created_at", "revoked_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		values: func(r models.Record) []interface{} {
			s := r.(*models.ReportShare)
			return []interface{}{s.ID, s.ProjectID, s.TenantID, s.Token, s.ResourceTable, s.ResourceID, s.IsPublic,
				s.ExpiresAt, s.ViewCount, s.LastViewedAt, s.CreatedBy, s.CreatedAt, s.RevokedAt}
		},
		dest: func(r models.Record) []interface{} {
			s := r.(*models.ReportShare)
			return []interface{}{&s.ID, &s.ProjectID, &s.TenantID, &s.Token, &s.ResourceTable, &s.ResourceID, &s.IsPublic,
				&s.ExpiresAt, &s.ViewCount, &s.LastViewedAt, &s.CreatedBy, &s.CreatedAt, &s.RevokedAt}
		},
	},
	models.TableNotifications: {
		columns: []string{"id", "company_id", "user_id", "kind", "payload", "status", "attempts", "last_error",
			"created_at", "sent_at"},
		tenantCol: "company_id",
		values: func(r models.Record) []interface{} {
			n := r.(*models.Notification)
			return []interface{}{n.ID, n.TenantID, n.PrincipalID, n.Kind, jsonText(n.Payload), n.Status, n.Attempts,
				n.LastError, n.CreatedAt, n.SentAt}
		},
		dest: func(r models.Record) []interface{} {
			n := r.(*models.Notification)
			return []interface{}{&n.ID, &n.TenantID, &n.PrincipalID, &n.Kind, &n.Payload, &n.Status, &n.Attempts,
				&n.LastError, &n.CreatedAt, &n.SentAt}
		},
	},
	models.TableHealthSnapshots: {
		columns: []string{"project_id", "company_id", "budget_score", "schedule_score", "safety_score",
			"quality_score", "overall", "computed_at"},
		tenantCol:  "company_id",
		projectCol: "project_id",
		values: func(r models.Record) []interface{} {
			h := r.(*models.HealthSnapshot)
			return []interface{}{h.ProjectID, h.TenantID, h.BudgetScore, h.ScheduleScore, h.SafetyScore,
				h.QualityScore, h.Overall, h.ComputedAt}
		},
		dest: func(r models.Record) []interface{} {
			h := r.(*models.HealthSnapshot)
			return []interface{}{&h.ProjectID, &h.TenantID, &h.BudgetScore, &h.ScheduleScore, &h.SafetyScore,
				&h.QualityScore, &h.Overall, &h.ComputedAt}
		},
	},
	models.TableAuditLogs: {
		columns:   []string{"id", "company_id", "user_id", "system", "table_name", "record_id", "op", "at"},
		tenantCol: "company_id",
		values: func(r models.Record) []interface{} {
			a := r.(*models.AuditEntry)
			return []interface{}{a.ID, a.TenantID, a.PrincipalID, a.System, a.RecordTable, a.RowID, a.Op, a.At}
		},
		dest: func(r models.Record) []interface{} {
			a := r.(*models.AuditEntry)
			return []interface{}{&a.ID, &a.TenantID, &a.PrincipalID, &a.System, &a.RecordTable, &a.RowID, &a.Op, &a.At}
		},
	},
}

func mapFor(table models.Table) (*tableMap, error) {
	m, ok := tableMaps[table]
	if !ok {
		return nil, fmt.Errorf("no mapping for table %s", table)
	}
	return m, nil
}

// jsonText sends JSON as text so lib/pq does not encode it as bytea.
func jsonText(raw []byte) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}
