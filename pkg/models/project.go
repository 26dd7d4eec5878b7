package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// ProjectStatus is the lifecycle state of a project
type ProjectStatus string

const (
	ProjectPlanning  ProjectStatus = "planning"
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
)

// Project is the unit most resources hang from.
//
// ActualCost and PercentPlanComplete are aggregates: they are always
// re-derived from cost transactions and schedule activities.
type Project struct {
	ID                  uuid.UUID        `json:"id"`
	TenantID            uuid.UUID        `json:"company_id"`
	Name                string           `json:"name"`
	Status              ProjectStatus    `json:"status"`
	Budget              *decimal.Decimal `json:"budget,omitempty"`
	ActualCost          decimal.Decimal  `json:"actual_cost"`
	PercentPlanComplete *decimal.Decimal `json:"percent_plan_complete,omitempty"`
	PlannedEnd          *time.Time       `json:"planned_end,omitempty"`
	ForecastEnd         *time.Time       `json:"forecast_end,omitempty"`
	CreatedBy           uuid.UUID        `json:"created_by"`
	CreatedAt           time.Time        `json:"created_at"`
	UpdatedAt           time.Time        `json:"updated_at"`
	DeletedAt           *time.Time       `json:"deleted_at,omitempty"`
}

func (p *Project) Table() Table              { return TableProjects }
func (p *Project) RecordID() uuid.UUID       { return p.ID }
func (p *Project) AssignID(id uuid.UUID)     { p.ID = id }
func (p *Project) TenantRef() uuid.UUID      { return p.TenantID }
func (p *Project) AssignTenant(id uuid.UUID) { p.TenantID = id }
func (p *Project) DeletedTime() *time.Time   { return p.DeletedAt }
func (p *Project) SetDeleted(at *time.Time)  { p.DeletedAt = at }
func (p *Project) Clone() Record             { c := *p; return &c }

// Validate checks client-supplied project fields.
func (p *Project) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return apperrors.Validation("project name is required")
	}
	switch p.Status {
	case "":
		p.Status = ProjectPlanning
	case ProjectPlanning, ProjectActive, ProjectOnHold, ProjectCompleted:
	default:
		return apperrors.Validation("invalid project status: %q", p.Status)
	}
	if p.Budget != nil && p.Budget.IsNegative() {
		return apperrors.Validation("budget must not be negative")
	}
	return nil
}

// ProjectRole is a principal's role within one project
type ProjectRole string

const (
	ProjectRoleAdmin  ProjectRole = "admin"
	ProjectRoleMember ProjectRole = "member"
	ProjectRoleViewer ProjectRole = "viewer"
)

// Membership grants a principal capabilities on one project.
type Membership struct {
	ID          uuid.UUID   `json:"id"`
	ProjectID   uuid.UUID   `json:"project_id"`
	TenantID    uuid.UUID   `json:"company_id"`
	PrincipalID uuid.UUID   `json:"user_id"`
	ProjectRole ProjectRole `json:"project_role"`
	CanEdit     bool        `json:"can_edit"`
	CanDelete   bool        `json:"can_delete"`
	CanApprove  bool        `json:"can_approve"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (m *Membership) Table() Table              { return TableMemberships }
func (m *Membership) RecordID() uuid.UUID       { return m.ID }
func (m *Membership) AssignID(id uuid.UUID)     { m.ID = id }
func (m *Membership) TenantRef() uuid.UUID      { return m.TenantID }
func (m *Membership) AssignTenant(id uuid.UUID) { m.TenantID = id }
func (m *Membership) ProjectRef() uuid.UUID     { return m.ProjectID }
func (m *Membership) Clone() Record             { c := *m; return &c }

// Validate checks membership fields.
func (m *Membership) Validate() error {
	if m.ProjectID == uuid.Nil || m.PrincipalID == uuid.Nil {
		return apperrors.Validation("project_id and user_id are required")
	}
	switch m.ProjectRole {
	case "":
		m.ProjectRole = ProjectRoleMember
	case ProjectRoleAdmin, ProjectRoleMember, ProjectRoleViewer:
	default:
		return apperrors.Validation("invalid project role: %q", m.ProjectRole)
	}
	return nil
}

// PortalSettings controls what share-token holders may see of a project.
// Keyed by project.
type PortalSettings struct {
	ProjectID     uuid.UUID `json:"project_id"`
	TenantID      uuid.UUID `json:"company_id"`
	ShowBudget    bool      `json:"show_budget"`
	ShowSchedule  bool      `json:"show_schedule"`
	ShowDocuments bool      `json:"show_documents"`
	ShowPhotos    bool      `json:"show_photos"`
	ShowRFIs      bool      `json:"show_rfis"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultPortalSettings applies to projects with no settings row: schedule
// and media are visible, money and RFIs are not.
func DefaultPortalSettings(projectID, tenantID uuid.UUID) *PortalSettings {
	return &PortalSettings{
		ProjectID:     projectID,
		TenantID:      tenantID,
		ShowSchedule:  true,
		ShowDocuments: true,
		ShowPhotos:    true,
	}
}

func (s *PortalSettings) Table() Table              { return TablePortalSettings }
func (s *PortalSettings) RecordID() uuid.UUID       { return s.ProjectID }
func (s *PortalSettings) TenantRef() uuid.UUID      { return s.TenantID }
func (s *PortalSettings) AssignTenant(id uuid.UUID) { s.TenantID = id }
func (s *PortalSettings) ProjectRef() uuid.UUID     { return s.ProjectID }
func (s *PortalSettings) Clone() Record             { c := *s; return &c }

// Validate checks the settings key.
func (s *PortalSettings) Validate() error {
	if s.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	return nil
}

// HealthSnapshot is the last computed health score of a project.
type HealthSnapshot struct {
	ProjectID     uuid.UUID       `json:"project_id"`
	TenantID      uuid.UUID       `json:"company_id"`
	BudgetScore   decimal.Decimal `json:"budget_score"`
	ScheduleScore decimal.Decimal `json:"schedule_score"`
	SafetyScore   decimal.Decimal `json:"safety_score"`
	QualityScore  decimal.Decimal `json:"quality_score"`
	Overall       decimal.Decimal `json:"overall"`
	ComputedAt    time.Time       `json:"computed_at"`
}

func (h *HealthSnapshot) Table() Table              { return TableHealthSnapshots }
func (h *HealthSnapshot) RecordID() uuid.UUID       { return h.ProjectID }
func (h *HealthSnapshot) TenantRef() uuid.UUID      { return h.TenantID }
func (h *HealthSnapshot) AssignTenant(id uuid.UUID) { h.TenantID = id }
func (h *HealthSnapshot) ProjectRef() uuid.UUID     { return h.ProjectID }
func (h *HealthSnapshot) Clone() Record             { c := *h; return &c }
