package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
)

// RFIStatus is the state of a request for information
type RFIStatus string

const (
	RFIOpen     RFIStatus = "open"
	RFIAnswered RFIStatus = "answered"
	RFIClosed   RFIStatus = "closed"
)

// Priority orders RFIs for escalation
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Bump returns the next priority up, capped at critical.
func (p Priority) Bump() Priority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal:
		return PriorityHigh
	default:
		return PriorityCritical
	}
}

// RFI is a request for information raised on a project.
// Escalated, EscalatedAt and the escalated Priority are maintained by the
// server.
type RFI struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	TenantID    uuid.UUID  `json:"company_id"`
	Number      int        `json:"number"`
	Subject     string     `json:"subject"`
	Status      RFIStatus  `json:"status"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Escalated   bool       `json:"escalated"`
	EscalatedAt *time.Time `json:"escalated_at,omitempty"`
	CreatedBy   uuid.UUID  `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func (r *RFI) Table() Table              { return TableRFIs }
func (r *RFI) RecordID() uuid.UUID       { return r.ID }
func (r *RFI) AssignID(id uuid.UUID)     { r.ID = id }
func (r *RFI) TenantRef() uuid.UUID      { return r.TenantID }
func (r *RFI) AssignTenant(id uuid.UUID) { r.TenantID = id }
func (r *RFI) ProjectRef() uuid.UUID     { return r.ProjectID }
func (r *RFI) DeletedTime() *time.Time   { return r.DeletedAt }
func (r *RFI) SetDeleted(at *time.Time)  { r.DeletedAt = at }
func (r *RFI) Clone() Record             { c := *r; return &c }

// Validate checks client-supplied RFI fields.
func (r *RFI) Validate() error {
	if r.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	if strings.TrimSpace(r.Subject) == "" {
		return apperrors.Validation("subject is required")
	}
	switch r.Status {
	case "":
		r.Status = RFIOpen
	case RFIOpen, RFIAnswered, RFIClosed:
	default:
		return apperrors.Validation("invalid RFI status: %q", r.Status)
	}
	switch r.Priority {
	case "":
		r.Priority = PriorityNormal
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
	default:
		return apperrors.Validation("invalid priority: %q", r.Priority)
	}
	return nil
}

// Overdue reports whether an open RFI is past its due date at now.
func (r *RFI) Overdue(now time.Time) bool {
	return r.Status == RFIOpen && r.DueDate != nil && r.DueDate.Before(now)
}

// ScheduleActivity is a planned unit of work. Committed activities feed the
// project's percent plan complete.
type ScheduleActivity struct {
	ID            uuid.UUID  `json:"id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	TenantID      uuid.UUID  `json:"company_id"`
	Name          string     `json:"name"`
	PlannedFinish *time.Time `json:"planned_finish,omitempty"`
	Committed     bool       `json:"committed"`
	Completed     bool       `json:"completed"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	DeletedAt     *time.Time `json:"deleted_at,omitempty"`
}

func (a *ScheduleActivity) Table() Table              { return TableScheduleActivities }
func (a *ScheduleActivity) RecordID() uuid.UUID       { return a.ID }
func (a *ScheduleActivity) AssignID(id uuid.UUID)     { a.ID = id }
func (a *ScheduleActivity) TenantRef() uuid.UUID      { return a.TenantID }
func (a *ScheduleActivity) AssignTenant(id uuid.UUID) { a.TenantID = id }
func (a *ScheduleActivity) ProjectRef() uuid.UUID     { return a.ProjectID }
func (a *ScheduleActivity) DeletedTime() *time.Time   { return a.DeletedAt }
func (a *ScheduleActivity) SetDeleted(at *time.Time)  { a.DeletedAt = at }
func (a *ScheduleActivity) Clone() Record             { c := *a; return &c }

// Validate checks client-supplied activity fields.
func (a *ScheduleActivity) Validate() error {
	if a.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	if strings.TrimSpace(a.Name) == "" {
		return apperrors.Validation("activity name is required")
	}
	return nil
}

// Severity classifies safety incidents
type Severity string

const (
	SeverityMinor      Severity = "minor"
	SeverityRecordable Severity = "recordable"
	SeverityLostTime   Severity = "lost_time"
)

// SafetyIncident is a recorded safety event.
type SafetyIncident struct {
	ID          uuid.UUID  `json:"id"`
	ProjectID   uuid.UUID  `json:"project_id"`
	TenantID    uuid.UUID  `json:"company_id"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
	OccurredAt  time.Time  `json:"occurred_at"`
	CreatedAt   time.Time  `json:"created_at"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

func (s *SafetyIncident) Table() Table              { return TableSafetyIncidents }
func (s *SafetyIncident) RecordID() uuid.UUID       { return s.ID }
func (s *SafetyIncident) AssignID(id uuid.UUID)     { s.ID = id }
func (s *SafetyIncident) TenantRef() uuid.UUID      { return s.TenantID }
func (s *SafetyIncident) AssignTenant(id uuid.UUID) { s.TenantID = id }
func (s *SafetyIncident) ProjectRef() uuid.UUID     { return s.ProjectID }
func (s *SafetyIncident) DeletedTime() *time.Time   { return s.DeletedAt }
func (s *SafetyIncident) SetDeleted(at *time.Time)  { s.DeletedAt = at }
func (s *SafetyIncident) Clone() Record             { c := *s; return &c }

// Validate checks client-supplied incident fields.
func (s *SafetyIncident) Validate() error {
	if s.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	switch s.Severity {
	case SeverityMinor, SeverityRecordable, SeverityLostTime:
	default:
		return apperrors.Validation("invalid severity: %q", s.Severity)
	}
	if s.OccurredAt.IsZero() {
		return apperrors.Validation("occurred_at is required")
	}
	return nil
}

// PunchStatus is the state of a punch list item
type PunchStatus string

const (
	PunchOpen   PunchStatus = "open"
	PunchClosed PunchStatus = "closed"
)

// PunchItem is an outstanding quality item.
type PunchItem struct {
	ID        uuid.UUID   `json:"id"`
	ProjectID uuid.UUID   `json:"project_id"`
	TenantID  uuid.UUID   `json:"company_id"`
	Title     string      `json:"title"`
	Status    PunchStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	DeletedAt *time.Time  `json:"deleted_at,omitempty"`
}

func (p *PunchItem) Table() Table              { return TablePunchItems }
func (p *PunchItem) RecordID() uuid.UUID       { return p.ID }
func (p *PunchItem) AssignID(id uuid.UUID)     { p.ID = id }
func (p *PunchItem) TenantRef() uuid.UUID      { return p.TenantID }
func (p *PunchItem) AssignTenant(id uuid.UUID) { p.TenantID = id }
func (p *PunchItem) ProjectRef() uuid.UUID     { return p.ProjectID }
func (p *PunchItem) DeletedTime() *time.Time   { return p.DeletedAt }
func (p *PunchItem) SetDeleted(at *time.Time)  { p.DeletedAt = at }
func (p *PunchItem) Clone() Record             { c := *p; return &c }

// Validate checks client-supplied punch item fields.
func (p *PunchItem) Validate() error {
	if p.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return apperrors.Validation("title is required")
	}
	switch p.Status {
	case "":
		p.Status = PunchOpen
	case PunchOpen, PunchClosed:
	default:
		return apperrors.Validation("invalid punch status: %q", p.Status)
	}
	return nil
}
