package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
)

// ReportShare is an opaque, expirable credential granting read access to one
// resource of a project, usually to someone outside the tenant.
type ReportShare struct {
	ID            uuid.UUID  `json:"id"`
	ProjectID     uuid.UUID  `json:"project_id"`
	TenantID      uuid.UUID  `json:"company_id"`
	Token         string     `json:"token,omitempty"`
	ResourceTable Table      `json:"resource_table"`
	ResourceID    uuid.UUID  `json:"resource_id"`
	IsPublic      bool       `json:"is_public"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	ViewCount     int64      `json:"view_count"`
	LastViewedAt  *time.Time `json:"last_viewed_at,omitempty"`
	CreatedBy     uuid.UUID  `json:"created_by"`
	CreatedAt     time.Time  `json:"created_at"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
}

func (s *ReportShare) Table() Table              { return TableReportShares }
func (s *ReportShare) RecordID() uuid.UUID       { return s.ID }
func (s *ReportShare) AssignID(id uuid.UUID)     { s.ID = id }
func (s *ReportShare) TenantRef() uuid.UUID      { return s.TenantID }
func (s *ReportShare) AssignTenant(id uuid.UUID) { s.TenantID = id }
func (s *ReportShare) ProjectRef() uuid.UUID     { return s.ProjectID }
func (s *ReportShare) Clone() Record             { c := *s; return &c }

// Validate checks share fields.
func (s *ReportShare) Validate() error {
	if s.ProjectID == uuid.Nil || s.ResourceID == uuid.Nil {
		return apperrors.Validation("project_id and resource_id are required")
	}
	if s.Token == "" {
		return apperrors.Validation("token is required")
	}
	return nil
}

// Usable reports whether the share can be redeemed at now.
func (s *ReportShare) Usable(now time.Time) bool {
	if s.RevokedAt != nil || !s.IsPublic {
		return false
	}
	return s.ExpiresAt == nil || now.Before(*s.ExpiresAt)
}

// NotificationStatus tracks delivery to the external push service
type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

// Notification kinds
const (
	NotifyApprovalRequested = "approval_requested"
	NotifyEnrollmentDecided = "enrollment_decided"
	NotifyRFIEscalated      = "rfi_escalated"
)

// Notification is a queued message for the external delivery service.
type Notification struct {
	ID          uuid.UUID          `json:"id"`
	TenantID    uuid.UUID          `json:"company_id"`
	PrincipalID uuid.UUID          `json:"user_id"`
	Kind        string             `json:"kind"`
	Payload     json.RawMessage    `json:"payload,omitempty"`
	Status      NotificationStatus `json:"status"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"last_error,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	SentAt      *time.Time         `json:"sent_at,omitempty"`
}

func (n *Notification) Table() Table              { return TableNotifications }
func (n *Notification) RecordID() uuid.UUID       { return n.ID }
func (n *Notification) AssignID(id uuid.UUID)     { n.ID = id }
func (n *Notification) TenantRef() uuid.UUID      { return n.TenantID }
func (n *Notification) AssignTenant(id uuid.UUID) { n.TenantID = id }
func (n *Notification) Clone() Record             { c := *n; return &c }

// AuditOp is the operation recorded in an audit entry
type AuditOp string

const (
	AuditInsert  AuditOp = "insert"
	AuditUpdate  AuditOp = "update"
	AuditDelete  AuditOp = "delete"
	AuditRestore AuditOp = "restore"
)

// AuditEntry records one permitted write.
type AuditEntry struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"company_id"`
	PrincipalID uuid.UUID `json:"user_id"`
	System      bool      `json:"system"`
	RecordTable Table     `json:"table_name"`
	RowID       uuid.UUID `json:"record_id"`
	Op          AuditOp   `json:"op"`
	At          time.Time `json:"at"`
}

func (a *AuditEntry) Table() Table          { return TableAuditLogs }
func (a *AuditEntry) RecordID() uuid.UUID   { return a.ID }
func (a *AuditEntry) AssignID(id uuid.UUID) { a.ID = id }
func (a *AuditEntry) TenantRef() uuid.UUID  { return a.TenantID }
func (a *AuditEntry) Clone() Record         { c := *a; return &c }
