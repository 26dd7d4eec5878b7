package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
)

// Role is a principal's tenant-wide role
type Role string

const (
	RoleOwner          Role = "owner"
	RoleAdmin          Role = "admin"
	RoleProjectManager Role = "project_manager"
	RoleFieldEmployee  Role = "field_employee"
	RoleClient         Role = "client"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleProjectManager, RoleFieldEmployee, RoleClient:
		return true
	}
	return false
}

// Elevated roles have implicit access to every project in their tenant.
func (r Role) Elevated() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ApprovalStatus tracks a principal's enrollment state
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Tenant is a company, the root isolation boundary.
type Tenant struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
}

func (t *Tenant) Table() Table             { return TableTenants }
func (t *Tenant) RecordID() uuid.UUID      { return t.ID }
func (t *Tenant) AssignID(id uuid.UUID)    { t.ID = id }
func (t *Tenant) TenantRef() uuid.UUID     { return t.ID }
func (t *Tenant) DeletedTime() *time.Time  { return t.DeletedAt }
func (t *Tenant) SetDeleted(at *time.Time) { t.DeletedAt = at }
func (t *Tenant) Clone() Record            { c := *t; return &c }

// Validate checks the tenant name and refreshes NormalizedName.
func (t *Tenant) Validate() error {
	t.NormalizedName = NormalizeName(t.Name)
	if t.NormalizedName == "" {
		return apperrors.Validation("company name is required")
	}
	return nil
}

// NormalizeName is the case-insensitive, whitespace-trimmed tenant match key.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Principal is an authenticated identity.
type Principal struct {
	ID             uuid.UUID      `json:"id"`
	IdentityKey    string         `json:"-"`
	Email          string         `json:"email"`
	FullName       string         `json:"full_name"`
	TenantID       *uuid.UUID     `json:"company_id,omitempty"`
	Role           Role           `json:"role"`
	ApprovalStatus ApprovalStatus `json:"approval_status"`
	IsActive       bool           `json:"is_active"`
	ApprovedAt     *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy     *uuid.UUID     `json:"approved_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
}

func (p *Principal) Table() Table             { return TablePrincipals }
func (p *Principal) RecordID() uuid.UUID      { return p.ID }
func (p *Principal) AssignID(id uuid.UUID)    { p.ID = id }
func (p *Principal) TenantRef() uuid.UUID     { return deref(p.TenantID) }
func (p *Principal) DeletedTime() *time.Time  { return p.DeletedAt }
func (p *Principal) SetDeleted(at *time.Time) { p.DeletedAt = at }
func (p *Principal) Clone() Record            { c := *p; return &c }

// Validate checks profile fields.
func (p *Principal) Validate() error {
	if strings.TrimSpace(p.IdentityKey) == "" {
		return apperrors.Validation("identity key is required")
	}
	if !p.Role.Valid() {
		return apperrors.Validation("invalid role: %q", p.Role)
	}
	switch p.ApprovalStatus {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
	default:
		return apperrors.Validation("invalid approval status: %q", p.ApprovalStatus)
	}
	return nil
}
