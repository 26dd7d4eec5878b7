package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/shopspring/decimal"
)

// CostEstimate groups estimate line items. Subtotal, MarkupAmount, Total
// and ItemCount are aggregates over the non-tombstoned items; ItemCount of
// zero means "no line items yet" rather than a legitimate zero total.
type CostEstimate struct {
	ID           uuid.UUID       `json:"id"`
	ProjectID    uuid.UUID       `json:"project_id"`
	TenantID     uuid.UUID       `json:"company_id"`
	Name         string          `json:"name"`
	Subtotal     decimal.Decimal `json:"subtotal"`
	MarkupAmount decimal.Decimal `json:"markup_amount"`
	Total        decimal.Decimal `json:"total"`
	ItemCount    int             `json:"item_count"`
	CreatedBy    uuid.UUID       `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at,omitempty"`
}

func (e *CostEstimate) Table() Table              { return TableEstimates }
func (e *CostEstimate) RecordID() uuid.UUID       { return e.ID }
func (e *CostEstimate) AssignID(id uuid.UUID)     { e.ID = id }
func (e *CostEstimate) TenantRef() uuid.UUID      { return e.TenantID }
func (e *CostEstimate) AssignTenant(id uuid.UUID) { e.TenantID = id }
func (e *CostEstimate) ProjectRef() uuid.UUID     { return e.ProjectID }
func (e *CostEstimate) DeletedTime() *time.Time   { return e.DeletedAt }
func (e *CostEstimate) SetDeleted(at *time.Time)  { e.DeletedAt = at }
func (e *CostEstimate) Clone() Record             { c := *e; return &c }

// Validate checks client-supplied estimate fields.
func (e *CostEstimate) Validate() error {
	if e.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	if strings.TrimSpace(e.Name) == "" {
		return apperrors.Validation("estimate name is required")
	}
	return nil
}

// EstimateItem is one estimate line. Nil cost inputs count as zero; a nil
// quantity counts as one. Subtotal, MarkupAmount and Total are computed.
type EstimateItem struct {
	ID            uuid.UUID        `json:"id"`
	EstimateID    uuid.UUID        `json:"estimate_id"`
	ProjectID     uuid.UUID        `json:"project_id"`
	TenantID      uuid.UUID        `json:"company_id"`
	Description   string           `json:"description"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	MaterialCost  *decimal.Decimal `json:"material_cost,omitempty"`
	LaborCost     *decimal.Decimal `json:"labor_cost,omitempty"`
	EquipmentCost *decimal.Decimal `json:"equipment_cost,omitempty"`
	MarkupPercent *decimal.Decimal `json:"markup_percent,omitempty"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	MarkupAmount  decimal.Decimal  `json:"markup_amount"`
	Total         decimal.Decimal  `json:"total"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	DeletedAt     *time.Time       `json:"deleted_at,omitempty"`
}

func (i *EstimateItem) Table() Table               { return TableEstimateItems }
func (i *EstimateItem) RecordID() uuid.UUID        { return i.ID }
func (i *EstimateItem) AssignID(id uuid.UUID)      { i.ID = id }
func (i *EstimateItem) TenantRef() uuid.UUID       { return i.TenantID }
func (i *EstimateItem) AssignTenant(id uuid.UUID)  { i.TenantID = id }
func (i *EstimateItem) ProjectRef() uuid.UUID      { return i.ProjectID }
func (i *EstimateItem) AssignProject(id uuid.UUID) { i.ProjectID = id }
func (i *EstimateItem) ParentTable() Table         { return TableEstimates }
func (i *EstimateItem) ParentRef() uuid.UUID       { return i.EstimateID }
func (i *EstimateItem) DeletedTime() *time.Time    { return i.DeletedAt }
func (i *EstimateItem) SetDeleted(at *time.Time)   { i.DeletedAt = at }
func (i *EstimateItem) Clone() Record              { c := *i; return &c }

// Validate checks client-supplied item fields.
func (i *EstimateItem) Validate() error {
	if i.EstimateID == uuid.Nil {
		return apperrors.Validation("estimate_id is required")
	}
	for name, v := range map[string]*decimal.Decimal{
		"quantity":       i.Quantity,
		"material_cost":  i.MaterialCost,
		"labor_cost":     i.LaborCost,
		"equipment_cost": i.EquipmentCost,
		"markup_percent": i.MarkupPercent,
	} {
		if v != nil && v.IsNegative() {
			return apperrors.Validation("%s must not be negative", name)
		}
	}
	return nil
}

// EquipmentLog records equipment usage. TotalCost is computed.
type EquipmentLog struct {
	ID         uuid.UUID        `json:"id"`
	ProjectID  uuid.UUID        `json:"project_id"`
	TenantID   uuid.UUID        `json:"company_id"`
	Equipment  string           `json:"equipment"`
	HourlyRate *decimal.Decimal `json:"hourly_rate,omitempty"`
	Hours      *decimal.Decimal `json:"hours,omitempty"`
	FuelCost   *decimal.Decimal `json:"fuel_cost,omitempty"`
	TotalCost  decimal.Decimal  `json:"total_cost"`
	LoggedOn   time.Time        `json:"logged_on"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	DeletedAt  *time.Time       `json:"deleted_at,omitempty"`
}

func (l *EquipmentLog) Table() Table              { return TableEquipmentLogs }
func (l *EquipmentLog) RecordID() uuid.UUID       { return l.ID }
func (l *EquipmentLog) AssignID(id uuid.UUID)     { l.ID = id }
func (l *EquipmentLog) TenantRef() uuid.UUID      { return l.TenantID }
func (l *EquipmentLog) AssignTenant(id uuid.UUID) { l.TenantID = id }
func (l *EquipmentLog) ProjectRef() uuid.UUID     { return l.ProjectID }
func (l *EquipmentLog) DeletedTime() *time.Time   { return l.DeletedAt }
func (l *EquipmentLog) SetDeleted(at *time.Time)  { l.DeletedAt = at }
func (l *EquipmentLog) Clone() Record             { c := *l; return &c }

// Validate checks client-supplied log fields.
func (l *EquipmentLog) Validate() error {
	if l.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	if strings.TrimSpace(l.Equipment) == "" {
		return apperrors.Validation("equipment is required")
	}
	for _, v := range []*decimal.Decimal{l.HourlyRate, l.Hours, l.FuelCost} {
		if v != nil && v.IsNegative() {
			return apperrors.Validation("equipment costs must not be negative")
		}
	}
	return nil
}

// CostTransaction is an actual cost booked against a project.
type CostTransaction struct {
	ID          uuid.UUID       `json:"id"`
	ProjectID   uuid.UUID       `json:"project_id"`
	TenantID    uuid.UUID       `json:"company_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	DeletedAt   *time.Time      `json:"deleted_at,omitempty"`
}

func (c *CostTransaction) Table() Table              { return TableCostTransactions }
func (c *CostTransaction) RecordID() uuid.UUID       { return c.ID }
func (c *CostTransaction) AssignID(id uuid.UUID)     { c.ID = id }
func (c *CostTransaction) TenantRef() uuid.UUID      { return c.TenantID }
func (c *CostTransaction) AssignTenant(id uuid.UUID) { c.TenantID = id }
func (c *CostTransaction) ProjectRef() uuid.UUID     { return c.ProjectID }
func (c *CostTransaction) DeletedTime() *time.Time   { return c.DeletedAt }
func (c *CostTransaction) SetDeleted(at *time.Time)  { c.DeletedAt = at }
func (c *CostTransaction) Clone() Record             { cp := *c; return &cp }

// Validate checks client-supplied transaction fields.
func (c *CostTransaction) Validate() error {
	if c.ProjectID == uuid.Nil {
		return apperrors.Validation("project_id is required")
	}
	return nil
}

// Dec returns *d, or zero for nil.
func Dec(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// RoundForPresentation rounds a monetary value to two places, half away
// from zero. Stored values keep full precision.
func RoundForPresentation(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
