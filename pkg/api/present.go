package api

import (
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/shopspring/decimal"
)

// present returns a copy of rec with its money totals rounded for output.
// Stored values keep full precision; client-entered unit costs are echoed
// as sent.
func present(rec models.Record) models.Record {
	if rec == nil {
		return nil
	}
	out := rec.Clone()
	switch r := out.(type) {
	case *models.CostEstimate:
		r.Subtotal = models.RoundForPresentation(r.Subtotal)
		r.MarkupAmount = models.RoundForPresentation(r.MarkupAmount)
		r.Total = models.RoundForPresentation(r.Total)
	case *models.EstimateItem:
		r.Subtotal = models.RoundForPresentation(r.Subtotal)
		r.MarkupAmount = models.RoundForPresentation(r.MarkupAmount)
		r.Total = models.RoundForPresentation(r.Total)
	case *models.EquipmentLog:
		r.TotalCost = models.RoundForPresentation(r.TotalCost)
	case *models.CostTransaction:
		r.Amount = models.RoundForPresentation(r.Amount)
	case *models.Project:
		r.Budget = roundPtr(r.Budget)
		r.ActualCost = models.RoundForPresentation(r.ActualCost)
	}
	return out
}

func presentAll(rows []models.Record) []models.Record {
	out := make([]models.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, present(row))
	}
	return out
}

func roundPtr(d *decimal.Decimal) *decimal.Decimal {
	if d == nil {
		return nil
	}
	v := models.RoundForPresentation(*d)
	return &v
}
