package shares

import (
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/shopspring/decimal"
)

// Shareable reports whether rows of table can be shared.
func Shareable(table models.Table) bool {
	switch table {
	case models.TableProjects, models.TableEstimates, models.TableEstimateItems,
		models.TableEquipmentLogs, models.TableCostTransactions, models.TableRFIs,
		models.TableScheduleActivities, models.TableSafetyIncidents, models.TablePunchItems,
		models.TableHealthSnapshots:
		return true
	}
	return false
}

// Visible reports whether a share holder may see rows of table under
// settings.
func Visible(table models.Table, settings *models.PortalSettings) bool {
	switch table {
	case models.TableProjects:
		return true
	case models.TableEstimates, models.TableEstimateItems, models.TableEquipmentLogs, models.TableCostTransactions:
		return settings.ShowBudget
	case models.TableRFIs:
		return settings.ShowRFIs
	case models.TableScheduleActivities:
		return settings.ShowSchedule
	case models.TableSafetyIncidents, models.TablePunchItems:
		return settings.ShowDocuments
	case models.TableHealthSnapshots:
		return settings.ShowBudget && settings.ShowSchedule
	}
	return false
}

// Withheld lists the JSON fields of rec that settings hide. They are left
// out of the share payload entirely, so a hidden cost never reads as zero.
func Withheld(rec models.Record, settings *models.PortalSettings) []string {
	if _, ok := rec.(*models.Project); !ok {
		return nil
	}
	var fields []string
	if !settings.ShowBudget {
		fields = append(fields, "budget", "actual_cost")
	}
	if !settings.ShowSchedule {
		fields = append(fields, "planned_end", "forecast_end", "percent_plan_complete")
	}
	return fields
}

// Redact returns a copy of rec with the fields settings hide cleared.
func Redact(rec models.Record, settings *models.PortalSettings) models.Record {
	out := rec.Clone()
	if p, ok := out.(*models.Project); ok {
		if !settings.ShowBudget {
			p.Budget = nil
			p.ActualCost = decimal.Zero
		}
		if !settings.ShowSchedule {
			p.PlannedEnd = nil
			p.ForecastEnd = nil
			p.PercentPlanComplete = nil
		}
	}
	return out
}
