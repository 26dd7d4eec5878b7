// Package health computes the weighted project health score.
//
//	overall = 0.4×budget + 0.4×schedule + 0.1×safety + 0.1×quality
//
// Every sub-score is clamped to [0,100]. Missing inputs (no budget, no
// schedule baseline, no punch items) score a neutral 100 rather than zero so
// incomplete data entry never reads as a failing project.
package health

import (
	"time"

	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/shopspring/decimal"
)

// Weights of the sub-scores.
var (
	WeightBudget   = decimal.RequireFromString("0.4")
	WeightSchedule = decimal.RequireFromString("0.4")
	WeightSafety   = decimal.RequireFromString("0.1")
	WeightQuality  = decimal.RequireFromString("0.1")
)

// SafetyWindow is how far back incidents count.
const SafetyWindow = 90 * 24 * time.Hour

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// Inputs are the source facts of one project.
type Inputs struct {
	Budget      *decimal.Decimal
	ActualCost  decimal.Decimal
	PlannedEnd  *time.Time
	ForecastEnd *time.Time
	// PercentPlanComplete is a fraction in [0,1], nil when unknown.
	PercentPlanComplete *decimal.Decimal
	// Incidents inside SafetyWindow, by severity.
	Incidents   map[models.Severity]int
	PunchTotal  int
	PunchClosed int
}

// Breakdown is a computed score.
type Breakdown struct {
	Budget   decimal.Decimal `json:"budget"`
	Schedule decimal.Decimal `json:"schedule"`
	Safety   decimal.Decimal `json:"safety"`
	Quality  decimal.Decimal `json:"quality"`
	Overall  decimal.Decimal `json:"overall"`
}

// Clamp bounds v to [0,100].
func Clamp(v decimal.Decimal) decimal.Decimal {
	if v.LessThan(zero) {
		return zero
	}
	if v.GreaterThan(hundred) {
		return hundred
	}
	return v
}

// Score computes the breakdown of in.
func Score(in Inputs) Breakdown {
	b := Breakdown{
		Budget:   BudgetScore(in.Budget, in.ActualCost),
		Schedule: ScheduleScore(in.PlannedEnd, in.ForecastEnd, in.PercentPlanComplete),
		Safety:   SafetyScore(in.Incidents),
		Quality:  QualityScore(in.PunchTotal, in.PunchClosed),
	}
	b.Overall = Clamp(b.Budget.Mul(WeightBudget).
		Add(b.Schedule.Mul(WeightSchedule)).
		Add(b.Safety.Mul(WeightSafety)).
		Add(b.Quality.Mul(WeightQuality)))
	return b
}

// BudgetScore loses two points per percent over budget.
func BudgetScore(budget *decimal.Decimal, actual decimal.Decimal) decimal.Decimal {
	if budget == nil || !budget.IsPositive() {
		return hundred
	}
	over := actual.Sub(*budget).Div(*budget).Mul(hundred)
	if over.IsNegative() {
		over = zero
	}
	return Clamp(hundred.Sub(over.Mul(two)))
}

// ScheduleScore loses two points per whole day the forecast finish is past
// the planned finish, and is capped by percent plan complete when known.
func ScheduleScore(planned, forecast *time.Time, ppc *decimal.Decimal) decimal.Decimal {
	score := hundred
	if planned != nil && forecast != nil {
		if late := forecast.Sub(*planned); late > 0 {
			days := decimal.NewFromInt(int64(late / (24 * time.Hour)))
			score = hundred.Sub(days.Mul(two))
		}
	}
	if ppc != nil {
		score = decimal.Min(score, ppc.Mul(hundred))
	}
	return Clamp(score)
}

var severityCost = map[models.Severity]int64{
	models.SeverityMinor:      5,
	models.SeverityRecordable: 15,
	models.SeverityLostTime:   30,
}

// SafetyScore deducts per incident by severity.
func SafetyScore(incidents map[models.Severity]int) decimal.Decimal {
	score := hundred
	for severity, n := range incidents {
		score = score.Sub(decimal.NewFromInt(severityCost[severity] * int64(n)))
	}
	return Clamp(score)
}

// QualityScore is the share of punch items closed.
func QualityScore(total, closed int) decimal.Decimal {
	if total <= 0 {
		return hundred
	}
	return Clamp(decimal.NewFromInt(int64(closed)).Mul(hundred).Div(decimal.NewFromInt(int64(total))))
}
