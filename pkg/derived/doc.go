// Package derived keeps computed fields and aggregates consistent with the
// rows they are derived from.
//
// Row-level maintainers rewrite computed columns of a row from its own
// fields on every insert and update, so client-supplied values for those
// columns never survive:
//
//	estimate item   subtotal = quantity × (material + labor + equipment)
//	                markup   = subtotal × markup_percent / 100
//	                total    = subtotal + markup
//	equipment log   total_cost = hourly_rate × hours + fuel_cost
//	RFI             open and past due → escalated, priority bumped once
//
// Statement-level aggregators re-derive parent rows from their current,
// non-tombstoned children once per parent per statement: estimate totals,
// project actual cost and project percent plan complete.
//
// Nil inputs count as zero except quantity, which counts as one. Values keep
// full precision; rounding happens only at presentation.
package derived
