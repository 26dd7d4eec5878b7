package derived

import (
	"time"

	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
)

// Options registers every maintainer, aggregator and derived handler with
// an events pipeline. clock supplies "now" for RFI escalation.
func Options(clock func() time.Time) []events.Option {
	if clock == nil {
		clock = models.Now
	}
	return []events.Option{
		events.WithMaintainer(models.TableEstimateItems, itemMaintainer()),
		events.WithMaintainer(models.TableEquipmentLogs, equipmentMaintainer()),
		events.WithMaintainer(models.TableRFIs, rfiMaintainer(clock)),
		events.WithHandler(escalationNotifier()),
		events.WithAggregator(EstimateTotals{}),
		events.WithAggregator(ProjectCost{}),
		events.WithAggregator(ProjectPPC{}),
	}
}
