package derived

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/events"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/store"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ComputeItem overwrites the computed fields of item.
func ComputeItem(item *models.EstimateItem) {
	qty := decimal.NewFromInt(1)
	if item.Quantity != nil {
		qty = *item.Quantity
	}
	unit := models.Dec(item.MaterialCost).Add(models.Dec(item.LaborCost)).Add(models.Dec(item.EquipmentCost))

	item.Subtotal = qty.Mul(unit)
	item.MarkupAmount = item.Subtotal.Mul(models.Dec(item.MarkupPercent)).Div(hundred)
	item.Total = item.Subtotal.Add(item.MarkupAmount)
}

// ComputeEquipment overwrites the total cost of log.
func ComputeEquipment(log *models.EquipmentLog) {
	log.TotalCost = models.Dec(log.HourlyRate).Mul(models.Dec(log.Hours)).Add(models.Dec(log.FuelCost))
}

// Escalate marks an open, overdue RFI as escalated and bumps its priority.
// An RFI is escalated at most once. It reports whether rfi changed.
func Escalate(rfi *models.RFI, now time.Time) bool {
	if rfi.Escalated || !rfi.Overdue(now) {
		return false
	}
	at := now
	rfi.Escalated = true
	rfi.EscalatedAt = &at
	rfi.Priority = rfi.Priority.Bump()
	return true
}

func itemMaintainer() events.Maintainer {
	return events.MaintainerFunc(func(ctx context.Context, evt *events.ChangeEvent) error {
		item, ok := evt.New.(*models.EstimateItem)
		if !ok {
			return fmt.Errorf("unexpected %T in %s maintainer", evt.New, evt.Table)
		}
		ComputeItem(item)
		return nil
	})
}

func equipmentMaintainer() events.Maintainer {
	return events.MaintainerFunc(func(ctx context.Context, evt *events.ChangeEvent) error {
		log, ok := evt.New.(*models.EquipmentLog)
		if !ok {
			return fmt.Errorf("unexpected %T in %s maintainer", evt.New, evt.Table)
		}
		ComputeEquipment(log)
		return nil
	})
}

// rfiMaintainer keeps the escalation fields server-owned and applies the
// escalation rule at write time.
func rfiMaintainer(clock func() time.Time) events.Maintainer {
	return events.MaintainerFunc(func(ctx context.Context, evt *events.ChangeEvent) error {
		rfi, ok := evt.New.(*models.RFI)
		if !ok {
			return fmt.Errorf("unexpected %T in %s maintainer", evt.New, evt.Table)
		}
		if old, ok := evt.Old.(*models.RFI); ok {
			rfi.Escalated = old.Escalated
			rfi.EscalatedAt = old.EscalatedAt
		} else {
			rfi.Escalated = false
			rfi.EscalatedAt = nil
		}
		Escalate(rfi, clock())
		return nil
	})
}

// escalationNotifier queues a notification to the RFI's author when a write
// escalates it.
func escalationNotifier() events.Handler {
	return events.HandlerFunc(func(ctx context.Context, tx store.Tx, evt events.ChangeEvent) error {
		rfi, ok := evt.New.(*models.RFI)
		if !ok || !rfi.Escalated || rfi.CreatedBy == uuid.Nil {
			return nil
		}
		if old, ok := evt.Old.(*models.RFI); ok && old.Escalated {
			return nil
		}

		payload, err := json.Marshal(map[string]interface{}{
			"rfi_id":     rfi.ID,
			"project_id": rfi.ProjectID,
			"number":     rfi.Number,
			"subject":    rfi.Subject,
			"priority":   rfi.Priority,
		})
		if err != nil {
			return fmt.Errorf("failed to encode notification payload: %w", err)
		}

		n := &models.Notification{
			ID:          uuid.New(),
			TenantID:    rfi.TenantID,
			PrincipalID: rfi.CreatedBy,
			Kind:        models.NotifyRFIEscalated,
			Payload:     payload,
			Status:      models.NotificationPending,
			CreatedAt:   evt.At,
		}
		if err := tx.Insert(ctx, n); err != nil {
			return fmt.Errorf("failed to queue escalation notification: %w", err)
		}
		return nil
	})
}
