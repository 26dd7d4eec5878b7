package webhooks

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/platinummonkey/keystone/pkg/models"
	"github.com/platinummonkey/keystone/pkg/observability"
)

// Queue is the notification queue a Deliverer drains.
type Queue interface {
	PendingNotifications(ctx context.Context, limit int) ([]*models.Notification, error)
	MarkNotificationSent(ctx context.Context, id uuid.UUID) (*models.Notification, error)
	MarkNotificationFailed(ctx context.Context, id uuid.UUID, reason string) (*models.Notification, error)
}

// DeliveryStats summarizes one drain.
type DeliveryStats struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Deliverer sends pending notifications and records the outcome.
type Deliverer struct {
	queue     Queue
	sender    *Sender
	batchSize int
	metrics   *observability.Metrics
	logger    *observability.Logger
}

// NewDeliverer creates a deliverer.
func NewDeliverer(queue Queue, sender *Sender, batchSize int, metrics *observability.Metrics, logger *observability.Logger) *Deliverer {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Deliverer{
		queue:     queue,
		sender:    sender,
		batchSize: batchSize,
		metrics:   metrics,
		logger:    logger,
	}
}

// Drain delivers up to one batch of pending notifications, oldest first.
// A failed send is recorded on the notification and does not stop the
// drain; only queue errors are returned.
func (d *Deliverer) Drain(ctx context.Context) (DeliveryStats, error) {
	ctx, span := observability.Tracer().Start(ctx, "webhooks.Drain")
	defer span.End()

	var stats DeliveryStats
	pending, err := d.queue.PendingNotifications(ctx, d.batchSize)
	if err != nil {
		d.metrics.RecordSweep("notifications", err)
		return stats, err
	}

	var firstErr error
	for _, n := range pending {
		if ctx.Err() != nil {
			break
		}
		stats.Attempted++
		log := d.logger.WithFields(map[string]interface{}{
			"notification_id": n.ID.String(),
			"kind":            n.Kind,
		})

		if sendErr := d.sender.Send(ctx, EventFor(n)); sendErr != nil {
			stats.Failed++
			updated, err := d.queue.MarkNotificationFailed(ctx, n.ID, sendErr.Error())
			if err != nil {
				log.WithError(err).Error("Failed to record delivery failure")
				if firstErr == nil {
					firstErr = fmt.Errorf("notification %s: %w", n.ID, err)
				}
				continue
			}
			log.WithError(sendErr).WithField("attempts", updated.Attempts).Warn("Notification delivery failed")
			continue
		}

		if _, err := d.queue.MarkNotificationSent(ctx, n.ID); err != nil {
			log.WithError(err).Error("Failed to record delivery")
			if firstErr == nil {
				firstErr = fmt.Errorf("notification %s: %w", n.ID, err)
			}
			continue
		}
		stats.Sent++
	}

	d.metrics.RecordSweep("notifications", firstErr)
	if stats.Attempted > 0 {
		d.logger.WithFields(map[string]interface{}{
			"attempted": stats.Attempted,
			"sent":      stats.Sent,
			"failed":    stats.Failed,
		}).Info("Notification drain finished")
	}
	return stats, firstErr
}
