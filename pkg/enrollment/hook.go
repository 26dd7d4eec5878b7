package enrollment

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/platinummonkey/keystone/pkg/apperrors"
	"github.com/platinummonkey/keystone/pkg/async"
	"github.com/platinummonkey/keystone/pkg/observability"
)

// Hook adapts Service to the identity provider's post-create callback. The
// callback never fails: a failed enrollment must not fail the sign-up, so
// errors are logged, counted and retried in the background.
type Hook struct {
	svc     *Service
	policy  async.RetryPolicy
	timeout time.Duration
	logger  *observability.Logger
	metrics *observability.Metrics
	wg      sync.WaitGroup
}

// NewHook creates a hook retrying up to maxAttempts times with backoff.
func NewHook(svc *Service, maxAttempts int, backoff time.Duration) *Hook {
	return &Hook{
		svc:     svc,
		policy:  async.RetryPolicy{MaxAttempts: maxAttempts, Backoff: backoff, MaxBackoff: time.Minute},
		timeout: time.Duration(maxAttempts+1) * (backoff + 30*time.Second),
		logger:  svc.logger,
		metrics: svc.metrics,
	}
}

// OnIdentityCreated enrolls evt. It returns immediately after the first
// attempt; later attempts run in the background.
func (h *Hook) OnIdentityCreated(ctx context.Context, evt IdentityEvent) {
	err := h.enroll(ctx, evt)
	if err == nil || apperrors.IsConflictIgnored(err) {
		return
	}
	log := h.logger.WithError(err).WithField("subject", evt.Subject)
	if apperrors.IsValidation(err) {
		log.Warn("Dropping invalid identity event")
		return
	}

	log.Warn("Enrollment failed, retrying in background")
	h.metrics.RecordEnrollment("deferred")

	h.wg.Add(1)
	async.SafeGo(context.WithoutCancel(ctx), h.logger, h.timeout, "enrollment retry", func(ctx context.Context) error {
		defer h.wg.Done()
		return async.Retry(ctx, h.policy, func(ctx context.Context, attempt int) error {
			err := h.enroll(ctx, evt)
			switch {
			case err == nil, apperrors.IsConflictIgnored(err):
				return nil
			case apperrors.IsValidation(err):
				return async.Permanent(err)
			}
			return err
		})
	})
}

// enroll runs one attempt, turning a panic into a retryable error.
func (h *Hook) enroll(ctx context.Context, evt IdentityEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.WithFields(map[string]interface{}{
				"subject": evt.Subject,
				"panic":   fmt.Sprint(r),
				"stack":   string(debug.Stack()),
			}).Error("PANIC recovered in enrollment")
			err = observability.PanicError(r)
		}
	}()
	_, err = h.svc.Enroll(ctx, evt)
	return err
}

// Wait blocks until background retries finish.
func (h *Hook) Wait() {
	h.wg.Wait()
}
