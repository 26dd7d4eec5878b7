// Package async provides goroutine helpers for background work.
//
// SafeGo runs a task with a timeout and panic recovery, logging failures
// instead of propagating them; the enrollment hook uses it to retry without
// failing the identity provider's sign-up call.
//
//	async.SafeGo(ctx, logger, 30*time.Second, "enrollment retry", func(ctx context.Context) error {
//		return async.Retry(ctx, policy, attempt)
//	})
//
// Retry re-runs a function with doubling backoff until it succeeds, returns
// a Permanent error or runs out of attempts.
//
// WorkerPool and Batch fan work out over a fixed number of workers; the
// dispatcher refreshes project health snapshots with Batch.
//
//	errs := async.Batch(ctx, logger, projectIDs, 4, "health refresh", 10*time.Second, refresh)
package async
