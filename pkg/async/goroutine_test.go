package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/platinummonkey/keystone/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not finish")
	}
}

func TestSafeGo_Success(t *testing.T) {
	var executed atomic.Bool
	waitDone(t, SafeGo(context.Background(), nil, time.Second, "test task", func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}))
	assert.True(t, executed.Load())
}

func TestSafeGo_ErrorAndPanicAreContained(t *testing.T) {
	logger := observability.NopLogger()
	waitDone(t, SafeGo(context.Background(), logger, time.Second, "failing task", func(ctx context.Context) error {
		return errors.New("boom")
	}))
	waitDone(t, SafeGo(context.Background(), logger, time.Second, "panicking task", func(ctx context.Context) error {
		panic("kaboom")
	}))
}

func TestSafeGo_Timeout(t *testing.T) {
	var completed atomic.Bool
	waitDone(t, SafeGo(context.Background(), nil, 50*time.Millisecond, "slow task", func(ctx context.Context) error {
		select {
		case <-time.After(time.Second):
			completed.Store(true)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	assert.False(t, completed.Load())
}

func TestRetry(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond}

	t.Run("succeeds after failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			calls++
			if attempt < 3 {
				return errors.New("transient")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up", func(t *testing.T) {
		transient := errors.New("transient")
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			calls++
			return transient
		})
		assert.ErrorIs(t, err, transient)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent stops immediately", func(t *testing.T) {
		fatal := errors.New("fatal")
		calls := 0
		err := Retry(context.Background(), policy, func(ctx context.Context, attempt int) error {
			calls++
			return Permanent(fatal)
		})
		assert.Equal(t, fatal, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("context cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, RetryPolicy{MaxAttempts: 5, Backoff: time.Hour}, func(ctx context.Context, attempt int) error {
			return errors.New("transient")
		})
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestWorkerPool(t *testing.T) {
	pool := NewWorkerPool(context.Background(), nil, 3, "test", time.Second)

	var count atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(func(ctx context.Context) error {
			count.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Submit(func(ctx context.Context) error { return errors.New("bad") }))
	require.NoError(t, pool.Submit(func(ctx context.Context) error { panic("worse") }))

	errs := pool.Shutdown(time.Second)
	assert.Equal(t, int32(10), count.Load())
	assert.Len(t, errs, 2)

	assert.ErrorIs(t, pool.Submit(func(ctx context.Context) error { return nil }), ErrPoolShutDown)
}

func TestBatch(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8}
	var sum atomic.Int64

	errs := Batch(context.Background(), nil, items, 3, "sum", time.Second, func(ctx context.Context, n int) error {
		sum.Add(int64(n))
		if n%4 == 0 {
			return errors.New("multiple of four")
		}
		return nil
	})

	assert.Equal(t, int64(36), sum.Load())
	assert.Len(t, errs, 2)
}

func TestBatch_Empty(t *testing.T) {
	errs := Batch(context.Background(), nil, []string{}, 2, "empty", time.Second, func(ctx context.Context, s string) error {
		return errors.New("never called")
	})
	assert.Empty(t, errs)
}
