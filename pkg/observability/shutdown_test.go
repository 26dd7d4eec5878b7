package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_RunsStagesInOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), nil, 0)

	var order []string
	sm.Register("hooks", func(ctx context.Context) error { order = append(order, "hooks"); return nil })
	sm.Register("store", func(ctx context.Context) error { order = append(order, "store"); return nil })

	assert.NoError(t, sm.Shutdown())
	assert.Equal(t, []string{"hooks", "store"}, order)

	// a second call does not rerun the stages
	assert.NoError(t, sm.Shutdown())
	assert.Len(t, order, 2)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	ran := false
	sm.Register("store", func(ctx context.Context) error { return errors.New("close failed") })
	sm.Register("tracing", func(ctx context.Context) error { ran = true; return nil })

	err := sm.Shutdown()
	assert.EqualError(t, err, "store: close failed")
	assert.True(t, ran)
}

func TestShutdownManager_StagesShareDeadline(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	sm.Register("check", func(ctx context.Context) error {
		_, ok := ctx.Deadline()
		assert.True(t, ok)
		return nil
	})
	assert.NoError(t, sm.Shutdown())
}
