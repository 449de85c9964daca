package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskRegistry(t *testing.T) {
	r := NewTaskRegistry()
	require.NoError(t, RegisterBuiltins(r))
	assert.Equal(t, []string{TaskEcho, TaskFail, TaskSet, TaskSleep}, r.Names())

	assert.Error(t, r.Register(TaskEcho, echoTask), "duplicate names are rejected")
	assert.Error(t, r.Register("", echoTask))
	assert.Error(t, r.Register("nil", nil))

	_, ok := r.Lookup("missing")
	assert.False(t, ok)
}

func TestBuiltinTasks(t *testing.T) {
	ctx := context.Background()
	withParams := func(state map[string]any, params map[string]any) map[string]any {
		in := domain.CloneState(state)
		in[domain.ParamsKey] = params
		return in
	}

	t.Run("echo copies all state", func(t *testing.T) {
		out, err := echoTask(ctx, withParams(map[string]any{"a": 1, "b": 2}, nil))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"a": 1, "b": 2}, out)
	})

	t.Run("echo copies selected keys", func(t *testing.T) {
		out, err := echoTask(ctx, withParams(map[string]any{"a": 1, "b": 2}, map[string]any{"keys": []any{"b", "missing"}}))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"b": 2}, out)
	})

	t.Run("set outputs params", func(t *testing.T) {
		out, err := setTask(ctx, withParams(nil, map[string]any{"rows": 3}))
		require.NoError(t, err)
		assert.Equal(t, map[string]any{"rows": 3}, out)
	})

	t.Run("sleep waits", func(t *testing.T) {
		start := time.Now()
		_, err := sleepTask(ctx, withParams(nil, map[string]any{"duration": "20ms"}))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	})

	t.Run("sleep honours context", func(t *testing.T) {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		_, err := sleepTask(cctx, withParams(nil, map[string]any{"duration": "1h"}))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("sleep needs a duration", func(t *testing.T) {
		_, err := sleepTask(ctx, withParams(nil, nil))
		assert.Error(t, err)
	})

	t.Run("fail", func(t *testing.T) {
		_, err := failTask(ctx, withParams(nil, map[string]any{"message": "boom"}))
		assert.EqualError(t, err, "boom")
		_, err = failTask(ctx, map[string]any{})
		assert.EqualError(t, err, "task failed")
	})
}
