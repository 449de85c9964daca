package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type collector struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *collector) handle(_ context.Context, e domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *collector) ids() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.ID
	}
	return out
}

func TestEventBus_DeliversInOrder(t *testing.T) {
	bus := NewEventBus(zaptest.NewLogger(t))
	defer bus.Close()

	var a, b collector
	ctx := context.Background()
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNodeEvents, a.handle))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicNodeEvents, b.handle))

	var want []string
	for i := 0; i < 20; i++ {
		id := fmt.Sprintf("e%02d", i)
		want = append(want, id)
		require.NoError(t, bus.Publish(ctx, domain.TopicNodeEvents, domain.Event{ID: id}))
	}
	require.NoError(t, bus.Publish(ctx, domain.TopicJobEvents, domain.Event{ID: "other"}))

	require.Eventually(t, func() bool { return len(a.ids()) == 20 && len(b.ids()) == 20 }, time.Second, time.Millisecond)
	assert.Equal(t, want, a.ids())
	assert.Equal(t, want, b.ids())
}

func TestEventBus_UnsubscribesOnContextCancel(t *testing.T) {
	bus := NewEventBus(nil)
	ctx, cancel := context.WithCancel(context.Background())

	var c collector
	require.NoError(t, bus.Subscribe(ctx, "topic", c.handle))
	assert.Equal(t, 1, bus.Subscribers("topic"))

	cancel()
	require.Eventually(t, func() bool { return bus.Subscribers("topic") == 0 }, time.Second, time.Millisecond)
	assert.NoError(t, bus.Publish(context.Background(), "topic", domain.Event{ID: "late"}))
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(nil)
	var c collector
	require.NoError(t, bus.Subscribe(context.Background(), "topic", c.handle))

	require.NoError(t, bus.Close())
	assert.Zero(t, bus.Subscribers("topic"))
	assert.NoError(t, bus.Publish(context.Background(), "topic", domain.Event{ID: "x"}))
}
