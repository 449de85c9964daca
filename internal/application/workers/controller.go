package workers

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"go.uber.org/zap"
)

// Controller bounds how many nodes run at once. Callers that cannot get a
// slot wait in a queue ordered by (priority, arrival); Release hands the
// freed slot directly to the head of that queue.
type Controller struct {
	capacity int
	metrics  ports.MetricsCollector
	logger   *zap.Logger

	mu        sync.Mutex
	active    map[string]struct{}
	waiting   waitQueue
	seq       uint64
	highWater int
}

// SlotStats is a point-in-time view of the controller.
type SlotStats struct {
	Capacity  int `json:"capacity"`
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	HighWater int `json:"high_water"`
}

// NewController creates a controller with the given number of slots. A
// capacity below one is raised to one.
func NewController(capacity int, metrics ports.MetricsCollector, logger *zap.Logger) *Controller {
	if capacity < 1 {
		capacity = 1
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		capacity: capacity,
		metrics:  metrics,
		logger:   logger,
		active:   make(map[string]struct{}, capacity),
	}
}

// Acquire blocks until key holds a slot or ctx is done. Lower priority
// values are served first, FIFO among equal priorities. On cancellation the
// caller leaves the queue and gets a *domain.CancellationError.
func (c *Controller) Acquire(ctx context.Context, key string, priority int) error {
	if err := ctx.Err(); err != nil {
		return &domain.CancellationError{NodeID: key, Cause: err}
	}

	c.mu.Lock()
	if _, held := c.active[key]; held {
		c.mu.Unlock()
		return fmt.Errorf("slot %s is already held", key)
	}
	if len(c.active) < c.capacity && c.waiting.Len() == 0 {
		c.grant(key)
		c.mu.Unlock()
		c.metrics.ObserveQueueWaitTime(0)
		return nil
	}

	c.seq++
	w := &waiter{
		key:      key,
		priority: priority,
		seq:      c.seq,
		enqueued: time.Now(),
		ready:    make(chan struct{}),
	}
	heap.Push(&c.waiting, w)
	c.mu.Unlock()

	c.logger.Debug("waiting for slot",
		zap.String("key", key),
		zap.Int("priority", priority))

	select {
	case <-w.ready:
		c.metrics.ObserveQueueWaitTime(time.Since(w.enqueued))
		return nil
	case <-ctx.Done():
	}

	c.mu.Lock()
	if w.granted {
		// The slot arrived together with the cancellation; pass it on.
		delete(c.active, key)
		c.handOff()
	} else {
		heap.Remove(&c.waiting, w.index)
	}
	c.mu.Unlock()

	return &domain.CancellationError{NodeID: key, Cause: ctx.Err()}
}

// Release frees the slot held by key and hands it to the next waiter.
func (c *Controller) Release(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.active[key]; !held {
		c.logger.Warn("release of a slot that is not held", zap.String("key", key))
		return
	}
	delete(c.active, key)
	c.handOff()
}

// Stats returns the current slot usage.
func (c *Controller) Stats() SlotStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return SlotStats{
		Capacity:  c.capacity,
		Active:    len(c.active),
		Waiting:   c.waiting.Len(),
		HighWater: c.highWater,
	}
}

// Capacity returns the number of slots.
func (c *Controller) Capacity() int {
	return c.capacity
}

// handOff must be called with mu held.
func (c *Controller) handOff() {
	for len(c.active) < c.capacity && c.waiting.Len() > 0 {
		w := heap.Pop(&c.waiting).(*waiter)
		w.granted = true
		c.grant(w.key)
		close(w.ready)
	}
}

// grant must be called with mu held.
func (c *Controller) grant(key string) {
	c.active[key] = struct{}{}
	if n := len(c.active); n > c.highWater {
		c.highWater = n
	}
}

type waiter struct {
	key      string
	priority int
	seq      uint64
	enqueued time.Time
	index    int
	granted  bool
	ready    chan struct{}
}

// waitQueue implements heap.Interface ordered by (priority, seq).
type waitQueue []*waiter

func (q waitQueue) Len() int { return len(q) }

func (q waitQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority < q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q waitQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *waitQueue) Push(x any) {
	w := x.(*waiter)
	w.index = len(*q)
	*q = append(*q, w)
}

func (q *waitQueue) Pop() any {
	old := *q
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*q = old[:n-1]
	return w
}
