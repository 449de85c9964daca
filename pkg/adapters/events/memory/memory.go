package memory

import (
	"context"
	"sync"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"go.uber.org/zap"
)

// DefaultBuffer is the number of events a slow subscriber may lag behind
// before events are dropped for it.
const DefaultBuffer = 256

// EventBus implements ports.EventBus with in-process fan-out. Each
// subscriber receives the events of its topic in publish order on its own
// goroutine.
type EventBus struct {
	logger *zap.Logger
	buffer int

	mu          sync.RWMutex
	subscribers map[string]map[uint64]*subscription
	next        uint64
}

type subscription struct {
	topic   string
	handler ports.EventHandler
	events  chan domain.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{
		logger:      logger,
		buffer:      DefaultBuffer,
		subscribers: make(map[string]map[uint64]*subscription),
	}
}

// Publish hands the event to every subscriber of topic. It never blocks:
// a subscriber whose buffer is full misses the event.
func (e *EventBus) Publish(ctx context.Context, topic string, event domain.Event) error {
	e.mu.RLock()
	subs := make([]*subscription, 0, len(e.subscribers[topic]))
	for _, s := range e.subscribers[topic] {
		subs = append(subs, s)
	}
	e.mu.RUnlock()

	for _, s := range subs {
		select {
		case <-s.done:
		case s.events <- event:
		default:
			e.logger.Warn("subscriber buffer full, event dropped",
				zap.String("topic", topic),
				zap.String("event_type", string(event.Type)),
				zap.String("job_id", event.JobID))
		}
	}
	return nil
}

// Subscribe delivers events of topic to handler until ctx is done or the
// bus is closed.
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	s := &subscription{
		topic:   topic,
		handler: handler,
		events:  make(chan domain.Event, e.buffer),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.next++
	id := e.next
	if e.subscribers[topic] == nil {
		e.subscribers[topic] = make(map[uint64]*subscription)
	}
	e.subscribers[topic][id] = s
	e.mu.Unlock()

	go e.deliver(ctx, s)
	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		e.unsubscribe(topic, id)
	}()

	return nil
}

func (e *EventBus) deliver(ctx context.Context, s *subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case event := <-s.events:
			if err := s.handler(ctx, event); err != nil {
				e.logger.Debug("event handler error",
					zap.String("topic", s.topic),
					zap.String("event_id", event.ID),
					zap.Error(err))
			}
		}
	}
}

// Close stops every subscription.
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, s := range subs {
			s.stop()
		}
	}
	e.subscribers = make(map[string]map[uint64]*subscription)
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (e *EventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func (e *EventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if s, ok := e.subscribers[topic][id]; ok {
		s.stop()
		delete(e.subscribers[topic], id)
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
