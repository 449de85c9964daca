package review

import (
	"sync"
	"testing"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func TestQueue_RoundRobinReviewers(t *testing.T) {
	q := NewQueue(10, 10, []string{"alice", "bob"}, WithLogger(zaptest.NewLogger(t)))

	var reviewers []string
	for i := 0; i < 3; i++ {
		d := q.Request("job", "p", "node", "summary", 1)
		require.Equal(t, domain.ReviewStatusQueued, d.Status)
		reviewers = append(reviewers, d.Reviewer)
	}
	assert.Equal(t, []string{"alice", "bob", "alice"}, reviewers)
	assert.Equal(t, 3, q.Stats().Pending)
}

func TestQueue_EscalatesWhenPendingCapReached(t *testing.T) {
	q := NewQueue(2, 10, []string{"alice"})

	q.Request("job", "p", "a", "", 1)
	q.Request("job", "p", "b", "", 1)
	d := q.Request("job", "p", "c", "", 1)

	assert.Equal(t, domain.ReviewStatusEscalated, d.Status)
	assert.Empty(t, d.Reviewer)
	assert.Equal(t, 2, q.Stats().Pending)
}

func TestQueue_DefersWhenPeriodQuotaExhausted(t *testing.T) {
	clock := newClock()
	q := NewQueue(10, 1, []string{"alice"}, WithClock(clock.Now), WithPeriod(24*time.Hour))

	first := q.Request("job", "p", "a", "", 1)
	_, err := q.Complete(first.RequestID, true)
	require.NoError(t, err)

	d := q.Request("job", "p", "b", "", 1)
	assert.Equal(t, domain.ReviewStatusDeferred, d.Status)

	clock.Advance(25 * time.Hour)
	d = q.Request("job", "p", "c", "", 1)
	assert.Equal(t, domain.ReviewStatusQueued, d.Status)
	assert.Zero(t, q.Stats().PeriodCount)
}

func TestQueue_Complete(t *testing.T) {
	q := NewQueue(5, 5, nil)
	d := q.Request("job", "p", "a", "age distribution", 2)

	req, err := q.Complete(d.RequestID, false)
	require.NoError(t, err)
	assert.Equal(t, domain.ReviewStatusCompleted, req.Status)
	assert.Equal(t, "p", req.Phase)
	assert.Equal(t, "a", req.NodeID)
	require.NotNil(t, req.Approved)
	assert.False(t, *req.Approved)
	assert.NotNil(t, req.CompletedAt)

	stats := q.Stats()
	assert.Zero(t, stats.Pending)
	assert.Equal(t, 1, stats.PeriodCount)

	_, err = q.Complete(d.RequestID, true)
	assert.Error(t, err, "completed reviews cannot be completed again")

	_, err = q.Complete("missing", true)
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
}

func TestQueue_CompleteRejectsNonQueued(t *testing.T) {
	q := NewQueue(1, 5, nil)
	q.Request("job", "p", "a", "", 1)
	escalated := q.Request("job", "p", "b", "", 1)

	_, err := q.Complete(escalated.RequestID, true)
	assert.Error(t, err)
}

func TestQueue_GetAndList(t *testing.T) {
	q := NewQueue(10, 10, nil)
	low := q.Request("job-1", "p", "a", "", 5)
	high := q.Request("job-1", "p", "b", "", 1)
	q.Request("job-2", "p", "c", "", 1)

	got, err := q.Get(low.RequestID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.NodeID)

	list := q.List("job-1")
	require.Len(t, list, 2)
	assert.Equal(t, high.RequestID, list[0].ID)
	assert.Len(t, q.List(""), 3)

	_, err = q.Get("missing")
	assert.ErrorIs(t, err, domain.ErrReviewNotFound)
}

func TestQueue_UnlimitedCaps(t *testing.T) {
	q := NewQueue(0, 0, nil)
	for i := 0; i < 20; i++ {
		assert.Equal(t, domain.ReviewStatusQueued, q.Request("job", "p", "n", "", 1).Status)
	}
}
