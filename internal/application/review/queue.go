// Package review implements the human-review SLA queue.
//
// The queue never blocks node execution. A request is escalated when too
// many reviews are pending, deferred when the per-period quota of completed
// reviews is used up, and otherwise queued for a reviewer picked round-robin
// from a fixed pool.
package review

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultPeriod is the quota window.
const DefaultPeriod = 24 * time.Hour

// Queue is the bounded review queue. It is safe for concurrent use.
type Queue struct {
	maxPending   int
	maxPerPeriod int
	period       time.Duration
	reviewers    []string
	now          func() time.Time
	metrics      ports.MetricsCollector
	logger       *zap.Logger

	mu          sync.Mutex
	pending     int
	periodStart time.Time
	periodCount int
	next        int
	requests    map[string]*domain.ReviewRequest
	order       []string
}

// Stats is a point-in-time view of the queue.
type Stats struct {
	Pending      int       `json:"pending"`
	MaxPending   int       `json:"max_pending"`
	PeriodCount  int       `json:"period_count"`
	MaxPerPeriod int       `json:"max_per_period"`
	PeriodStart  time.Time `json:"period_start"`
	Total        int       `json:"total"`
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// WithPeriod sets the quota window.
func WithPeriod(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.period = d
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(q *Queue) {
		if m != nil {
			q.metrics = m
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueue creates a queue. A non-positive maxPending or maxPerPeriod
// disables that cap.
func NewQueue(maxPending, maxPerPeriod int, reviewers []string, opts ...Option) *Queue {
	if len(reviewers) == 0 {
		reviewers = []string{"reviewer-1"}
	}
	q := &Queue{
		maxPending:   maxPending,
		maxPerPeriod: maxPerPeriod,
		period:       DefaultPeriod,
		reviewers:    append([]string(nil), reviewers...),
		now:          time.Now,
		metrics:      ports.NopMetrics{},
		logger:       zap.NewNop(),
		requests:     make(map[string]*domain.ReviewRequest),
	}
	for _, opt := range opts {
		opt(q)
	}
	q.periodStart = q.now()
	return q
}

// Request files a review for the output of a node in a phase and returns
// the decision.
func (q *Queue) Request(jobID, phase, nodeID, summary string, priority int) domain.ReviewDecision {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.roll(now)

	req := &domain.ReviewRequest{
		ID:             uuid.New().String(),
		JobID:          jobID,
		Phase:          phase,
		NodeID:         nodeID,
		Priority:       priority,
		PayloadSummary: summary,
		CreatedAt:      now,
	}

	switch {
	case q.maxPending > 0 && q.pending >= q.maxPending:
		req.Status = domain.ReviewStatusEscalated
	case q.maxPerPeriod > 0 && q.periodCount >= q.maxPerPeriod:
		req.Status = domain.ReviewStatusDeferred
	default:
		req.Status = domain.ReviewStatusQueued
		req.Reviewer = q.reviewers[q.next%len(q.reviewers)]
		q.next++
		q.pending++
	}

	q.requests[req.ID] = req
	q.order = append(q.order, req.ID)
	q.metrics.RecordReviewDecision(string(req.Status))

	q.logger.Info("review requested",
		zap.String("request_id", req.ID),
		zap.String("job_id", jobID),
		zap.String("phase", phase),
		zap.String("node_id", nodeID),
		zap.String("status", string(req.Status)),
		zap.String("reviewer", req.Reviewer))

	return domain.ReviewDecision{RequestID: req.ID, Status: req.Status, Reviewer: req.Reviewer}
}

// Complete records the reviewer's verdict on a queued request.
func (q *Queue) Complete(id string, approved bool) (domain.ReviewRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[id]
	if !ok {
		return domain.ReviewRequest{}, fmt.Errorf("review %s: %w", id, domain.ErrReviewNotFound)
	}
	if req.Status != domain.ReviewStatusQueued {
		return domain.ReviewRequest{}, fmt.Errorf("review %s is %s, only queued reviews can be completed", id, req.Status)
	}

	now := q.now()
	q.roll(now)

	req.Status = domain.ReviewStatusCompleted
	req.Approved = &approved
	req.CompletedAt = &now
	q.pending--
	q.periodCount++
	q.metrics.RecordReviewDecision(string(domain.ReviewStatusCompleted))

	q.logger.Info("review completed",
		zap.String("request_id", id),
		zap.String("node_id", req.NodeID),
		zap.Bool("approved", approved))

	return copyRequest(req), nil
}

// Get returns one request.
func (q *Queue) Get(id string) (domain.ReviewRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.requests[id]
	if !ok {
		return domain.ReviewRequest{}, fmt.Errorf("review %s: %w", id, domain.ErrReviewNotFound)
	}
	return copyRequest(req), nil
}

// List returns the requests of a job, or all requests when jobID is empty,
// ordered by priority then creation.
func (q *Queue) List(jobID string) []domain.ReviewRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]domain.ReviewRequest, 0, len(q.order))
	for _, id := range q.order {
		req := q.requests[id]
		if jobID == "" || req.JobID == jobID {
			out = append(out, copyRequest(req))
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

// Stats returns the queue counters.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.roll(q.now())
	return Stats{
		Pending:      q.pending,
		MaxPending:   q.maxPending,
		PeriodCount:  q.periodCount,
		MaxPerPeriod: q.maxPerPeriod,
		PeriodStart:  q.periodStart,
		Total:        len(q.order),
	}
}

// roll starts a new quota period when the current one has elapsed. Must be
// called with mu held.
func (q *Queue) roll(now time.Time) {
	if now.Sub(q.periodStart) < q.period {
		return
	}
	elapsed := now.Sub(q.periodStart) / q.period
	q.periodStart = q.periodStart.Add(elapsed * q.period)
	q.periodCount = 0
}

func copyRequest(req *domain.ReviewRequest) domain.ReviewRequest {
	out := *req
	if req.Approved != nil {
		v := *req.Approved
		out.Approved = &v
	}
	if req.CompletedAt != nil {
		v := *req.CompletedAt
		out.CompletedAt = &v
	}
	return out
}
