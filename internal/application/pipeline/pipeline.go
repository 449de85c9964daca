// Package pipeline runs the phases of a job in order.
//
// Each phase is one workflow graph driven by its own scheduler. The job
// state threads from phase to phase through a single aggregator, so a
// later phase sees everything earlier phases contributed.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aescanero/synthflow/internal/application/aggregator"
	"github.com/aescanero/synthflow/internal/application/review"
	"github.com/aescanero/synthflow/internal/application/scheduler"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"go.uber.org/zap"
)

// Job is one run of an ordered list of phases. It tracks its own progress
// and is safe to inspect while the pipeline runs it.
type Job struct {
	ID     string
	Phases []*workflow.Graph
	Input  map[string]any

	mu        sync.RWMutex
	status    domain.JobStatus
	current   *scheduler.Scheduler
	finished  []*scheduler.Scheduler
	agg       *aggregator.Aggregator
	startedAt time.Time
	endedAt   time.Time
}

// NewJob creates a pending job.
func NewJob(id string, phases []*workflow.Graph, input map[string]any) *Job {
	return &Job{
		ID:     id,
		Phases: phases,
		Input:  domain.CloneState(input),
		status: domain.JobStatusPending,
		agg:    aggregator.New(input),
	}
}

// Status returns the job status.
func (j *Job) Status() domain.JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// CurrentPhase returns the name of the running phase, or "" when no phase
// runs.
func (j *Job) CurrentPhase() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.current == nil {
		return ""
	}
	return j.current.Name()
}

// Nodes returns the node states of the running phase, or of the last phase
// once the job has ended.
func (j *Job) Nodes() map[string]domain.ExecutionState {
	_, nodes := j.PhaseNodes()
	return nodes
}

// PhaseNodes is Nodes together with the name of the phase they belong to.
func (j *Job) PhaseNodes() (string, map[string]domain.ExecutionState) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	switch {
	case j.current != nil:
		return j.current.Name(), j.current.Snapshot()
	case len(j.finished) > 0:
		last := j.finished[len(j.finished)-1]
		return last.Name(), last.Snapshot()
	}
	return "", nil
}

// JobState returns a copy of the accumulated job state.
func (j *Job) JobState() map[string]any {
	return j.agg.JobState()
}

// Result returns the execution result of a finished node, looked up by
// phase and node id.
func (j *Job) Result(phase, nodeID string) (*workers.ExecutionResult, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, s := range append(append([]*scheduler.Scheduler(nil), j.finished...), j.current) {
		if s == nil || s.Name() != phase {
			continue
		}
		return s.Result(nodeID)
	}
	return nil, false
}

func (j *Job) begin() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = domain.JobStatusRunning
	j.startedAt = time.Now()
}

func (j *Job) enter(s *scheduler.Scheduler) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.current = s
}

func (j *Job) leave() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.current != nil {
		j.finished = append(j.finished, j.current)
		j.current = nil
	}
}

func (j *Job) end(status domain.JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = status
	j.endedAt = time.Now()
}

// Pipeline runs jobs against a shared controller and executor.
type Pipeline struct {
	controller *workers.Controller
	executor   *workers.Executor
	reviews    *review.Queue
	eventBus   ports.EventBus
	metrics    ports.MetricsCollector
	logger     *zap.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithReviewQueue routes review requests of every phase to q.
func WithReviewQueue(q *review.Queue) Option {
	return func(p *Pipeline) {
		p.reviews = q
	}
}

// WithEventBus publishes phase events on bus.
func WithEventBus(bus ports.EventBus) Option {
	return func(p *Pipeline) {
		p.eventBus = bus
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a pipeline.
func New(controller *workers.Controller, executor *workers.Executor, logger *zap.Logger, opts ...Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Pipeline{
		controller: controller,
		executor:   executor,
		metrics:    ports.NopMetrics{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run executes the phases of job in order. A phase that ends
// failed_critical fails the job and no later phase starts; a cancelled
// context cancels it.
func (p *Pipeline) Run(ctx context.Context, job *Job) *domain.JobResult {
	job.begin()
	logger := p.logger.With(zap.String("job_id", job.ID))
	logger.Info("job started", zap.Int("phases", len(job.Phases)))

	result := &domain.JobResult{
		JobID:     job.ID,
		Status:    domain.JobStatusCompleted,
		StartedAt: job.startedAt,
	}

	for _, graph := range job.Phases {
		if ctx.Err() != nil {
			result.Status = domain.JobStatusCancelled
			result.Error = "job cancelled"
			break
		}

		s := scheduler.New(job.ID, graph, p.controller, p.executor, job.agg, p.logger, p.schedulerOptions()...)
		job.enter(s)
		phase := s.Run(ctx)
		job.leave()
		result.Phases = append(result.Phases, phase)

		if phase.Status == domain.PhaseStatusFailedCritical {
			result.Status = domain.JobStatusFailed
			result.FailedPhase = phase.Name
			result.Error = fmt.Sprintf("phase %s: %s", phase.Name, phase.FailureReason)
			break
		}
		if phase.Status == domain.PhaseStatusCancelled {
			result.Status = domain.JobStatusCancelled
			result.Error = "job cancelled"
			break
		}
	}

	snap := job.agg.Snapshot()
	result.JobState = snap.JobState
	result.CoordinationSummary = snap.CoordinationSummary
	result.RobustnessFindings = snap.RobustnessFindings
	result.RobustnessScore = snap.RobustnessScore
	if p.reviews != nil {
		result.Reviews = p.reviews.List(job.ID)
	}
	result.PublicationReady = PublicationReady(result)

	job.end(result.Status)
	result.EndedAt = job.endedAt
	p.metrics.RecordJobCompleted(string(result.Status), result.EndedAt.Sub(result.StartedAt))

	fields := []zap.Field{
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.EndedAt.Sub(result.StartedAt)),
		zap.Float64("robustness_score", result.RobustnessScore),
	}
	if result.Status == domain.JobStatusFailed {
		logger.Error("job failed", append(fields, zap.String("failed_phase", result.FailedPhase), zap.String("error", result.Error))...)
	} else {
		logger.Info("job finished", fields...)
	}
	return result
}

func (p *Pipeline) schedulerOptions() []scheduler.Option {
	opts := []scheduler.Option{scheduler.WithMetrics(p.metrics)}
	if p.reviews != nil {
		opts = append(opts, scheduler.WithReviewQueue(p.reviews))
	}
	if p.eventBus != nil {
		opts = append(opts, scheduler.WithEventBus(p.eventBus))
	}
	return opts
}

// PublicationReady reports whether a job result may be published: the job
// completed, no node output was rejected by a reviewer, and every review
// filed for it was completed and approved.
func PublicationReady(result *domain.JobResult) bool {
	if result.Status != domain.JobStatusCompleted {
		return false
	}
	for _, phase := range result.Phases {
		for _, st := range phase.Nodes {
			if st.Status == domain.NodeStatusRejected {
				return false
			}
		}
	}
	for _, r := range result.Reviews {
		if r.Status != domain.ReviewStatusCompleted || r.Approved == nil || !*r.Approved {
			return false
		}
	}
	return true
}
