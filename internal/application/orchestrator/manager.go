package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aescanero/synthflow/internal/application/pipeline"
	"github.com/aescanero/synthflow/internal/application/privacy"
	"github.com/aescanero/synthflow/internal/application/provenance"
	"github.com/aescanero/synthflow/internal/application/review"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultSnapshotInterval is how often a running job's status is persisted.
const DefaultSnapshotInterval = 5 * time.Second

// Manager coordinates job execution. It owns every piece of shared engine
// state; two managers share nothing.
type Manager struct {
	controller *workers.Controller
	ledger     *provenance.Ledger
	gate       *privacy.Gate
	reviews    *review.Queue
	tasks      workflow.TaskResolver
	eventBus   ports.EventBus
	storage    ports.JobStore
	metrics    ports.MetricsCollector
	logger     *zap.Logger
	pipeline   *pipeline.Pipeline

	// Track active executions
	executions sync.Map // map[string]*executionContext
	active     atomic.Int64
	wg         sync.WaitGroup

	jobTimeout       time.Duration
	snapshotInterval time.Duration
}

// executionContext holds state for a single job execution
type executionContext struct {
	job         *pipeline.Job
	submittedAt time.Time
	cancelFunc  context.CancelFunc
	done        chan struct{}

	mu       sync.RWMutex
	result   *domain.JobResult
	rejected map[nodeRef]bool

	saveMu sync.Mutex
}

// nodeRef names a node within one phase of a job.
type nodeRef struct {
	phase string
	node  string
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	tracer           trace.Tracer
	snapshotInterval time.Duration
}

// WithTracer traces node executions.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *managerOptions) {
		o.tracer = tracer
	}
}

// WithSnapshotInterval sets how often running jobs are persisted.
func WithSnapshotInterval(d time.Duration) Option {
	return func(o *managerOptions) {
		if d > 0 {
			o.snapshotInterval = d
		}
	}
}

// NewManager creates a new orchestrator manager. A zero jobTimeout lets
// jobs run until they finish or are cancelled.
func NewManager(
	controller *workers.Controller,
	ledger *provenance.Ledger,
	gate *privacy.Gate,
	reviews *review.Queue,
	tasks workflow.TaskResolver,
	eventBus ports.EventBus,
	storage ports.JobStore,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	jobTimeout time.Duration,
	opts ...Option,
) *Manager {
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := managerOptions{snapshotInterval: DefaultSnapshotInterval}
	for _, opt := range opts {
		opt(&o)
	}

	execOpts := []workers.ExecutorOption{workers.WithMetrics(metrics), workers.WithEventBus(eventBus)}
	if o.tracer != nil {
		execOpts = append(execOpts, workers.WithTracer(o.tracer))
	}
	executor := workers.NewExecutor(controller, gate, ledger, logger, execOpts...)

	return &Manager{
		controller: controller,
		ledger:     ledger,
		gate:       gate,
		reviews:    reviews,
		tasks:      tasks,
		eventBus:   eventBus,
		storage:    storage,
		metrics:    metrics,
		logger:     logger,
		pipeline: pipeline.New(controller, executor, logger,
			pipeline.WithReviewQueue(reviews),
			pipeline.WithEventBus(eventBus),
			pipeline.WithMetrics(metrics)),
		jobTimeout:       jobTimeout,
		snapshotInterval: o.snapshotInterval,
	}
}

// Submit validates the phases and starts the job in the background.
// Validation errors are returned synchronously and nothing is executed.
func (m *Manager) Submit(ctx context.Context, specs []workflow.GraphSpec, input map[string]any) (string, error) {
	if len(specs) == 0 {
		m.metrics.RecordJobSubmitted("rejected")
		return "", fmt.Errorf("%w: job has no phases", domain.ErrValidation)
	}

	graphs := make([]*workflow.Graph, 0, len(specs))
	for _, spec := range specs {
		g, err := spec.BuildGraph(m.tasks)
		if err != nil {
			m.logger.Error("graph validation failed",
				zap.String("phase", spec.Name),
				zap.Error(err))
			m.metrics.RecordJobSubmitted("rejected")
			return "", fmt.Errorf("%w: %w", domain.ErrValidation, err)
		}
		graphs = append(graphs, g)
	}

	// Generate job ID
	jobID := uuid.New().String()

	exec := &executionContext{
		job:         pipeline.NewJob(jobID, graphs, input),
		submittedAt: time.Now(),
		done:        make(chan struct{}),
		rejected:    make(map[nodeRef]bool),
	}

	if err := m.persist(ctx, exec); err != nil {
		m.logger.Error("failed to save initial job state",
			zap.String("job_id", jobID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save job: %w", err)
	}

	phases := make([]string, len(graphs))
	for i, g := range graphs {
		phases[i] = g.Name()
	}
	if err := m.publish(ctx, jobID, domain.EventTypeJobSubmitted, map[string]any{"phases": phases}); err != nil {
		return "", fmt.Errorf("failed to publish event: %w", err)
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if m.jobTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), m.jobTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}
	exec.cancelFunc = cancel
	m.executions.Store(jobID, exec)

	m.metrics.RecordJobSubmitted(string(domain.JobStatusPending))
	m.metrics.SetActiveJobs(int(m.active.Add(1)))
	m.logger.Info("job submitted",
		zap.String("job_id", jobID),
		zap.Strings("phases", phases))

	m.wg.Add(2)
	go m.run(runCtx, exec)
	go m.monitorExecution(exec)

	return jobID, nil
}

func (m *Manager) run(ctx context.Context, exec *executionContext) {
	defer m.wg.Done()
	defer exec.cancelFunc()
	jobID := exec.job.ID

	if err := m.publish(ctx, jobID, domain.EventTypeJobStarted, nil); err != nil {
		m.logger.Error("failed to publish job started event", zap.String("job_id", jobID), zap.Error(err))
	}

	result := m.pipeline.Run(ctx, exec.job)
	if result.Status == domain.JobStatusCancelled && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Status = domain.JobStatusFailed
		result.Error = fmt.Sprintf("job timed out after %v", m.jobTimeout)
		result.PublicationReady = false
		m.logger.Warn("job execution timed out", zap.String("job_id", jobID))
	}

	exec.mu.Lock()
	applyRejections(result, exec.rejected)
	exec.result = result
	exec.mu.Unlock()

	if err := m.persist(context.Background(), exec); err != nil {
		m.logger.Error("failed to save final job state",
			zap.String("job_id", jobID),
			zap.Error(err))
	}

	eventType := domain.EventTypeJobCompleted
	switch result.Status {
	case domain.JobStatusFailed:
		eventType = domain.EventTypeJobFailed
	case domain.JobStatusCancelled:
		eventType = domain.EventTypeJobCancelled
	}
	data := map[string]any{
		"status":            string(result.Status),
		"publication_ready": result.PublicationReady,
	}
	if result.Error != "" {
		data["error"] = result.Error
	}
	if err := m.publish(context.Background(), jobID, eventType, data); err != nil {
		m.logger.Error("failed to publish job finished event", zap.String("job_id", jobID), zap.Error(err))
	}

	m.metrics.SetActiveJobs(int(m.active.Add(-1)))
	close(exec.done)
}

// monitorExecution persists the live status of a job until it ends.
func (m *Manager) monitorExecution(exec *executionContext) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.snapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-exec.done:
			return
		case <-ticker.C:
			if err := m.persist(context.Background(), exec); err != nil {
				m.logger.Error("failed to save job state during monitoring",
					zap.String("job_id", exec.job.ID),
					zap.Error(err))
			}
		}
	}
}

// Status returns the current status of a job. Jobs not run by this manager
// are read from the job store.
func (m *Manager) Status(ctx context.Context, jobID string) (*domain.JobStatusSnapshot, error) {
	if exec, ok := m.execution(jobID); ok {
		return exec.snapshot(), nil
	}
	snap, err := m.storage.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return snap, nil
}

// ListJobs returns the ids of all stored jobs.
func (m *Manager) ListJobs(ctx context.Context) ([]string, error) {
	return m.storage.ListJobs(ctx)
}

// AuditTrail returns the audit records of a job in append order, loading
// them from the audit store when they are not in memory.
func (m *Manager) AuditTrail(ctx context.Context, jobID string) ([]domain.AuditRecord, error) {
	if records := m.ledger.Records(jobID); len(records) > 0 {
		return records, nil
	}
	if err := m.ledger.Load(ctx, jobID); err != nil {
		return nil, err
	}
	records := m.ledger.Records(jobID)
	if len(records) == 0 {
		if _, err := m.Status(ctx, jobID); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// Cancel stops a running job. Nodes already running finish; queued nodes
// are skipped.
func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	exec, ok := m.execution(jobID)
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, domain.ErrJobNotFound)
	}

	// Check if already terminal state
	if status := exec.job.Status(); status.Terminal() {
		return fmt.Errorf("job already in terminal state: %s", status)
	}

	exec.cancelFunc()
	m.logger.Info("job cancellation requested", zap.String("job_id", jobID))
	return nil
}

// Wait blocks until the job ends or ctx is done.
func (m *Manager) Wait(ctx context.Context, jobID string) (*domain.JobResult, error) {
	exec, ok := m.execution(jobID)
	if !ok {
		snap, err := m.storage.GetJob(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to get job: %w", err)
		}
		if snap.Result == nil {
			return nil, fmt.Errorf("job %s is %s and not run by this instance", jobID, snap.Status)
		}
		return snap.Result, nil
	}

	select {
	case <-exec.done:
		exec.mu.RLock()
		defer exec.mu.RUnlock()
		return cloneResult(exec.result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CompleteReview records a reviewer's verdict. A rejection marks the node
// rejected and the job no longer publication ready.
func (m *Manager) CompleteReview(ctx context.Context, reviewID string, approved bool) (domain.ReviewRequest, error) {
	req, err := m.reviews.Complete(reviewID, approved)
	if err != nil {
		return domain.ReviewRequest{}, err
	}

	exec, ok := m.execution(req.JobID)
	if !ok {
		return req, nil
	}

	exec.mu.Lock()
	if !approved {
		exec.rejected[nodeRef{phase: req.Phase, node: req.NodeID}] = true
	}
	if exec.result != nil {
		exec.result.Reviews = m.reviews.List(req.JobID)
		applyRejections(exec.result, exec.rejected)
	}
	exec.mu.Unlock()

	if err := m.persist(ctx, exec); err != nil {
		m.logger.Error("failed to save job state after review",
			zap.String("job_id", req.JobID),
			zap.Error(err))
	}
	return req, nil
}

// Reviews lists review requests of a job, or all of them when jobID is "".
func (m *Manager) Reviews(jobID string) []domain.ReviewRequest {
	return m.reviews.List(jobID)
}

// Replay returns the reconstructed inputs of a node execution.
func (m *Manager) Replay(ctx context.Context, jobID, nodeID string) (*provenance.ReplayPlan, error) {
	if err := m.ledger.Load(ctx, jobID); err != nil {
		return nil, err
	}
	return m.ledger.Replay(jobID, nodeID)
}

// Transparency summarises the audit records of one component.
func (m *Manager) Transparency(component string) provenance.TransparencyReport {
	return m.ledger.TransparencyReport(component)
}

// SlotStats returns the concurrency controller counters.
func (m *Manager) SlotStats() workers.SlotStats {
	return m.controller.Stats()
}

// ActiveJobs returns the number of running jobs.
func (m *Manager) ActiveJobs() int {
	return int(m.active.Load())
}

// Shutdown cancels all running jobs and waits for them to wind down.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")

	// Cancel all active executions
	m.executions.Range(func(_, value any) bool {
		value.(*executionContext).cancelFunc()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("orchestrator manager shut down complete")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown interrupted: %w", ctx.Err())
	}
}

func (m *Manager) execution(jobID string) (*executionContext, bool) {
	val, ok := m.executions.Load(jobID)
	if !ok {
		return nil, false
	}
	return val.(*executionContext), true
}

// persist saves the current snapshot. Saves of one job are serialised so
// the store never ends up with an older snapshot than the latest taken.
func (m *Manager) persist(ctx context.Context, exec *executionContext) error {
	exec.saveMu.Lock()
	defer exec.saveMu.Unlock()
	return m.storage.SaveJob(ctx, exec.snapshot())
}

func (m *Manager) publish(ctx context.Context, jobID string, eventType domain.EventType, data map[string]any) error {
	if m.eventBus == nil {
		return nil
	}
	return m.eventBus.Publish(ctx, domain.TopicJobEvents, domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now(),
		Data:      data,
	})
}

func (e *executionContext) snapshot() *domain.JobStatusSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	snap := &domain.JobStatusSnapshot{
		JobID:        e.job.ID,
		Status:       e.job.Status(),
		CurrentPhase: e.job.CurrentPhase(),
		SubmittedAt:  e.submittedAt,
		UpdatedAt:    time.Now(),
	}
	var phase string
	phase, snap.Nodes = e.job.PhaseNodes()
	markRejected(phase, snap.Nodes, e.rejected)
	if e.result != nil {
		snap.Status = e.result.Status
		snap.Result = cloneResult(e.result)
		snap.PublicationReady = e.result.PublicationReady
	}
	return snap
}

// applyRejections marks reviewer-rejected nodes and recomputes publication
// readiness.
func applyRejections(result *domain.JobResult, rejected map[nodeRef]bool) {
	for i := range result.Phases {
		markRejected(result.Phases[i].Name, result.Phases[i].Nodes, rejected)
	}
	result.PublicationReady = pipeline.PublicationReady(result)
}

// markRejected marks the nodes of one phase that a reviewer rejected. A
// rejected sub-node "<group>/<sub>" rejects its group.
func markRejected(phase string, nodes map[string]domain.ExecutionState, rejected map[nodeRef]bool) {
	for ref := range rejected {
		if ref.phase != phase {
			continue
		}
		id := ref.node
		if _, ok := nodes[id]; !ok {
			id, _, _ = strings.Cut(id, "/")
		}
		if st, ok := nodes[id]; ok {
			st.Status = domain.NodeStatusRejected
			nodes[id] = st
		}
	}
}

func cloneResult(r *domain.JobResult) *domain.JobResult {
	out := *r
	out.Phases = make([]domain.PhaseResult, len(r.Phases))
	for i, p := range r.Phases {
		nodes := make(map[string]domain.ExecutionState, len(p.Nodes))
		for id, st := range p.Nodes {
			nodes[id] = st
		}
		p.Nodes = nodes
		out.Phases[i] = p
	}
	out.Reviews = append([]domain.ReviewRequest(nil), r.Reviews...)
	return &out
}
