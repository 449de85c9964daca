// Package scheduler drives one workflow graph (a phase) for one job.
//
// Nodes are dispatched layer by layer through the slot controller. A layer
// barrier guarantees that a node never starts before its dependencies are
// terminal. A false condition skips its whole subtree; a failed critical
// node stops the phase: queued nodes leave the slot queue, running nodes
// finish, everything else is skipped.
package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aescanero/synthflow/internal/application/aggregator"
	"github.com/aescanero/synthflow/internal/application/review"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OutputRequiresReview lets a task ask for human review of its output.
const OutputRequiresReview = "requires_review"

// Scheduler runs one graph for one job. It is single use.
type Scheduler struct {
	jobID      string
	graph      *workflow.Graph
	controller *workers.Controller
	executor   *workers.Executor
	aggregator *aggregator.Aggregator
	reviews    *review.Queue
	eventBus   ports.EventBus
	metrics    ports.MetricsCollector
	logger     *zap.Logger

	mu            sync.RWMutex
	status        domain.PhaseStatus
	states        map[string]domain.ExecutionState
	results       map[string]*workers.ExecutionResult
	failedNode    string
	failureReason string
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithReviewQueue files review requests for nodes that ask for one.
func WithReviewQueue(q *review.Queue) Option {
	return func(s *Scheduler) {
		s.reviews = q
	}
}

// WithEventBus publishes phase and skip events.
func WithEventBus(bus ports.EventBus) Option {
	return func(s *Scheduler) {
		s.eventBus = bus
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m ports.MetricsCollector) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

// New creates a scheduler for graph within job jobID. Outputs are merged
// into agg as nodes complete.
func New(jobID string, graph *workflow.Graph, controller *workers.Controller, executor *workers.Executor, agg *aggregator.Aggregator, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		jobID:      jobID,
		graph:      graph,
		controller: controller,
		executor:   executor,
		aggregator: agg,
		metrics:    ports.NopMetrics{},
		logger:     logger.With(zap.String("job_id", jobID), zap.String("phase", graph.Name())),
		status:     domain.PhaseStatusNotStarted,
		states:     make(map[string]domain.ExecutionState, graph.Len()),
		results:    make(map[string]*workers.ExecutionResult, graph.Len()),
	}
	for _, n := range graph.Nodes() {
		s.states[n.ID] = domain.ExecutionState{NodeID: n.ID, Status: domain.NodeStatusPending}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the graph and returns the phase result. The phase ends
// completed, failed_critical or cancelled; it never returns with a node
// still pending.
func (s *Scheduler) Run(ctx context.Context) domain.PhaseResult {
	started := time.Now()
	s.setStatus(domain.PhaseStatusRunning)
	s.publish(ctx, domain.EventTypePhaseStarted, "", map[string]any{"phase": s.graph.Name()})
	s.logger.Info("phase started", zap.Int("nodes", s.graph.Len()))

	phaseCtx, stop := context.WithCancel(ctx)
	defer stop()

	for _, layer := range s.graph.TopologicalLayers() {
		if phaseCtx.Err() != nil {
			break
		}

		var wg sync.WaitGroup
		for _, id := range layer {
			if phaseCtx.Err() != nil {
				break
			}
			if s.nodeStatus(id) != domain.NodeStatusPending {
				continue
			}
			node, _ := s.graph.Node(id)
			s.update(id, func(st *domain.ExecutionState) { st.Status = domain.NodeStatusQueued })

			wg.Add(1)
			go func(node domain.Node) {
				defer wg.Done()
				s.runNode(phaseCtx, stop, node)
			}(node)
		}
		wg.Wait()
	}

	result := s.finish(ctx, started)
	s.metrics.RecordPhaseCompleted(string(result.Status), result.EndedAt.Sub(started))
	s.publish(ctx, domain.EventTypePhaseFinished, "", map[string]any{
		"phase":  s.graph.Name(),
		"status": string(result.Status),
	})
	s.logger.Info("phase finished",
		zap.String("status", string(result.Status)),
		zap.Duration("duration", result.EndedAt.Sub(started)))
	return result
}

func (s *Scheduler) runNode(ctx context.Context, stop context.CancelFunc, node domain.Node) {
	if node.Kind != domain.NodeKindParallelGroup {
		key := workers.SlotKey(s.jobID, node.ID)
		if err := s.controller.Acquire(ctx, key, node.Config.Priority); err != nil {
			s.skip(ctx, node.ID, err.Error())
			return
		}
		defer s.controller.Release(key)
	}
	if ctx.Err() != nil {
		s.skip(ctx, node.ID, "phase stopped before dispatch")
		return
	}

	now := time.Now()
	s.update(node.ID, func(st *domain.ExecutionState) {
		st.Status = domain.NodeStatusRunning
		st.StartedAt = &now
	})

	res, _ := s.executor.Execute(ctx, workers.ExecutionRequest{
		JobID: s.jobID,
		Phase: s.graph.Name(),
		Node:  node,
		State: s.aggregator.JobState(),
	})

	s.aggregator.Merge(s.graph.Name(), res)
	s.fileReview(ctx, node, res)

	s.mu.Lock()
	s.states[node.ID] = res.ExecutionState()
	s.results[node.ID] = res
	s.mu.Unlock()

	if node.Kind == domain.NodeKindCondition {
		if met, _ := res.Metadata[workers.MetaConditionResult].(bool); !met || res.Status != domain.NodeStatusSucceeded {
			s.skipDescendants(ctx, node.ID)
		}
	}

	if node.Critical && (res.Status == domain.NodeStatusFailed || res.Status == domain.NodeStatusTimedOut) {
		reason := fmt.Sprintf("critical node %s %s", node.ID, res.Status)
		if res.Err != nil {
			reason = fmt.Sprintf("critical node %s %s: %v", node.ID, res.Status, res.Err)
		}
		s.mu.Lock()
		if s.failedNode == "" {
			s.failedNode = node.ID
			s.failureReason = reason
		}
		s.mu.Unlock()
		s.logger.Error("critical node failed, stopping phase",
			zap.String("node_id", node.ID),
			zap.String("reason", reason))
		stop()
	}
}

// fileReview sends succeeded output that asks for review to the queue and
// annotates the result. It never blocks scheduling.
func (s *Scheduler) fileReview(ctx context.Context, node domain.Node, res *workers.ExecutionResult) {
	if s.reviews == nil {
		return
	}
	requested := false
	if node.Kind == domain.NodeKindParallelGroup {
		// A group's output is its members' output; members file their own.
		for _, sub := range res.SubResults {
			s.fileReview(ctx, subNode(node, sub.NodeID), sub)
		}
	} else {
		requested, _ = res.Output[OutputRequiresReview].(bool)
	}
	if res.Status != domain.NodeStatusSucceeded {
		return
	}
	if !node.Config.RequiresReview && !requested {
		return
	}

	summary := fmt.Sprintf("%s output of %s in phase %s (%d keys, risk %s)",
		res.Role, node.ID, s.graph.Name(), len(res.Output), res.Assessment.RiskLevel)
	decision := s.reviews.Request(s.jobID, s.graph.Name(), node.ID, summary, node.Config.Priority)
	res.Metadata[workers.MetaReview] = decision

	s.publish(ctx, domain.EventTypeReviewFiled, node.ID, map[string]any{
		"request_id": decision.RequestID,
		"status":     string(decision.Status),
		"reviewer":   decision.Reviewer,
	})
}

// subNode returns the sub-node of group that ran under the id
// "<group>/<sub>", carrying that id.
func subNode(group domain.Node, id string) domain.Node {
	short := strings.TrimPrefix(id, group.ID+"/")
	for _, sub := range group.Config.SubNodes {
		if sub.ID == short {
			sub.ID = id
			return sub
		}
	}
	return domain.Node{ID: id}
}

func (s *Scheduler) skipDescendants(ctx context.Context, conditionID string) {
	for _, id := range s.graph.Descendants(conditionID) {
		s.skip(ctx, id, fmt.Sprintf("condition %s not met", conditionID))
	}
}

// skip marks a node that has not started as skipped.
func (s *Scheduler) skip(ctx context.Context, id, reason string) {
	s.mu.Lock()
	st := s.states[id]
	if st.Status != domain.NodeStatusPending && st.Status != domain.NodeStatusQueued {
		s.mu.Unlock()
		return
	}
	now := time.Now()
	st.Status = domain.NodeStatusSkipped
	st.Error = reason
	st.EndedAt = &now
	s.states[id] = st
	s.mu.Unlock()

	s.publish(ctx, domain.EventTypeNodeSkipped, id, map[string]any{"reason": reason})
}

func (s *Scheduler) finish(ctx context.Context, started time.Time) domain.PhaseResult {
	s.mu.RLock()
	failedNode, reason := s.failedNode, s.failureReason
	s.mu.RUnlock()

	status := domain.PhaseStatusCompleted
	leftover := "not reached"
	switch {
	case failedNode != "":
		status = domain.PhaseStatusFailedCritical
		leftover = fmt.Sprintf("phase stopped after critical node %s failed", failedNode)
	case ctx.Err() != nil:
		status = domain.PhaseStatusCancelled
		reason = "job cancelled"
		leftover = reason
	}

	for _, n := range s.graph.Nodes() {
		s.skip(ctx, n.ID, leftover)
	}

	s.setStatus(status)
	return domain.PhaseResult{
		Name:          s.graph.Name(),
		Status:        status,
		Nodes:         s.Snapshot(),
		FailedNode:    failedNode,
		FailureReason: reason,
		StartedAt:     started,
		EndedAt:       time.Now(),
	}
}

// Snapshot returns a copy of every node state.
func (s *Scheduler) Snapshot() map[string]domain.ExecutionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.ExecutionState, len(s.states))
	for id, st := range s.states {
		out[id] = st
	}
	return out
}

// Status returns the phase status.
func (s *Scheduler) Status() domain.PhaseStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Result returns the execution result of a finished node.
func (s *Scheduler) Result(id string) (*workers.ExecutionResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[id]
	return r, ok
}

// Name returns the phase name.
func (s *Scheduler) Name() string {
	return s.graph.Name()
}

func (s *Scheduler) setStatus(status domain.PhaseStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Scheduler) nodeStatus(id string) domain.NodeStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.states[id].Status
}

func (s *Scheduler) update(id string, fn func(*domain.ExecutionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.states[id]
	fn(&st)
	s.states[id] = st
}

func (s *Scheduler) publish(ctx context.Context, eventType domain.EventType, nodeID string, data map[string]any) {
	if s.eventBus == nil {
		return
	}
	topic := domain.TopicJobEvents
	if nodeID != "" {
		topic = domain.TopicNodeEvents
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     s.jobID,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := s.eventBus.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		s.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}
