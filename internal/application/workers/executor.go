package workers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/synthflow/internal/application/privacy"
	"github.com/aescanero/synthflow/internal/application/provenance"
	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/aescanero/synthflow/pkg/ports"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Output keys a task may set to feed the audit record.
const (
	OutputReasoningSteps = "reasoning_steps"
	OutputConfidence     = "confidence"
)

// ExecutionRequest asks the executor to run one node of one job.
type ExecutionRequest struct {
	JobID string
	Phase string
	Node  domain.Node
	// State is the job state the node observes. It is copied before use.
	State map[string]any
}

// ExecutionResult is the outcome of one node execution.
type ExecutionResult struct {
	NodeID     string
	Kind       domain.NodeKind
	Role       domain.Role
	Status     domain.NodeStatus
	Output     map[string]any
	Assessment domain.PrivacyAssessment
	Metadata   map[string]any
	Record     domain.AuditRecord
	SubResults []*ExecutionResult
	StartedAt  time.Time
	EndedAt    time.Time
	Err        error
}

// ExecutionState converts the result into the scheduler's per-node state.
// Output rejected by the privacy gate is left out.
func (r *ExecutionResult) ExecutionState() domain.ExecutionState {
	started, ended := r.StartedAt, r.EndedAt
	st := domain.ExecutionState{
		NodeID:    r.NodeID,
		Status:    r.Status,
		StartedAt: &started,
		EndedAt:   &ended,
	}
	if r.Accepted() {
		st.Output = r.Output
	}
	if r.Err != nil {
		st.Error = r.Err.Error()
	}
	return st
}

// Accepted reports whether the output passed the privacy gate.
func (r *ExecutionResult) Accepted() bool {
	return r.Status == domain.NodeStatusSucceeded && r.Assessment.Accepted
}

// Executor runs single nodes: it invokes the task under its timeout, gates
// the output, and appends exactly one audit record per invocation.
type Executor struct {
	controller *Controller
	gate       *privacy.Gate
	ledger     *provenance.Ledger
	logger     *zap.Logger
	metrics    ports.MetricsCollector
	tracer     trace.Tracer
	eventBus   ports.EventBus
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetrics sets the metrics collector.
func WithMetrics(metrics ports.MetricsCollector) ExecutorOption {
	return func(e *Executor) {
		if metrics != nil {
			e.metrics = metrics
		}
	}
}

// WithTracer enables one span per node execution.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithEventBus publishes node.started and node.finished events.
func WithEventBus(bus ports.EventBus) ExecutorOption {
	return func(e *Executor) {
		e.eventBus = bus
	}
}

// NewExecutor creates an executor. The controller is used for the sub-nodes
// of parallel groups; top-level nodes acquire their slot in the scheduler.
func NewExecutor(controller *Controller, gate *privacy.Gate, ledger *provenance.Ledger, logger *zap.Logger, opts ...ExecutorOption) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		controller: controller,
		gate:       gate,
		ledger:     ledger,
		logger:     logger,
		metrics:    ports.NopMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SlotKey is the controller key of a node within a job.
func SlotKey(jobID, nodeID string) string {
	return jobID + "/" + nodeID
}

// Execute runs the node of req. The returned result is never nil; the
// error is the node's failure (*domain.NodeExecutionError,
// *domain.TimeoutError or *domain.CancellationError) and is also kept in
// result.Err.
func (e *Executor) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	if req.Node.Kind == domain.NodeKindParallelGroup {
		res := e.executeGroup(ctx, req)
		return res, res.Err
	}
	res := e.executeNode(ctx, req)
	return res, res.Err
}

func (e *Executor) executeNode(ctx context.Context, req ExecutionRequest) *ExecutionResult {
	node := req.Node
	res := &ExecutionResult{
		NodeID:    node.ID,
		Kind:      node.Kind,
		Role:      node.Role.OrDefault(),
		Metadata:  make(map[string]any),
		StartedAt: time.Now(),
	}

	ctx, span := e.startSpan(ctx, req)
	e.publishEvent(ctx, req, domain.EventTypeNodeStarted, nil)

	state := domain.CloneState(req.State)
	input := taskInput(state, node.Config.Params)
	canonical, canonErr := provenance.Canonical(input)

	outcome, err := e.runTask(ctx, node, handlerFor(node, state), input)
	res.EndedAt = time.Now()

	var reasoning []string
	var timeoutErr *domain.TimeoutError
	switch {
	case err == nil:
		res.Status = domain.NodeStatusSucceeded
		res.Output, reasoning = splitOutput(outcome.output)
		reasoning = append(outcome.reasoning, reasoning...)
		for k, v := range outcome.metadata {
			res.Metadata[k] = v
		}
		res.Assessment = e.gate.Assess(res.Output)
	case errors.As(err, &timeoutErr):
		res.Status = domain.NodeStatusTimedOut
		res.Err = err
	default:
		res.Status = domain.NodeStatusFailed
		res.Err = err
	}

	if canonErr != nil {
		reasoning = append(reasoning, "input is not serialisable: "+canonErr.Error())
	}
	e.finish(ctx, span, req, res, canonical, reasoning)
	return res
}

// runTask invokes h on a context that survives job cancellation and is
// bounded only by the node timeout. It returns at the deadline even when
// the task ignores its context.
func (e *Executor) runTask(ctx context.Context, node domain.Node, h handler, input map[string]any) (*taskOutcome, error) {
	taskCtx := context.WithoutCancel(ctx)
	cancel := context.CancelFunc(func() {})
	if node.Config.Timeout > 0 {
		taskCtx, cancel = context.WithTimeout(taskCtx, node.Config.Timeout)
	}
	defer cancel()

	type result struct {
		outcome *taskOutcome
		err     error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := h(taskCtx, input)
		done <- result{outcome: out, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
				return nil, &domain.TimeoutError{NodeID: node.ID, Timeout: node.Config.Timeout}
			}
			return nil, &domain.NodeExecutionError{NodeID: node.ID, Cause: r.err}
		}
		if r.outcome == nil {
			r.outcome = &taskOutcome{}
		}
		if r.outcome.output == nil {
			r.outcome.output = map[string]any{}
		}
		return r.outcome, nil
	case <-taskCtx.Done():
		e.logger.Warn("node exceeded its timeout",
			zap.String("node_id", node.ID),
			zap.Duration("timeout", node.Config.Timeout))
		return nil, &domain.TimeoutError{NodeID: node.ID, Timeout: node.Config.Timeout}
	}
}

// executeGroup fans the sub-nodes out concurrently. Each sub-node takes its
// own slot and gets its own audit record under the id "<group>/<sub>".
func (e *Executor) executeGroup(ctx context.Context, req ExecutionRequest) *ExecutionResult {
	group := req.Node
	res := &ExecutionResult{
		NodeID:    group.ID,
		Kind:      group.Kind,
		Role:      group.Role.OrDefault(),
		Metadata:  make(map[string]any),
		StartedAt: time.Now(),
	}

	ctx, span := e.startSpan(ctx, req)
	e.publishEvent(ctx, req, domain.EventTypeNodeStarted, nil)

	subs := append([]domain.Node(nil), group.Config.SubNodes...)
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })

	results := make([]*ExecutionResult, len(subs))
	var wg sync.WaitGroup
	for i, sub := range subs {
		sub.ID = group.ID + "/" + sub.ID
		if sub.Role == "" {
			sub.Role = res.Role
		}
		wg.Add(1)
		go func(i int, sub domain.Node) {
			defer wg.Done()
			results[i] = e.runSub(ctx, req, sub)
		}(i, sub)
	}
	wg.Wait()
	res.EndedAt = time.Now()
	res.SubResults = results

	var (
		reasoning []string
		failed    error
		cancelled error
		risk      = domain.RiskLow
		score     float64
	)
	res.Output = make(map[string]any)
	for _, r := range results {
		switch r.Status {
		case domain.NodeStatusSucceeded:
			if !r.Assessment.Accepted {
				reasoning = append(reasoning, fmt.Sprintf("%s withheld by privacy gate", r.NodeID))
				continue
			}
			if r.Role == domain.RoleDoer {
				for k, v := range r.Output {
					res.Output[k] = v
				}
			}
			if r.Assessment.RiskLevel.Rank() > risk.Rank() {
				risk = r.Assessment.RiskLevel
			}
			if r.Assessment.Score > score {
				score = r.Assessment.Score
			}
			reasoning = append(reasoning, fmt.Sprintf("%s succeeded", r.NodeID))
		case domain.NodeStatusSkipped:
			if cancelled == nil {
				cancelled = r.Err
			}
			reasoning = append(reasoning, fmt.Sprintf("%s not started", r.NodeID))
		default:
			if failed == nil {
				failed = r.Err
			}
			reasoning = append(reasoning, fmt.Sprintf("%s %s", r.NodeID, r.Status))
		}
	}

	switch {
	case failed != nil:
		res.Status = domain.NodeStatusFailed
		res.Err = &domain.NodeExecutionError{NodeID: group.ID, Cause: failed}
	case cancelled != nil:
		res.Status = domain.NodeStatusSkipped
		res.Err = cancelled
	default:
		res.Status = domain.NodeStatusSucceeded
		res.Assessment = domain.PrivacyAssessment{RiskLevel: risk, Score: score, Accepted: true}
	}

	input := taskInput(domain.CloneState(req.State), group.Config.Params)
	canonical, canonErr := provenance.Canonical(input)
	if canonErr != nil {
		reasoning = append(reasoning, "input is not serialisable: "+canonErr.Error())
	}
	e.finish(ctx, span, req, res, canonical, reasoning)
	return res
}

func (e *Executor) runSub(ctx context.Context, req ExecutionRequest, sub domain.Node) *ExecutionResult {
	key := SlotKey(req.JobID, sub.ID)
	if err := e.controller.Acquire(ctx, key, sub.Config.Priority); err != nil {
		now := time.Now()
		return &ExecutionResult{
			NodeID:    sub.ID,
			Kind:      sub.Kind,
			Role:      sub.Role.OrDefault(),
			Status:    domain.NodeStatusSkipped,
			Metadata:  map[string]any{},
			StartedAt: now,
			EndedAt:   now,
			Err:       err,
		}
	}
	defer e.controller.Release(key)

	return e.executeNode(ctx, ExecutionRequest{
		JobID: req.JobID,
		Phase: req.Phase,
		Node:  sub,
		State: req.State,
	})
}

// finish writes the audit record and reports the execution. Skipped
// groups (cancelled before any sub-node ran) are not an invocation and get
// no record.
func (e *Executor) finish(ctx context.Context, span trace.Span, req ExecutionRequest, res *ExecutionResult, canonicalInput []byte, reasoning []string) {
	node := req.Node
	duration := res.EndedAt.Sub(res.StartedAt)

	if res.Status != domain.NodeStatusSkipped {
		record := domain.AuditRecord{
			JobID:             req.JobID,
			Phase:             req.Phase,
			NodeID:            node.ID,
			Role:              res.Role,
			Status:            res.Status,
			ExecutionTimeMs:   duration.Milliseconds(),
			PrivacyAssessment: res.Assessment,
			ReasoningSteps:    reasoning,
			Accepted:          res.Accepted(),
			Confidence:        confidenceOf(res),
			Replay: domain.ReplayInfo{
				Task:    node.Config.Task,
				Kind:    node.Kind,
				Params:  node.Config.Params,
				Seed:    node.Config.Seed,
				Timeout: node.Config.Timeout,
				Input:   canonicalInput,
			},
			Timestamp: res.EndedAt.UTC(),
		}
		if canonicalInput != nil {
			record.InputHash = provenance.HashBytes(canonicalInput)
		}
		if res.Output != nil {
			if h, err := provenance.Hash(res.Output); err == nil {
				record.OutputHash = h
			}
		}
		switch {
		case res.Err != nil:
			record.Error = res.Err.Error()
			record.RejectionReasons = []string{fmt.Sprintf("node %s", res.Status)}
		case !res.Assessment.Accepted:
			record.RejectionReasons = append([]string(nil), res.Assessment.Reasons...)
		}

		stored, err := e.ledger.Append(context.WithoutCancel(ctx), record)
		if err != nil {
			e.logger.Error("failed to append audit record",
				zap.String("job_id", req.JobID),
				zap.String("node_id", node.ID),
				zap.Error(err))
		}
		res.Record = stored
	}

	e.metrics.RecordNodeExecuted(string(node.Kind), string(res.Status), duration)

	if span != nil {
		span.SetAttributes(attribute.String("node.status", string(res.Status)))
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, res.Err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}

	data := map[string]any{
		"status":      string(res.Status),
		"duration_ms": duration.Milliseconds(),
	}
	if res.Err != nil {
		data["error"] = res.Err.Error()
	}
	e.publishEvent(ctx, req, domain.EventTypeNodeFinished, data)

	fields := []zap.Field{
		zap.String("job_id", req.JobID),
		zap.String("phase", req.Phase),
		zap.String("node_id", node.ID),
		zap.String("status", string(res.Status)),
		zap.Duration("duration", duration),
	}
	if res.Err != nil {
		e.logger.Warn("node execution failed", append(fields, zap.Error(res.Err))...)
		return
	}
	e.logger.Info("node execution completed", append(fields, zap.Bool("accepted", res.Accepted()))...)
}

func (e *Executor) startSpan(ctx context.Context, req ExecutionRequest) (context.Context, trace.Span) {
	if e.tracer == nil {
		return ctx, nil
	}
	return e.tracer.Start(ctx, "synthflow.execute_node",
		trace.WithAttributes(
			attribute.String("job.id", req.JobID),
			attribute.String("phase", req.Phase),
			attribute.String("node.id", req.Node.ID),
			attribute.String("node.kind", string(req.Node.Kind)),
			attribute.String("node.role", string(req.Node.Role.OrDefault())),
		),
	)
}

// publishEvent publishes an event to the event bus
func (e *Executor) publishEvent(ctx context.Context, req ExecutionRequest, eventType domain.EventType, data map[string]any) {
	if e.eventBus == nil {
		return
	}
	event := domain.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		JobID:     req.JobID,
		NodeID:    req.Node.ID,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := e.eventBus.Publish(context.WithoutCancel(ctx), domain.TopicNodeEvents, event); err != nil {
		e.logger.Error("failed to publish event",
			zap.String("event_type", string(eventType)),
			zap.String("node_id", req.Node.ID),
			zap.Error(err))
	}
}

// taskInput adds params under the reserved key.
func taskInput(state map[string]any, params map[string]any) map[string]any {
	input := make(map[string]any, len(state)+1)
	for k, v := range state {
		input[k] = v
	}
	if len(params) > 0 {
		input[domain.ParamsKey] = domain.CloneState(params)
	}
	return input
}

// splitOutput moves the reasoning trail out of the task output.
func splitOutput(output map[string]any) (map[string]any, []string) {
	raw, ok := output[OutputReasoningSteps]
	if !ok {
		return output, nil
	}
	out := make(map[string]any, len(output))
	for k, v := range output {
		if k != OutputReasoningSteps {
			out[k] = v
		}
	}

	var steps []string
	switch t := raw.(type) {
	case []string:
		steps = append(steps, t...)
	case []any:
		for _, s := range t {
			steps = append(steps, fmt.Sprint(s))
		}
	case string:
		steps = append(steps, t)
	}
	return out, steps
}

// confidenceOf uses the task's own confidence when it reports one in [0, 1]
// and otherwise derives it from the privacy score.
func confidenceOf(res *ExecutionResult) float64 {
	if res.Status != domain.NodeStatusSucceeded {
		return 0
	}
	if v, ok := workflow.ToFloat(res.Output[OutputConfidence]); ok && v >= 0 && v <= 1 {
		return v
	}
	c := 1 - res.Assessment.Score
	if c < 0 {
		return 0
	}
	return c
}
