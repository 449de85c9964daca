package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aescanero/synthflow/internal/application/privacy"
	"github.com/aescanero/synthflow/internal/application/provenance"
	"github.com/aescanero/synthflow/internal/application/review"
	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newPipeline(t *testing.T, opts ...Option) (*Pipeline, *provenance.Ledger) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	controller := workers.NewController(2, nil, logger)
	ledger := provenance.NewLedger(nil, logger)
	executor := workers.NewExecutor(controller, privacy.NewGate(nil, "", nil, logger), ledger, logger)
	return New(controller, executor, logger, opts...), ledger
}

func graph(t *testing.T, name string, nodes ...domain.Node) *workflow.Graph {
	t.Helper()
	g, err := workflow.Build(name, nodes)
	require.NoError(t, err)
	return g
}

func agent(id string, fn domain.TaskFunction, deps ...string) domain.Node {
	return domain.Node{ID: id, Kind: domain.NodeKindAgent, Dependencies: deps, Config: domain.NodeConfig{Func: fn}}
}

func returns(out map[string]any) domain.TaskFunction {
	return func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return out, nil
	}
}

func TestRun_ThreadsStateAcrossPhases(t *testing.T) {
	p, ledger := newPipeline(t)

	var seen map[string]any
	inspect := func(ctx context.Context, input map[string]any) (map[string]any, error) {
		seen = input
		return map[string]any{"validated": true}, nil
	}
	job := NewJob("job-1", []*workflow.Graph{
		graph(t, "generation", agent("cohort", returns(map[string]any{"rows": 100}))),
		graph(t, "validation", agent("check", inspect)),
	}, map[string]any{"seed_dataset": "vitals"})

	result := p.Run(context.Background(), job)

	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	require.Len(t, result.Phases, 2)
	assert.Equal(t, 100, seen["rows"])
	assert.Equal(t, "vitals", seen["seed_dataset"])
	assert.Equal(t, map[string]any{"seed_dataset": "vitals", "rows": 100, "validated": true}, result.JobState)
	assert.True(t, result.PublicationReady)
	assert.Equal(t, domain.JobStatusCompleted, job.Status())
	assert.Empty(t, job.CurrentPhase())
	assert.Len(t, ledger.Records("job-1"), 2)
}

func TestRun_CriticalFailureFailsJob(t *testing.T) {
	p, ledger := newPipeline(t)

	failing := agent("schema", func(ctx context.Context, input map[string]any) (map[string]any, error) {
		return nil, errors.New("columns missing")
	})
	failing.Critical = true

	job := NewJob("job-2", []*workflow.Graph{
		graph(t, "generation", agent("cohort", returns(map[string]any{"rows": 5}))),
		graph(t, "validation", failing, agent("stats", returns(map[string]any{"mean": 1}), "schema")),
		graph(t, "export", agent("write", returns(map[string]any{"written": true}))),
	}, nil)

	result := p.Run(context.Background(), job)

	assert.Equal(t, domain.JobStatusFailed, result.Status)
	assert.Equal(t, "validation", result.FailedPhase)
	assert.Contains(t, result.Error, "columns missing")
	require.Len(t, result.Phases, 2, "export never starts")
	assert.Equal(t, domain.NodeStatusSkipped, result.Phases[1].Nodes["stats"].Status)
	assert.NotContains(t, result.JobState, "written")
	assert.False(t, result.PublicationReady)
	assert.Len(t, ledger.Records("job-2"), 2)
}

func TestRun_Cancelled(t *testing.T) {
	p, _ := newPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())

	job := NewJob("job-3", []*workflow.Graph{
		graph(t, "generation", agent("cohort", func(context.Context, map[string]any) (map[string]any, error) {
			cancel()
			return map[string]any{"rows": 1}, nil
		})),
		graph(t, "export", agent("write", returns(map[string]any{"written": true}))),
	}, nil)

	result := p.Run(ctx, job)

	assert.Equal(t, domain.JobStatusCancelled, result.Status)
	require.Len(t, result.Phases, 1)
	assert.Equal(t, domain.PhaseStatusCancelled, result.Phases[0].Status)
	assert.Equal(t, 1, result.JobState["rows"])
	assert.Equal(t, domain.JobStatusCancelled, job.Status())
}

func TestRun_ExposesCurrentPhase(t *testing.T) {
	p, _ := newPipeline(t)
	release := make(chan struct{})

	job := NewJob("job-4", []*workflow.Graph{
		graph(t, "generation", agent("slow", func(context.Context, map[string]any) (map[string]any, error) {
			<-release
			return map[string]any{}, nil
		})),
	}, nil)

	done := make(chan *domain.JobResult, 1)
	go func() { done <- p.Run(context.Background(), job) }()

	require.Eventually(t, func() bool {
		return job.CurrentPhase() == "generation" && job.Nodes()["slow"].Status == domain.NodeStatusRunning
	}, time.Second, time.Millisecond)
	assert.Equal(t, domain.JobStatusRunning, job.Status())

	close(release)
	result := <-done
	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	assert.Equal(t, domain.NodeStatusSucceeded, job.Nodes()["slow"].Status)

	res, ok := job.Result("generation", "slow")
	require.True(t, ok)
	assert.Equal(t, domain.NodeStatusSucceeded, res.Status)
}

func TestRun_OpenReviewsBlockPublication(t *testing.T) {
	queue := review.NewQueue(10, 10, []string{"alice"})
	p, _ := newPipeline(t, WithReviewQueue(queue))

	reviewed := agent("cohort", returns(map[string]any{"rows": 5}))
	reviewed.Config.RequiresReview = true
	job := NewJob("job-5", []*workflow.Graph{graph(t, "generation", reviewed)}, nil)

	result := p.Run(context.Background(), job)

	assert.Equal(t, domain.JobStatusCompleted, result.Status)
	require.Len(t, result.Reviews, 1)
	assert.False(t, result.PublicationReady)

	_, err := queue.Complete(result.Reviews[0].ID, true)
	require.NoError(t, err)
	result.Reviews = queue.List("job-5")
	assert.True(t, PublicationReady(result))
}

func TestPublicationReady(t *testing.T) {
	approved, rejected := true, false
	tests := []struct {
		name   string
		result domain.JobResult
		want   bool
	}{
		{"completed without reviews", domain.JobResult{Status: domain.JobStatusCompleted}, true},
		{"failed", domain.JobResult{Status: domain.JobStatusFailed}, false},
		{"approved review", domain.JobResult{Status: domain.JobStatusCompleted, Reviews: []domain.ReviewRequest{
			{Status: domain.ReviewStatusCompleted, Approved: &approved},
		}}, true},
		{"rejected review", domain.JobResult{Status: domain.JobStatusCompleted, Reviews: []domain.ReviewRequest{
			{Status: domain.ReviewStatusCompleted, Approved: &rejected},
		}}, false},
		{"escalated review", domain.JobResult{Status: domain.JobStatusCompleted, Reviews: []domain.ReviewRequest{
			{Status: domain.ReviewStatusEscalated},
		}}, false},
		{"rejected node", domain.JobResult{Status: domain.JobStatusCompleted, Phases: []domain.PhaseResult{
			{Nodes: map[string]domain.ExecutionState{"n": {Status: domain.NodeStatusRejected}}},
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PublicationReady(&tt.result))
		})
	}
}
