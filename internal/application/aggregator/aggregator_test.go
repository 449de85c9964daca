package aggregator

import (
	"errors"
	"sync"
	"testing"

	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(id string, role domain.Role, status domain.NodeStatus, accepted bool, output map[string]any) *workers.ExecutionResult {
	return &workers.ExecutionResult{
		NodeID:     id,
		Kind:       domain.NodeKindAgent,
		Role:       role,
		Status:     status,
		Output:     output,
		Metadata:   map[string]any{},
		Assessment: domain.PrivacyAssessment{RiskLevel: domain.RiskLow, Accepted: accepted},
	}
}

func TestMerge_DoerOverwritesKeys(t *testing.T) {
	a := New(map[string]any{"rows": 10, "cohort": "adults"})

	changed := a.Merge("generation", result("gen", domain.RoleDoer, domain.NodeStatusSucceeded, true,
		map[string]any{"rows": 20, "mean_age": 41.5}))

	assert.True(t, changed)
	assert.Equal(t, map[string]any{"rows": 20, "cohort": "adults", "mean_age": 41.5}, a.JobState())
}

func TestMerge_PrivacyRejectedDoerIsWithheld(t *testing.T) {
	a := New(nil)

	changed := a.Merge("generation", result("ages", domain.RoleDoer, domain.NodeStatusSucceeded, false,
		map[string]any{"age": 999}))

	assert.False(t, changed)
	assert.NotContains(t, a.JobState(), "age")
}

func TestMerge_FailedDoerIsIgnored(t *testing.T) {
	a := New(nil)
	r := result("broken", domain.RoleDoer, domain.NodeStatusFailed, false, nil)
	r.Err = errors.New("boom")

	assert.False(t, a.Merge("generation", r))
	assert.Empty(t, a.JobState())
}

func TestMerge_RoleIsolation(t *testing.T) {
	a := New(nil)

	a.Merge("validation", result("reviewer", domain.RoleCoordinator, domain.NodeStatusSucceeded, true,
		map[string]any{"verdict": "consistent"}))
	a.Merge("validation", result("red_team", domain.RoleAdversarial, domain.NodeStatusSucceeded, true,
		map[string]any{"attack": "membership inference", KeyScenariosTotal: 4, KeyScenariosPassed: 3}))

	state := a.JobState()
	assert.NotContains(t, state, "verdict")
	assert.NotContains(t, state, "attack")

	snap := a.Snapshot()
	require.Len(t, snap.CoordinationSummary, 1)
	assert.Equal(t, "consistent", snap.CoordinationSummary[0].Output["verdict"])
	require.Len(t, snap.RobustnessFindings, 1)
	assert.Equal(t, "red_team", snap.RobustnessFindings[0].NodeID)
	assert.InDelta(t, 75.0, snap.RobustnessScore, 1e-9)
}

func TestRobustnessScore(t *testing.T) {
	a := New(nil)
	assert.Zero(t, a.RobustnessScore())

	a.Merge("v", result("probe-1", domain.RoleAdversarial, domain.NodeStatusSucceeded, true, map[string]any{}))
	failed := result("probe-2", domain.RoleAdversarial, domain.NodeStatusTimedOut, false, nil)
	failed.Err = errors.New("timed out")
	a.Merge("v", failed)

	assert.InDelta(t, 50.0, a.RobustnessScore(), 1e-9)
	assert.Equal(t, "timed out", a.Snapshot().RobustnessFindings[1].Error)
}

func TestMerge_ParallelGroupUsesSubRoles(t *testing.T) {
	a := New(nil)
	group := &workers.ExecutionResult{
		NodeID: "fanout",
		Kind:   domain.NodeKindParallelGroup,
		Role:   domain.RoleDoer,
		Status: domain.NodeStatusSucceeded,
		Output: map[string]any{"heart_rate": 72},
		SubResults: []*workers.ExecutionResult{
			result("fanout/hr", domain.RoleDoer, domain.NodeStatusSucceeded, true, map[string]any{"heart_rate": 72}),
			result("fanout/probe", domain.RoleAdversarial, domain.NodeStatusSucceeded, true, map[string]any{"leak": false}),
		},
	}

	assert.True(t, a.Merge("generation", group))
	assert.Equal(t, map[string]any{"heart_rate": 72}, a.JobState())
	assert.Len(t, a.Snapshot().RobustnessFindings, 1)
}

func TestMerge_TransformDropsKeys(t *testing.T) {
	a := New(map[string]any{"hr": 72, "raw": "x"})
	r := result("normalise", domain.RoleDoer, domain.NodeStatusSucceeded, true, map[string]any{"heart_rate": 72})
	r.Kind = domain.NodeKindTransform
	r.Metadata[workers.MetaDroppedKeys] = []string{"hr", "raw"}

	a.Merge("generation", r)
	assert.Equal(t, map[string]any{"heart_rate": 72}, a.JobState())
}

func TestJobStateIsACopy(t *testing.T) {
	a := New(map[string]any{"nested": map[string]any{"k": 1}})
	state := a.JobState()
	state["nested"].(map[string]any)["k"] = 2
	state["extra"] = true

	assert.Equal(t, map[string]any{"nested": map[string]any{"k": 1}}, a.JobState())
}

func TestConcurrentMerge(t *testing.T) {
	a := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a.Merge("p", result("n", domain.RoleDoer, domain.NodeStatusSucceeded, true, map[string]any{"last": i}))
			_ = a.JobState()
		}(i)
	}
	wg.Wait()
	assert.Contains(t, a.JobState(), "last")
}
