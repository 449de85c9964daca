// Package aggregator folds node results into a job according to their role.
//
// Doer output is merged into the job state when it succeeded and passed the
// privacy gate. Coordinator and adversarial output never reaches the job
// state; it is kept as findings, and adversarial scenarios feed the
// robustness score.
package aggregator

import (
	"sync"

	"github.com/aescanero/synthflow/internal/application/workers"
	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
)

// Output keys adversarial tasks use to report scenario counts.
const (
	KeyScenariosTotal  = "scenarios_total"
	KeyScenariosPassed = "scenarios_passed"
)

// Aggregator owns the job state of one job. A single mutex guards every
// merge and read.
type Aggregator struct {
	mu              sync.Mutex
	jobState        map[string]any
	coordination    []domain.Finding
	robustness      []domain.Finding
	scenariosTotal  int
	scenariosPassed int
}

// Snapshot is a consistent copy of everything the aggregator holds.
type Snapshot struct {
	JobState            map[string]any   `json:"job_state"`
	CoordinationSummary []domain.Finding `json:"coordination_summary"`
	RobustnessFindings  []domain.Finding `json:"robustness_findings"`
	RobustnessScore     float64          `json:"robustness_score"`
}

// New creates an aggregator seeded with a copy of initial.
func New(initial map[string]any) *Aggregator {
	return &Aggregator{jobState: domain.CloneState(initial)}
}

// Merge folds res into the job. Parallel groups are merged sub-node by
// sub-node so each sub-node's own role applies. It reports whether any key
// of the job state changed.
func (a *Aggregator) Merge(phase string, res *workers.ExecutionResult) bool {
	if res == nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	return a.merge(phase, res)
}

func (a *Aggregator) merge(phase string, res *workers.ExecutionResult) bool {
	if res.Kind == domain.NodeKindParallelGroup {
		changed := false
		for _, sub := range res.SubResults {
			if a.merge(phase, sub) {
				changed = true
			}
		}
		return changed
	}

	if res.Status == domain.NodeStatusSkipped {
		return false
	}

	switch res.Role.OrDefault() {
	case domain.RoleCoordinator:
		a.coordination = append(a.coordination, finding(phase, res))
		return false

	case domain.RoleAdversarial:
		a.robustness = append(a.robustness, finding(phase, res))
		total, passed, ok := scenarioCounts(res.Output)
		if !ok || res.Status != domain.NodeStatusSucceeded {
			total, passed = 1, 0
			if res.Status == domain.NodeStatusSucceeded {
				passed = 1
			}
		}
		a.scenariosTotal += total
		a.scenariosPassed += passed
		return false

	default:
		if !res.Accepted() {
			return false
		}
		if dropped, ok := res.Metadata[workers.MetaDroppedKeys].([]string); ok {
			for _, k := range dropped {
				delete(a.jobState, k)
			}
		}
		for k, v := range res.Output {
			a.jobState[k] = v
		}
		return true
	}
}

// JobState returns a copy of the job state.
func (a *Aggregator) JobState() map[string]any {
	a.mu.Lock()
	defer a.mu.Unlock()
	return domain.CloneState(a.jobState)
}

// RobustnessScore is passed/total*100 over all adversarial scenarios, 0
// when none ran.
func (a *Aggregator) RobustnessScore() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.score()
}

func (a *Aggregator) score() float64 {
	if a.scenariosTotal == 0 {
		return 0
	}
	return float64(a.scenariosPassed) / float64(a.scenariosTotal) * 100
}

// Snapshot returns a consistent copy of the aggregated job.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Snapshot{
		JobState:            domain.CloneState(a.jobState),
		CoordinationSummary: append([]domain.Finding{}, a.coordination...),
		RobustnessFindings:  append([]domain.Finding{}, a.robustness...),
		RobustnessScore:     a.score(),
	}
}

// finding records a non-doer result. Output withheld by the privacy gate
// is not copied.
func finding(phase string, res *workers.ExecutionResult) domain.Finding {
	f := domain.Finding{
		Phase:  phase,
		NodeID: res.NodeID,
		Status: res.Status,
	}
	if res.Accepted() {
		f.Output = domain.CloneState(res.Output)
	}
	if res.Err != nil {
		f.Error = res.Err.Error()
	}
	return f
}

// scenarioCounts reads the scenario counters an adversarial task reports.
func scenarioCounts(output map[string]any) (total, passed int, ok bool) {
	t, okT := workflow.ToFloat(output[KeyScenariosTotal])
	p, okP := workflow.ToFloat(output[KeyScenariosPassed])
	if !okT || !okP || t <= 0 || p < 0 || p > t {
		return 0, 0, false
	}
	return int(t), int(p), true
}
