package workflow

import (
	"context"
	"strings"
	"testing"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopTask(ctx context.Context, input map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func agent(id string, deps ...string) domain.Node {
	return domain.Node{
		ID:           id,
		Kind:         domain.NodeKindAgent,
		Dependencies: deps,
		Config:       domain.NodeConfig{Func: noopTask},
	}
}

func TestBuild_DiamondLayers(t *testing.T) {
	g, err := Build("diamond", []domain.Node{
		agent("D", "B", "C"),
		agent("C", "A"),
		agent("B", "A"),
		agent("A"),
	})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A"}, {"B", "C"}, {"D"}}, g.TopologicalLayers())
	assert.Equal(t, 4, g.Len())
	assert.Equal(t, "diamond", g.Name())
}

func TestBuild_LayersAreTopologicalOrder(t *testing.T) {
	nodes := []domain.Node{
		agent("ingest"),
		agent("demographics", "ingest"),
		agent("vitals", "ingest"),
		agent("labs", "vitals"),
		agent("notes", "demographics", "labs"),
		agent("standalone"),
		agent("export", "notes", "standalone"),
	}
	g, err := Build("records", nodes)
	require.NoError(t, err)

	position := make(map[string]int)
	var flat []string
	for _, layer := range g.TopologicalLayers() {
		flat = append(flat, layer...)
	}
	for i, id := range flat {
		position[id] = i
	}
	require.Len(t, flat, len(nodes))

	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			assert.Less(t, position[dep], position[n.ID], "%s must come after %s", n.ID, dep)
		}
	}
}

func TestBuild_LexicalTieBreak(t *testing.T) {
	g, err := Build("flat", []domain.Node{agent("zeta"), agent("alpha"), agent("mu")})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"alpha", "mu", "zeta"}}, g.TopologicalLayers())
}

func TestBuild_Cycle(t *testing.T) {
	_, err := Build("loop", []domain.Node{agent("A", "B"), agent("B", "A")})
	require.Error(t, err)

	var cycleErr *domain.CyclicGraphError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, []string{"A", "B", "A"}, cycleErr.Path)
	assert.Contains(t, err.Error(), "A -> B -> A")
}

func TestBuild_SelfLoopIsCycle(t *testing.T) {
	_, err := Build("self", []domain.Node{agent("A", "A")})

	var cycleErr *domain.CyclicGraphError
	require.ErrorAs(t, err, &cycleErr)
}

func TestBuild_UnknownDependency(t *testing.T) {
	_, err := Build("broken", []domain.Node{agent("A"), agent("B", "ghost")})

	var depErr *domain.UnknownDependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, "B", depErr.NodeID)
	assert.Equal(t, "ghost", depErr.Dependency)
}

func TestBuild_Descendants(t *testing.T) {
	g, err := Build("tree", []domain.Node{
		agent("gate"),
		agent("left", "gate"),
		agent("right", "gate"),
		agent("leaf", "left"),
		agent("other"),
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"leaf", "left", "right"}, g.Descendants("gate"))
	assert.Empty(t, g.Descendants("other"))
	assert.Equal(t, []string{"left", "right"}, g.Children("gate"))
}

func TestBuild_DuplicateDependenciesCollapse(t *testing.T) {
	g, err := Build("dupes", []domain.Node{agent("A"), agent("B", "A", "A")})
	require.NoError(t, err)

	n, ok := g.Node("B")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, n.Dependencies)
	assert.Equal(t, domain.RoleDoer, n.Role)
}

func TestValidator_InvalidNodes(t *testing.T) {
	tests := []struct {
		name    string
		nodes   []domain.Node
		wantErr string
	}{
		{
			name:    "empty graph",
			nodes:   nil,
			wantErr: "at least one node",
		},
		{
			name:    "missing id",
			nodes:   []domain.Node{{Kind: domain.NodeKindAgent, Config: domain.NodeConfig{Func: noopTask}}},
			wantErr: "Node.ID failed required",
		},
		{
			name:    "duplicate id",
			nodes:   []domain.Node{agent("A"), agent("A")},
			wantErr: "duplicate node ID",
		},
		{
			name:    "unknown kind",
			nodes:   []domain.Node{{ID: "A", Kind: "loop"}},
			wantErr: "unknown kind",
		},
		{
			name:    "unknown role",
			nodes:   []domain.Node{{ID: "A", Kind: domain.NodeKindAgent, Role: "judge", Config: domain.NodeConfig{Func: noopTask}}},
			wantErr: "unknown role",
		},
		{
			name:    "agent without task",
			nodes:   []domain.Node{{ID: "A", Kind: domain.NodeKindAgent}},
			wantErr: "require a task function",
		},
		{
			name:    "condition without predicate",
			nodes:   []domain.Node{{ID: "A", Kind: domain.NodeKindCondition}},
			wantErr: "require a condition",
		},
		{
			name: "condition with unknown type and no operator",
			nodes: []domain.Node{{ID: "A", Kind: domain.NodeKindCondition, Config: domain.NodeConfig{
				Condition: &domain.ConditionConfig{Type: "novelty", Key: "score"},
			}}},
			wantErr: "no default operator",
		},
		{
			name: "condition with bad operator",
			nodes: []domain.Node{{ID: "A", Kind: domain.NodeKindCondition, Config: domain.NodeConfig{
				Condition: &domain.ConditionConfig{Key: "score", Operator: "between"},
			}}},
			wantErr: "oneof",
		},
		{
			name:    "transform without mapping",
			nodes:   []domain.Node{{ID: "A", Kind: domain.NodeKindTransform}},
			wantErr: "transform mapping",
		},
		{
			name:    "empty parallel group",
			nodes:   []domain.Node{{ID: "G", Kind: domain.NodeKindParallelGroup}},
			wantErr: "at least one sub-node",
		},
		{
			name: "sub-node with dependencies",
			nodes: []domain.Node{{ID: "G", Kind: domain.NodeKindParallelGroup, Config: domain.NodeConfig{
				SubNodes: []domain.Node{agent("x", "y")},
			}}},
			wantErr: "cannot declare dependencies",
		},
		{
			name: "negative timeout",
			nodes: []domain.Node{{ID: "A", Kind: domain.NodeKindAgent, Config: domain.NodeConfig{
				Func: noopTask, Timeout: -1,
			}}},
			wantErr: "Timeout failed gte",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build("invalid", tt.nodes)
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q should contain %q", err.Error(), tt.wantErr)
		})
	}
}

func TestValidator_ParallelGroupAccepted(t *testing.T) {
	g, err := Build("fanout", []domain.Node{{
		ID:   "vitals",
		Kind: domain.NodeKindParallelGroup,
		Config: domain.NodeConfig{SubNodes: []domain.Node{
			agent("heart_rate"),
			agent("blood_pressure"),
		}},
	}})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"vitals"}}, g.TopologicalLayers())
}

func TestBuild_SubNodesInheritGroupRole(t *testing.T) {
	checker := agent("checker")
	checker.Role = domain.RoleCoordinator
	g, err := Build("roles", []domain.Node{{
		ID:   "attacks",
		Kind: domain.NodeKindParallelGroup,
		Role: domain.RoleAdversarial,
		Config: domain.NodeConfig{SubNodes: []domain.Node{
			agent("inject"),
			checker,
		}},
	}})
	require.NoError(t, err)

	n, ok := g.Node("attacks")
	require.True(t, ok)
	require.Len(t, n.Config.SubNodes, 2)
	assert.Equal(t, domain.RoleAdversarial, n.Config.SubNodes[0].Role)
	assert.Equal(t, domain.RoleCoordinator, n.Config.SubNodes[1].Role)
}
