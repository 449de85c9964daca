package workflow

import (
	"fmt"
	"sort"

	"github.com/aescanero/synthflow/pkg/domain"
)

// Graph is an immutable, validated workflow graph. It owns no execution
// state and may be shared by any number of concurrent jobs.
type Graph struct {
	name     string
	nodes    map[string]domain.Node
	children map[string][]string
	layers   [][]string
}

// Build validates nodes and returns the graph. It fails with
// *domain.CyclicGraphError when the dependencies contain a cycle and with
// *domain.UnknownDependencyError when a dependency is not a node of the
// graph.
func Build(name string, nodes []domain.Node) (*Graph, error) {
	return defaultValidator.Build(name, nodes)
}

// Build validates nodes with v and returns the graph.
func (v *Validator) Build(name string, nodes []domain.Node) (*Graph, error) {
	if err := v.Validate(name, nodes); err != nil {
		return nil, err
	}

	g := &Graph{
		name:     name,
		nodes:    make(map[string]domain.Node, len(nodes)),
		children: make(map[string][]string, len(nodes)),
	}
	for _, n := range nodes {
		n.Role = n.Role.OrDefault()
		n.Dependencies = dedupe(n.Dependencies)
		n.Config.SubNodes = inheritRole(n.Role, n.Config.SubNodes)
		g.nodes[n.ID] = n
	}

	for _, id := range g.sortedIDs() {
		for _, dep := range g.nodes[id].Dependencies {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &domain.UnknownDependencyError{Graph: name, NodeID: id, Dependency: dep}
			}
			g.children[dep] = append(g.children[dep], id)
		}
	}

	if path := g.findCycle(); path != nil {
		return nil, &domain.CyclicGraphError{Graph: name, Path: path}
	}

	g.layers = g.computeLayers()
	return g, nil
}

// inheritRole gives sub-nodes without a role the role of their group.
func inheritRole(role domain.Role, subs []domain.Node) []domain.Node {
	if len(subs) == 0 {
		return subs
	}
	out := make([]domain.Node, len(subs))
	for i, sub := range subs {
		if sub.Role == "" {
			sub.Role = role
		}
		out[i] = sub
	}
	return out
}

// Name returns the graph (phase) name.
func (g *Graph) Name() string { return g.name }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id.
func (g *Graph) Node(id string) (domain.Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes sorted by id.
func (g *Graph) Nodes() []domain.Node {
	out := make([]domain.Node, 0, len(g.nodes))
	for _, id := range g.sortedIDs() {
		out = append(out, g.nodes[id])
	}
	return out
}

// Children returns the direct dependants of id, sorted.
func (g *Graph) Children(id string) []string {
	out := append([]string(nil), g.children[id]...)
	sort.Strings(out)
	return out
}

// TopologicalLayers groups nodes so that every node in layer k depends only
// on nodes in layers < k. Ids within a layer are in lexical order.
func (g *Graph) TopologicalLayers() [][]string {
	out := make([][]string, len(g.layers))
	for i, layer := range g.layers {
		out[i] = append([]string(nil), layer...)
	}
	return out
}

// Descendants returns every node reachable from id through dependants,
// sorted, excluding id itself.
func (g *Graph) Descendants(id string) []string {
	seen := make(map[string]bool)
	stack := append([]string(nil), g.children[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, g.children[cur]...)
	}

	out := make([]string, 0, len(seen))
	for n := range seen {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// findCycle runs a three-colour DFS and returns the first cycle found.
func (g *Graph) findCycle() []string {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[string]int, len(g.nodes))
	var stack []string

	var dfs func(id string) []string
	dfs = func(id string) []string {
		state[id] = visiting
		stack = append(stack, id)
		for _, next := range g.Children(id) {
			switch state[next] {
			case visiting:
				start := 0
				for i, s := range stack {
					if s == next {
						start = i
						break
					}
				}
				cycle := append([]string(nil), stack[start:]...)
				return append(cycle, next)
			case unvisited:
				if c := dfs(next); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		return nil
	}

	for _, id := range g.sortedIDs() {
		if state[id] == unvisited {
			if c := dfs(id); c != nil {
				return c
			}
		}
	}
	return nil
}

func (g *Graph) computeLayers() [][]string {
	depth := make(map[string]int, len(g.nodes))
	var visit func(id string) int
	visit = func(id string) int {
		if d, ok := depth[id]; ok {
			return d
		}
		d := 0
		for _, dep := range g.nodes[id].Dependencies {
			if dd := visit(dep) + 1; dd > d {
				d = dd
			}
		}
		depth[id] = d
		return d
	}

	var layers [][]string
	for _, id := range g.sortedIDs() {
		d := visit(id)
		for len(layers) <= d {
			layers = append(layers, nil)
		}
		layers[d] = append(layers[d], id)
	}
	return layers
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// String implements fmt.Stringer.
func (g *Graph) String() string {
	return fmt.Sprintf("graph %s (%d nodes, %d layers)", g.name, len(g.nodes), len(g.layers))
}
