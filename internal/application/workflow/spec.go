package workflow

import (
	"fmt"
	"io"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
	"gopkg.in/yaml.v3"
)

// TaskResolver looks up task functions by name.
type TaskResolver interface {
	Lookup(name string) (domain.TaskFunction, bool)
}

// GraphSpec is the serialisable definition of one phase.
type GraphSpec struct {
	Name  string     `json:"name" yaml:"name" binding:"required"`
	Nodes []NodeSpec `json:"nodes" yaml:"nodes" binding:"required"`
}

// NodeSpec is the serialisable definition of one node. Timeout is a Go
// duration string such as "2s".
type NodeSpec struct {
	ID             string                  `json:"id" yaml:"id"`
	Kind           domain.NodeKind         `json:"kind" yaml:"kind"`
	Role           domain.Role             `json:"role,omitempty" yaml:"role,omitempty"`
	DependsOn      []string                `json:"depends_on,omitempty" yaml:"depends_on,omitempty"`
	Task           string                  `json:"task,omitempty" yaml:"task,omitempty"`
	Critical       bool                    `json:"critical,omitempty" yaml:"critical,omitempty"`
	Timeout        string                  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Priority       int                     `json:"priority,omitempty" yaml:"priority,omitempty"`
	RequiresReview bool                    `json:"requires_review,omitempty" yaml:"requires_review,omitempty"`
	Seed           int64                   `json:"seed,omitempty" yaml:"seed,omitempty"`
	Params         map[string]any          `json:"params,omitempty" yaml:"params,omitempty"`
	Condition      *domain.ConditionConfig `json:"condition,omitempty" yaml:"condition,omitempty"`
	Transform      *domain.TransformConfig `json:"transform,omitempty" yaml:"transform,omitempty"`
	SubNodes       []NodeSpec              `json:"sub_nodes,omitempty" yaml:"sub_nodes,omitempty"`
}

// pipelineFile is the YAML document layout.
type pipelineFile struct {
	Phases []GraphSpec `yaml:"phases"`
}

// LoadSpecs decodes a YAML pipeline definition with a top-level "phases"
// list.
func LoadSpecs(r io.Reader) ([]GraphSpec, error) {
	var file pipelineFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to decode pipeline: %w", err)
	}
	if len(file.Phases) == 0 {
		return nil, fmt.Errorf("pipeline defines no phases")
	}
	return file.Phases, nil
}

// Resolve converts the phase definition into nodes, resolving task names through
// tasks.
func (s GraphSpec) Resolve(tasks TaskResolver) ([]domain.Node, error) {
	nodes := make([]domain.Node, 0, len(s.Nodes))
	for _, ns := range s.Nodes {
		n, err := ns.resolve(tasks)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// BuildGraph resolves and validates the phase definition in one step.
func (s GraphSpec) BuildGraph(tasks TaskResolver) (*Graph, error) {
	nodes, err := s.Resolve(tasks)
	if err != nil {
		return nil, err
	}
	return Build(s.Name, nodes)
}

func (ns NodeSpec) resolve(tasks TaskResolver) (domain.Node, error) {
	node := domain.Node{
		ID:           ns.ID,
		Kind:         ns.Kind,
		Role:         ns.Role,
		Dependencies: ns.DependsOn,
		Critical:     ns.Critical,
		Config: domain.NodeConfig{
			Task:           ns.Task,
			Priority:       ns.Priority,
			RequiresReview: ns.RequiresReview,
			Seed:           ns.Seed,
			Params:         ns.Params,
			Condition:      ns.Condition,
			Transform:      ns.Transform,
		},
	}

	if ns.Timeout != "" {
		d, err := time.ParseDuration(ns.Timeout)
		if err != nil {
			return domain.Node{}, &domain.InvalidNodeError{NodeID: ns.ID, Reason: fmt.Sprintf("invalid timeout %q", ns.Timeout)}
		}
		node.Config.Timeout = d
	}

	if ns.Task != "" {
		if tasks == nil {
			return domain.Node{}, &domain.UnknownTaskError{NodeID: ns.ID, Task: ns.Task}
		}
		fn, ok := tasks.Lookup(ns.Task)
		if !ok {
			return domain.Node{}, &domain.UnknownTaskError{NodeID: ns.ID, Task: ns.Task}
		}
		node.Config.Func = fn
	}

	for _, child := range ns.SubNodes {
		sub, err := child.resolve(tasks)
		if err != nil {
			return domain.Node{}, err
		}
		node.Config.SubNodes = append(node.Config.SubNodes, sub)
	}

	return node, nil
}
