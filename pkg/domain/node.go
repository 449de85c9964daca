// Package domain defines the core types shared by the orchestration engine:
// workflow nodes, per-node execution state, jobs, audit records and review
// requests, together with the error taxonomy.
package domain

import (
	"context"
	"time"
)

// NodeKind identifies how the scheduler treats a node.
type NodeKind string

const (
	NodeKindAgent         NodeKind = "agent"
	NodeKindCondition     NodeKind = "condition"
	NodeKindTransform     NodeKind = "transform"
	NodeKindParallelGroup NodeKind = "parallel_group"
)

// Valid reports whether k is a known node kind.
func (k NodeKind) Valid() bool {
	switch k {
	case NodeKindAgent, NodeKindCondition, NodeKindTransform, NodeKindParallelGroup:
		return true
	}
	return false
}

// Role decides how a node's output is folded into the job.
type Role string

const (
	RoleDoer        Role = "doer"
	RoleCoordinator Role = "coordinator"
	RoleAdversarial Role = "adversarial"
)

// Valid reports whether r is a known role. The empty role is treated as doer.
func (r Role) Valid() bool {
	switch r {
	case "", RoleDoer, RoleCoordinator, RoleAdversarial:
		return true
	}
	return false
}

// OrDefault returns RoleDoer for the empty role.
func (r Role) OrDefault() Role {
	if r == "" {
		return RoleDoer
	}
	return r
}

// TaskFunction is the opaque generator invoked for agent nodes.
type TaskFunction func(ctx context.Context, input map[string]any) (map[string]any, error)

// ParamsKey is the reserved input key under which a node's params are passed
// to its task function.
const ParamsKey = "_params"

// Node is a vertex of a workflow graph.
type Node struct {
	ID           string     `json:"id" validate:"required"`
	Kind         NodeKind   `json:"kind" validate:"required"`
	Role         Role       `json:"role,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	Config       NodeConfig `json:"config"`
	Critical     bool       `json:"critical,omitempty"`
}

// NodeConfig is the typed per-node configuration.
type NodeConfig struct {
	Task           string           `json:"task,omitempty"`
	Func           TaskFunction     `json:"-"`
	Timeout        time.Duration    `json:"timeout,omitempty" validate:"gte=0"`
	Priority       int              `json:"priority,omitempty"`
	RequiresReview bool             `json:"requires_review,omitempty"`
	Seed           int64            `json:"seed,omitempty"`
	Params         map[string]any   `json:"params,omitempty"`
	Condition      *ConditionConfig `json:"condition,omitempty"`
	Transform      *TransformConfig `json:"transform,omitempty"`
	SubNodes       []Node           `json:"sub_nodes,omitempty" validate:"omitempty,dive"`
}

// ConditionConfig describes the predicate a condition node evaluates over
// the accumulated job state.
type ConditionConfig struct {
	Type      string  `json:"type,omitempty" yaml:"type,omitempty"`
	Key       string  `json:"key" yaml:"key" validate:"required"`
	Operator  string  `json:"operator,omitempty" yaml:"operator,omitempty" validate:"omitempty,oneof=gte gt lte lt eq ne exists truthy"`
	Threshold float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
}

// TransformConfig is the built-in key mapping applied by transform nodes
// that carry no task function.
type TransformConfig struct {
	Rename map[string]string `json:"rename,omitempty" yaml:"rename,omitempty"`
	Set    map[string]any    `json:"set,omitempty" yaml:"set,omitempty"`
	Drop   []string          `json:"drop,omitempty" yaml:"drop,omitempty"`
}

// NodeStatus is the lifecycle state of one node within one job run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusQueued    NodeStatus = "queued"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSucceeded NodeStatus = "succeeded"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusTimedOut  NodeStatus = "timed_out"
	NodeStatusSkipped   NodeStatus = "skipped"
	NodeStatusRejected  NodeStatus = "rejected"
)

// Terminal reports whether no further transition can happen.
func (s NodeStatus) Terminal() bool {
	switch s {
	case NodeStatusSucceeded, NodeStatusFailed, NodeStatusTimedOut, NodeStatusSkipped, NodeStatusRejected:
		return true
	}
	return false
}

// ExecutionState is the per-node state owned by a scheduler for one job.
type ExecutionState struct {
	NodeID    string         `json:"node_id"`
	Status    NodeStatus     `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
	Error     string         `json:"error,omitempty"`
}
