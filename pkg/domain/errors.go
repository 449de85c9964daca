package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrReviewNotFound = errors.New("review request not found")
	ErrRecordNotFound = errors.New("audit record not found")
	ErrValidation     = errors.New("validation failed")
)

// CyclicGraphError is returned by graph construction when the dependency
// relation contains a cycle. Path lists the cycle, first node repeated last.
type CyclicGraphError struct {
	Graph string
	Path  []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("graph %q contains a cycle: %s", e.Graph, strings.Join(e.Path, " -> "))
}

// UnknownDependencyError is returned when a node depends on an id that is
// not part of the graph.
type UnknownDependencyError struct {
	Graph      string
	NodeID     string
	Dependency string
}

func (e *UnknownDependencyError) Error() string {
	return fmt.Sprintf("graph %q: node %s depends on unknown node %s", e.Graph, e.NodeID, e.Dependency)
}

// InvalidNodeError reports a node whose configuration failed validation.
type InvalidNodeError struct {
	NodeID string
	Reason string
}

func (e *InvalidNodeError) Error() string {
	return fmt.Sprintf("invalid node %s: %s", e.NodeID, e.Reason)
}

// UnknownTaskError is returned when a node names a task that is not
// registered.
type UnknownTaskError struct {
	NodeID string
	Task   string
}

func (e *UnknownTaskError) Error() string {
	return fmt.Sprintf("node %s references unknown task %q", e.NodeID, e.Task)
}

// NodeExecutionError wraps a task failure or panic.
type NodeExecutionError struct {
	NodeID string
	Cause  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s failed: %v", e.NodeID, e.Cause)
}

func (e *NodeExecutionError) Unwrap() error { return e.Cause }

// TimeoutError is returned when a node exceeds its configured timeout.
type TimeoutError struct {
	NodeID  string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("node %s timed out after %v", e.NodeID, e.Timeout)
}

// CancellationError is returned when the job context is cancelled while a
// node waits for a slot or before it is dispatched.
type CancellationError struct {
	NodeID string
	Cause  error
}

func (e *CancellationError) Error() string {
	return fmt.Sprintf("node %s cancelled: %v", e.NodeID, e.Cause)
}

func (e *CancellationError) Unwrap() error { return e.Cause }
