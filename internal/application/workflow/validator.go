package workflow

import (
	"errors"
	"fmt"
	"strings"

	"github.com/aescanero/synthflow/pkg/domain"
	"github.com/go-playground/validator/v10"
)

var defaultValidator = NewValidator()

// Validator validates graph structures and node configuration
type Validator struct {
	structs *validator.Validate
}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{structs: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks node ids and per-kind configuration. Dependency
// resolution and cycle detection happen in Build.
func (v *Validator) Validate(name string, nodes []domain.Node) error {
	if name == "" {
		return fmt.Errorf("graph name is required")
	}

	if len(nodes) == 0 {
		return fmt.Errorf("graph %s must have at least one node", name)
	}

	nodeIDs := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		if err := v.validateNode(node, false); err != nil {
			return err
		}

		if nodeIDs[node.ID] {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: "duplicate node ID"}
		}
		nodeIDs[node.ID] = true
	}

	return nil
}

// validateNode validates a single node
func (v *Validator) validateNode(node domain.Node, sub bool) error {
	if err := v.structs.Struct(node); err != nil {
		return &domain.InvalidNodeError{NodeID: node.ID, Reason: describe(err)}
	}

	if !node.Kind.Valid() {
		return &domain.InvalidNodeError{NodeID: node.ID, Reason: fmt.Sprintf("unknown kind %q", node.Kind)}
	}

	if !node.Role.Valid() {
		return &domain.InvalidNodeError{NodeID: node.ID, Reason: fmt.Sprintf("unknown role %q", node.Role)}
	}

	cfg := node.Config
	switch node.Kind {
	case domain.NodeKindAgent:
		if cfg.Func == nil {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: "agent nodes require a task function"}
		}

	case domain.NodeKindCondition:
		if cfg.Condition == nil {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: "condition nodes require a condition"}
		}
		if _, err := ResolveOperator(*cfg.Condition); err != nil {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: err.Error()}
		}

	case domain.NodeKindTransform:
		if cfg.Func == nil && cfg.Transform == nil {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: "transform nodes require a task function or a transform mapping"}
		}

	case domain.NodeKindParallelGroup:
		if sub {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: "parallel groups cannot be nested"}
		}
		if len(cfg.SubNodes) == 0 {
			return &domain.InvalidNodeError{NodeID: node.ID, Reason: "parallel groups require at least one sub-node"}
		}
		seen := make(map[string]bool, len(cfg.SubNodes))
		for _, child := range cfg.SubNodes {
			if seen[child.ID] {
				return &domain.InvalidNodeError{NodeID: node.ID, Reason: fmt.Sprintf("duplicate sub-node %s", child.ID)}
			}
			seen[child.ID] = true
			if len(child.Dependencies) > 0 {
				return &domain.InvalidNodeError{NodeID: node.ID, Reason: fmt.Sprintf("sub-node %s cannot declare dependencies", child.ID)}
			}
			if child.Kind != domain.NodeKindAgent && child.Kind != domain.NodeKindTransform {
				return &domain.InvalidNodeError{NodeID: node.ID, Reason: fmt.Sprintf("sub-node %s must be an agent or transform", child.ID)}
			}
			if err := v.validateNode(child, true); err != nil {
				return err
			}
		}
	}

	if len(cfg.SubNodes) > 0 && node.Kind != domain.NodeKindParallelGroup {
		return &domain.InvalidNodeError{NodeID: node.ID, Reason: "only parallel groups may declare sub-nodes"}
	}

	return nil
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
