package workers

import (
	"context"
	"fmt"
	"sort"

	"github.com/aescanero/synthflow/internal/application/workflow"
	"github.com/aescanero/synthflow/pkg/domain"
)

// Metadata keys set by the built-in handlers.
const (
	MetaConditionResult = "condition_result"
	MetaExplanation     = "explanation"
	MetaReview          = "review"
	MetaDroppedKeys     = "dropped_keys"
)

// taskOutcome is what a handler hands back to Execute.
type taskOutcome struct {
	output    map[string]any
	metadata  map[string]any
	reasoning []string
}

type handler func(ctx context.Context, input map[string]any) (*taskOutcome, error)

// handlerFor picks the handler of a non-group node. state is the job state
// without the params key; built-in handlers evaluate over it.
func handlerFor(node domain.Node, state map[string]any) handler {
	switch node.Kind {
	case domain.NodeKindCondition:
		return func(context.Context, map[string]any) (*taskOutcome, error) {
			return evaluateCondition(node, state)
		}
	case domain.NodeKindTransform:
		if node.Config.Func == nil {
			return func(context.Context, map[string]any) (*taskOutcome, error) {
				return applyTransform(node, state), nil
			}
		}
	}
	return wrapTask(node.Config.Func)
}

func wrapTask(fn domain.TaskFunction) handler {
	return func(ctx context.Context, input map[string]any) (*taskOutcome, error) {
		out, err := fn(ctx, input)
		if err != nil {
			return nil, err
		}
		return &taskOutcome{output: out}, nil
	}
}

// evaluateCondition produces an empty output: the predicate result travels
// in metadata so nothing leaks into the job state.
func evaluateCondition(node domain.Node, state map[string]any) (*taskOutcome, error) {
	cond := node.Config.Condition
	if cond == nil {
		return nil, fmt.Errorf("condition node %s has no condition", node.ID)
	}
	ok, explanation, err := workflow.EvaluateCondition(*cond, state)
	if err != nil {
		return nil, err
	}
	return &taskOutcome{
		output: map[string]any{},
		metadata: map[string]any{
			MetaConditionResult: ok,
			MetaExplanation:     explanation,
		},
		reasoning: []string{explanation},
	}, nil
}

// applyTransform renames, sets and drops keys of the job state. The output
// carries the new values; renamed and dropped keys are listed under
// MetaDroppedKeys for the aggregator to remove.
func applyTransform(node domain.Node, state map[string]any) *taskOutcome {
	out := make(map[string]any)
	t := node.Config.Transform
	if t == nil {
		return &taskOutcome{output: out}
	}

	var (
		dropped   []string
		reasoning []string
	)
	for _, from := range sortedKeys(t.Rename) {
		to := t.Rename[from]
		if v, ok := state[from]; ok {
			out[to] = v
			dropped = append(dropped, from)
			reasoning = append(reasoning, fmt.Sprintf("rename %s -> %s", from, to))
		}
	}
	for _, k := range sortedKeys(t.Set) {
		out[k] = t.Set[k]
		reasoning = append(reasoning, fmt.Sprintf("set %s", k))
	}
	for _, k := range t.Drop {
		delete(out, k)
		dropped = append(dropped, k)
		reasoning = append(reasoning, fmt.Sprintf("drop %s", k))
	}

	return &taskOutcome{
		output:    out,
		metadata:  map[string]any{MetaDroppedKeys: dropped},
		reasoning: reasoning,
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
