package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/aescanero/synthflow/pkg/domain"
)

// Condition operators.
const (
	OpGTE    = "gte"
	OpGT     = "gt"
	OpLTE    = "lte"
	OpLT     = "lt"
	OpEQ     = "eq"
	OpNE     = "ne"
	OpExists = "exists"
	OpTruthy = "truthy"
)

// conditionDefaults holds the comparison direction of the known condition
// types. quality_threshold passes when the score is at least the
// threshold, bias_check when the measured bias is at most the threshold.
var conditionDefaults = map[string]string{
	"quality_threshold": OpGTE,
	"bias_check":        OpLTE,
}

// ResolveOperator returns the operator a condition evaluates with. An
// explicit operator always wins over the type default.
func ResolveOperator(c domain.ConditionConfig) (string, error) {
	if c.Operator != "" {
		return c.Operator, nil
	}
	if op, ok := conditionDefaults[c.Type]; ok {
		return op, nil
	}
	if c.Type == "" {
		return "", fmt.Errorf("condition on %q needs an operator or a type", c.Key)
	}
	return "", fmt.Errorf("condition type %q has no default operator, set one explicitly", c.Type)
}

// EvaluateCondition evaluates c over state. It returns the predicate result
// and a one-line explanation for the audit trail. A missing key evaluates
// to false; a non-numeric value under a numeric operator is an error.
func EvaluateCondition(c domain.ConditionConfig, state map[string]any) (bool, string, error) {
	op, err := ResolveOperator(c)
	if err != nil {
		return false, "", err
	}

	value, found := Lookup(state, c.Key)
	switch op {
	case OpExists:
		return found, fmt.Sprintf("%s exists = %t", c.Key, found), nil
	case OpTruthy:
		ok := found && truthy(value)
		return ok, fmt.Sprintf("%s truthy = %t", c.Key, ok), nil
	}

	if !found {
		return false, fmt.Sprintf("%s missing, condition %s %v not met", c.Key, op, c.Threshold), nil
	}

	num, ok := ToFloat(value)
	if !ok {
		return false, "", fmt.Errorf("condition key %s holds non-numeric value %v", c.Key, value)
	}

	var result bool
	switch op {
	case OpGTE:
		result = num >= c.Threshold
	case OpGT:
		result = num > c.Threshold
	case OpLTE:
		result = num <= c.Threshold
	case OpLT:
		result = num < c.Threshold
	case OpEQ:
		result = num == c.Threshold
	case OpNE:
		result = num != c.Threshold
	default:
		return false, "", fmt.Errorf("unknown condition operator %q", op)
	}

	return result, fmt.Sprintf("%s = %v %s %v => %t", c.Key, num, op, c.Threshold, result), nil
}

// Lookup resolves a dotted key path through nested maps.
func Lookup(state map[string]any, key string) (any, bool) {
	if v, ok := state[key]; ok {
		return v, true
	}

	parts := strings.Split(key, ".")
	var cur any = state
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// ToFloat converts the numeric types that appear in task outputs.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if f, ok := ToFloat(v); ok {
		return f != 0
	}
	return true
}
