package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aescanero/synthflow/pkg/domain"
)

// Names of the built-in utility tasks.
const (
	TaskEcho  = "echo"
	TaskSet   = "set"
	TaskSleep = "sleep"
	TaskFail  = "fail"
)

// TaskRegistry maps task names used in phase definitions to task functions.
type TaskRegistry struct {
	mu    sync.RWMutex
	tasks map[string]domain.TaskFunction
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: make(map[string]domain.TaskFunction)}
}

// Register adds a task. Names are unique.
func (r *TaskRegistry) Register(name string, fn domain.TaskFunction) error {
	if name == "" {
		return fmt.Errorf("task name is required")
	}
	if fn == nil {
		return fmt.Errorf("task %s: function is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("task %s is already registered", name)
	}
	r.tasks[name] = fn
	return nil
}

// Lookup returns the task registered under name.
func (r *TaskRegistry) Lookup(name string) (domain.TaskFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.tasks[name]
	return fn, ok
}

// Names returns the registered task names in lexical order.
func (r *TaskRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterBuiltins adds the utility tasks:
//
//	echo   copies job state keys to the output (params.keys, default all)
//	set    outputs its params
//	sleep  waits params.duration, honouring the task context
//	fail   returns an error with params.message
func RegisterBuiltins(r *TaskRegistry) error {
	builtins := map[string]domain.TaskFunction{
		TaskEcho:  echoTask,
		TaskSet:   setTask,
		TaskSleep: sleepTask,
		TaskFail:  failTask,
	}
	for _, name := range []string{TaskEcho, TaskSet, TaskSleep, TaskFail} {
		if err := r.Register(name, builtins[name]); err != nil {
			return err
		}
	}
	return nil
}

func params(input map[string]any) map[string]any {
	p, _ := input[domain.ParamsKey].(map[string]any)
	return p
}

func echoTask(_ context.Context, input map[string]any) (map[string]any, error) {
	out := make(map[string]any)
	if keys, ok := params(input)["keys"].([]any); ok {
		for _, k := range keys {
			name := fmt.Sprint(k)
			if v, found := input[name]; found {
				out[name] = v
			}
		}
		return out, nil
	}
	for k, v := range input {
		if k != domain.ParamsKey {
			out[k] = v
		}
	}
	return out, nil
}

func setTask(_ context.Context, input map[string]any) (map[string]any, error) {
	return domain.CloneState(params(input)), nil
}

func sleepTask(ctx context.Context, input map[string]any) (map[string]any, error) {
	raw, _ := params(input)["duration"].(string)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("sleep: invalid duration %q: %w", raw, err)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return map[string]any{}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failTask(_ context.Context, input map[string]any) (map[string]any, error) {
	msg, _ := params(input)["message"].(string)
	if msg == "" {
		msg = "task failed"
	}
	return nil, errors.New(msg)
}
