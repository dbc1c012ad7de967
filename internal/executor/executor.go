// Package executor models the "run the work where the data lives" boundary.
// A task is a serializable description of work (kind + JSON payload) handed to
// an Executor, which runs it at the target location and hands back a
// serialized result or the failure. Nothing crosses the boundary by pointer.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Task is a self-contained, wire-encodable unit of work.
type Task struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Runner is the executable form of a task payload.
type Runner interface {
	Run(ctx context.Context) (any, error)
}

// Executor runs a task and returns its JSON-encoded result. The caller blocks
// until the task completes; this is an RPC boundary, not fire-and-forget.
type Executor interface {
	Execute(ctx context.Context, task Task) ([]byte, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]func() Runner{}
)

// Register binds a task kind to a factory producing an empty Runner the
// payload can be decoded into. Called from package init in the packages that
// define tasks; duplicate kinds panic.
func Register(kind string, factory func() Runner) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("executor: duplicate task kind %q", kind))
	}
	registry[kind] = factory
}

// Kinds returns the registered task kinds, sorted.
func Kinds() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	kinds := make([]string, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// NewTask encodes payload as a task of the given kind.
func NewTask(kind string, payload any) (Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, fmt.Errorf("encode %s task: %w", kind, err)
	}
	return Task{Kind: kind, Payload: raw}, nil
}

// Local executes tasks in the calling process, against files already resident
// on this machine. A remote agent executor satisfies the same interface by
// shipping the task bytes to the agent and returning the result bytes.
type Local struct{}

func (Local) Execute(ctx context.Context, task Task) ([]byte, error) {
	registryMu.RLock()
	factory, ok := registry[task.Kind]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown task kind %q", task.Kind)
	}

	runner := factory()
	if err := json.Unmarshal(task.Payload, runner); err != nil {
		return nil, fmt.Errorf("decode %s task: %w", task.Kind, err)
	}

	result, err := runner.Run(ctx)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode %s result: %w", task.Kind, err)
	}
	return out, nil
}

var _ Executor = Local{}
