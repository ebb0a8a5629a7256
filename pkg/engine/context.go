package engine

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext bundles everything one operation needs to resolve its
// nodes: frozen constants, the variable bindings, the environment map and the
// compiled node list. A template context is built at stitch time; every
// invocation runs on a Clone with fresh per-invocation state.
type ExecutionContext struct {
	operation string
	constants map[string]any
	variables *Variables
	env       map[string]string
	nodes     map[int]*compiledNode
	obs       *observer

	invocation *Invocation
}

type executionContextKey struct{}

func newExecutionContext(
	operation string,
	constants map[string]any,
	variables *Variables,
	env map[string]string,
	nodes map[int]*compiledNode,
	obs *observer,
) *ExecutionContext {
	return &ExecutionContext{
		operation: operation,
		constants: maps.Clone(constants),
		variables: variables,
		env:       env,
		nodes:     nodes,
		obs:       obs,
	}
}

// Clone returns a context sharing configuration, constants, variables and
// functions with c but holding a new Invocation. parent may be nil.
func (c *ExecutionContext) Clone(parent *Invocation) *ExecutionContext {
	clone := *c
	clone.invocation = newInvocation(c.operation, parent)
	return &clone
}

// Operation returns the name of the operation this context executes.
func (c *ExecutionContext) Operation() string { return c.operation }

// Constant returns a resolved constant.
func (c *ExecutionContext) Constant(name string) (any, bool) {
	v, ok := c.constants[name]
	return v, ok
}

// Constants returns a copy of the resolved constants.
func (c *ExecutionContext) Constants() map[string]any {
	return maps.Clone(c.constants)
}

// Env returns an environment value.
func (c *ExecutionContext) Env(name string) (string, bool) {
	v, ok := c.env[name]
	return v, ok
}

// Variables returns the operation's variable bindings.
func (c *ExecutionContext) Variables() *Variables { return c.variables }

// Invocation returns the per-invocation state. It is nil on template contexts.
func (c *ExecutionContext) Invocation() *Invocation { return c.invocation }

// WithExecutionContext attaches an execution context to ctx.
func WithExecutionContext(ctx context.Context, c *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, c)
}

// FromContext returns the execution context of the invocation running on ctx.
func FromContext(ctx context.Context) (*ExecutionContext, bool) {
	c, ok := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return c, ok && c != nil
}

// VariablesFrom returns the variable bindings of the operation running on ctx.
// Variable functions use it to read and mutate bindings.
func VariablesFrom(ctx context.Context) (*Variables, bool) {
	c, ok := FromContext(ctx)
	if !ok {
		return nil, false
	}
	return c.variables, c.variables != nil
}

// Invocation is the state of a single executable call. It is discarded when
// the call completes.
type Invocation struct {
	ID        string
	ParentID  string
	Operation string
	StartedAt time.Time

	mu      sync.Mutex
	results map[int]any
	calls   []NodeCallRecord
}

func newInvocation(operation string, parent *Invocation) *Invocation {
	inv := &Invocation{
		ID:        uuid.New().String(),
		Operation: operation,
		StartedAt: time.Now(),
		results:   make(map[int]any),
	}
	if parent != nil {
		inv.ParentID = parent.ID
	}
	return inv
}

func (i *Invocation) record(call NodeCallRecord, result any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.calls = append(i.calls, call)
	if call.Error == "" {
		i.results[call.Key] = result
	}
}

// Result returns the last successful result of a node in this invocation.
func (i *Invocation) Result(key int) (any, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	v, ok := i.results[key]
	return v, ok
}

// Calls returns a snapshot of the node calls made so far.
func (i *Invocation) Calls() []NodeCallRecord {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]NodeCallRecord, len(i.calls))
	copy(out, i.calls)
	return out
}

// Invocation statuses.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusTimeout   = "timeout"
)

// NodeCallRecord describes one call of a node function.
type NodeCallRecord struct {
	Key       int           `json:"key"`
	Reference string        `json:"reference"`
	Kind      Kind          `json:"kind"`
	Mode      string        `json:"mode"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// InvocationRecord is what a Journal receives once an invocation settles.
type InvocationRecord struct {
	ID        string           `json:"id"`
	ParentID  string           `json:"parent_id,omitempty"`
	Operation string           `json:"operation"`
	Status    string           `json:"status"`
	Input     map[string]any   `json:"input,omitempty"`
	Output    map[string]any   `json:"output,omitempty"`
	Error     string           `json:"error,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Duration  time.Duration    `json:"duration"`
	NodeCalls []NodeCallRecord `json:"node_calls,omitempty"`
}
