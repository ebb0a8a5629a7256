package engine

import (
	"context"
	"time"
)

// Function is an invocable node implementation. Its result is usually a
// map[string]any whose properties downstream dependencies project.
type Function func(ctx context.Context, input map[string]any) (any, error)

// Deferred is a node call bound by a module-mode dependency. The node runs
// only when the Deferred is invoked, and runs again on every invocation.
type Deferred func(ctx context.Context) (any, error)

// Executable is a stitched operation. It is the only surface a protocol
// adapter touches.
type Executable func(ctx context.Context, input map[string]any) (map[string]any, error)

// FunctionSource locates function implementations for one or more reference kinds.
type FunctionSource interface {
	// Lookup returns the implementation of ref, or an error wrapping
	// ErrFunctionNotFound when it is not installed.
	Lookup(ref Reference) (Function, error)
}

// FunctionSourceFunc adapts a plain function to FunctionSource.
type FunctionSourceFunc func(ref Reference) (Function, error)

// Lookup implements FunctionSource.
func (f FunctionSourceFunc) Lookup(ref Reference) (Function, error) {
	return f(ref)
}

// VariableStore persists variable bindings for the lifetime of the process
// (or longer, for shared stores). Updates to one variable are serialized.
type VariableStore interface {
	// Declare creates the operation's variables with their initial values.
	// Variables that already exist keep their current value.
	Declare(ctx context.Context, operation string, decls []VariableDeclaration) error

	// Get returns a variable. Unknown names return an error matching ErrVariableNotFound.
	Get(ctx context.Context, operation, name string) (Variable, error)

	// Update replaces a variable's value with the result of fn. The value
	// returned by fn must match the declared type. No other update of the
	// same variable runs concurrently with fn.
	Update(ctx context.Context, operation, name string, fn func(current Variable) (any, error)) (Variable, error)
}

// Journal records finished invocations.
type Journal interface {
	RecordInvocation(ctx context.Context, record *InvocationRecord) error
}

// PolicyEvaluator enforces policies on operations before they are loaded.
type PolicyEvaluator interface {
	EvaluateOperation(ctx context.Context, op *Operation) (*PolicyResult, error)
}

// PolicyResult represents the outcome of a policy evaluation.
type PolicyResult struct {
	// Allowed is false when at least one error-level violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists policy violations.
	Violations []PolicyViolation `json:"violations,omitempty"`

	// Warnings lists violations that do not block loading.
	Warnings []PolicyViolation `json:"warnings,omitempty"`

	// EvaluatedAt is when the policies were evaluated.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// PolicyViolation is a single policy violation.
type PolicyViolation struct {
	Policy   string `json:"policy"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Node     *int   `json:"node,omitempty"`
}
