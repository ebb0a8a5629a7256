package policy

import (
	"time"

	"github.com/metasys/bops/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but do not block loading.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block loading.
	SeverityError Severity = "error"

	// SeverityCritical is for violations that block loading and need attention.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity denies the operation.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code. The module must define
// a "deny" set; each element is a message string or an object with
// "message", and optionally "severity" and "node".
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Source is the file the policy was loaded from. It is empty for built-ins.
	Source string `json:"source,omitempty"`

	// LoadedAt is when the policy was compiled.
	LoadedAt time.Time `json:"loaded_at"`
}

// Input is the document policies see as "input".
type Input struct {
	// Operation is the operation being loaded, in its configuration shape.
	Operation map[string]any `json:"operation"`

	// Context provides additional evaluation context.
	Context Context `json:"context"`
}

// Context describes the evaluation.
type Context struct {
	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`

	// Phase is "load" for operations being loaded into an engine and
	// "validate" for the validate command.
	Phase string `json:"phase"`
}

// Params are exposed to policies as data.bops.params.
type Params struct {
	// MaxNodes is the largest allowed number of nodes in one operation.
	MaxNodes int `json:"max_nodes"`
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	engine.PolicyResult

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}
