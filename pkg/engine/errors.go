package engine

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrorClass tells when in an operation's lifecycle an error was raised.
type ErrorClass string

const (
	// ErrorClassValidation errors reject an operation at load time.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassCompile errors prevent an operation from being stitched.
	ErrorClassCompile ErrorClass = "compile"

	// ErrorClassRuntime errors are surfaced to the caller of a stitched executable.
	// The engine never retries them.
	ErrorClassRuntime ErrorClass = "runtime"
)

// Error codes.
const (
	ErrCodeDuplicateKey         = "DUPLICATE_KEY"
	ErrCodeMissingOutputNode    = "MISSING_OUTPUT_NODE"
	ErrCodeDuplicateOutputNode  = "DUPLICATE_OUTPUT_NODE"
	ErrCodeCircularDependency   = "CIRCULAR_DEPENDENCY"
	ErrCodeUnmappedDependency   = "UNMAPPED_DEPENDENCY"
	ErrCodeInvalidDependency    = "INVALID_DEPENDENCY"
	ErrCodeInvalidReference     = "INVALID_REFERENCE"
	ErrCodeConstantTypeMismatch = "CONSTANT_TYPE_MISMATCH"
	ErrCodeVariableTypeMismatch = "VARIABLE_TYPE_MISMATCH"
	ErrCodeDependencyNotMet     = "DEPENDENCY_NOT_MET"
	ErrCodePolicyDenied         = "POLICY_DENIED"
	ErrCodeUnresolvedOperation  = "UNRESOLVED_OPERATION"
	ErrCodeUnresolvedReference  = "UNRESOLVED_REFERENCE"
	ErrCodeMutualRecursion      = "MUTUAL_RECURSION"
	ErrCodeTimeout              = "TIMEOUT"
	ErrCodeVariableNotFound     = "VARIABLE_NOT_FOUND"
)

// Sentinel errors for use with errors.Is. Matching compares class and code only.
var (
	ErrDuplicateKey         = &EngineError{Class: ErrorClassValidation, Code: ErrCodeDuplicateKey}
	ErrMissingOutputNode    = &EngineError{Class: ErrorClassValidation, Code: ErrCodeMissingOutputNode}
	ErrDuplicateOutputNode  = &EngineError{Class: ErrorClassValidation, Code: ErrCodeDuplicateOutputNode}
	ErrCircularDependency   = &EngineError{Class: ErrorClassValidation, Code: ErrCodeCircularDependency}
	ErrUnmappedDependency   = &EngineError{Class: ErrorClassValidation, Code: ErrCodeUnmappedDependency}
	ErrInvalidDependency    = &EngineError{Class: ErrorClassValidation, Code: ErrCodeInvalidDependency}
	ErrInvalidReference     = &EngineError{Class: ErrorClassValidation, Code: ErrCodeInvalidReference}
	ErrConstantTypeMismatch = &EngineError{Class: ErrorClassValidation, Code: ErrCodeConstantTypeMismatch}
	ErrVariableTypeMismatch = &EngineError{Class: ErrorClassValidation, Code: ErrCodeVariableTypeMismatch}
	ErrDependencyNotMet     = &EngineError{Class: ErrorClassValidation, Code: ErrCodeDependencyNotMet}
	ErrPolicyDenied         = &EngineError{Class: ErrorClassValidation, Code: ErrCodePolicyDenied}
	ErrUnresolvedOperation  = &EngineError{Class: ErrorClassCompile, Code: ErrCodeUnresolvedOperation}
	ErrUnresolvedReference  = &EngineError{Class: ErrorClassCompile, Code: ErrCodeUnresolvedReference}
	ErrMutualRecursion      = &EngineError{Class: ErrorClassCompile, Code: ErrCodeMutualRecursion}
	ErrTimeout              = &EngineError{Class: ErrorClassRuntime, Code: ErrCodeTimeout}
	ErrVariableNotFound     = &EngineError{Class: ErrorClassRuntime, Code: ErrCodeVariableNotFound}
)

// ErrFunctionNotFound is returned by function sources that do not provide a reference.
var ErrFunctionNotFound = errors.New("function not installed")

// EngineError is a classified error with operation context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the lifecycle phase that produced the error.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is the error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Operation is the name of the operation the error belongs to.
	Operation string `json:"operation,omitempty"`

	// Node is the key of the offending node, if any.
	Node *int `json:"node,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Operation != "" && e.Node != nil:
		msg += fmt.Sprintf(" (operation=%s, node=%d)", e.Operation, *e.Node)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	case e.Node != nil:
		msg += fmt.Sprintf(" (node=%d)", *e.Node)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewValidationError creates a load-time error.
func NewValidationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassValidation, Message: message, Err: err}
}

// NewCompileError creates a stitch-time error.
func NewCompileError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassCompile, Message: message, Err: err}
}

// NewRuntimeError creates an invocation-time error.
func NewRuntimeError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassRuntime, Message: message, Err: err}
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithNode adds the offending node key to an error.
func (e *EngineError) WithNode(key int) *EngineError {
	e.Node = &key
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// IsValidation returns true if the error rejected an operation at load time.
func IsValidation(err error) bool {
	return hasClass(err, ErrorClassValidation)
}

// IsCompile returns true if the error prevented stitching.
func IsCompile(err error) bool {
	return hasClass(err, ErrorClassCompile)
}

// IsRuntime returns true if the error was raised by an invocation.
func IsRuntime(err error) bool {
	return hasClass(err, ErrorClassRuntime)
}

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class == class
	}
	return false
}

// CodeOf returns the code of the first EngineError in err's chain.
func CodeOf(err error) string {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func duplicateKeyError(op string, key int, first, second string) *EngineError {
	return NewValidationError(
		fmt.Sprintf("Duplicate keys in operation %q - Both modules %q and %q have the same identifier", op, first, second),
		nil,
	).WithCode(ErrCodeDuplicateKey).WithOperation(op).WithNode(key)
}

func missingOutputError(op string) *EngineError {
	return NewValidationError(fmt.Sprintf("Operation %q has no output function", op), nil).
		WithCode(ErrCodeMissingOutputNode).WithOperation(op)
}

func duplicateOutputError(op string, first, second int) *EngineError {
	return NewValidationError(
		fmt.Sprintf("Operation %q has more than one output function: keys %d and %d", op, first, second),
		nil,
	).WithCode(ErrCodeDuplicateOutputNode).WithOperation(op).WithNode(second)
}

func circularDependencyError(op string, key int, path []int) *EngineError {
	return NewValidationError(
		fmt.Sprintf("Circular dependency found in operation %q configuration [ key %d ]", op, key),
		nil,
	).WithCode(ErrCodeCircularDependency).WithOperation(op).WithNode(key).
		WithDetail("path", formatPath(append(append([]int(nil), path...), key)))
}

func unmappedDependencyError(op string, from, key int) *EngineError {
	return NewValidationError(
		fmt.Sprintf("Unmapped dependency modules found in operation %q: tried to get key [%d] but it does not exist", op, key),
		nil,
	).WithCode(ErrCodeUnmappedDependency).WithOperation(op).WithNode(from).WithDetail("missing_key", key)
}

func constantTypeError(c Constant) *EngineError {
	return NewValidationError(
		fmt.Sprintf("The constant %q was expected to be a %s but %v type is %s", c.Name, c.Type, c.Value, typeName(c.Value)),
		nil,
	).WithCode(ErrCodeConstantTypeMismatch).WithDetail("constant", c.Name)
}

// formatPath formats a node path for error details.
func formatPath(path []int) string {
	s := ""
	for i, key := range path {
		if i > 0 {
			s += " -> "
		}
		s += strconv.Itoa(key)
	}
	return s
}
