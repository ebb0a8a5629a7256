package engine

import (
	"context"
	"fmt"
	"sync"
)

// Variables is an operation-scoped view of a VariableStore.
type Variables struct {
	store     VariableStore
	operation string
	observe   func(name string, err error)
}

// NewVariables scopes store to one operation.
func NewVariables(store VariableStore, operation string) *Variables {
	return &Variables{store: store, operation: operation}
}

// Get returns a variable binding.
func (v *Variables) Get(ctx context.Context, name string) (Variable, error) {
	return v.store.Get(ctx, v.operation, name)
}

// Set replaces a variable's value.
func (v *Variables) Set(ctx context.Context, name string, value any) (Variable, error) {
	return v.Update(ctx, name, func(Variable) (any, error) { return value, nil })
}

// Update applies fn to the variable's current value. Updates of the same
// variable are serialized by the store.
func (v *Variables) Update(ctx context.Context, name string, fn func(current Variable) (any, error)) (Variable, error) {
	updated, err := v.store.Update(ctx, v.operation, name, fn)
	if v.observe != nil {
		v.observe(name, err)
	}
	return updated, err
}

// VariableNotFoundError reports an undeclared variable. It matches
// ErrVariableNotFound.
func VariableNotFoundError(operation, name string) *EngineError {
	return NewRuntimeError(fmt.Sprintf("No variable named %q was found", name), nil).
		WithCode(ErrCodeVariableNotFound).WithOperation(operation).WithDetail("variable", name)
}

func variableTypeError(operation, name string, t ValueType, err error) *EngineError {
	return NewValidationError(fmt.Sprintf("variable %q must hold a %s", name, t), err).
		WithCode(ErrCodeVariableTypeMismatch).WithOperation(operation).WithDetail("variable", name)
}

// CheckVariable coerces a new value to the declared type of the variable.
func CheckVariable(operation string, current Variable, value any) (any, error) {
	coerced, err := CoerceValue(current.Type, value)
	if err != nil {
		return nil, variableTypeError(operation, current.Name, current.Type, err)
	}
	return coerced, nil
}

// MemoryVariableStore keeps variables in process memory. Each variable has
// its own lock, so mutations of one name are applied one at a time.
type MemoryVariableStore struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

type binding struct {
	mu       sync.Mutex
	variable Variable
}

// NewMemoryVariableStore creates an empty in-memory store.
func NewMemoryVariableStore() *MemoryVariableStore {
	return &MemoryVariableStore{bindings: make(map[string]*binding)}
}

func bindingKey(operation, name string) string {
	return operation + "/" + name
}

// Declare implements VariableStore.
func (s *MemoryVariableStore) Declare(_ context.Context, operation string, decls []VariableDeclaration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, decl := range decls {
		initial, err := CoerceValue(decl.Type, decl.InitialValue)
		if err != nil {
			return variableTypeError(operation, decl.Name, decl.Type, err)
		}
		key := bindingKey(operation, decl.Name)
		if _, exists := s.bindings[key]; exists {
			continue
		}
		s.bindings[key] = &binding{variable: Variable{Name: decl.Name, Type: decl.Type, Value: initial}}
	}
	return nil
}

// Get implements VariableStore.
func (s *MemoryVariableStore) Get(_ context.Context, operation, name string) (Variable, error) {
	b, ok := s.lookup(operation, name)
	if !ok {
		return Variable{}, VariableNotFoundError(operation, name)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.variable, nil
}

// Update implements VariableStore.
func (s *MemoryVariableStore) Update(_ context.Context, operation, name string, fn func(Variable) (any, error)) (Variable, error) {
	b, ok := s.lookup(operation, name)
	if !ok {
		return Variable{}, VariableNotFoundError(operation, name)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := fn(b.variable)
	if err != nil {
		return b.variable, err
	}
	coerced, err := CheckVariable(operation, b.variable, next)
	if err != nil {
		return b.variable, err
	}
	b.variable.Value = coerced
	return b.variable, nil
}

func (s *MemoryVariableStore) lookup(operation, name string) (*binding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[bindingKey(operation, name)]
	return b, ok
}
