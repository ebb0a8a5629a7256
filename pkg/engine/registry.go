package engine

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Registry routes parsed references to the function sources registered for
// their kind. Nested operations are not resolved here; the Stitcher owns them.
type Registry struct {
	mu      sync.RWMutex
	sources map[Kind][]FunctionSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[Kind][]FunctionSource)}
}

// Register adds a source for a kind. Sources are consulted in registration order.
func (r *Registry) Register(kind Kind, source FunctionSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = append(r.sources[kind], source)
}

// Resolve returns the implementation of ref.
func (r *Registry) Resolve(ref Reference) (Function, error) {
	switch ref.Kind {
	case KindOperation, KindOutput:
		return nil, fmt.Errorf("%s reference %q is resolved by the stitcher", ref.Kind, ref)
	}

	r.mu.RLock()
	sources := r.sources[ref.Kind]
	if ref.Kind == KindVariable && len(sources) == 0 {
		sources = r.sources[KindInternal]
	}
	r.mu.RUnlock()

	for _, source := range sources {
		fn, err := source.Lookup(ref)
		if err == nil {
			return fn, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%s function %q: %w", ref.Kind, ref, ErrFunctionNotFound)
}

// Installed reports whether ref resolves to an implementation.
func (r *Registry) Installed(ref Reference) bool {
	_, err := r.Resolve(ref)
	return err == nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrFunctionNotFound)
}

// FunctionMap is an in-memory FunctionSource keyed by function name.
// External functions may also be registered as "name@version".
type FunctionMap struct {
	mu        sync.RWMutex
	functions map[string]Function
}

// NewFunctionMap creates an empty function map.
func NewFunctionMap() *FunctionMap {
	return &FunctionMap{functions: make(map[string]Function)}
}

// Register adds a function. Registering the same name twice is an error.
func (m *FunctionMap) Register(name string, fn Function) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.functions[name]; exists {
		return fmt.Errorf("function %q already registered", name)
	}
	m.functions[name] = fn
	return nil
}

// MustRegister is like Register but panics on duplicates.
func (m *FunctionMap) MustRegister(name string, fn Function) {
	if err := m.Register(name, fn); err != nil {
		panic(err)
	}
}

// Lookup implements FunctionSource. A versioned entry wins over an unversioned one.
func (m *FunctionMap) Lookup(ref Reference) (Function, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ref.Version != "" {
		if fn, ok := m.functions[ref.Name+"@"+ref.Version]; ok {
			return fn, nil
		}
	}
	if fn, ok := m.functions[ref.Name]; ok {
		return fn, nil
	}
	return nil, fmt.Errorf("%q: %w", ref.Name, ErrFunctionNotFound)
}

// Names returns the registered names in sorted order.
func (m *FunctionMap) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.functions))
	for name := range m.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
