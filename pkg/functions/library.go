package functions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

// Info describes a function the way `bops functions` prints it.
type Info struct {
	Name        string                               `json:"name"`
	Version     string                               `json:"version"`
	Description string                               `json:"description"`
	Inputs      map[string]engine.PropertyDefinition `json:"inputs,omitempty"`
	Outputs     map[string]engine.PropertyDefinition `json:"outputs,omitempty"`
}

// Library is a FunctionSource that also keeps a description of every function.
type Library struct {
	kind      engine.Kind
	functions *engine.FunctionMap

	mu    sync.RWMutex
	infos map[string]Info
}

// NewLibrary creates an empty library of functions of the given kind.
func NewLibrary(kind engine.Kind) *Library {
	return &Library{
		kind:      kind,
		functions: engine.NewFunctionMap(),
		infos:     make(map[string]Info),
	}
}

// Kind returns the reference kind the library serves.
func (l *Library) Kind() engine.Kind { return l.kind }

// Register adds fn under info.Name. Registering a name twice is an error.
func (l *Library) Register(info Info, fn engine.Function) error {
	if info.Name == "" {
		return fmt.Errorf("function has no name")
	}
	if err := l.functions.Register(info.Name, fn); err != nil {
		return err
	}
	if info.Version == "" {
		info.Version = "1.0.0"
	}

	l.mu.Lock()
	l.infos[info.Name] = info
	l.mu.Unlock()
	return nil
}

// MustRegister is like Register but panics on error.
func (l *Library) MustRegister(info Info, fn engine.Function) {
	if err := l.Register(info, fn); err != nil {
		panic(err)
	}
}

// Lookup implements engine.FunctionSource.
func (l *Library) Lookup(ref engine.Reference) (engine.Function, error) {
	return l.functions.Lookup(ref)
}

// Infos returns the descriptions of every function, sorted by name.
func (l *Library) Infos() []Info {
	l.mu.RLock()
	defer l.mu.RUnlock()

	infos := make([]Info, 0, len(l.infos))
	for _, info := range l.infos {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Names returns the registered function names.
func (l *Library) Names() []string {
	return l.functions.Names()
}

var validate = validator.New()

// decode copies a node's input map into the struct pointed to by out and
// checks its validate tags. Numbers of any Go type decode into float64 fields.
func decode(name string, input map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		ZeroFields:       true,
		WeaklyTypedInput: false,
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(input); err != nil {
		return fmt.Errorf("%s: invalid input: %w", name, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("%s: invalid input: %w", name, err)
	}
	return nil
}

// call invokes v when it is a deferred node and returns it unchanged otherwise.
func call(ctx context.Context, v any) (any, error) {
	switch fn := v.(type) {
	case engine.Deferred:
		return fn(ctx)
	case func(context.Context) (any, error):
		return fn(ctx)
	}
	return v, nil
}

// withInvocation adds the operation and invocation running on ctx to logger.
func withInvocation(ctx context.Context, logger *telemetry.Logger) *telemetry.Logger {
	ec, ok := engine.FromContext(ctx)
	if !ok {
		return logger
	}
	logger = logger.WithOperation(ec.Operation())
	if inv := ec.Invocation(); inv != nil {
		logger = logger.WithInvocationID(inv.ID)
	}
	return logger
}
