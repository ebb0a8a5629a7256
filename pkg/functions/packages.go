package functions

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

// LoggerPackage is the name of the package that ships the log functions.
const LoggerPackage = "logger-meta-functions"

// Packages is an external FunctionSource made of named packages. A node that
// names its modulePackage is looked up in that package only; otherwise the
// packages are searched in name order.
type Packages struct {
	mu       sync.RWMutex
	packages map[string]*Library
}

// NewPackages creates an empty package set.
func NewPackages() *Packages {
	return &Packages{packages: make(map[string]*Library)}
}

// Add installs lib under name. An existing package with that name is replaced.
func (p *Packages) Add(name string, lib *Library) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.packages[name] = lib
}

// Package returns an installed package.
func (p *Packages) Package(name string) (*Library, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lib, ok := p.packages[name]
	return lib, ok
}

// Names returns the installed package names in sorted order.
func (p *Packages) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	names := make([]string, 0, len(p.packages))
	for name := range p.packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup implements engine.FunctionSource.
func (p *Packages) Lookup(ref engine.Reference) (engine.Function, error) {
	if ref.Package != "" {
		lib, ok := p.Package(ref.Package)
		if !ok {
			return nil, fmt.Errorf("package %q: %w", ref.Package, engine.ErrFunctionNotFound)
		}
		return lib.Lookup(ref)
	}

	for _, name := range p.Names() {
		lib, _ := p.Package(name)
		if fn, err := lib.Lookup(ref); err == nil {
			return fn, nil
		}
	}
	return nil, fmt.Errorf("%q: %w", ref.Name, engine.ErrFunctionNotFound)
}

// Logger returns the logger-meta-functions package: one function per log level,
// each taking a "message" input.
func Logger(logger *telemetry.Logger) *Library {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	logger = logger.NewComponentLogger(LoggerPackage)
	lib := NewLibrary(engine.KindExternal)

	levels := []struct {
		name  string
		write func(*telemetry.Logger, string)
	}{
		{"debugLog", (*telemetry.Logger).Debug},
		{"infoLog", (*telemetry.Logger).Info},
		{"warnLog", (*telemetry.Logger).Warn},
		{"errorLog", (*telemetry.Logger).Error},
	}
	for _, level := range levels {
		lib.MustRegister(Info{
			Name:        level.name,
			Description: "Logs message at the " + level.name[:len(level.name)-3] + " level",
			Inputs:      map[string]engine.PropertyDefinition{"message": required("string")},
		}, func(ctx context.Context, input map[string]any) (any, error) {
			var in messageInput
			if err := decode(level.name, input, &in); err != nil {
				return nil, err
			}
			level.write(withInvocation(ctx, logger), in.Message)
			return map[string]any{}, nil
		})
	}
	return lib
}

// Schemas is the FunctionSource for "@schema@function" references. Each
// schema owns a library of functions.
type Schemas struct {
	mu      sync.RWMutex
	schemas map[string]*Library
}

// NewSchemas creates an empty schema function source.
func NewSchemas() *Schemas {
	return &Schemas{schemas: make(map[string]*Library)}
}

// Schema returns the function library of a schema, creating it if needed.
func (s *Schemas) Schema(name string) *Library {
	s.mu.Lock()
	defer s.mu.Unlock()

	lib, ok := s.schemas[name]
	if !ok {
		lib = NewLibrary(engine.KindSchema)
		s.schemas[name] = lib
	}
	return lib
}

// Lookup implements engine.FunctionSource.
func (s *Schemas) Lookup(ref engine.Reference) (engine.Function, error) {
	s.mu.RLock()
	lib, ok := s.schemas[ref.Schema]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("schema %q: %w", ref.Schema, engine.ErrFunctionNotFound)
	}
	return lib.Lookup(ref)
}

// Catalog groups every source shipped with the module.
type Catalog struct {
	Internal  *Library
	Variables *Library
	Packages  *Packages
	Schemas   *Schemas
}

// NewCatalog returns the built-in functions, the variable functions and the
// logger-meta-functions package.
func NewCatalog(logger *telemetry.Logger) *Catalog {
	packages := NewPackages()
	packages.Add(LoggerPackage, Logger(logger))

	return &Catalog{
		Internal:  Internal(logger),
		Variables: Variables(logger),
		Packages:  packages,
		Schemas:   NewSchemas(),
	}
}

// Registry returns a registry routing every kind to the catalog's sources.
// extra sources are consulted for external references after the packages.
func (c *Catalog) Registry(extra ...engine.FunctionSource) *engine.Registry {
	registry := engine.NewRegistry()
	registry.Register(engine.KindInternal, c.Internal)
	registry.Register(engine.KindVariable, c.Variables)
	registry.Register(engine.KindExternal, c.Packages)
	for _, source := range extra {
		registry.Register(engine.KindExternal, source)
	}
	registry.Register(engine.KindSchema, c.Schemas)
	return registry
}
