package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// Names of the built-in schemas.
const (
	SchemaOperation  = "operation"
	SchemaNode       = "node"
	SchemaDependency = "dependency"
	SchemaSystem     = "system"
	SchemaSettings   = "settings"
)

// SchemaRegistry manages CUE schemas for validation. Every schema is a CUE
// definition; the registry compiles them together so they can refer to each
// other.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	return newSchemaRegistry(cuecontext.New())
}

func newSchemaRegistry(ctx *cue.Context) *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     ctx,
		schemas: make(map[string]cue.Value),
	}

	builtins := ctx.CompileString(builtinSchemas, cue.Filename("builtin.cue"))
	if err := builtins.Err(); err != nil {
		panic(fmt.Sprintf("built-in schemas do not compile: %v", err))
	}
	for name, def := range map[string]string{
		SchemaOperation:  "#Operation",
		SchemaNode:       "#Node",
		SchemaDependency: "#Dependency",
		SchemaSystem:     "#System",
		SchemaSettings:   "#Settings",
	} {
		sr.schemas[name] = builtins.LookupPath(cue.ParsePath(def))
	}
	return sr
}

// RegisterSchema compiles schema and registers the definition named def
// (for example "#Custom") under name. When def is empty the whole file is
// registered.
func (sr *SchemaRegistry) RegisterSchema(name, schema, def string) error {
	val := sr.ctx.CompileString(schema, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	if def != "" {
		val = val.LookupPath(cue.ParsePath(def))
		if !val.Exists() {
			return fmt.Errorf("schema %s does not define %s", name, def)
		}
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Unify checks val against the named schema and returns the unified value.
// The result may still hold errors; callers check Validate.
func (sr *SchemaRegistry) Unify(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	return schema.Unify(val), nil
}

// ValidateAgainstSchema validates data against a named schema. data is any
// value CUE can encode; documents decoded from JSON or YAML work as is.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data any) error {
	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified, err := sr.Unify(schemaName, dataVal)
	if err != nil {
		return err
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateOperation validates a decoded operation document.
func (sr *SchemaRegistry) ValidateOperation(ctx context.Context, doc map[string]any) error {
	return sr.ValidateAgainstSchema(ctx, SchemaOperation, doc)
}

// ValidateSystem validates a decoded system document.
func (sr *SchemaRegistry) ValidateSystem(ctx context.Context, doc map[string]any) error {
	return sr.ValidateAgainstSchema(ctx, SchemaSystem, doc)
}

// Built-in schema definitions. Numbers are not constrained to int because
// JSON documents decode every number as a float.
const builtinSchemas = `
#Property: {
	type:      string & !=""
	required?: bool
	subtype?:  string
}

#Dependency: {
	origin:      number | =~"^[0-9]+$" | #StaticOrigin
	originPath?: string
	targetPath?: string
}

#StaticOrigin: "constants" | "constant" | "inputs" | "input" | "variables" | "variable" | "env" | "envs" | "environment"

#Node: {
	moduleName?:    string & !=""
	moduleRepo?:    string & !=""
	reference?:     string & !=""
	moduleType?:    "internal" | "external" | "schemaFunction" | "schema" | "bop" | "bops" | "operation" | "output" | "variable"
	modulePackage?: string
	key:            number
	version?:       string
	dependencies?: [...#Dependency]
}

#ValueType: "string" | "number" | "boolean" | "date" | "array" | "object" | "any"

#Constant: {
	name:  string & !=""
	type:  #ValueType
	value: _
}

#Variable: {
	name:         string & !=""
	type:         "string" | "number" | "boolean" | "date"
	initialValue: _
}

#Operation: {
	name:        string & =~"^[a-zA-Z0-9_.-]+$"
	identifier?: string
	input?: {[string]: #Property}
	output?: {[string]: #Property}
	constants?: [...#Constant]
	variables?: [...#Variable]
	configuration: [#Node, ...#Node]
	customObjects?: [...]
}

#System: {
	name:     string & !=""
	version?: string
	envs?: [...{
		key:   string & !=""
		value: string
	}]
	schemas?: [...]
	protocols?: [...]
	businessOperations: [...#Operation]
}

#Settings: {
	engine?: {
		default_ttl?:             string | number
		inherit_env?:             bool
		operations_path?:         string
		external_functions_path?: string
		starlark_timeout?:        string | number
		max_parallel?:            number & >=1
	}
	telemetry?: {...}
	journal?: {
		enabled?: bool
		path?:    string
	}
	variables?: {
		backend?: "memory" | "redis"
		redis?: {
			address?:    string
			password?:   string
			db?:         number & >=0
			key_prefix?: string
		}
	}
	policy?: {
		enabled?:  bool
		builtins?: bool
		paths?: [...string]
		max_nodes?: number & >=1
	}
}
`
