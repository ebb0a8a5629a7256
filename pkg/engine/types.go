package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Operation is a named graph of function nodes. Operations are immutable once
// they have been loaded into an Engine.
type Operation struct {
	// Name uniquely identifies the operation and is used by nested references ("+name").
	Name string `json:"name" validate:"required"`

	// Input declares the shape of the caller-supplied input object.
	Input map[string]PropertyDefinition `json:"input,omitempty"`

	// Output declares the shape of the produced output object.
	Output map[string]PropertyDefinition `json:"output,omitempty"`

	// Constants are resolved and type-checked once at load time.
	Constants []Constant `json:"constants,omitempty" validate:"dive"`

	// Variables are mutable bindings that live as long as the process.
	Variables []VariableDeclaration `json:"variables,omitempty" validate:"dive"`

	// Nodes is the configured function graph.
	Nodes []Node `json:"configuration" validate:"required,min=1,dive"`

	// CustomObjects are structural type declarations passed through untouched.
	CustomObjects []json.RawMessage `json:"customObjects,omitempty"`
}

// PropertyDefinition describes one property of an input or output shape.
type PropertyDefinition struct {
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Subtype  string `json:"subtype,omitempty"`
}

// Constant is a named, typed value declared by an operation.
type Constant struct {
	Name  string    `json:"name" validate:"required"`
	Type  ValueType `json:"type" validate:"required"`
	Value any       `json:"value"`
}

// VariableDeclaration declares a variable and its initial value.
type VariableDeclaration struct {
	Name         string    `json:"name" validate:"required"`
	Type         ValueType `json:"type" validate:"required,oneof=string number boolean date"`
	InitialValue any       `json:"initialValue"`
}

// Node is one configured function invocation inside an operation.
type Node struct {
	// Reference names the function, optionally prefixed with a kind sentinel.
	Reference string `json:"moduleName" validate:"required"`

	// Kind is the explicit kind tag. When empty it is derived from Reference.
	Kind Kind `json:"moduleType,omitempty"`

	// Package optionally names the package an external function ships in.
	Package string `json:"modulePackage,omitempty"`

	// Key identifies the node within its operation.
	Key int `json:"key"`

	// Version pins an external function.
	Version string `json:"version,omitempty"`

	Dependencies []Dependency `json:"dependencies,omitempty" validate:"dive"`
}

// UnmarshalJSON accepts the legacy "moduleRepo" field as an alias of "moduleName".
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	aux := struct {
		*plain
		ModuleRepo string `json:"moduleRepo,omitempty"`
	}{plain: (*plain)(n)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if n.Reference == "" {
		n.Reference = aux.ModuleRepo
	}
	return nil
}

// Dependency is one input edge of a node.
type Dependency struct {
	Origin     Origin `json:"origin"`
	OriginPath string `json:"originPath,omitempty"`
	TargetPath string `json:"targetPath,omitempty"`
}

// Source identifies a static origin.
type Source string

const (
	SourceConstants Source = "constants"
	SourceInputs    Source = "inputs"
	SourceVariables Source = "variables"
	SourceEnv       Source = "env"
)

// ParseSource normalizes a static origin tag. Singular forms are accepted.
func ParseSource(tag string) (Source, bool) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "constants", "constant":
		return SourceConstants, true
	case "inputs", "input":
		return SourceInputs, true
	case "variables", "variable":
		return SourceVariables, true
	case "env", "envs", "environment":
		return SourceEnv, true
	}
	return "", false
}

// Origin is either a static source or the key of another node.
type Origin struct {
	source Source
	key    int
	node   bool
}

// NodeOrigin returns an origin pointing at the node with the given key.
func NodeOrigin(key int) Origin {
	return Origin{key: key, node: true}
}

// StaticOrigin returns an origin reading from a static source.
func StaticOrigin(source Source) Origin {
	return Origin{source: source}
}

// IsNode reports whether the origin references another node.
func (o Origin) IsNode() bool { return o.node }

// Key returns the referenced node key. It is only meaningful when IsNode is true.
func (o Origin) Key() int { return o.key }

// Source returns the static source. It is empty for node origins.
func (o Origin) Source() Source { return o.source }

func (o Origin) String() string {
	if o.node {
		return strconv.Itoa(o.key)
	}
	return string(o.source)
}

// MarshalJSON encodes node origins as numbers and static origins as strings.
func (o Origin) MarshalJSON() ([]byte, error) {
	if o.node {
		return json.Marshal(o.key)
	}
	return json.Marshal(string(o.source))
}

// UnmarshalJSON decodes either a number or a string tag.
func (o *Origin) UnmarshalJSON(data []byte) error {
	var number json.Number
	if err := json.Unmarshal(data, &number); err == nil {
		key, err := strconv.Atoi(number.String())
		if err != nil {
			return fmt.Errorf("origin %s is not an integer node key", number)
		}
		*o = NodeOrigin(key)
		return nil
	}

	var tag string
	if err := json.Unmarshal(data, &tag); err != nil {
		return fmt.Errorf("origin must be a string or an integer: %w", err)
	}
	if key, err := strconv.Atoi(tag); err == nil {
		*o = NodeOrigin(key)
		return nil
	}
	source, ok := ParseSource(tag)
	if !ok {
		return fmt.Errorf("unknown origin %q", tag)
	}
	*o = StaticOrigin(source)
	return nil
}

// Mode is how a node-origin dependency is resolved.
type Mode int

const (
	// ModeStatic reads from a static source.
	ModeStatic Mode = iota
	// ModeResult invokes the referenced node and binds a projection of its result.
	ModeResult
	// ModeModule binds a Deferred callable without invoking the node.
	ModeModule
	// ModeFireAndForget invokes the node for its side effects and binds nothing.
	ModeFireAndForget
)

func (m Mode) String() string {
	switch m {
	case ModeStatic:
		return "static"
	case ModeResult:
		return "result"
	case ModeModule:
		return "module"
	case ModeFireAndForget:
		return "fire-and-forget"
	default:
		return "unknown"
	}
}

const (
	resultPrefix = "result"
	modulePrefix = "module"
)

// Resolution splits the dependency into its mode and the dot-path that is
// projected out of the origin.
func (d Dependency) Resolution() (Mode, string, error) {
	if !d.Origin.IsNode() {
		return ModeStatic, d.OriginPath, nil
	}

	switch {
	case d.OriginPath == "":
		return ModeFireAndForget, "", nil
	case hasPathPrefix(d.OriginPath, resultPrefix):
		return ModeResult, trimPathPrefix(d.OriginPath, resultPrefix), nil
	case hasPathPrefix(d.OriginPath, modulePrefix):
		return ModeModule, trimPathPrefix(d.OriginPath, modulePrefix), nil
	}
	return ModeStatic, "", fmt.Errorf("origin path %q must start with %q or %q", d.OriginPath, resultPrefix, modulePrefix)
}

func hasPathPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+".")
}

func trimPathPrefix(path, prefix string) string {
	return strings.TrimPrefix(strings.TrimPrefix(path, prefix), ".")
}

// ValueType is the declared type of a constant or variable.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeNumber  ValueType = "number"
	TypeBoolean ValueType = "boolean"
	TypeDate    ValueType = "date"
	TypeArray   ValueType = "array"
	TypeObject  ValueType = "object"
	TypeAny     ValueType = "any"
)

// Variable is the current state of a variable binding.
type Variable struct {
	Name  string    `json:"name"`
	Type  ValueType `json:"type"`
	Value any       `json:"value"`
}

// NodeByKey returns the node with the given key.
func (op *Operation) NodeByKey(key int) (*Node, bool) {
	for i := range op.Nodes {
		if op.Nodes[i].Key == key {
			return &op.Nodes[i], true
		}
	}
	return nil, false
}
