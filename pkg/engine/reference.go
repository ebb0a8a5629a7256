package engine

import (
	"fmt"
	"strings"
)

// Kind classifies what a node reference resolves to.
type Kind string

const (
	KindInternal  Kind = "internal"
	KindExternal  Kind = "external"
	KindSchema    Kind = "schemaFunction"
	KindOperation Kind = "bop"
	KindOutput    Kind = "output"
	KindVariable  Kind = "variable"
)

// Sentinel characters prefixed to reference strings.
const (
	SentinelOutput    = '%'
	SentinelOperation = '+'
	SentinelSchema    = '@'
	SentinelInternal  = '#'
)

// OutputReference is the canonical reference of an output node.
const OutputReference = "%output"

// ParseKind normalizes an explicit kind tag.
func ParseKind(tag string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(tag)) {
	case "":
		return "", nil
	case "internal":
		return KindInternal, nil
	case "external":
		return KindExternal, nil
	case "schema", "schemafunction":
		return KindSchema, nil
	case "bop", "bops", "operation":
		return KindOperation, nil
	case "output":
		return KindOutput, nil
	case "variable":
		return KindVariable, nil
	}
	return "", fmt.Errorf("unknown module type %q", tag)
}

// Reference is a node reference parsed once at load time.
type Reference struct {
	Kind Kind

	// Name is the function or operation name without any sentinel.
	Name string

	// Schema is set for schema-bound references ("@schema@function").
	Schema string

	// Package and Version qualify external references.
	Package string
	Version string

	raw string
}

// String returns the reference as it was configured.
func (r Reference) String() string {
	if r.raw != "" {
		return r.raw
	}
	switch r.Kind {
	case KindOutput:
		return OutputReference
	case KindOperation:
		return string(SentinelOperation) + r.Name
	case KindSchema:
		return string(SentinelSchema) + r.Schema + string(SentinelSchema) + r.Name
	}
	return r.Name
}

// ParseReference parses the node's reference string. A sentinel prefix
// determines the kind; without one the node's explicit kind tag is used and,
// failing that, the reference defaults to an external function.
func ParseReference(node Node) (Reference, error) {
	raw := strings.TrimSpace(node.Reference)
	if raw == "" {
		return Reference{}, fmt.Errorf("node %d has an empty reference", node.Key)
	}

	explicit, err := ParseKind(string(node.Kind))
	if err != nil {
		return Reference{}, err
	}

	ref := Reference{raw: raw, Package: node.Package, Version: node.Version}

	switch raw[0] {
	case SentinelOutput:
		ref.Kind, ref.Name = KindOutput, raw[1:]
	case SentinelOperation:
		ref.Kind, ref.Name = KindOperation, raw[1:]
	case SentinelInternal:
		ref.Kind, ref.Name = KindInternal, raw[1:]
	case SentinelSchema:
		schema, function, ok := strings.Cut(raw[1:], string(SentinelSchema))
		if !ok || schema == "" || function == "" {
			return Reference{}, fmt.Errorf("schema reference %q must look like @schema@function", raw)
		}
		ref.Kind, ref.Schema, ref.Name = KindSchema, schema, function
	default:
		ref.Kind, ref.Name = explicit, raw
		if ref.Kind == "" {
			ref.Kind = KindExternal
		}
		if ref.Kind == KindSchema {
			return Reference{}, fmt.Errorf("schema reference %q must look like @schema@function", raw)
		}
		return ref, nil
	}

	if ref.Name == "" {
		return Reference{}, fmt.Errorf("reference %q has no name after its sentinel", raw)
	}
	// The internal sentinel also covers variable functions.
	if explicit != "" && explicit != ref.Kind && !(ref.Kind == KindInternal && explicit == KindVariable) {
		return Reference{}, fmt.Errorf("reference %q is a %s but the node declares %s", raw, ref.Kind, explicit)
	}
	if explicit == KindVariable {
		ref.Kind = KindVariable
	}
	return ref, nil
}
