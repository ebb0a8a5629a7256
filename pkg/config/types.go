package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/metasys/bops/pkg/engine"
)

// SystemConfig is a system configuration file: the operations of one system
// plus the environment they read from.
type SystemConfig struct {
	// Name is the system name.
	Name string `json:"name" validate:"required"`

	// Version is the configuration version.
	Version string `json:"version,omitempty"`

	// Envs are the values "env" dependencies read.
	Envs []EnvVar `json:"envs,omitempty" validate:"dive"`

	// Operations are the business operations of the system.
	Operations []engine.Operation `json:"businessOperations" validate:"dive"`

	// Schemas and Protocols are carried through for the protocol adapters.
	Schemas   []json.RawMessage `json:"schemas,omitempty"`
	Protocols []json.RawMessage `json:"protocols,omitempty"`
}

// EnvVar is one entry of a system's environment.
type EnvVar struct {
	Key   string `json:"key" validate:"required"`
	Value string `json:"value"`
}

// Env returns the system environment as a map. When inherit is set the
// process environment is laid over the configured values.
func (sc *SystemConfig) Env(inherit bool) map[string]string {
	env := make(map[string]string, len(sc.Envs))
	for _, e := range sc.Envs {
		env[e.Key] = e.Value
	}
	if inherit {
		for _, kv := range os.Environ() {
			if k, v, ok := strings.Cut(kv, "="); ok {
				env[k] = v
			}
		}
	}
	return env
}

// ParsedConfig is the result of parsing one or more configuration sources.
type ParsedConfig struct {
	// System holds everything that was parsed. Operations from every source
	// are appended in source order.
	System SystemConfig `json:"system"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the configuration was parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists any validation errors.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any error-level problem was found.
func (pc *ParsedConfig) HasErrors() bool {
	for _, e := range pc.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Severities of a ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "configuration.2.key").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (ve ValidationError) Error() string {
	var b strings.Builder
	if ve.File != "" {
		b.WriteString(ve.File)
		if ve.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", ve.Line, ve.Column)
		}
		b.WriteString(": ")
	}
	if ve.Path != "" {
		b.WriteString(ve.Path)
		b.WriteString(": ")
	}
	b.WriteString(ve.Message)
	return b.String()
}

// ParseError is returned by Loader.Load when the configuration has errors.
type ParseError struct {
	Errors []ValidationError
}

func (pe *ParseError) Error() string {
	msgs := make([]string, 0, len(pe.Errors))
	for _, e := range pe.Errors {
		msgs = append(msgs, e.Error())
	}
	return "configuration errors:\n  " + strings.Join(msgs, "\n  ")
}
