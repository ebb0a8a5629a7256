package config

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

// Format is the encoding of a configuration source.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatOf returns the format of a file from its extension.
func FormatOf(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	case ".cue":
		return FormatCUE, true
	}
	return "", false
}

// Loader parses system and operation files. A source is either a system file
// (with "businessOperations") or a single operation (with "configuration").
type Loader struct {
	ctx       *cue.Context
	schemas   *SchemaRegistry
	validator *validator.Validate
	logger    *telemetry.Logger
}

// NewLoader creates a configuration loader.
func NewLoader(logger *telemetry.Logger) *Loader {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	ctx := cuecontext.New()
	return &Loader{
		ctx:       ctx,
		schemas:   newSchemaRegistry(ctx),
		validator: validator.New(),
		logger:    logger.NewComponentLogger("config"),
	}
}

// Schemas returns the schema registry used for validation.
func (l *Loader) Schemas() *SchemaRegistry {
	return l.schemas
}

// Load parses sources and fails if any error-level problem was found.
func (l *Loader) Load(ctx context.Context, sources ...string) (*SystemConfig, error) {
	parsed, err := l.Parse(ctx, sources...)
	if err != nil {
		return nil, err
	}
	if parsed.HasErrors() {
		return nil, &ParseError{Errors: parsed.Errors}
	}
	return &parsed.System, nil
}

// Parse parses configuration from the given files and directories.
// Directories are searched recursively for .json, .yaml, .yml and .cue files.
// Problems with the configuration itself are reported in ParsedConfig.Errors;
// the returned error is reserved for unreadable sources.
func (l *Loader) Parse(ctx context.Context, sources ...string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	files, err := l.expand(sources)
	if err != nil {
		return nil, err
	}

	parsed := &ParsedConfig{ParsedAt: time.Now()}
	for _, file := range files {
		format, _ := FormatOf(file)
		content, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file, err)
		}

		l.logger.WithField("file", file).Debug("Parsing configuration file")
		l.parseDocument(ctx, parsed, content, format, file)
		parsed.SourceFiles = append(parsed.SourceFiles, file)
	}

	l.checkDuplicates(parsed)
	return parsed, nil
}

// ParseInline parses configuration content that did not come from a file.
func (l *Loader) ParseInline(ctx context.Context, content string, format Format) (*ParsedConfig, error) {
	switch format {
	case FormatJSON, FormatYAML, FormatCUE:
	default:
		return nil, fmt.Errorf("unknown format %q", format)
	}

	parsed := &ParsedConfig{ParsedAt: time.Now(), SourceFiles: []string{"inline"}}
	l.parseDocument(ctx, parsed, []byte(content), format, "inline")
	l.checkDuplicates(parsed)
	return parsed, nil
}

// expand resolves directories into the configuration files they contain.
func (l *Loader) expand(sources []string) ([]string, error) {
	var files []string
	for _, source := range sources {
		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if !info.IsDir() {
			if _, ok := FormatOf(source); !ok {
				return nil, fmt.Errorf("unsupported configuration file %s", source)
			}
			files = append(files, source)
			continue
		}

		var found []string
		err = filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if _, ok := FormatOf(path); ok {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to walk directory %s: %w", source, err)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// parseDocument decodes one document and appends what it holds to parsed.
func (l *Loader) parseDocument(ctx context.Context, parsed *ParsedConfig, content []byte, format Format, file string) {
	var (
		doc  map[string]any
		errs []ValidationError
	)

	switch format {
	case FormatCUE:
		doc, errs = l.decodeCUE(content, file)
	default:
		doc, errs = l.decodeData(ctx, content, format, file)
	}
	if len(errs) > 0 {
		parsed.Errors = append(parsed.Errors, errs...)
		return
	}

	// Round-trip through JSON so engine types decode with their own rules.
	raw, err := json.Marshal(doc)
	if err != nil {
		parsed.Errors = append(parsed.Errors, fileError(file, "", err))
		return
	}

	if isOperation(doc) {
		var op engine.Operation
		if err := json.Unmarshal(raw, &op); err != nil {
			parsed.Errors = append(parsed.Errors, fileError(file, "", err))
			return
		}
		if err := l.validator.Struct(op); err != nil {
			parsed.Errors = append(parsed.Errors, structErrors(file, err)...)
			return
		}
		parsed.System.Operations = append(parsed.System.Operations, op)
		return
	}

	var system SystemConfig
	if err := json.Unmarshal(raw, &system); err != nil {
		parsed.Errors = append(parsed.Errors, fileError(file, "", err))
		return
	}
	if err := l.validator.Struct(system); err != nil {
		parsed.Errors = append(parsed.Errors, structErrors(file, err)...)
		return
	}
	l.mergeSystem(parsed, system, file)
}

func isOperation(doc map[string]any) bool {
	_, ok := doc["configuration"]
	return ok
}

// decodeData decodes a JSON or YAML document and checks it against its schema.
func (l *Loader) decodeData(ctx context.Context, content []byte, format Format, file string) (map[string]any, []ValidationError) {
	var doc map[string]any

	var err error
	if format == FormatYAML {
		err = yaml.Unmarshal(content, &doc)
	} else {
		err = json.Unmarshal(content, &doc)
	}
	if err != nil {
		return nil, []ValidationError{fileError(file, "", err)}
	}
	if doc == nil {
		return nil, []ValidationError{{File: file, Message: "document is empty", Severity: SeverityError}}
	}

	schema := SchemaSystem
	if isOperation(doc) {
		schema = SchemaOperation
	}
	if err := l.schemas.ValidateAgainstSchema(ctx, schema, doc); err != nil {
		errs := convertCUEErrors(err)
		for i := range errs {
			// positions point into the schema, not the document
			errs[i].File, errs[i].Line, errs[i].Column = file, 0, 0
		}
		return nil, errs
	}
	return doc, nil
}

// decodeCUE compiles a CUE document, unifies it with the matching built-in
// schema and exports the result.
func (l *Loader) decodeCUE(content []byte, file string) (map[string]any, []ValidationError) {
	val := l.ctx.CompileBytes(content, cue.Filename(file))
	if err := val.Err(); err != nil {
		return nil, convertCUEErrors(err)
	}

	schema := SchemaSystem
	if val.LookupPath(cue.ParsePath("configuration")).Exists() {
		schema = SchemaOperation
	}
	unified, err := l.schemas.Unify(schema, val)
	if err != nil {
		return nil, []ValidationError{fileError(file, "", err)}
	}
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, convertCUEErrors(err)
	}

	var doc map[string]any
	if err := unified.Decode(&doc); err != nil {
		return nil, []ValidationError{fileError(file, "", err)}
	}
	return doc, nil
}

// mergeSystem folds a system document into parsed. The first named system
// wins; environment entries accumulate with later files overriding keys.
func (l *Loader) mergeSystem(parsed *ParsedConfig, system SystemConfig, file string) {
	dst := &parsed.System
	if dst.Name == "" {
		dst.Name, dst.Version = system.Name, system.Version
	} else if system.Name != dst.Name {
		parsed.Errors = append(parsed.Errors, ValidationError{
			File:     file,
			Path:     "name",
			Message:  fmt.Sprintf("system %q conflicts with system %q", system.Name, dst.Name),
			Severity: SeverityWarning,
		})
	}

	for _, env := range system.Envs {
		replaced := false
		for i := range dst.Envs {
			if dst.Envs[i].Key == env.Key {
				dst.Envs[i].Value = env.Value
				replaced = true
			}
		}
		if !replaced {
			dst.Envs = append(dst.Envs, env)
		}
	}

	dst.Operations = append(dst.Operations, system.Operations...)
	dst.Schemas = append(dst.Schemas, system.Schemas...)
	dst.Protocols = append(dst.Protocols, system.Protocols...)
}

func (l *Loader) checkDuplicates(parsed *ParsedConfig) {
	seen := make(map[string]bool, len(parsed.System.Operations))
	for _, op := range parsed.System.Operations {
		if seen[op.Name] {
			parsed.Errors = append(parsed.Errors, ValidationError{
				Path:     "businessOperations",
				Message:  fmt.Sprintf("operation %q is defined more than once", op.Name),
				Severity: SeverityError,
			})
		}
		seen[op.Name] = true
	}
}

func fileError(file, path string, err error) ValidationError {
	return ValidationError{File: file, Path: path, Message: err.Error(), Severity: SeverityError}
}

// structErrors converts validator errors to ValidationError values.
func structErrors(file string, err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{fileError(file, "", err)}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			File:     file,
			Path:     fe.Namespace(),
			Message:  fmt.Sprintf("failed on the %q rule", fe.Tag()),
			Severity: SeverityError,
		})
	}
	return out
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	if err == nil {
		return nil
	}
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		var file string
		var line, column int
		if pos := errors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		validationErrors = append(validationErrors, ValidationError{
			File:     file,
			Line:     line,
			Column:   column,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: SeverityError,
		})
	}
	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{Message: err.Error(), Severity: SeverityError})
	}
	return validationErrors
}
