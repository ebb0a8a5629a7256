package external

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	starlarkjson "go.starlark.net/lib/json"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
	"go.starlark.net/syntax"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

const (
	// Extension is the file extension of external function scripts.
	Extension = ".star"

	// EntryPoint is the function every script defines. It receives the
	// node's input as a dict and returns the node's result.
	EntryPoint = "main"

	// DefaultTimeout bounds a single call when no timeout is configured.
	DefaultTimeout = 5 * time.Second
)

// Source serves external functions from a directory of Starlark scripts.
//
// A function is stored as <dir>/<name>@<version>.star, or <dir>/<name>.star
// when it is not versioned. Functions that ship in a package live in a
// subdirectory named after it: <dir>/<package>/<name>@<version>.star.
type Source struct {
	dir     string
	timeout time.Duration
	logger  *telemetry.Logger
}

// Entry describes a script found by Functions.
type Entry struct {
	Package string `json:"package,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
	Path    string `json:"path"`
}

// NewSource creates a source over dir. A zero timeout uses DefaultTimeout.
func NewSource(dir string, timeout time.Duration, logger *telemetry.Logger) *Source {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &Source{
		dir:     dir,
		timeout: timeout,
		logger:  logger.NewComponentLogger("external"),
	}
}

// Lookup implements engine.FunctionSource. The script is read and parsed
// here, so a syntax error fails loading rather than the first call.
func (s *Source) Lookup(ref engine.Reference) (engine.Function, error) {
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}

	src, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, engine.ErrFunctionNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read external function %s: %w", ref, err)
	}

	if _, err := syntax.Parse(path, src, 0); err != nil {
		return nil, fmt.Errorf("external function %s does not parse: %w", ref, err)
	}

	return s.function(ref, path, src), nil
}

func (s *Source) path(ref engine.Reference) (string, error) {
	for _, part := range []string{ref.Name, ref.Package, ref.Version} {
		if strings.ContainsAny(part, `/\`) || part == "." || part == ".." {
			return "", fmt.Errorf("external reference %q: %w", ref, engine.ErrFunctionNotFound)
		}
	}

	file := ref.Name
	if ref.Version != "" {
		file += "@" + ref.Version
	}
	return filepath.Join(s.dir, ref.Package, file+Extension), nil
}

func (s *Source) function(ref engine.Reference, path string, src []byte) engine.Function {
	return func(ctx context.Context, input map[string]any) (any, error) {
		logger := s.logger.WithField("function", ref.String())
		if ec, ok := engine.FromContext(ctx); ok {
			logger = logger.WithOperation(ec.Operation())
			if inv := ec.Invocation(); inv != nil {
				logger = logger.WithInvocationID(inv.ID)
			}
		}

		ctx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		thread := &starlark.Thread{
			Name: ref.String(),
			Print: func(_ *starlark.Thread, msg string) {
				logger.Debug(msg)
			},
		}
		stop := context.AfterFunc(ctx, func() {
			thread.Cancel(ctx.Err().Error())
		})
		defer stop()

		start := time.Now()
		result, err := s.exec(thread, path, src, input, logger)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("external function %s stopped after %v: %w", ref, time.Since(start).Round(time.Millisecond), ctxErr)
			}
			var evalErr *starlark.EvalError
			if errors.As(err, &evalErr) {
				return nil, fmt.Errorf("external function %s failed: %s", ref, evalErr.Backtrace())
			}
			return nil, fmt.Errorf("external function %s failed: %w", ref, err)
		}

		logger.WithField("duration_ms", time.Since(start).Milliseconds()).Debug("External function finished")
		return result, nil
	}
}

func (s *Source) exec(thread *starlark.Thread, path string, src []byte, input map[string]any, logger *telemetry.Logger) (any, error) {
	globals, err := starlark.ExecFile(thread, path, src, predeclared(logger))
	if err != nil {
		return nil, err
	}

	entry, ok := globals[EntryPoint].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("%s does not define %s(input)", filepath.Base(path), EntryPoint)
	}

	arg, err := toStarlark(input)
	if err != nil {
		return nil, fmt.Errorf("failed to convert input: %w", err)
	}

	out, err := starlark.Call(thread, entry, starlark.Tuple{arg}, nil)
	if err != nil {
		return nil, err
	}
	return fromStarlark(out)
}

// predeclared is the environment scripts run in. Scripts have no file or
// network access; log writes to the bops logger.
func predeclared(logger *telemetry.Logger) starlark.StringDict {
	return starlark.StringDict{
		"struct": starlark.NewBuiltin("struct", starlarkstruct.Make),
		"json":   starlarkjson.Module,
		"log": starlark.NewBuiltin("log", func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			msg, level := "", "info"
			if err := starlark.UnpackArgs(b.Name(), args, kwargs, "msg", &msg, "level?", &level); err != nil {
				return nil, err
			}
			switch level {
			case "debug":
				logger.Debug(msg)
			case "info":
				logger.Info(msg)
			case "warn":
				logger.Warn(msg)
			case "error":
				logger.Error(msg)
			default:
				return nil, fmt.Errorf("%s: unknown level %q", b.Name(), level)
			}
			return starlark.None, nil
		}),
	}
}

// Functions lists the scripts under the source directory.
func (s *Source) Functions() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != Extension {
			return nil
		}

		rel, err := filepath.Rel(s.dir, path)
		if err != nil {
			return err
		}
		pkg := filepath.Dir(rel)
		if pkg == "." {
			pkg = ""
		}
		name, version, _ := strings.Cut(strings.TrimSuffix(filepath.Base(rel), Extension), "@")
		entries = append(entries, Entry{Package: pkg, Name: name, Version: version, Path: path})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list external functions: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Package != b.Package {
			return a.Package < b.Package
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version < b.Version
	})
	return entries, nil
}
