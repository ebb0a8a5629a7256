package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/metasys/bops/pkg/config"
	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/external"
	"github.com/metasys/bops/pkg/functions"
	"github.com/metasys/bops/pkg/policy"
	"github.com/metasys/bops/pkg/stores"
	"github.com/metasys/bops/pkg/stores/redis"
	"github.com/metasys/bops/pkg/telemetry"
)

// app holds what every command needs: settings, telemetry and the
// resources opened for the engine.
type app struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	logger    *telemetry.Logger

	mu      sync.Mutex
	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	settings, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, err
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(&settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}

	a := &app{
		settings:  settings,
		telemetry: tel,
		logger:    tel.Logger.NewComponentLogger("cli"),
	}
	a.logger.WithField("settings", settingsPath).Debug("Settings loaded")
	return a, nil
}

// release closes the resources opened for engines in reverse order.
func (a *app) release() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
		}
	}
}

func (a *app) onClose(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// close releases resources and flushes telemetry.
func (a *app) close(ctx context.Context) {
	a.release()
	if err := a.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
		a.logger.WithError(err).Warn("Failed to flush telemetry")
	}
}

// sources returns the configuration sources of a command, falling back to
// the configured operations path.
func (a *app) sources(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	if a.settings.Engine.OperationsPath != "" {
		return []string{a.settings.Engine.OperationsPath}, nil
	}
	return nil, fmt.Errorf("no configuration given: pass a path or set engine.operations_path")
}

func (a *app) loader() *config.Loader {
	return config.NewLoader(a.telemetry.Logger)
}

func (a *app) catalog() *functions.Catalog {
	return functions.NewCatalog(a.telemetry.Logger)
}

func (a *app) externalSource() *external.Source {
	if a.settings.Engine.ExternalFunctionsPath == "" {
		return nil
	}
	return external.NewSource(a.settings.Engine.ExternalFunctionsPath, a.settings.Engine.StarlarkTimeout, a.telemetry.Logger)
}

// newEngine builds an engine for system from the settings. Resources it
// opens are released by close.
func (a *app) newEngine(ctx context.Context, system *config.SystemConfig) (*engine.Engine, error) {
	var extra []engine.FunctionSource
	if src := a.externalSource(); src != nil {
		extra = append(extra, src)
	}

	opts := []engine.Option{
		engine.WithRegistry(a.catalog().Registry(extra...)),
		engine.WithEnv(system.Env(a.settings.Engine.InheritEnv)),
		engine.WithDefaultTTL(a.settings.Engine.DefaultTTL),
		engine.WithLogger(a.telemetry.Logger),
		engine.WithMetrics(a.telemetry.Metrics),
		engine.WithTracer(a.telemetry.Tracer),
		engine.WithEvents(a.telemetry.Events),
	}

	if a.settings.Policy.Enabled {
		policies, err := a.policyEngine(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, engine.WithPolicy(policies))
	}

	if a.settings.Journal.Enabled {
		journal, err := stores.Open(ctx, stores.Config{Path: a.settings.Journal.Path})
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.onClose(journal.Close)
		opts = append(opts, engine.WithJournal(journal))
	}

	if a.settings.Variables.Backend == "redis" {
		rs := a.settings.Variables.Redis
		variables := redis.New(rs.Address, rs.Password, rs.DB, redis.WithPrefix(rs.KeyPrefix))
		if err := variables.Ping(ctx); err != nil {
			_ = variables.Close()
			return nil, err
		}
		a.onClose(variables.Close)
		opts = append(opts, engine.WithVariableStore(variables))
	}

	return engine.New(opts...), nil
}

func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	var opts []policy.Option
	opts = append(opts, policy.WithParams(policy.Params{MaxNodes: a.settings.Policy.MaxNodes}))
	if !a.settings.Policy.Builtins {
		opts = append(opts, policy.WithoutBuiltins())
	}

	policies, err := policy.NewEngine(ctx, a.telemetry.Logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if len(a.settings.Policy.Paths) > 0 {
		if err := policies.LoadPolicies(ctx, a.settings.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// openJournal opens the configured journal for the journal commands.
func (a *app) openJournal(ctx context.Context) (*stores.SQLiteStore, error) {
	if a.settings.Journal.Path == "" {
		return nil, fmt.Errorf("journal.path is not set")
	}
	journal, err := stores.Open(ctx, stores.Config{Path: a.settings.Journal.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	a.onClose(journal.Close)
	return journal, nil
}

// loadEngine parses the sources and loads every operation into a new engine.
func (a *app) loadEngine(ctx context.Context, sources []string) (*engine.Engine, *config.SystemConfig, error) {
	system, err := a.loader().Load(ctx, sources...)
	if err != nil {
		return nil, nil, err
	}

	e, err := a.newEngine(ctx, system)
	if err != nil {
		return nil, nil, err
	}
	if err := e.Load(ctx, system.Operations...); err != nil {
		return nil, nil, err
	}
	return e, system, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
