package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

// EnvPrefix prefixes environment variables that override settings. Nested
// keys are separated by a double underscore, for example
// BOPS_ENGINE__DEFAULT_TTL=5s or BOPS_TELEMETRY__LOGGING__LEVEL=debug.
const EnvPrefix = "BOPS_"

// Settings are the runtime settings of a bops process.
type Settings struct {
	Engine    EngineSettings   `mapstructure:"engine" yaml:"engine" toml:"engine"`
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry" toml:"telemetry"`
	Journal   JournalSettings  `mapstructure:"journal" yaml:"journal" toml:"journal"`
	Variables VariableSettings `mapstructure:"variables" yaml:"variables" toml:"variables"`
	Policy    PolicySettings   `mapstructure:"policy" yaml:"policy" toml:"policy"`
}

// EngineSettings configure loading and stitching.
type EngineSettings struct {
	// DefaultTTL is the deadline of an invocation stitched without a timeout.
	DefaultTTL time.Duration `mapstructure:"default_ttl" yaml:"default_ttl" toml:"default_ttl" validate:"gt=0"`

	// InheritEnv lays the process environment over the system's envs.
	InheritEnv bool `mapstructure:"inherit_env" yaml:"inherit_env" toml:"inherit_env"`

	// OperationsPath is the file or directory holding the system configuration.
	OperationsPath string `mapstructure:"operations_path" yaml:"operations_path" toml:"operations_path"`

	// ExternalFunctionsPath is a directory of Starlark external functions.
	ExternalFunctionsPath string `mapstructure:"external_functions_path" yaml:"external_functions_path" toml:"external_functions_path"`

	// StarlarkTimeout bounds a single Starlark function call.
	StarlarkTimeout time.Duration `mapstructure:"starlark_timeout" yaml:"starlark_timeout" toml:"starlark_timeout" validate:"gt=0"`

	// MaxParallel bounds concurrent invocations of a batch run.
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel" toml:"max_parallel" validate:"gte=1"`
}

// JournalSettings configure the SQLite invocation journal.
type JournalSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" toml:"path" validate:"required_if=Enabled true"`
}

// VariableSettings select where variable bindings live.
type VariableSettings struct {
	// Backend is "memory" or "redis".
	Backend string        `mapstructure:"backend" yaml:"backend" toml:"backend" validate:"oneof=memory redis"`
	Redis   RedisSettings `mapstructure:"redis" yaml:"redis" toml:"redis"`
}

// RedisSettings configure the shared variable store.
type RedisSettings struct {
	Address   string `mapstructure:"address" yaml:"address" toml:"address"`
	Password  string `mapstructure:"password" yaml:"password" toml:"password"`
	DB        int    `mapstructure:"db" yaml:"db" toml:"db" validate:"gte=0"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix" toml:"key_prefix"`
}

// PolicySettings configure load-time policy enforcement.
type PolicySettings struct {
	Enabled  bool     `mapstructure:"enabled" yaml:"enabled" toml:"enabled"`
	Builtins bool     `mapstructure:"builtins" yaml:"builtins" toml:"builtins"`
	Paths    []string `mapstructure:"paths" yaml:"paths" toml:"paths"`
	MaxNodes int      `mapstructure:"max_nodes" yaml:"max_nodes" toml:"max_nodes" validate:"gte=0"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() *Settings {
	tel := telemetry.DefaultConfig()
	tel.Logging.Format = "json"

	return &Settings{
		Engine: EngineSettings{
			DefaultTTL:      engine.DefaultTTL,
			StarlarkTimeout: 5 * time.Second,
			MaxParallel:     4,
		},
		Telemetry: *tel,
		Journal:   JournalSettings{Path: "bops.db"},
		Variables: VariableSettings{
			Backend: "memory",
			Redis:   RedisSettings{Address: "localhost:6379", KeyPrefix: "bops"},
		},
		Policy: PolicySettings{Builtins: true, MaxNodes: 200},
	}
}

// Validate checks the settings and the embedded telemetry configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Variables.Backend == "redis" && s.Variables.Redis.Address == "" {
		return fmt.Errorf("invalid settings: variables.redis.address is required for the redis backend")
	}
	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}

// LoadSettings reads settings from path (YAML or TOML, by extension) over the
// defaults and applies BOPS_* environment overrides. An empty path loads the
// defaults and the environment only.
func LoadSettings(path string) (*Settings, error) {
	return loadSettings(path, os.Environ())
}

func loadSettings(path string, environ []string) (*Settings, error) {
	raw := make(map[string]any)

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read settings: %w", err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(string(content), &raw); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(content, &raw); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("unsupported settings file %s", path)
		}
		if raw == nil {
			raw = make(map[string]any)
		}
	}

	applyEnvOverrides(raw, environ)

	settings := DefaultSettings()
	if err := decodeSettings(raw, settings); err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return settings, nil
}

// decodeSettings decodes a loosely typed map over settings. Keys that are
// absent keep their current value.
func decodeSettings(raw map[string]any, settings *Settings) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           settings,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	return nil
}

// applyEnvOverrides writes BOPS_* variables into raw at the path their name spells.
func applyEnvOverrides(raw map[string]any, environ []string) {
	for _, kv := range environ {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		path := strings.Split(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__")

		node := raw
		for _, segment := range path[:len(path)-1] {
			child, ok := node[segment].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[segment] = child
			}
			node = child
		}
		node[path[len(path)-1]] = value
	}
}
