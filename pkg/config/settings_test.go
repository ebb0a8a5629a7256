package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/metasys/bops/pkg/engine"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if err := s.Validate(); err != nil {
		t.Fatalf("default settings should be valid: %v", err)
	}
	if s.Engine.DefaultTTL != engine.DefaultTTL {
		t.Errorf("expected default ttl %v, got %v", engine.DefaultTTL, s.Engine.DefaultTTL)
	}
	if s.Variables.Backend != "memory" {
		t.Errorf("expected memory backend, got %q", s.Variables.Backend)
	}
	if s.Telemetry.Logging.Format != "json" {
		t.Errorf("expected json logs, got %q", s.Telemetry.Logging.Format)
	}
}

func TestLoadSettings_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bops.yaml", `
engine:
  default_ttl: 2s
  max_parallel: 8
  operations_path: ./operations
telemetry:
  logging:
    level: debug
journal:
  enabled: true
  path: /tmp/journal.db
policy:
  enabled: true
  paths: [./policies]
`)

	s, err := loadSettings(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Engine.DefaultTTL != 2*time.Second {
		t.Errorf("expected 2s ttl, got %v", s.Engine.DefaultTTL)
	}
	if s.Engine.MaxParallel != 8 {
		t.Errorf("expected max_parallel 8, got %d", s.Engine.MaxParallel)
	}
	if s.Engine.OperationsPath != "./operations" {
		t.Errorf("unexpected operations path %q", s.Engine.OperationsPath)
	}
	if s.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %q", s.Telemetry.Logging.Level)
	}
	if s.Telemetry.ServiceName != "bops" {
		t.Errorf("expected defaults to survive, got service name %q", s.Telemetry.ServiceName)
	}
	if !s.Journal.Enabled || s.Journal.Path != "/tmp/journal.db" {
		t.Errorf("unexpected journal settings %+v", s.Journal)
	}
	if !s.Policy.Enabled || len(s.Policy.Paths) != 1 || !s.Policy.Builtins {
		t.Errorf("unexpected policy settings %+v", s.Policy)
	}
}

func TestLoadSettings_TOML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bops.toml", `
[engine]
starlark_timeout = "250ms"
inherit_env = true

[variables]
backend = "redis"

[variables.redis]
address = "redis:6379"
db = 2
`)

	s, err := loadSettings(path, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Engine.StarlarkTimeout != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", s.Engine.StarlarkTimeout)
	}
	if !s.Engine.InheritEnv {
		t.Error("expected inherit_env")
	}
	if s.Variables.Backend != "redis" || s.Variables.Redis.Address != "redis:6379" || s.Variables.Redis.DB != 2 {
		t.Errorf("unexpected variable settings %+v", s.Variables)
	}
	if s.Variables.Redis.KeyPrefix != "bops" {
		t.Errorf("expected default key prefix, got %q", s.Variables.Redis.KeyPrefix)
	}
}

func TestLoadSettings_EnvOverrides(t *testing.T) {
	environ := []string{
		"BOPS_ENGINE__DEFAULT_TTL=750ms",
		"BOPS_ENGINE__MAX_PARALLEL=3",
		"BOPS_TELEMETRY__LOGGING__LEVEL=warn",
		"BOPS_POLICY__PATHS=a.rego,b.rego",
		"BOPS_UNRELATED=1",
		"HOME=/root",
	}

	s, err := loadSettings("", environ)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Engine.DefaultTTL != 750*time.Millisecond {
		t.Errorf("expected 750ms, got %v", s.Engine.DefaultTTL)
	}
	if s.Engine.MaxParallel != 3 {
		t.Errorf("expected 3, got %d", s.Engine.MaxParallel)
	}
	if s.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected warn, got %q", s.Telemetry.Logging.Level)
	}
	if len(s.Policy.Paths) != 2 || s.Policy.Paths[1] != "b.rego" {
		t.Errorf("unexpected policy paths %v", s.Policy.Paths)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		file    string
		content string
		environ []string
	}{
		{
			name:    "unknown backend",
			file:    "a.yaml",
			content: "variables:\n  backend: etcd\n",
		},
		{
			name:    "redis without address",
			file:    "b.yaml",
			content: "variables:\n  backend: redis\n  redis:\n    address: \"\"\n",
		},
		{
			name:    "journal without path",
			file:    "c.yaml",
			content: "journal:\n  enabled: true\n  path: \"\"\n",
		},
		{
			name:    "bad log level",
			file:    "d.toml",
			content: "[telemetry.logging]\nlevel = \"loud\"\n",
		},
		{
			name:    "bad duration from env",
			file:    "e.yaml",
			content: "{}\n",
			environ: []string{"BOPS_ENGINE__DEFAULT_TTL=soon"},
		},
		{
			name:    "unsupported extension",
			file:    "f.ini",
			content: "x=1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.file, tt.content)
			if _, err := loadSettings(path, tt.environ); err == nil {
				t.Error("expected error, got none")
			}
		})
	}

	if _, err := loadSettings(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("expected error for a missing file")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	raw := map[string]any{"engine": map[string]any{"max_parallel": 2}}
	applyEnvOverrides(raw, []string{"BOPS_ENGINE__INHERIT_ENV=true", "BOPS_JOURNAL__PATH=x.db"})

	engineRaw := raw["engine"].(map[string]any)
	if engineRaw["max_parallel"] != 2 || engineRaw["inherit_env"] != "true" {
		t.Errorf("unexpected engine map %v", engineRaw)
	}
	if raw["journal"].(map[string]any)["path"] != "x.db" {
		t.Errorf("unexpected journal map %v", raw["journal"])
	}
}
