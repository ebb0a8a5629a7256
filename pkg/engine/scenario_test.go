package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/functions"
	"github.com/metasys/bops/pkg/telemetry"
)

func loadOperation(t *testing.T, file string) engine.Operation {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", file))
	require.NoError(t, err)

	var op engine.Operation
	require.NoError(t, json.Unmarshal(data, &op))
	return op
}

func newEngine(t *testing.T, logger *telemetry.Logger, opts ...engine.Option) *engine.Engine {
	t.Helper()
	registry := functions.NewCatalog(logger).Registry()
	return engine.New(append([]engine.Option{engine.WithRegistry(registry), engine.WithLogger(logger)}, opts...)...)
}

func TestPackageOperation(t *testing.T) {
	tests := []struct {
		name     string
		age      float64
		want     map[string]any
		wantWarn bool
	}{
		{name: "adult", age: 50, want: map[string]any{"over18": true}},
		{name: "minor", age: 12, want: map[string]any{"over18": false}, wantWarn: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "info", Format: "json"}, &buf)

			// variables outlive invocations, so each case gets its own engine
			e := newEngine(t, logger)
			require.NoError(t, e.Load(context.Background(), loadOperation(t, "package-bop.json")))

			exec, err := e.Stitch(context.Background(), "package-bop")
			require.NoError(t, err)

			out, err := exec(context.Background(), map[string]any{"age": tt.age})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)

			if tt.wantWarn {
				assert.Contains(t, buf.String(), "Is not older than 18.")
			} else {
				assert.NotContains(t, buf.String(), "Is not older than 18.")
			}
		})
	}
}

func TestPackageOperation_VariablesPersist(t *testing.T) {
	e := newEngine(t, telemetry.NewNopLogger())
	require.NoError(t, e.Load(context.Background(), loadOperation(t, "package-bop.json")))

	exec, err := e.Stitch(context.Background(), "package-bop")
	require.NoError(t, err)

	out, err := exec(context.Background(), map[string]any{"age": 12})
	require.NoError(t, err)
	assert.Equal(t, false, out["over18"])

	out, err = exec(context.Background(), map[string]any{"age": 50})
	require.NoError(t, err)
	assert.Equal(t, true, out["over18"])

	// isAdult was set by the previous call and is never reset
	out, err = exec(context.Background(), map[string]any{"age": 12})
	require.NoError(t, err)
	assert.Equal(t, true, out["over18"])
}

func TestEnvOperation(t *testing.T) {
	e := newEngine(t, telemetry.NewNopLogger(), engine.WithEnv(map[string]string{"testEnv": "env value"}))
	require.NoError(t, e.Load(context.Background(), loadOperation(t, "env-bop.json")))

	exec, err := e.Stitch(context.Background(), "env-bop")
	require.NoError(t, err)

	out, err := exec(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"output": "env value"}, out)
}

func TestPackageOperation_MissingPackage(t *testing.T) {
	op := loadOperation(t, "package-bop.json")
	node, ok := op.NodeByKey(6)
	require.True(t, ok)
	node.Package = "not-installed"

	err := newEngine(t, telemetry.NewNopLogger()).Load(context.Background(), op)
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrDependencyNotMet)
	assert.Contains(t, err.Error(), `unmet external dependency "warnLog"`)
}
