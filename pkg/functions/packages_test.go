package functions

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

func TestPackages_Lookup(t *testing.T) {
	packages := NewPackages()
	packages.Add(LoggerPackage, Logger(nil))

	other := NewLibrary(engine.KindExternal)
	other.MustRegister(Info{Name: "warnLog"}, func(context.Context, map[string]any) (any, error) {
		return "other", nil
	})
	packages.Add("aaa-other", other)

	assert.Equal(t, []string{"aaa-other", LoggerPackage}, packages.Names())

	fn, err := packages.Lookup(engine.Reference{Name: "warnLog", Package: LoggerPackage})
	require.NoError(t, err)
	out, err := fn(context.Background(), map[string]any{"message": "m"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)

	// without a package the first package in name order wins
	fn, err = packages.Lookup(engine.Reference{Name: "warnLog"})
	require.NoError(t, err)
	out, err = fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "other", out)

	_, err = packages.Lookup(engine.Reference{Name: "warnLog", Package: "missing"})
	assert.ErrorIs(t, err, engine.ErrFunctionNotFound)

	_, err = packages.Lookup(engine.Reference{Name: "fatalLog"})
	assert.ErrorIs(t, err, engine.ErrFunctionNotFound)
}

func TestLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewLoggerWithWriter(telemetry.LoggingConfig{Level: "debug", Format: "json"}, &buf)
	lib := Logger(logger)

	assert.Equal(t, []string{"debugLog", "errorLog", "infoLog", "warnLog"}, lib.Names())

	_, err := invoke(t, lib, "warnLog", map[string]any{"message": "Is not older than 18."})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"level":"warn"`)
	assert.Contains(t, buf.String(), `"component":"logger-meta-functions"`)
	assert.Contains(t, buf.String(), "Is not older than 18.")

	_, err = invoke(t, lib, "errorLog", map[string]any{"message": 3})
	assert.Error(t, err)
}

func TestSchemas_Lookup(t *testing.T) {
	schemas := NewSchemas()
	schemas.Schema("users").MustRegister(Info{Name: "count"}, func(context.Context, map[string]any) (any, error) {
		return map[string]any{"count": 2}, nil
	})

	fn, err := schemas.Lookup(engine.Reference{Kind: engine.KindSchema, Schema: "users", Name: "count"})
	require.NoError(t, err)
	out, err := fn(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 2}, out)

	_, err = schemas.Lookup(engine.Reference{Kind: engine.KindSchema, Schema: "orders", Name: "count"})
	assert.ErrorIs(t, err, engine.ErrFunctionNotFound)

	_, err = schemas.Lookup(engine.Reference{Kind: engine.KindSchema, Schema: "users", Name: "delete"})
	assert.ErrorIs(t, err, engine.ErrFunctionNotFound)
}

func TestCatalog_Registry(t *testing.T) {
	catalog := NewCatalog(nil)
	registry := catalog.Registry()

	for _, ref := range []engine.Reference{
		{Kind: engine.KindInternal, Name: "lowerThan"},
		{Kind: engine.KindVariable, Name: "setVariable"},
		{Kind: engine.KindExternal, Name: "warnLog", Package: LoggerPackage},
	} {
		assert.True(t, registry.Installed(ref), "%s %s", ref.Kind, ref.Name)
	}

	assert.False(t, registry.Installed(engine.Reference{Kind: engine.KindInternal, Name: "setVariable"}))
	assert.False(t, registry.Installed(engine.Reference{Kind: engine.KindSchema, Schema: "users", Name: "get"}))

	catalog.Schemas.Schema("users").MustRegister(Info{Name: "get"}, func(context.Context, map[string]any) (any, error) {
		return nil, nil
	})
	assert.True(t, registry.Installed(engine.Reference{Kind: engine.KindSchema, Schema: "users", Name: "get"}))
}
