package functions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metasys/bops/pkg/engine"
)

// variableOperation builds an operation whose output is the result of one
// variable function call followed by a read of the variable.
func variableOperation(function string, deps ...engine.Dependency) engine.Operation {
	return engine.Operation{
		Name: "counter",
		Input: map[string]engine.PropertyDefinition{
			"name":  {Type: "string"},
			"value": {Type: "any"},
		},
		Variables: []engine.VariableDeclaration{
			{Name: "count", Type: engine.TypeNumber, InitialValue: 10},
			{Name: "label", Type: engine.TypeString, InitialValue: "none"},
		},
		Nodes: []engine.Node{
			{Reference: function, Kind: engine.KindVariable, Key: 1, Dependencies: deps},
			{Reference: engine.OutputReference, Key: 0, Dependencies: []engine.Dependency{
				{Origin: engine.NodeOrigin(1), OriginPath: "result", TargetPath: "call"},
				{Origin: engine.StaticOrigin(engine.SourceVariables), OriginPath: "count", TargetPath: "count"},
				{Origin: engine.StaticOrigin(engine.SourceVariables), OriginPath: "label", TargetPath: "label"},
			}},
		},
	}
}

func fromInput(path, target string) engine.Dependency {
	return engine.Dependency{Origin: engine.StaticOrigin(engine.SourceInputs), OriginPath: path, TargetPath: target}
}

func runVariableOperation(t *testing.T, op engine.Operation, input map[string]any) map[string]any {
	t.Helper()
	e := engine.New(engine.WithRegistry(NewCatalog(nil).Registry()))
	require.NoError(t, e.Load(context.Background(), op))

	exec, err := e.Stitch(context.Background(), op.Name)
	require.NoError(t, err)

	out, err := exec(context.Background(), input)
	require.NoError(t, err)
	return out
}

func TestIncreaseVariable(t *testing.T) {
	op := variableOperation("increaseVariable", fromInput("name", "variableName"), fromInput("value", "value"))

	tests := []struct {
		name      string
		input     map[string]any
		wantCall  map[string]any
		wantCount float64
	}{
		{
			name:      "defaults to one",
			input:     map[string]any{"name": "count"},
			wantCall:  map[string]any{"newValue": float64(11)},
			wantCount: 11,
		},
		{
			name:      "explicit amount",
			input:     map[string]any{"name": "count", "value": 5},
			wantCall:  map[string]any{"newValue": float64(15)},
			wantCount: 15,
		},
		{
			name:      "unknown variable",
			input:     map[string]any{"name": "missing"},
			wantCall:  map[string]any{"errorMessage": `No variable named "missing" was found`},
			wantCount: 10,
		},
		{
			name:      "amount is not a number",
			input:     map[string]any{"name": "count", "value": "five"},
			wantCall:  map[string]any{"errorMessage": "Input value five is not a number"},
			wantCount: 10,
		},
		{
			name:      "variable is not a number",
			input:     map[string]any{"name": "label", "value": 2},
			wantCall:  map[string]any{"errorMessage": "Input value 2 is not a number"},
			wantCount: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := runVariableOperation(t, op, tt.input)
			assert.Equal(t, tt.wantCall, out["call"])
			assert.Equal(t, tt.wantCount, out["count"])
		})
	}
}

func TestDecreaseVariable(t *testing.T) {
	op := variableOperation("decreaseVariable", fromInput("name", "variableName"), fromInput("value", "value"))

	out := runVariableOperation(t, op, map[string]any{"name": "count"})
	assert.Equal(t, map[string]any{"newValue": float64(9)}, out["call"])

	out = runVariableOperation(t, op, map[string]any{"name": "count", "value": 2.5})
	assert.Equal(t, float64(7.5), out["count"])
}

func TestSetVariable(t *testing.T) {
	op := variableOperation("setVariable", fromInput("name", "variableName"), fromInput("value", "value"))

	out := runVariableOperation(t, op, map[string]any{"name": "label", "value": "adult"})
	assert.Equal(t, map[string]any{"newValue": "adult"}, out["call"])
	assert.Equal(t, "adult", out["label"])

	out = runVariableOperation(t, op, map[string]any{"name": "count", "value": "many"})
	assert.Equal(t, map[string]any{"errorMessage": `variable "count" must hold a number`}, out["call"])
	assert.Equal(t, float64(10), out["count"])
}

func TestIncreaseVariable_Concurrent(t *testing.T) {
	op := variableOperation("increaseVariable", fromInput("name", "variableName"))
	e := engine.New(engine.WithRegistry(NewCatalog(nil).Registry()))
	require.NoError(t, e.Load(context.Background(), op))
	exec, err := e.Stitch(context.Background(), op.Name)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec(context.Background(), map[string]any{"name": "count"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	out, err := exec(context.Background(), map[string]any{"name": "count"})
	require.NoError(t, err)
	assert.Equal(t, float64(61), out["count"])
}

func TestVariables_WithoutExecutionContext(t *testing.T) {
	got, err := invoke(t, Variables(nil), "increaseVariable", map[string]any{"variableName": "count"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"errorMessage": `No variable named "count" was found`}, got)

	_, err = invoke(t, Variables(nil), "setVariable", map[string]any{"value": 1})
	assert.Error(t, err)
}
