package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fromNode(key int, originPath, target string) Dependency {
	return Dependency{Origin: NodeOrigin(key), OriginPath: originPath, TargetPath: target}
}

func fromStatic(source Source, originPath, target string) Dependency {
	return Dependency{Origin: StaticOrigin(source), OriginPath: originPath, TargetPath: target}
}

func outputNode(key int, deps ...Dependency) Node {
	return Node{Reference: OutputReference, Key: key, Dependencies: deps}
}

func internalNode(key int, name string, deps ...Dependency) Node {
	return Node{Reference: "#" + name, Key: key, Dependencies: deps}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		nodes     []Node
		wantErr   error
		checkFunc func(*testing.T, *ValidationReport)
	}{
		{
			name: "single output node",
			nodes: []Node{
				outputNode(0, fromStatic(SourceInputs, "age", "age")),
			},
			checkFunc: func(t *testing.T, r *ValidationReport) {
				assert.Equal(t, 0, r.OutputKey)
				assert.Equal(t, [][]int{{0}}, r.Paths)
				assert.Equal(t, 1, r.PathCount)
				assert.Empty(t, r.DeadNodes)
			},
		},
		{
			name: "terminal paths follow every node edge",
			nodes: []Node{
				internalNode(1, "a", fromNode(2, "result", "x")),
				internalNode(2, "b"),
				outputNode(0, fromNode(1, "result", "a"), fromNode(2, "result", "b")),
			},
			checkFunc: func(t *testing.T, r *ValidationReport) {
				assert.Equal(t, [][]int{{0, 1, 2}, {0, 2}}, r.Paths)
				assert.Equal(t, 2, r.PathCount)
				assert.True(t, r.Live[1])
				assert.True(t, r.Live[2])
			},
		},
		{
			name: "dead nodes are reported, not rejected",
			nodes: []Node{
				internalNode(1, "used"),
				internalNode(7, "unused"),
				internalNode(5, "unused"),
				outputNode(0, fromNode(1, "result", "v")),
			},
			checkFunc: func(t *testing.T, r *ValidationReport) {
				assert.Equal(t, []int{5, 7}, r.DeadNodes)
				assert.False(t, r.Live[5])
			},
		},
		{
			name: "duplicate keys",
			nodes: []Node{
				internalNode(1, "first"),
				internalNode(1, "second"),
				outputNode(0),
			},
			wantErr: ErrDuplicateKey,
		},
		{
			name:    "no output node",
			nodes:   []Node{internalNode(1, "lonely")},
			wantErr: ErrMissingOutputNode,
		},
		{
			name: "two output nodes",
			nodes: []Node{
				outputNode(0, fromStatic(SourceInputs, "a", "a")),
				outputNode(1, fromStatic(SourceInputs, "b", "b")),
			},
			wantErr: ErrDuplicateOutputNode,
		},
		{
			name: "cycle reachable from output",
			nodes: []Node{
				internalNode(1, "a", fromNode(2, "result", "b")),
				internalNode(2, "b", fromNode(1, "result", "a")),
				outputNode(0, fromNode(1, "result", "v")),
			},
			wantErr: ErrCircularDependency,
		},
		{
			name: "self dependency",
			nodes: []Node{
				internalNode(1, "a", fromNode(1, "result", "a")),
				outputNode(0, fromNode(1, "result", "v")),
			},
			wantErr: ErrCircularDependency,
		},
		{
			name: "dependency on a missing key",
			nodes: []Node{
				outputNode(0, fromNode(9, "result", "v")),
			},
			wantErr: ErrUnmappedDependency,
		},
		{
			name: "node origin path without a mode",
			nodes: []Node{
				internalNode(1, "a"),
				outputNode(0, fromNode(1, "value", "v")),
			},
			wantErr: ErrInvalidDependency,
		},
		{
			name: "malformed schema reference",
			nodes: []Node{
				{Reference: "@broken", Key: 1},
				outputNode(0),
			},
			wantErr: ErrInvalidReference,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op := &Operation{Name: "test", Nodes: tt.nodes}
			report, err := Validate(op)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			if tt.checkFunc != nil {
				tt.checkFunc(t, report)
			}
		})
	}
}

func TestValidate_Messages(t *testing.T) {
	_, err := Validate(&Operation{Name: "dup", Nodes: []Node{
		internalNode(1, "first"),
		internalNode(1, "second"),
		outputNode(0),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Duplicate keys in operation "dup" - Both modules "#first" and "#second" have the same identifier`)

	_, err = Validate(&Operation{Name: "cyclic", Nodes: []Node{
		internalNode(1, "a", fromNode(2, "result", "b")),
		internalNode(2, "b", fromNode(1, "result", "a")),
		outputNode(0, fromNode(1, "result", "v")),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Circular dependency found in operation "cyclic" configuration [ key 1 ]`)

	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	assert.Equal(t, "0 -> 1 -> 2 -> 1", engErr.Details["path"])

	_, err = Validate(&Operation{Name: "unmapped", Nodes: []Node{outputNode(0, fromNode(3, "result", "v"))}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tried to get key [3] but it does not exist")
}

func TestValidate_SharedSubgraphsAreWalkedOnce(t *testing.T) {
	// every rung depends on the next one twice, doubling the paths per rung
	const rungs = 30
	nodes := []Node{outputNode(0, fromNode(1, "result", "a"), fromNode(1, "result", "b"))}
	for key := 1; key < rungs; key++ {
		nodes = append(nodes, internalNode(key, "step",
			fromNode(key+1, "result", "a"), fromNode(key+1, "result", "b")))
	}
	nodes = append(nodes, internalNode(rungs, "leaf"))

	report, err := Validate(&Operation{Name: "ladder", Nodes: nodes})
	require.NoError(t, err)

	assert.Equal(t, 1<<rungs, report.PathCount)
	assert.Len(t, report.Paths, MaxRecordedPaths)
	assert.Len(t, report.Paths[0], rungs+1)
	assert.Empty(t, report.DeadNodes)
	assert.Len(t, report.Live, rungs+1)
}

func TestValidate_DuplicateOutputMessage(t *testing.T) {
	_, err := Validate(&Operation{Name: "twice", Nodes: []Node{
		outputNode(3),
		internalNode(1, "a"),
		outputNode(5, fromNode(1, "result", "v")),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Operation "twice" has more than one output function: keys 3 and 5`)

	var engErr *EngineError
	require.ErrorAs(t, err, &engErr)
	require.NotNil(t, engErr.Node)
	assert.Equal(t, 5, *engErr.Node)
}

func TestValidate_CycleOutsideLiveGraphIsDead(t *testing.T) {
	report, err := Validate(&Operation{Name: "test", Nodes: []Node{
		internalNode(1, "a", fromNode(2, "result", "b")),
		internalNode(2, "b", fromNode(1, "result", "a")),
		outputNode(0),
	}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, report.DeadNodes)
}

func TestOperation_UnmarshalJSON(t *testing.T) {
	data := []byte(`{
		"name": "legacy",
		"constants": [{"name": "limit", "type": "number", "value": 18}],
		"configuration": [
			{"moduleName": "lowerThan", "moduleType": "internal", "key": 1,
			 "dependencies": [{"origin": "inputs", "originPath": "age", "targetPath": "a"},
			                  {"origin": "constant", "originPath": "limit", "targetPath": "b"}]},
			{"moduleRepo": "output", "moduleType": "output", "key": 3,
			 "dependencies": [{"origin": 1, "originPath": "result.isLower", "targetPath": "minor"}]}
		]
	}`)

	var op Operation
	require.NoError(t, json.Unmarshal(data, &op))

	require.Len(t, op.Nodes, 2)
	assert.Equal(t, "output", op.Nodes[1].Reference)
	assert.Equal(t, SourceConstants, op.Nodes[0].Dependencies[1].Origin.Source())
	assert.True(t, op.Nodes[1].Dependencies[0].Origin.IsNode())
	assert.Equal(t, 1, op.Nodes[1].Dependencies[0].Origin.Key())

	report, err := Validate(&op)
	require.NoError(t, err)
	assert.Equal(t, 3, report.OutputKey)
	assert.Equal(t, KindInternal, report.References[1].Kind)
}

func TestToDOT(t *testing.T) {
	op := &Operation{Name: "graph", Nodes: []Node{
		internalNode(1, "a"),
		internalNode(2, "log"),
		internalNode(4, "orphan"),
		outputNode(0, fromNode(1, "module", "lazy"), fromNode(2, "", "")),
	}}
	report, err := Validate(op)
	require.NoError(t, err)

	dot := ToDOT(op, report)
	assert.Contains(t, dot, `digraph "graph"`)
	assert.Contains(t, dot, `"1" -> "0" [style=dashed, color=blue, label="lazy"]`)
	assert.Contains(t, dot, `"2" -> "0" [style=dotted, color=gray]`)
	assert.Contains(t, dot, `"4" [label="4\n#orphan", fillcolor="lightgray"`)
}
