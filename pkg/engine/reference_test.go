package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		want    Reference
		wantErr bool
	}{
		{
			name: "output sentinel",
			node: Node{Reference: "%output"},
			want: Reference{Kind: KindOutput, Name: "output"},
		},
		{
			name: "nested operation",
			node: Node{Reference: "+package-bop"},
			want: Reference{Kind: KindOperation, Name: "package-bop"},
		},
		{
			name: "schema function",
			node: Node{Reference: "@customer@validate"},
			want: Reference{Kind: KindSchema, Schema: "customer", Name: "validate"},
		},
		{
			name: "internal sentinel",
			node: Node{Reference: "#lowerThan"},
			want: Reference{Kind: KindInternal, Name: "lowerThan"},
		},
		{
			name: "internal sentinel tagged as variable",
			node: Node{Reference: "#setVariable", Kind: "variable"},
			want: Reference{Kind: KindVariable, Name: "setVariable"},
		},
		{
			name: "bare name defaults to external",
			node: Node{Reference: "warnLog", Package: "logger-meta-functions", Version: "1.0.0"},
			want: Reference{Kind: KindExternal, Name: "warnLog", Package: "logger-meta-functions", Version: "1.0.0"},
		},
		{
			name: "bare name with explicit kind",
			node: Node{Reference: "if", Kind: "internal"},
			want: Reference{Kind: KindInternal, Name: "if"},
		},
		{
			name: "bare output with explicit kind",
			node: Node{Reference: "output", Kind: "output"},
			want: Reference{Kind: KindOutput, Name: "output"},
		},
		{
			name:    "sentinel contradicts explicit kind",
			node:    Node{Reference: "+other", Kind: "internal"},
			wantErr: true,
		},
		{
			name:    "unknown kind tag",
			node:    Node{Reference: "fn", Kind: "plugin"},
			wantErr: true,
		},
		{
			name:    "sentinel without a name",
			node:    Node{Reference: "#"},
			wantErr: true,
		},
		{
			name:    "empty reference",
			node:    Node{Reference: "  "},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReference(tt.node)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Name, got.Name)
			assert.Equal(t, tt.want.Schema, got.Schema)
			assert.Equal(t, tt.want.Package, got.Package)
			assert.Equal(t, tt.want.Version, got.Version)
			assert.Equal(t, tt.node.Reference, got.String())
		})
	}
}

func TestDependencyResolution(t *testing.T) {
	tests := []struct {
		dep      Dependency
		wantMode Mode
		wantPath string
		wantErr  bool
	}{
		{dep: fromNode(1, "result", "x"), wantMode: ModeResult},
		{dep: fromNode(1, "result.a.b", "x"), wantMode: ModeResult, wantPath: "a.b"},
		{dep: fromNode(1, "module", "x"), wantMode: ModeModule},
		{dep: fromNode(1, "module.fn", "x"), wantMode: ModeModule, wantPath: "fn"},
		{dep: fromNode(1, "", ""), wantMode: ModeFireAndForget},
		{dep: fromNode(1, "results", "x"), wantErr: true},
		{dep: fromStatic(SourceConstants, "limit", "x"), wantMode: ModeStatic, wantPath: "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.dep.Origin.String()+":"+tt.dep.OriginPath, func(t *testing.T) {
			mode, path, err := tt.dep.Resolution()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, mode)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}
