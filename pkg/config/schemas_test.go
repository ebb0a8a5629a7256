package config

import (
	"context"
	"testing"
)

func TestSchemaRegistry_BuiltInSchemas(t *testing.T) {
	sr := NewSchemaRegistry()

	for _, name := range []string{SchemaOperation, SchemaNode, SchemaDependency, SchemaSystem, SchemaSettings} {
		t.Run(name, func(t *testing.T) {
			schema, ok := sr.GetSchema(name)
			if !ok {
				t.Fatalf("built-in schema %s not found", name)
			}
			if !schema.Exists() {
				t.Fatalf("built-in schema %s does not exist", name)
			}
			if schema.Err() != nil {
				t.Errorf("built-in schema %s has errors: %v", name, schema.Err())
			}
		})
	}
}

func TestSchemaRegistry_RegisterAndGet(t *testing.T) {
	sr := NewSchemaRegistry()

	customSchema := `
#Customer: {
	name: string
	age:  number & >=0
}
`
	if err := sr.RegisterSchema("customer", customSchema, "#Customer"); err != nil {
		t.Fatalf("failed to register schema: %v", err)
	}
	if _, ok := sr.GetSchema("customer"); !ok {
		t.Fatal("expected to find customer schema")
	}

	ctx := context.Background()
	if err := sr.ValidateAgainstSchema(ctx, "customer", map[string]any{"name": "ann", "age": 31}); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}
	if err := sr.ValidateAgainstSchema(ctx, "customer", map[string]any{"name": "ann", "age": -1}); err == nil {
		t.Error("expected validation error for negative age")
	}

	if err := sr.RegisterSchema("broken", "#Broken: {", ""); err == nil {
		t.Error("expected compile error")
	}
	if err := sr.RegisterSchema("missing", "#A: string", "#B"); err == nil {
		t.Error("expected error for missing definition")
	}
}

func TestSchemaRegistry_ListSchemas(t *testing.T) {
	sr := NewSchemaRegistry()
	names := sr.ListSchemas()

	want := []string{SchemaDependency, SchemaNode, SchemaOperation, SchemaSettings, SchemaSystem}
	if len(names) != len(want) {
		t.Fatalf("expected %d schemas, got %v", len(want), names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("schema %d: expected %s, got %s", i, want[i], names[i])
		}
	}
}

func TestSchemaRegistry_ValidateOperation(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	node := func(fields map[string]any) map[string]any {
		n := map[string]any{"moduleName": "sum", "key": float64(1)}
		for k, v := range fields {
			n[k] = v
		}
		return n
	}

	tests := []struct {
		name    string
		doc     map[string]any
		wantErr bool
	}{
		{
			name: "minimal operation",
			doc: map[string]any{
				"name":          "add",
				"configuration": []any{node(nil)},
			},
		},
		{
			name: "node and static origins",
			doc: map[string]any{
				"name": "add",
				"input": map[string]any{
					"a": map[string]any{"type": "number", "required": true},
				},
				"configuration": []any{
					node(map[string]any{"dependencies": []any{
						map[string]any{"origin": "inputs", "originPath": "a", "targetPath": "a"},
						map[string]any{"origin": float64(2), "originPath": "result.x"},
						map[string]any{"origin": "3"},
					}}),
				},
			},
		},
		{
			name: "legacy node fields",
			doc: map[string]any{
				"name": "legacy",
				"configuration": []any{
					map[string]any{"moduleRepo": "warnLog", "moduleType": "external", "modulePackage": "logger-meta-functions", "key": float64(6)},
				},
			},
		},
		{
			name:    "empty configuration",
			doc:     map[string]any{"name": "add", "configuration": []any{}},
			wantErr: true,
		},
		{
			name:    "bad name",
			doc:     map[string]any{"name": "has spaces", "configuration": []any{node(nil)}},
			wantErr: true,
		},
		{
			name: "unknown origin",
			doc: map[string]any{
				"name": "add",
				"configuration": []any{
					node(map[string]any{"dependencies": []any{map[string]any{"origin": "nowhere"}}}),
				},
			},
			wantErr: true,
		},
		{
			name: "unknown module type",
			doc: map[string]any{
				"name":          "add",
				"configuration": []any{node(map[string]any{"moduleType": "plugin"})},
			},
			wantErr: true,
		},
		{
			name: "missing key",
			doc: map[string]any{
				"name":          "add",
				"configuration": []any{map[string]any{"moduleName": "sum"}},
			},
			wantErr: true,
		},
		{
			name: "unknown field",
			doc: map[string]any{
				"name":          "add",
				"configuration": []any{node(nil)},
				"steps":         []any{},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := sr.ValidateOperation(ctx, tt.doc)
			if tt.wantErr {
				if err == nil {
					t.Error("expected validation error, got none")
				}
			} else if err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}

func TestSchemaRegistry_ValidateSystem(t *testing.T) {
	sr := NewSchemaRegistry()
	ctx := context.Background()

	valid := map[string]any{
		"name": "shop",
		"envs": []any{map[string]any{"key": "REGION", "value": "eu"}},
		"businessOperations": []any{
			map[string]any{
				"name":          "add",
				"configuration": []any{map[string]any{"moduleName": "sum", "key": float64(1)}},
			},
		},
	}
	if err := sr.ValidateSystem(ctx, valid); err != nil {
		t.Errorf("unexpected validation error: %v", err)
	}

	missingName := map[string]any{"businessOperations": []any{}}
	if err := sr.ValidateSystem(ctx, missingName); err == nil {
		t.Error("expected error for a system without a name")
	}

	badEnv := map[string]any{
		"name":               "shop",
		"envs":               []any{map[string]any{"value": "eu"}},
		"businessOperations": []any{},
	}
	if err := sr.ValidateSystem(ctx, badEnv); err == nil {
		t.Error("expected error for an env without a key")
	}
}

func TestSchemaRegistry_UnknownSchema(t *testing.T) {
	sr := NewSchemaRegistry()
	if err := sr.ValidateAgainstSchema(context.Background(), "nope", map[string]any{}); err == nil {
		t.Error("expected error for unknown schema")
	}
}
