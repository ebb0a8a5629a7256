package functions

import (
	"context"
	"reflect"
	"sort"
	"strings"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

func required(t string) engine.PropertyDefinition {
	return engine.PropertyDefinition{Type: t, Required: true}
}

func optional(t string) engine.PropertyDefinition {
	return engine.PropertyDefinition{Type: t}
}

type comparisonInput struct {
	A *float64 `mapstructure:"A" validate:"required"`
	B *float64 `mapstructure:"B" validate:"required"`
}

type gateInput struct {
	A *bool `mapstructure:"A" validate:"required"`
	B *bool `mapstructure:"B" validate:"required"`
}

type branchInput struct {
	Boolean *bool `mapstructure:"boolean" validate:"required"`
	IfTrue  any   `mapstructure:"ifTrue"`
	IfFalse any   `mapstructure:"ifFalse"`
}

type replaceInput struct {
	BaseString string `mapstructure:"baseString"`
	Search     string `mapstructure:"search"`
	Replacer   string `mapstructure:"replacer"`
}

type pushInput struct {
	TargetArray []any          `mapstructure:"targetArray"`
	NewItems    map[string]any `mapstructure:"newItems"`
	Item        any            `mapstructure:"item"`
}

type messageInput struct {
	Message string `mapstructure:"message" validate:"required"`
}

// Internal returns the library of built-in functions referenced with the "#"
// sentinel or with moduleType "internal".
func Internal(logger *telemetry.Logger) *Library {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	logger = logger.NewComponentLogger("functions")
	lib := NewLibrary(engine.KindInternal)

	lib.MustRegister(Info{
		Name:        "lowerThan",
		Description: "Checks whether A is lower than B",
		Inputs:      map[string]engine.PropertyDefinition{"A": required("number"), "B": required("number")},
		Outputs:     map[string]engine.PropertyDefinition{"isLower": required("boolean")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in comparisonInput
		if err := decode("lowerThan", input, &in); err != nil {
			return nil, err
		}
		return map[string]any{"isLower": *in.A < *in.B}, nil
	})

	lib.MustRegister(Info{
		Name:        "greaterThan",
		Description: "Checks whether A is greater than B",
		Inputs:      map[string]engine.PropertyDefinition{"A": required("number"), "B": required("number")},
		Outputs:     map[string]engine.PropertyDefinition{"isGreater": required("boolean")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in comparisonInput
		if err := decode("greaterThan", input, &in); err != nil {
			return nil, err
		}
		return map[string]any{"isGreater": *in.A > *in.B}, nil
	})

	lib.MustRegister(Info{
		Name:        "equalTo",
		Description: "Checks whether A and B hold the same value",
		Inputs:      map[string]engine.PropertyDefinition{"A": optional("any"), "B": optional("any")},
		Outputs:     map[string]engine.PropertyDefinition{"isEqual": required("boolean")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		return map[string]any{"isEqual": equal(input["A"], input["B"])}, nil
	})

	lib.MustRegister(Info{
		Name:        "if",
		Description: "Runs ifTrue or ifFalse depending on boolean and returns what it produced",
		Inputs: map[string]engine.PropertyDefinition{
			"boolean": required("boolean"),
			"ifTrue":  optional("any"),
			"ifFalse": optional("any"),
		},
		Outputs: map[string]engine.PropertyDefinition{"result": optional("any")},
	}, func(ctx context.Context, input map[string]any) (any, error) {
		var in branchInput
		if err := decode("if", input, &in); err != nil {
			return nil, err
		}
		chosen := in.IfFalse
		if *in.Boolean {
			chosen = in.IfTrue
		}
		result, err := call(ctx, chosen)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": result}, nil
	})

	lib.MustRegister(Info{
		Name:        "and",
		Description: "And gate comparing boolean values for A and B",
		Inputs:      map[string]engine.PropertyDefinition{"A": required("boolean"), "B": required("boolean")},
		Outputs:     map[string]engine.PropertyDefinition{"bothTrue": required("boolean")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in gateInput
		if err := decode("and", input, &in); err != nil {
			return nil, err
		}
		return map[string]any{"bothTrue": *in.A && *in.B}, nil
	})

	lib.MustRegister(Info{
		Name:        "or",
		Description: "Or gate comparing boolean values for A and B",
		Inputs:      map[string]engine.PropertyDefinition{"A": required("boolean"), "B": required("boolean")},
		Outputs:     map[string]engine.PropertyDefinition{"eitherTrue": required("boolean")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in gateInput
		if err := decode("or", input, &in); err != nil {
			return nil, err
		}
		return map[string]any{"eitherTrue": *in.A || *in.B}, nil
	})

	lib.MustRegister(Info{
		Name:        "not",
		Description: "Negates a boolean value",
		Inputs:      map[string]engine.PropertyDefinition{"value": required("boolean")},
		Outputs:     map[string]engine.PropertyDefinition{"result": required("boolean")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in struct {
			Value *bool `mapstructure:"value" validate:"required"`
		}
		if err := decode("not", input, &in); err != nil {
			return nil, err
		}
		return map[string]any{"result": !*in.Value}, nil
	})

	lib.MustRegister(Info{
		Name:        "sum",
		Description: "Adds a and b",
		Inputs:      map[string]engine.PropertyDefinition{"a": required("number"), "b": required("number")},
		Outputs:     map[string]engine.PropertyDefinition{"result": required("number")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in struct {
			A *float64 `mapstructure:"a" validate:"required"`
			B *float64 `mapstructure:"b" validate:"required"`
		}
		if err := decode("sum", input, &in); err != nil {
			return nil, err
		}
		return map[string]any{"result": *in.A + *in.B}, nil
	})

	lib.MustRegister(Info{
		Name:        "stringReplace",
		Description: "Replaces every occurrence of search in baseString",
		Inputs: map[string]engine.PropertyDefinition{
			"baseString": required("string"),
			"search":     required("string"),
			"replacer":   required("string"),
		},
		Outputs: map[string]engine.PropertyDefinition{"result": required("string")},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in replaceInput
		if err := decode("stringReplace", input, &in); err != nil {
			return nil, err
		}
		if in.Search == "" {
			return map[string]any{"result": in.BaseString}, nil
		}
		return map[string]any{"result": strings.ReplaceAll(in.BaseString, in.Search, in.Replacer)}, nil
	})

	lib.MustRegister(Info{
		Name:        "arrayPush",
		Description: "Pushes items into the array",
		Inputs: map[string]engine.PropertyDefinition{
			"targetArray": {Type: "array", Subtype: "any", Required: true},
			"newItems":    optional("object"),
			"item":        optional("any"),
		},
		Outputs: map[string]engine.PropertyDefinition{"result": {Type: "array", Subtype: "any", Required: true}},
	}, func(_ context.Context, input map[string]any) (any, error) {
		var in pushInput
		if err := decode("arrayPush", input, &in); err != nil {
			return nil, err
		}

		result := make([]any, 0, len(in.TargetArray)+len(in.NewItems)+1)
		result = append(result, in.TargetArray...)
		if in.Item != nil {
			result = append(result, in.Item)
		}

		// newItems is an object; its values are appended in key order
		keys := make([]string, 0, len(in.NewItems))
		for k := range in.NewItems {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			result = append(result, in.NewItems[k])
		}
		return map[string]any{"result": result}, nil
	})

	lib.MustRegister(Info{
		Name:        "log",
		Description: "Writes message to the log at info level",
		Inputs:      map[string]engine.PropertyDefinition{"message": required("string")},
	}, func(ctx context.Context, input map[string]any) (any, error) {
		var in messageInput
		if err := decode("log", input, &in); err != nil {
			return nil, err
		}
		withInvocation(ctx, logger).Info(in.Message)
		return map[string]any{}, nil
	})

	return lib
}

func equal(a, b any) bool {
	if x, ok := engine.AsNumber(a); ok {
		y, ok := engine.AsNumber(b)
		return ok && x == y
	}
	return reflect.DeepEqual(a, b)
}
