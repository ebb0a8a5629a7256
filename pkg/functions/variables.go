package functions

import (
	"context"
	"errors"
	"fmt"

	"github.com/metasys/bops/pkg/engine"
	"github.com/metasys/bops/pkg/telemetry"
)

// errNotANumber aborts an increment without touching the variable.
var errNotANumber = errors.New("not a number")

type variableInput struct {
	VariableName string `mapstructure:"variableName" validate:"required"`
	Value        any    `mapstructure:"value"`
}

// softError is the payload variable functions return instead of failing the
// invocation.
func softError(format string, args ...any) map[string]any {
	return map[string]any{"errorMessage": fmt.Sprintf(format, args...)}
}

// Variables returns the library of variable functions. They are referenced
// with moduleType "variable" and mutate the bindings of the operation that
// runs them. Failures are reported as {"errorMessage": ...} payloads.
func Variables(logger *telemetry.Logger) *Library {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	logger = logger.NewComponentLogger("variables")
	lib := NewLibrary(engine.KindVariable)

	outputs := map[string]engine.PropertyDefinition{
		"newValue":     optional("any"),
		"errorMessage": optional("string"),
	}

	lib.MustRegister(Info{
		Name:        "setVariable",
		Description: "Replaces the value of the referenced variable",
		Inputs: map[string]engine.PropertyDefinition{
			"variableName": required("string"),
			"value":        required("any"),
		},
		Outputs: outputs,
	}, func(ctx context.Context, input map[string]any) (any, error) {
		var in variableInput
		if err := decode("setVariable", input, &in); err != nil {
			return nil, err
		}
		vars, ok := engine.VariablesFrom(ctx)
		if !ok {
			return softError("No variable named %q was found", in.VariableName), nil
		}

		updated, err := vars.Set(ctx, in.VariableName, in.Value)
		if err != nil {
			withInvocation(ctx, logger).WithError(err).Debug("setVariable failed")
			return softError("%s", message(err)), nil
		}
		return map[string]any{"newValue": updated.Value}, nil
	})

	lib.MustRegister(Info{
		Name:        "increaseVariable",
		Description: "Increases the referenced variable value by the given amount (defaults to 1)",
		Inputs: map[string]engine.PropertyDefinition{
			"variableName": required("string"),
			"value":        optional("number"),
		},
		Outputs: outputs,
	}, step(logger, "increaseVariable", 1))

	lib.MustRegister(Info{
		Name:        "decreaseVariable",
		Description: "Decreases the referenced variable value by the given amount (defaults to 1)",
		Inputs: map[string]engine.PropertyDefinition{
			"variableName": required("string"),
			"value":        optional("number"),
		},
		Outputs: outputs,
	}, step(logger, "decreaseVariable", -1))

	return lib
}

// step adds sign*value to a number variable.
func step(logger *telemetry.Logger, name string, sign float64) engine.Function {
	return func(ctx context.Context, input map[string]any) (any, error) {
		var in variableInput
		if err := decode(name, input, &in); err != nil {
			return nil, err
		}
		if in.Value == nil {
			in.Value = 1
		}

		vars, ok := engine.VariablesFrom(ctx)
		if !ok {
			return softError("No variable named %q was found", in.VariableName), nil
		}
		amount, isNumber := engine.AsNumber(in.Value)

		updated, err := vars.Update(ctx, in.VariableName, func(current engine.Variable) (any, error) {
			if !isNumber || current.Type != engine.TypeNumber {
				return nil, errNotANumber
			}
			value, _ := engine.AsNumber(current.Value)
			return value + sign*amount, nil
		})
		switch {
		case errors.Is(err, errNotANumber):
			return softError("Input value %v is not a number", in.Value), nil
		case err != nil:
			withInvocation(ctx, logger).WithError(err).Debug(name + " failed")
			return softError("%s", message(err)), nil
		}
		return map[string]any{"newValue": updated.Value}, nil
	}
}

// message returns the human readable part of an engine error.
func message(err error) string {
	var engineErr *engine.EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Message
	}
	return err.Error()
}
