package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// AsNumber converts any Go numeric value to float64.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// CoerceValue checks v against t and returns its normalized form: numbers
// become float64 and dates become time.Time.
func CoerceValue(t ValueType, v any) (any, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case TypeNumber:
		if n, ok := AsNumber(v); ok {
			return n, nil
		}
	case TypeBoolean:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case TypeDate:
		switch d := v.(type) {
		case time.Time:
			return d, nil
		case string:
			parsed, err := time.Parse(time.RFC3339, d)
			if err == nil {
				return parsed, nil
			}
		}
	case TypeArray:
		if a, ok := v.([]any); ok {
			return a, nil
		}
	case TypeObject:
		if m, ok := v.(map[string]any); ok {
			return m, nil
		}
	case TypeAny:
		return v, nil
	default:
		return nil, fmt.Errorf("unknown type %q", t)
	}
	return nil, fmt.Errorf("%v is not a %s", v, t)
}

// typeName names the dynamic type of a configuration value.
func typeName(v any) string {
	if _, ok := AsNumber(v); ok {
		return "number"
	}
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case time.Time:
		return "date"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// ResolveConstants type-checks an operation's constants and returns them keyed
// by name.
func ResolveConstants(op *Operation) (map[string]any, error) {
	resolved := make(map[string]any, len(op.Constants))
	for _, c := range op.Constants {
		value, err := CoerceValue(c.Type, c.Value)
		if err != nil {
			return nil, constantTypeError(c).WithOperation(op.Name)
		}
		resolved[c.Name] = value
	}
	return resolved, nil
}
