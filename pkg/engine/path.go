package engine

import (
	"strconv"
	"strings"
)

// Extract walks a dot-path through nested maps and slices. An empty path
// returns value itself. Missing segments yield (nil, false).
func Extract(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}

	current := value
	for _, segment := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			index, err := strconv.Atoi(segment)
			if err != nil || index < 0 || index >= len(v) {
				return nil, false
			}
			current = v[index]
		default:
			return nil, false
		}
	}
	return current, true
}

// assign sets value at a dot-path inside target, creating intermediate maps.
// An intermediate value that is not a map is replaced.
func assign(target map[string]any, path string, value any) {
	segments := strings.Split(path, ".")
	current := target
	for _, segment := range segments[:len(segments)-1] {
		next, ok := current[segment].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[segment] = next
		}
		current = next
	}
	current[segments[len(segments)-1]] = value
}

// merge folds partial results into one input object in declaration order.
// Later partials overwrite earlier ones.
func merge(partials []partial) map[string]any {
	merged := make(map[string]any, len(partials))
	for _, p := range partials {
		if !p.bound {
			continue
		}
		if p.target == "" {
			// An unnamed target spreads a map result into the input object.
			if m, ok := p.value.(map[string]any); ok {
				for k, v := range m {
					merged[k] = v
				}
			}
			continue
		}
		assign(merged, p.target, p.value)
	}
	return merged
}
