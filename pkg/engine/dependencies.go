package engine

import (
	"errors"
	"fmt"
	"strings"
)

// CheckDependencies verifies that everything an operation relies on outside
// its own graph is available: referenced operations are known, functions are
// installed, and constants and inputs read by static edges are declared.
// Missing pieces are returned as one validation error. Unpinned external
// functions are returned as warnings.
func CheckDependencies(op *Operation, report *ValidationReport, known map[string]bool, registry *Registry) ([]string, error) {
	var (
		problems []error
		warnings []string
	)

	constants := make(map[string]bool, len(op.Constants))
	for _, c := range op.Constants {
		constants[c.Name] = true
	}

	for _, node := range op.Nodes {
		ref := report.References[node.Key]

		switch ref.Kind {
		case KindOutput:
			if strings.HasPrefix(ref.String(), string(SentinelOutput)) && ref.String() != OutputReference {
				problems = append(problems, fmt.Errorf("node %d: unmet output dependency %q", node.Key, ref))
			}
		case KindOperation:
			if !known[ref.Name] {
				problems = append(problems, fmt.Errorf("node %d: unmet operation dependency %q", node.Key, ref.Name))
			}
		default:
			if registry != nil && !registry.Installed(ref) {
				problems = append(problems, fmt.Errorf("node %d: unmet %s dependency %q", node.Key, ref.Kind, ref))
			}
			if ref.Kind == KindExternal && ref.Version == "" {
				warnings = append(warnings, fmt.Sprintf("external function %q in node %d has no version", ref.Name, node.Key))
			}
		}

		for _, dep := range node.Dependencies {
			if dep.Origin.IsNode() {
				continue
			}
			root := rootSegment(dep.OriginPath)
			switch dep.Origin.Source() {
			case SourceConstants:
				if root != "" && !constants[root] {
					problems = append(problems, fmt.Errorf("node %d: unmet constant dependency %q", node.Key, dep.OriginPath))
				}
			case SourceInputs:
				if len(op.Input) == 0 || root == "" {
					continue
				}
				if _, ok := op.Input[root]; !ok {
					problems = append(problems, fmt.Errorf("node %d: unmet input dependency %q", node.Key, dep.OriginPath))
				}
			}
		}
	}

	if len(problems) > 0 {
		return warnings, NewValidationError("operation dependencies are not met", errors.Join(problems...)).
			WithCode(ErrCodeDependencyNotMet).WithOperation(op.Name)
	}
	return warnings, nil
}

// rootSegment drops property accesses from a dot-path.
func rootSegment(path string) string {
	root, _, _ := strings.Cut(path, ".")
	return root
}
