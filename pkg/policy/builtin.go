package policy

// BuiltinPolicies returns all built-in policies.
func BuiltinPolicies() []Policy {
	return []Policy{
		maxNodesPolicy(),
		pinnedVersionsPolicy(),
		declaredOutputPolicy(),
		operationNamingPolicy(),
	}
}

// maxNodesPolicy bounds the size of an operation graph.
func maxNodesPolicy() Policy {
	return Policy{
		Name:        "max-nodes",
		Description: "Limits the number of nodes in one operation to data.bops.params.max_nodes",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"limits"},
		Rego: `package bops.policies.max_nodes

import rego.v1

deny contains violation if {
	limit := data.bops.params.max_nodes
	limit > 0
	n := count(input.operation.configuration)
	n > limit
	violation := {
		"message": sprintf("operation %s has %d nodes, the limit is %d", [input.operation.name, n, limit]),
		"severity": "error",
	}
}
`,
	}
}

// pinnedVersionsPolicy flags external functions that float on whatever
// version is installed.
func pinnedVersionsPolicy() Policy {
	return Policy{
		Name:        "pinned-versions",
		Description: "External function nodes should name the version they were written against",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"versioning", "external"},
		Rego: `package bops.policies.pinned_versions

import rego.v1

external(node) if node.moduleType == "external"

external(node) if {
	not node.moduleType
	not regex.match("^[%+@#]", node.moduleName)
}

deny contains violation if {
	some node in input.operation.configuration
	external(node)
	object.get(node, "version", "") == ""
	violation := {
		"message": sprintf("external function %s on node %d is not pinned to a version", [node.moduleName, node.key]),
		"severity": "warning",
		"node": node.key,
	}
}
`,
	}
}

// declaredOutputPolicy checks that the output node only writes declared
// output properties.
func declaredOutputPolicy() Policy {
	return Policy{
		Name:        "declared-output",
		Description: "Output node targets must be declared in the operation's output when it has one",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"contracts"},
		Rego: `package bops.policies.declared_output

import rego.v1

deny contains violation if {
	declared := object.get(input.operation, "output", {})
	count(declared) > 0
	some node in input.operation.configuration
	node.moduleName == "%output"
	some dep in object.get(node, "dependencies", [])
	target := object.get(dep, "targetPath", "")
	target != ""
	root := split(target, ".")[0]
	not declared[root]
	violation := {
		"message": sprintf("output property %s is not declared", [root]),
		"severity": "warning",
		"node": node.key,
	}
}
`,
	}
}

// operationNamingPolicy keeps operation names usable as nested references
// and CLI arguments.
func operationNamingPolicy() Policy {
	return Policy{
		Name:        "operation-naming",
		Description: "Operation names start with a letter and contain only letters, digits, hyphens, underscores and dots",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package bops.policies.operation_naming

import rego.v1

deny contains violation if {
	not regex.match("^[A-Za-z][A-Za-z0-9_.-]*$", input.operation.name)
	violation := {
		"message": sprintf("operation name %q must start with a letter and contain only letters, digits, '-', '_' and '.'", [input.operation.name]),
		"severity": "error",
	}
}

deny contains violation if {
	count(input.operation.name) > 128
	violation := {
		"message": sprintf("operation name %s is longer than 128 characters", [input.operation.name]),
		"severity": "error",
	}
}
`,
	}
}
