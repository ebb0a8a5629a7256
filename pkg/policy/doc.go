// Package policy provides Open Policy Agent (OPA) checks for business
// operations.
//
// Policies run when an operation is loaded into an engine. An Engine
// implements engine.PolicyEvaluator, so it plugs in with engine.WithPolicy:
//
//	policies, err := policy.NewEngine(ctx, logger, policy.WithParams(policy.Params{MaxNodes: 50}))
//	if err != nil {
//	    return err
//	}
//	if err := policies.LoadPolicies(ctx, []string{"policies/"}); err != nil {
//	    return err
//	}
//	e := engine.New(engine.WithPolicy(policies))
//
// # Writing Policies
//
// A policy is a Rego v1 module defining a deny set. The operation is
// available as input.operation in its configuration shape, and settings as
// data.bops.params:
//
//	package custom.policies.no_nested
//
//	import rego.v1
//
//	# Operations must not call other operations.
//	# severity: error
//
//	deny contains violation if {
//	    some node in input.operation.configuration
//	    startswith(node.moduleName, "+")
//	    violation := {
//	        "message": sprintf("node %d calls %s", [node.key, node.moduleName]),
//	        "node": node.key,
//	    }
//	}
//
// # Built-in Policies
//
//  1. max-nodes - Limits operation size to data.bops.params.max_nodes
//  2. pinned-versions - Warns about external functions without a version
//  3. declared-output - Warns about output properties missing from the output shape
//  4. operation-naming - Keeps operation names usable as references
//
// # Severity Levels
//
// error and critical violations deny loading. info and warning violations
// are returned as warnings and logged by the engine.
package policy
