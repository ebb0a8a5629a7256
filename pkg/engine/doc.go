// Package engine validates operation graphs and stitches them into executables.
//
// # Overview
//
// An Operation is a declarative graph of function Nodes. Each node names the
// function it invokes through a reference string and declares where each of
// its inputs comes from through Dependency edges. One node is the output
// node; invoking the operation means resolving the output node's
// dependencies and returning the merged result.
//
// The engine works in three steps:
//
//  1. Load - validate the graph, resolve constants, check that every
//     referenced function and operation exists (Engine.Load)
//  2. Stitch - compile the operation and every nested operation it
//     references into an Executable wrapped with a deadline (Engine.Stitch)
//  3. Invoke - call the Executable with an input object
//
// # References
//
// A reference's kind is taken from its leading sentinel character, parsed
// once at load time into a Reference:
//
//   - "%output" - the output node
//   - "+name"   - another operation, stitched recursively
//   - "@s@fn"   - a function bound to schema s
//   - "#name"   - an internal function
//   - "name"    - an external function, optionally pinned with a version
//
// A node without a sentinel may also carry an explicit kind tag
// ("internal", "variable", "output", ...).
//
// # Dependencies
//
// A dependency's origin is either a static source (constants, inputs,
// variables, env) or the key of another node. For node origins the
// originPath selects the mode:
//
//   - "result.a.b" - invoke the node now and bind result.a.b
//   - "module.a"   - bind a Deferred that invokes the node when called
//   - ""           - invoke the node for its side effects, bind nothing
//
// Node-origin dependencies of one node are resolved concurrently; the first
// failure is returned without waiting for the others. Partial results are
// merged in declaration order, later ones overwriting earlier ones.
//
// # Variables
//
// Variables are declared per operation and live as long as the VariableStore.
// Functions reach them with VariablesFrom(ctx). Updates to one variable are
// serialized by the store.
//
// # Error Classification
//
// Every error produced by the engine is an *EngineError classified by when it
// happened:
//
//   - Validation: the operation is rejected at load time
//   - Compile: the operation cannot be stitched
//   - Runtime: an invocation failed or timed out
//
// Sentinel errors such as ErrCircularDependency and ErrTimeout match with
// errors.Is. Failures returned by node functions are passed through unchanged.
//
// # Example Usage
//
//	registry := engine.NewRegistry()
//	registry.Register(engine.KindInternal, functions.Internal())
//
//	eng := engine.New(engine.WithRegistry(registry))
//	if err := eng.Load(ctx, operations...); err != nil {
//	    return err
//	}
//
//	exec, err := eng.Stitch(ctx, "package-bop", engine.Timeout(time.Second))
//	if err != nil {
//	    return err
//	}
//	out, err := exec(ctx, map[string]any{"age": 50})
//
// # Thread Safety
//
// Engine, Registry and the variable stores are safe for concurrent use. An
// Executable may be invoked concurrently; every call runs on its own
// Invocation.
package engine
