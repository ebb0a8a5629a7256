// Package external runs external functions written in Starlark.
//
// Each script defines main(input) and returns the node's result:
//
//	def main(input):
//	    log("doubling " + str(input["n"]))
//	    return {"result": input["n"] * 2}
//
// Scripts are sandboxed: they see only the Starlark built-ins plus struct,
// json and log, and every call is cancelled once its timeout expires.
package external
