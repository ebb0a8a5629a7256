// Package config loads business operation definitions and bops runtime
// settings.
//
// # Operations
//
// A Loader reads system files (a name, envs and "businessOperations") and
// single-operation files (a document with a "configuration" node list) from
// JSON, YAML or CUE sources. Every document is checked against the built-in
// CUE schemas held by a SchemaRegistry before it is decoded into engine types:
//
//	loader := config.NewLoader(logger)
//	system, err := loader.Load(ctx, "operations/")
//	if err != nil {
//	    var perr *config.ParseError
//	    if errors.As(err, &perr) {
//	        for _, e := range perr.Errors {
//	            fmt.Println(e)
//	        }
//	    }
//	    return err
//	}
//
// Problems with the configuration are collected as ValidationError values
// carrying the file, the position when CUE knows it, and the path of the
// offending value. Parse returns them without failing; Load fails when any of
// them has error severity.
//
// CUE sources may use the schema definitions directly:
//
//	configuration: [{
//	    moduleName: "sum"
//	    key:        1
//	    dependencies: [{origin: "inputs", originPath: "a", targetPath: "a"}]
//	}, ...]
//
// # Settings
//
// Settings configure the process rather than the operations: the default
// invocation deadline, telemetry, the invocation journal, the variable
// backend and load-time policies. LoadSettings reads a YAML or TOML file over
// DefaultSettings and then applies BOPS_* environment variables, where a
// double underscore separates nested keys:
//
//	BOPS_ENGINE__DEFAULT_TTL=2s
//	BOPS_VARIABLES__BACKEND=redis
//	BOPS_TELEMETRY__LOGGING__LEVEL=debug
//
// # Watching
//
// A Watcher re-parses its sources when a configuration file under them
// changes. Bursts of events are coalesced into one reload.
package config
