// Package stores provides the SQLite invocation journal.
//
// The journal records every finished invocation of a stitched operation
// together with the node calls it made. Opening a store applies the embedded
// migrations. The connection runs in WAL mode with foreign keys enabled, so
// pruning invocations also removes their node calls.
package stores
