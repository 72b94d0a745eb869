// Package sqlite provides a SQLite-backed checkpoint store, suitable for
// single-node deployments that need sessions to survive process restarts
// without running a database server.
package sqlite
