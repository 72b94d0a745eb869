// Package postgres provides a PostgreSQL-backed checkpoint store for
// multi-process deployments. The (session_id, seq) primary key gives
// the per-session compare-and-swap that stale-resume detection relies on.
package postgres
