// Package store defines the checkpoint model and persistence contract for
// stormflow sessions, with backends for several storage systems.
//
// A checkpoint records the full session state plus the next step to run,
// stamped with a per-session sequence number. The sequence number doubles
// as an optimistic lock: Put only accepts the next number in line, so two
// runners racing to advance the same session cannot both win.
//
// Backends:
//   - memory: in-process map, for tests and single-process use
//   - sqlite: file-based storage via mattn/go-sqlite3
//   - postgres: PostgreSQL via jackc/pgx
//   - redis: Redis via go-redis
package store
