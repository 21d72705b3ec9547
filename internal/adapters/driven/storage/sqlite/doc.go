// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO, enabling easy cross-compilation. It implements multiple store interfaces
// through a single database connection:
//
//   - DocumentStore: documents, chunk chains and parsed tags
//   - EdgeStore: semantic and explicit links with versioned pipeline updates
//   - CommunityStore: community assignments from the latest pipeline run
//   - DiagnosticsStore: graph health snapshots
//   - RunStore: pipeline runs, at most one active
//   - SchedulerStore: maintenance task state and history
//   - SearchEngine and Vocabulary: FTS5 bm25 search and tag schemes
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
//
// # Data Location
//
// By default, the database is stored at ~/.fortemi/data/fortemi.db
//
// # Thread Safety
//
// All operations are thread-safe. The pool holds a single connection, so
// statements and transactions are serialised in process; SQLite locking in
// WAL mode covers other processes.
package sqlite
