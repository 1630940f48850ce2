// Package sqlite provides a unified SQLite-based implementation of driven port interfaces.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that requires
// no CGO. It implements the store interfaces through a single database connection:
//
//   - AccountStore, CursorStore, LabelStore: Per-account state
//   - MessageStore: Raw messages and thread summaries
//   - TransformStore: Derived fields, claims and chunks
//   - SyncEventStore: Sync run history
//   - TaskHistoryStore: Scheduler task runs
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory. Each migration is a pair of .up.sql and .down.sql files.
// CHECK constraints hold the tier invariants: a completed message has a tier,
// and body_redacted is set exactly for PERSONAL messages.
//
// # Data Location
//
// By default, the database is stored at ~/.inboxd/data/inboxd.db
//
// # Thread Safety
//
// All operations are thread-safe. The pool holds one connection, so writes
// are serialised and claims are decided by single conditional UPDATEs.
package sqlite
