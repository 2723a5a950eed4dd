// Package store provides the SQLite-backed conversation telemetry store.
//
// The store holds three tables:
//   - sessions: one row per conversation session
//   - events: one row per conversation event, referencing its session
//   - event_parents: reply-to lineage edges between events
//
// # Referential Integrity
//
//   - events.session_id references sessions.id
//   - event_parents.child_id and parent_id reference events.id with
//     ON DELETE CASCADE: deleting an event removes every edge naming it,
//     never the events on the other end
//   - Rows must be written sessions → events → event_parents and cleared in
//     the reverse order
//
// # Database Configuration
//
// Foreign key enforcement is a per-connection setting in SQLite, so every
// connection opened through this package runs the pragmas below from the
// driver's connect hook:
//
//   - foreign_keys=ON: Enforce referential integrity
//   - journal_mode=WAL: Concurrent reads during the single writer
//   - synchronous=NORMAL: Balance durability/performance
//   - temp_store=MEMORY: Keep temporary tables and indices off disk
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// # Lifecycle
//
//	absent --Initialize--> initialized --Load--> populated --Truncate--> initialized
//	any state --Destroy--> absent
//
// Initialize is idempotent. Load writes all three tables in one transaction;
// a failing row rolls back every table.
package store
