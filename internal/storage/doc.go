// Package storage owns the single SQLite database file shared by every
// component of the mutation core.
//
// One Store is constructed explicitly per process and passed to each
// component (no package-level singleton), with an explicit Open/Close
// lifecycle so tests can run isolated instances side by side.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: a second writer queues up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//
// Concurrency across short-lived process invocations relies on this file
// alone: the write_locks and idempotency_keys tables created here are the
// only synchronization primitive available to separate processes.
//
// Timestamps are stored as fixed-width UTC text (TimeLayout) so that
// lexicographic comparison in SQL matches chronological order.
package storage
