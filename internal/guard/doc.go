// Package guard is the cross-process concurrency coordinator: named write
// locks plus idempotency-key replay, both persisted in the shared SQLite
// file.
//
// Invocations of this program are separate short-lived processes (a CLI
// command, a scheduled sync, an automation hook), so in-memory mutexes
// cannot coordinate them. The write_locks and idempotency_keys tables are
// the only synchronization primitive available across processes, and they
// inherit the same durability and crash-safety as domain data: a crash
// mid-operation leaves at most a stale, eventually-swept lock.
//
// Lock acquisition is a single atomic UPSERT that claims the row iff no
// live lock exists; a live lock held by another invocation surfaces as
// LOCK_CONTENDED. Expired locks are treated as free and superseded in
// place.
package guard
