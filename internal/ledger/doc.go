// Package ledger implements the append-only mutation ledger every domain
// write passes through.
//
// Domain code never writes rows directly: InsertWithEvent, UpdateWithEvent,
// and DeleteWithEvent perform the row mutation and append an immutable
// Event record in the same transaction, so a failed write never leaves a
// phantom event and a committed write is never unaudited.
//
// # Critical Patterns
//
// Entity registry: generic insert/update/delete helpers resolve table and
// column names exclusively through a static registry of logical entity
// types. Nothing caller-supplied ever reaches an SQL identifier position.
//
// Ordering: event ids are UUIDv7 (time-sortable) and timestamp_utc is
// monotonically non-decreasing per writer. All event queries order by
// (timestamp_utc, id) so ties across processes resolve deterministically.
//
// Fingerprints: before_hash/after_hash are row fingerprints from
// internal/row, scoped to the entity type, field-order independent.
package ledger
