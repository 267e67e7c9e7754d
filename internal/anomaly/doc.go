// Package anomaly scans domain tables and the ledger for data-integrity
// problems and persists them as issue records.
//
// A scan is idempotent per logical problem instance: each issue carries a
// deterministic fingerprint of (type, entity), and re-running detection
// with no change in underlying data creates no new rows. Issues are never
// physically deleted; resolution is a status transition recorded through
// the mutation ledger so it is itself auditable.
package anomaly
