// Package rollback reverts domain state to an earlier point in the
// event ledger without rewriting history.
//
// A rollback is planned first: pick a target event, collect everything
// strictly newer, and split out protected entity types that must never
// be reverted. Applying the plan replays inverse mutations newest-first
// inside one transaction and appends a rollback_applied event per
// reverted event, so the ledger stays append-only.
package rollback
