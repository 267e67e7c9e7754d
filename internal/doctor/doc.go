// Package doctor orchestrates health checks and guarded auto-repair.
//
// Check reads without locking: it verifies the physical schema against
// the entity registry, runs anomaly detection, and folds still-open
// issues into a single report. CheckAndFix additionally repairs the
// issue types it has a known-safe fix for, under the coordinator's
// write lock so concurrent doctor runs cannot double-apply repairs.
package doctor
