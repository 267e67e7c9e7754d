package doctor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/coach/internal/anomaly"
	"github.com/roach88/coach/internal/guard"
	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/row"
	"github.com/roach88/coach/internal/storage"
)

// TypeSchemaMismatch marks a divergence between the physical schema and
// the entity registry. Schema issues are synthesized per run and never
// persisted; they describe the container, not its contents.
const TypeSchemaMismatch = "schema_mismatch"

// LockResource is the write-lock name serializing repair runs.
const LockResource = "doctor"

// Core tables the subsystem itself depends on, beyond entity tables.
var coreTables = []string{"events", "write_locks", "idempotency_keys"}

// Report summarizes one doctor run.
type Report struct {
	SchemaValid       bool            `json:"schema_valid"`
	IssuesFound       int             `json:"issues_found"`
	IssuesFixed       int             `json:"issues_fixed"`
	IssuesByType      map[string]int  `json:"issues_by_type"`
	HasBlockingErrors bool            `json:"has_blocking_errors"`
	Details           []anomaly.Issue `json:"details"`
	TraceID           string          `json:"trace_id,omitempty"`
}

// NotInitializedError indicates the database file exists but has never
// been initialized with the event schema.
type NotInitializedError struct {
	Path string
}

// Error implements the error interface.
func (e *NotInitializedError) Error() string {
	return fmt.Sprintf("DB_NOT_INITIALIZED: %s has no events table; run init first", e.Path)
}

// IsNotInitialized returns true if the error is a NotInitializedError.
func IsNotInitialized(err error) bool {
	var ne *NotInitializedError
	return errors.As(err, &ne)
}

// Doctor runs integrity checks and applies allow-listed repairs.
type Doctor struct {
	store *storage.Store
	led   *ledger.Ledger
	det   *anomaly.Detector
	coord *guard.Coordinator
}

// New builds a Doctor over an open store and its collaborators.
func New(store *storage.Store, led *ledger.Ledger, det *anomaly.Detector, coord *guard.Coordinator) *Doctor {
	return &Doctor{store: store, led: led, det: det, coord: coord}
}

// Check runs a read-only health pass: schema verification, anomaly
// detection, and a merge of still-open issues from prior runs. It takes
// no lock and is safe to run alongside writers.
//
// When the schema itself is broken, detection is skipped: queries
// against missing tables would only pile driver errors on top of the
// real finding.
func (d *Doctor) Check(ctx context.Context) (Report, error) {
	if err := d.requireInitialized(ctx); err != nil {
		return Report{}, err
	}

	schemaIssues, err := d.verifySchema(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(schemaIssues) > 0 {
		return buildReport(false, 0, schemaIssues), nil
	}

	issues, err := d.openAfterScan(ctx)
	if err != nil {
		return Report{}, err
	}
	return buildReport(true, 0, issues), nil
}

// CheckAndFix runs Check under the doctor write lock and repairs every
// open issue with an allow-listed fix, resolving each through the
// detector so the transition is audited. The returned bool reports
// whether the result was replayed from an idempotency record instead of
// executed.
func (d *Doctor) CheckAndFix(ctx context.Context, traceID, idemKey string) (Report, bool, error) {
	if err := d.requireInitialized(ctx); err != nil {
		return Report{}, false, err
	}

	outcome, err := d.coord.WithWriteLock(ctx, LockResource, traceID, idemKey,
		func(ctx context.Context) (any, error) {
			return d.fixPass(ctx, traceID)
		})
	if err != nil {
		return Report{}, false, err
	}

	var report Report
	if err := json.Unmarshal(outcome.Result, &report); err != nil {
		return Report{}, false, fmt.Errorf("decode doctor report: %w", err)
	}
	return report, outcome.Cached, nil
}

func (d *Doctor) fixPass(ctx context.Context, traceID string) (Report, error) {
	schemaIssues, err := d.verifySchema(ctx)
	if err != nil {
		return Report{}, err
	}
	if len(schemaIssues) > 0 {
		report := buildReport(false, 0, schemaIssues)
		report.TraceID = traceID
		return report, nil
	}

	issues, err := d.openAfterScan(ctx)
	if err != nil {
		return Report{}, err
	}

	fixed := 0
	remaining := issues[:0:0]
	for _, issue := range issues {
		repair, ok := fixes[issue.IssueType]
		if !ok {
			remaining = append(remaining, issue)
			continue
		}
		if err := repair(ctx, d.led, issue); err != nil {
			return Report{}, fmt.Errorf("fix %s for %s/%s: %w",
				issue.IssueType, issue.EntityType, issue.EntityID, err)
		}
		if err := d.det.ResolveIssue(ctx, issue.ID, anomaly.StatusFixed, "doctor"); err != nil {
			return Report{}, err
		}
		fixed++
	}

	report := buildReport(true, fixed, remaining)
	report.IssuesFound = len(issues)
	report.TraceID = traceID
	return report, nil
}

// fixFunc repairs the data problem an issue describes. Resolution of
// the issue row is handled by the caller.
type fixFunc func(ctx context.Context, led *ledger.Ledger, issue anomaly.Issue) error

// fixes is the allow-list of auto-repairable issue types. Everything
// else stays open for a human.
var fixes = map[string]fixFunc{
	anomaly.TypeMissingUnit: func(ctx context.Context, led *ledger.Ledger, issue anomaly.Issue) error {
		_, err := led.UpdateWithEvent(ctx, issue.EntityType, issue.EntityID,
			row.Row{"unit": row.String("unspecified")},
			ledger.Meta{Source: "doctor", Reason: "auto-fix missing unit"})
		return err
	},
	anomaly.TypeOrphanedDecision: func(ctx context.Context, led *ledger.Ledger, issue anomaly.Issue) error {
		_, err := led.DeleteWithEvent(ctx, issue.EntityType, issue.EntityID,
			ledger.Meta{Source: "doctor", Reason: "auto-fix orphaned decision"})
		return err
	},
}

// openAfterScan runs detection and returns every issue still active,
// including ones found on earlier runs.
func (d *Doctor) openAfterScan(ctx context.Context) ([]anomaly.Issue, error) {
	if _, err := d.det.Run(ctx); err != nil {
		return nil, err
	}
	return d.det.OpenIssues(ctx)
}

// verifySchema compares the physical schema against the entity registry
// and core tables. Findings come back as critical issues.
func (d *Doctor) verifySchema(ctx context.Context) ([]anomaly.Issue, error) {
	var found []anomaly.Issue

	missingTable := func(table string) {
		found = append(found, anomaly.Issue{
			IssueType:    TypeSchemaMismatch,
			Severity:     anomaly.SeverityCritical,
			Description:  fmt.Sprintf("table %q is missing", table),
			SuggestedFix: "re-run init against this database",
			Status:       anomaly.StatusActive,
		})
	}

	for _, table := range coreTables {
		exists, err := d.store.TableExists(ctx, table)
		if err != nil {
			return nil, err
		}
		if !exists {
			missingTable(table)
		}
	}

	for _, ent := range ledger.Entities() {
		exists, err := d.store.TableExists(ctx, ent.Table)
		if err != nil {
			return nil, err
		}
		if !exists {
			missingTable(ent.Table)
			continue
		}

		cols, err := d.store.TableColumns(ctx, ent.Table)
		if err != nil {
			return nil, err
		}
		present := make(map[string]bool, len(cols))
		for _, c := range cols {
			present[c] = true
		}
		for _, col := range append([]ledger.Column{{Name: "id"}}, ent.Columns...) {
			if present[col.Name] {
				continue
			}
			found = append(found, anomaly.Issue{
				IssueType:    TypeSchemaMismatch,
				Severity:     anomaly.SeverityCritical,
				Description:  fmt.Sprintf("table %q is missing column %q", ent.Table, col.Name),
				SuggestedFix: "re-run init against this database",
				EntityType:   ent.Type,
				Status:       anomaly.StatusActive,
			})
		}
	}

	return found, nil
}

func (d *Doctor) requireInitialized(ctx context.Context) error {
	exists, err := d.store.TableExists(ctx, "events")
	if err != nil {
		return err
	}
	if !exists {
		return &NotInitializedError{Path: d.store.Path()}
	}
	return nil
}

func buildReport(schemaValid bool, fixed int, issues []anomaly.Issue) Report {
	byType := make(map[string]int, len(issues))
	blocking := false
	for _, issue := range issues {
		byType[issue.IssueType]++
		if issue.Severity == anomaly.SeverityCritical {
			blocking = true
		}
	}
	return Report{
		SchemaValid:       schemaValid,
		IssuesFound:       len(issues),
		IssuesFixed:       fixed,
		IssuesByType:      byType,
		HasBlockingErrors: blocking || !schemaValid,
		Details:           issues,
	}
}
