package anomaly

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/row"
	"github.com/roach88/coach/internal/storage"
)

// Detector scans for integrity problems and persists them through the
// mutation ledger so issue creation and resolution are both audited.
type Detector struct {
	store *storage.Store
	led   *ledger.Ledger
	now   func() time.Time
}

// Option configures a Detector.
type Option func(*Detector)

// WithNow overrides the time source, for tests.
func WithNow(now func() time.Time) Option {
	return func(d *Detector) { d.now = now }
}

// New creates a Detector over the given store and ledger.
func New(store *storage.Store, led *ledger.Ledger, opts ...Option) *Detector {
	d := &Detector{store: store, led: led, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes all checks and persists newly discovered issues, returning
// only the ones created on this run. Problems already on file (by
// fingerprint) are skipped regardless of status, so a rescan over
// unchanged data yields nothing new.
func (d *Detector) Run(ctx context.Context) ([]Issue, error) {
	var candidates []Issue
	for _, check := range checks {
		found, err := check(ctx, d.store)
		if err != nil {
			return nil, fmt.Errorf("anomaly check: %w", err)
		}
		candidates = append(candidates, found...)
	}

	newIssues := []Issue{}
	for _, cand := range candidates {
		fp, err := fingerprint(cand.IssueType, cand.EntityType, cand.EntityID)
		if err != nil {
			return nil, err
		}

		var existing string
		err = d.store.QueryRow(ctx,
			"SELECT id FROM anomaly_issues WHERE fingerprint = ?", fp,
		).Scan(&existing)
		if err == nil {
			continue // already on file
		}
		if err != sql.ErrNoRows {
			return nil, fmt.Errorf("check existing issue: %w", err)
		}

		cand.Fingerprint = fp
		cand.Status = StatusActive
		cand.CreatedAt = storage.FormatTime(d.now())

		id, err := d.led.InsertWithEvent(ctx, ledger.EntityAnomalyIssue, issueRow(cand), ledger.Meta{
			Source: "anomaly_detection",
			Reason: cand.IssueType,
		})
		if err != nil {
			return nil, fmt.Errorf("persist issue: %w", err)
		}
		cand.ID = id
		newIssues = append(newIssues, cand)
	}
	return newIssues, nil
}

// OpenIssues returns all issues still active, oldest first.
func (d *Detector) OpenIssues(ctx context.Context) ([]Issue, error) {
	return d.queryIssues(ctx, `
		SELECT `+issueColumns+` FROM anomaly_issues
		WHERE status = 'active'
		ORDER BY created_at ASC, id ASC
	`)
}

// Issue returns one issue by id.
func (d *Detector) Issue(ctx context.Context, id string) (Issue, bool, error) {
	r := d.store.QueryRow(ctx,
		"SELECT "+issueColumns+" FROM anomaly_issues WHERE id = ?", id)
	issue, err := scanIssue(r)
	if err == sql.ErrNoRows {
		return Issue{}, false, nil
	}
	if err != nil {
		return Issue{}, false, err
	}
	return issue, true, nil
}

// ResolveIssue transitions an issue to fixed or ignored. The transition
// goes through the ledger, so it is itself an auditable action.
func (d *Detector) ResolveIssue(ctx context.Context, id string, outcome Status, actor string) error {
	if outcome != StatusFixed && outcome != StatusIgnored {
		return fmt.Errorf("invalid resolution outcome %q (want fixed or ignored)", outcome)
	}

	applied, err := d.led.UpdateWithEvent(ctx, ledger.EntityAnomalyIssue, id, row.Row{
		"status":      row.String(string(outcome)),
		"resolved_at": row.String(storage.FormatTime(d.now())),
		"resolved_by": row.String(actor),
	}, ledger.Meta{
		Source: "resolve_issue",
		Reason: fmt.Sprintf("%s by %s", outcome, actor),
	})
	if err != nil {
		return err
	}
	if !applied {
		return &IssueNotFoundError{ID: id}
	}
	return nil
}

const issueColumns = "id, fingerprint, issue_type, severity, description, suggested_fix, entity_type, entity_id, status, created_at, resolved_at, resolved_by"

func (d *Detector) queryIssues(ctx context.Context, query string, args ...any) ([]Issue, error) {
	rows, err := d.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query issues: %w", err)
	}
	defer rows.Close()

	issues := []Issue{}
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan issue: %w", err)
		}
		issues = append(issues, issue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issues: %w", err)
	}
	return issues, nil
}

func scanIssue(s interface{ Scan(...any) error }) (Issue, error) {
	var (
		issue        Issue
		severity     string
		suggestedFix sql.NullString
		entityType   sql.NullString
		entityID     sql.NullString
		createdAt    sql.NullString
		resolvedAt   sql.NullString
		resolvedBy   sql.NullString
	)
	err := s.Scan(
		&issue.ID, &issue.Fingerprint, &issue.IssueType, &severity,
		&issue.Description, &suggestedFix, &entityType, &entityID,
		(*string)(&issue.Status), &createdAt, &resolvedAt, &resolvedBy,
	)
	if err != nil {
		return Issue{}, err
	}
	// Stored severities pass through ParseSeverity so odd casing or an
	// unknown grade never slips past the blocking check downstream.
	issue.Severity = ParseSeverity(severity)
	issue.SuggestedFix = suggestedFix.String
	issue.EntityType = entityType.String
	issue.EntityID = entityID.String
	issue.CreatedAt = createdAt.String
	issue.ResolvedAt = resolvedAt.String
	issue.ResolvedBy = resolvedBy.String
	return issue, nil
}

// issueRow converts an Issue to its ledger row payload. Empty optional
// fields stay absent (SQL NULL).
func issueRow(i Issue) row.Row {
	r := row.Row{
		"fingerprint": row.String(i.Fingerprint),
		"issue_type":  row.String(i.IssueType),
		"severity":    row.String(string(i.Severity)),
		"description": row.String(i.Description),
		"status":      row.String(string(i.Status)),
		"created_at":  row.String(i.CreatedAt),
	}
	if i.SuggestedFix != "" {
		r["suggested_fix"] = row.String(i.SuggestedFix)
	}
	if i.EntityType != "" {
		r["entity_type"] = row.String(i.EntityType)
	}
	if i.EntityID != "" {
		r["entity_id"] = row.String(i.EntityID)
	}
	return r
}
