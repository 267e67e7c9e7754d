package anomaly

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/coach/internal/row"
)

// Severity grades how serious an issue is. Only critical issues block
// downstream automation.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityError    Severity = "error"
	SeverityWarning  Severity = "warning"
)

// ParseSeverity maps a severity string onto a known grade.
// Case-insensitive; unknown values default to warning.
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical
	case "error":
		return SeverityError
	case "warning":
		return SeverityWarning
	default:
		return SeverityWarning
	}
}

// Status is an issue's lifecycle state.
type Status string

const (
	StatusActive  Status = "active"
	StatusFixed   Status = "fixed"
	StatusIgnored Status = "ignored"
)

// Issue type names produced by the detector's checks.
const (
	TypeOrphanedDecision   = "orphaned_decision"
	TypeMissingUnit        = "missing_unit"
	TypeMissingDuration    = "missing_duration"
	TypeMissingCreateEvent = "missing_create_event"
)

// Issue is one observed integrity problem.
type Issue struct {
	ID           string   `json:"id"`
	Fingerprint  string   `json:"fingerprint"`
	IssueType    string   `json:"issue_type"`
	Severity     Severity `json:"severity"`
	Description  string   `json:"description"`
	SuggestedFix string   `json:"suggested_fix,omitempty"`
	EntityType   string   `json:"entity_type,omitempty"`
	EntityID     string   `json:"entity_id,omitempty"`
	Status       Status   `json:"status"`
	CreatedAt    string   `json:"created_at,omitempty"`
	ResolvedAt   string   `json:"resolved_at,omitempty"`
	ResolvedBy   string   `json:"resolved_by,omitempty"`
}

// fingerprint computes the deterministic identity of a logical problem
// instance. Rescanning unchanged data reproduces the same fingerprint,
// which the UNIQUE column turns into create-once semantics.
func fingerprint(issueType, entityType, entityID string) (string, error) {
	canonical, err := row.MarshalCanonicalRow(row.Row{
		"issue_type":  row.String(issueType),
		"entity_type": row.String(entityType),
		"entity_id":   row.String(entityID),
	})
	if err != nil {
		return "", fmt.Errorf("issue fingerprint: %w", err)
	}
	return row.HashWithDomain("coach/issue/v1", canonical), nil
}

// IssueNotFoundError indicates a resolution referenced an unknown issue.
type IssueNotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *IssueNotFoundError) Error() string {
	return fmt.Sprintf("ISSUE_NOT_FOUND: issue %q does not exist", e.ID)
}

// IsIssueNotFound returns true if the error is an IssueNotFoundError.
func IsIssueNotFound(err error) bool {
	var ie *IssueNotFoundError
	return errors.As(err, &ie)
}
