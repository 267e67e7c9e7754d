package anomaly

import (
	"context"
	"fmt"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/storage"
)

// checkFunc scans for one class of integrity problem and returns
// candidate issues (without fingerprint/status; Run fills those in).
type checkFunc func(ctx context.Context, s *storage.Store) ([]Issue, error)

var checks = []checkFunc{
	checkOrphanedDecisions,
	checkBiomarkersMissingUnit,
	checkWorkoutsMissingDuration,
	checkRowsMissingCreateEvent,
}

// checkOrphanedDecisions finds coach decisions whose session no longer
// exists. Imports can land decisions before sessions, so the schema has
// no FK here and the detector reports the dangling references instead.
func checkOrphanedDecisions(ctx context.Context, s *storage.Store) ([]Issue, error) {
	rows, err := s.Query(ctx, `
		SELECT d.id, d.session_id
		FROM coach_decisions d
		LEFT JOIN coach_sessions cs ON d.session_id = cs.id
		WHERE d.session_id IS NOT NULL AND cs.id IS NULL
		ORDER BY d.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("orphaned decisions: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var id, sessionID string
		if err := rows.Scan(&id, &sessionID); err != nil {
			return nil, fmt.Errorf("orphaned decisions: %w", err)
		}
		issues = append(issues, Issue{
			IssueType:    TypeOrphanedDecision,
			Severity:     SeverityError,
			Description:  fmt.Sprintf("coach decision %s references missing session %s", id, sessionID),
			SuggestedFix: "delete the orphaned decision",
			EntityType:   ledger.EntityCoachDecision,
			EntityID:     id,
		})
	}
	return issues, rows.Err()
}

// checkBiomarkersMissingUnit finds biomarker readings without a unit,
// which makes values ambiguous to downstream plan heuristics.
func checkBiomarkersMissingUnit(ctx context.Context, s *storage.Store) ([]Issue, error) {
	rows, err := s.Query(ctx, `
		SELECT id, name FROM biomarkers
		WHERE unit IS NULL OR unit = ''
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("biomarkers missing unit: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, fmt.Errorf("biomarkers missing unit: %w", err)
		}
		issues = append(issues, Issue{
			IssueType:    TypeMissingUnit,
			Severity:     SeverityWarning,
			Description:  fmt.Sprintf("biomarker %s (%s) has no unit", id, name),
			SuggestedFix: "set unit to 'unspecified'",
			EntityType:   ledger.EntityBiomarker,
			EntityID:     id,
		})
	}
	return issues, rows.Err()
}

// checkWorkoutsMissingDuration finds workouts without a usable duration.
func checkWorkoutsMissingDuration(ctx context.Context, s *storage.Store) ([]Issue, error) {
	rows, err := s.Query(ctx, `
		SELECT id, sport FROM workouts
		WHERE duration_min IS NULL OR duration_min <= 0
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("workouts missing duration: %w", err)
	}
	defer rows.Close()

	var issues []Issue
	for rows.Next() {
		var id, sport string
		if err := rows.Scan(&id, &sport); err != nil {
			return nil, fmt.Errorf("workouts missing duration: %w", err)
		}
		issues = append(issues, Issue{
			IssueType:   TypeMissingDuration,
			Severity:    SeverityWarning,
			Description: fmt.Sprintf("workout %s (%s) has no duration", id, sport),
			EntityType:  ledger.EntityWorkout,
			EntityID:    id,
		})
	}
	return issues, rows.Err()
}

// checkRowsMissingCreateEvent finds domain rows with no create event in
// the ledger - an audit hole, since every write is supposed to pass
// through the mutation ledger.
func checkRowsMissingCreateEvent(ctx context.Context, s *storage.Store) ([]Issue, error) {
	var issues []Issue
	for _, ent := range ledger.Entities() {
		query := fmt.Sprintf(`
			SELECT t.id FROM %s t
			WHERE NOT EXISTS (
				SELECT 1 FROM events e
				WHERE e.entity_type = ? AND e.entity_id = t.id AND e.action = 'create'
			)
			ORDER BY t.id ASC
		`, ent.Table)

		rows, err := s.Query(ctx, query, ent.Type)
		if err != nil {
			return nil, fmt.Errorf("missing create events for %s: %w", ent.Type, err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("missing create events for %s: %w", ent.Type, err)
			}
			issues = append(issues, Issue{
				IssueType:   TypeMissingCreateEvent,
				Severity:    SeverityError,
				Description: fmt.Sprintf("%s %s has no create event in the ledger", ent.Type, id),
				EntityType:  ent.Type,
				EntityID:    id,
			})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("missing create events for %s: %w", ent.Type, err)
		}
		rows.Close()
	}
	return issues, nil
}
