package ledger

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/coach/internal/storage"
)

// Action is the kind of mutation an event records.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"

	// ActionRollbackApplied marks the additive record the rollback engine
	// appends for each reverted event. History is append-only even when
	// its effects are reversed.
	ActionRollbackApplied Action = "rollback_applied"
)

// Event is one immutable ledger row. Events are created exactly once per
// successful mutation, never updated, never deleted.
type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp_utc"`
	EntityType string    `json:"entity_type"`
	EntityID   string    `json:"entity_id"`
	Action     Action    `json:"action"`
	BeforeHash string    `json:"before_hash,omitempty"` // empty for create
	AfterHash  string    `json:"after_hash,omitempty"`  // empty for delete
	DiffJSON   string    `json:"diff_json"`
	Source     string    `json:"source"`
	Reason     string    `json:"reason,omitempty"`
}

// rowScanner abstracts *sql.Row and *sql.Rows for shared scan logic.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEvent reads one event row in the column order of eventColumns.
func scanEvent(s rowScanner) (Event, error) {
	var (
		ev         Event
		ts         string
		beforeHash sql.NullString
		afterHash  sql.NullString
		reason     sql.NullString
	)
	err := s.Scan(
		&ev.ID, &ts, &ev.EntityType, &ev.EntityID, (*string)(&ev.Action),
		&beforeHash, &afterHash, &ev.DiffJSON, &ev.Source, &reason,
	)
	if err != nil {
		return Event{}, err
	}

	parsed, err := storage.ParseTime(ts)
	if err != nil {
		return Event{}, fmt.Errorf("scan event %s: bad timestamp %q: %w", ev.ID, ts, err)
	}
	ev.Timestamp = parsed
	ev.BeforeHash = beforeHash.String
	ev.AfterHash = afterHash.String
	ev.Reason = reason.String
	return ev, nil
}

// eventColumns is the select list matching scanEvent.
const eventColumns = "id, timestamp_utc, entity_type, entity_id, action, before_hash, after_hash, diff_json, source, reason"
