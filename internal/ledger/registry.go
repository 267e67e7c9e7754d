package ledger

import (
	"sort"

	"github.com/roach88/coach/internal/row"
)

// ColumnKind constrains what value kinds a registered column accepts and
// how scanned database values map back onto row values.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindInt
	KindReal
	KindBool
	KindJSON
)

// Column describes one registered column of an entity's table.
type Column struct {
	Name     string
	Kind     ColumnKind
	Required bool
}

// Entity maps a logical entity type onto its physical table and column
// schema. Every table additionally has an `id TEXT PRIMARY KEY` column,
// handled outside the column list.
type Entity struct {
	Type    string
	Table   string
	Columns []Column
}

// Column returns the named column, if registered.
func (e Entity) Column(name string) (Column, bool) {
	for _, c := range e.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Entity type names. Rollback's protected set references these.
const (
	EntityBiomarker     = "biomarker"
	EntityWorkout       = "workout"
	EntityKnowledge     = "knowledge"
	EntityRawIngest     = "raw_ingest"
	EntityCoachSession  = "coach_session"
	EntityCoachDecision = "coach_decision"
	EntityAnomalyIssue  = "anomaly_issue"
)

// registry is the closed set of entity types the ledger will mutate.
// Table and column names in generated SQL come only from here.
var registry = map[string]Entity{
	EntityBiomarker: {
		Type:  EntityBiomarker,
		Table: "biomarkers",
		Columns: []Column{
			{Name: "name", Kind: KindText, Required: true},
			{Name: "value", Kind: KindReal},
			{Name: "unit", Kind: KindText},
			{Name: "recorded_at", Kind: KindText},
		},
	},
	EntityWorkout: {
		Type:  EntityWorkout,
		Table: "workouts",
		Columns: []Column{
			{Name: "sport", Kind: KindText, Required: true},
			{Name: "duration_min", Kind: KindInt},
			{Name: "intensity", Kind: KindText},
			{Name: "notes", Kind: KindText},
			{Name: "recorded_at", Kind: KindText},
		},
	},
	EntityKnowledge: {
		Type:  EntityKnowledge,
		Table: "knowledge",
		Columns: []Column{
			{Name: "topic", Kind: KindText, Required: true},
			{Name: "content", Kind: KindText},
			{Name: "archived", Kind: KindBool},
			{Name: "recorded_at", Kind: KindText},
		},
	},
	EntityRawIngest: {
		Type:  EntityRawIngest,
		Table: "raw_ingests",
		Columns: []Column{
			{Name: "payload", Kind: KindJSON},
			{Name: "source_file", Kind: KindText},
			{Name: "ingested_at", Kind: KindText},
		},
	},
	EntityCoachSession: {
		Type:  EntityCoachSession,
		Table: "coach_sessions",
		Columns: []Column{
			{Name: "summary", Kind: KindText},
			{Name: "recorded_at", Kind: KindText},
		},
	},
	EntityCoachDecision: {
		Type:  EntityCoachDecision,
		Table: "coach_decisions",
		Columns: []Column{
			{Name: "session_id", Kind: KindText},
			{Name: "decision", Kind: KindText},
			{Name: "recorded_at", Kind: KindText},
		},
	},
	EntityAnomalyIssue: {
		Type:  EntityAnomalyIssue,
		Table: "anomaly_issues",
		Columns: []Column{
			{Name: "fingerprint", Kind: KindText, Required: true},
			{Name: "issue_type", Kind: KindText, Required: true},
			{Name: "severity", Kind: KindText, Required: true},
			{Name: "description", Kind: KindText, Required: true},
			{Name: "suggested_fix", Kind: KindText},
			{Name: "entity_type", Kind: KindText},
			{Name: "entity_id", Kind: KindText},
			{Name: "status", Kind: KindText, Required: true},
			{Name: "created_at", Kind: KindText},
			{Name: "resolved_at", Kind: KindText},
			{Name: "resolved_by", Kind: KindText},
		},
	},
}

// LookupEntity resolves an entity type against the registry.
func LookupEntity(entityType string) (Entity, error) {
	ent, ok := registry[entityType]
	if !ok {
		return Entity{}, &UnknownEntityError{EntityType: entityType}
	}
	return ent, nil
}

// Entities returns all registered entities sorted by type name, for
// schema verification and table scans.
func Entities() []Entity {
	out := make([]Entity, 0, len(registry))
	for _, e := range registry {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// validateRow checks every key of r against the entity's registered
// columns. The id column is implicit and may appear in inserts.
func validateRow(ent Entity, r row.Row, allowID bool) error {
	for k := range r {
		if k == "id" {
			if allowID {
				continue
			}
			return &ColumnError{EntityType: ent.Type, Column: "id", Reason: "id is immutable"}
		}
		if _, ok := ent.Column(k); !ok {
			return &ColumnError{EntityType: ent.Type, Column: k, Reason: "not in registered schema"}
		}
	}
	return nil
}
