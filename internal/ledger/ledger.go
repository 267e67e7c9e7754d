package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/roach88/coach/internal/row"
	"github.com/roach88/coach/internal/storage"
)

// Meta carries the audit metadata recorded on every event.
type Meta struct {
	Source string // logical operation name that produced the mutation
	Reason string // optional free text
}

// Ledger is the single write path for domain rows: every mutation commits
// together with its audit event or not at all.
type Ledger struct {
	store *storage.Store
	clock *Clock
	ids   IDGenerator
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the timestamp source, for tests.
func WithClock(c *Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

// WithIDGenerator overrides the id source, for tests.
func WithIDGenerator(g IDGenerator) Option {
	return func(l *Ledger) { l.ids = g }
}

// New creates a Ledger over the given store.
func New(store *storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		clock: NewClock(),
		ids:   UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// InsertWithEvent inserts a domain row and appends a create event in one
// transaction. Assigns a UUIDv7 id when the row carries none; returns the
// id. The event's after_hash fingerprints the full inserted row and
// diff_json carries the full row payload.
func (l *Ledger) InsertWithEvent(ctx context.Context, entityType string, r row.Row, meta Meta) (string, error) {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return "", err
	}
	if err := validateRow(ent, r, true); err != nil {
		return "", err
	}

	id, err := rowID(ent, r)
	if err != nil {
		return "", err
	}
	if id == "" {
		id = l.ids.Generate()
	}

	full := normalize(r)
	full["id"] = row.String(id)

	for _, c := range ent.Columns {
		if !c.Required {
			continue
		}
		if _, ok := full[c.Name]; !ok {
			return "", &ColumnError{EntityType: ent.Type, Column: c.Name, Reason: "required column missing"}
		}
	}

	afterHash, err := row.Fingerprint(entityType, full)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", entityType, err)
	}
	diff, err := row.MarshalCanonicalRow(full)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", entityType, err)
	}

	err = l.store.Transaction(ctx, func(tx *sql.Tx) error {
		if err := insertRowTx(ctx, tx, ent, full); err != nil {
			return err
		}
		return l.AppendEventTx(ctx, tx, &Event{
			EntityType: entityType,
			EntityID:   id,
			Action:     ActionCreate,
			AfterHash:  afterHash,
			DiffJSON:   string(diff),
			Source:     meta.Source,
			Reason:     meta.Reason,
		})
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateWithEvent applies a partial update to an existing row and appends
// an update event carrying only the changed fields as diff_json. A missing
// row is not an error: applied=false and nothing is written. An update
// value of row.Null clears the column.
func (l *Ledger) UpdateWithEvent(ctx context.Context, entityType, id string, updates row.Row, meta Meta) (bool, error) {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return false, err
	}
	if err := validateRow(ent, updates, false); err != nil {
		return false, err
	}
	if len(updates) == 0 {
		return false, &ColumnError{EntityType: entityType, Column: "", Reason: "empty update"}
	}

	applied := false
	err = l.store.Transaction(ctx, func(tx *sql.Tx) error {
		current, found, err := readRowTx(ctx, tx, ent, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		beforeHash, err := row.Fingerprint(entityType, current)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", entityType, id, err)
		}

		merged := current.Merge(updates)
		afterHash, err := row.Fingerprint(entityType, merged)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", entityType, id, err)
		}

		diff, err := row.MarshalCanonicalRow(updates)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", entityType, id, err)
		}

		if err := updateRowTx(ctx, tx, ent, id, updates); err != nil {
			return err
		}

		applied = true
		return l.AppendEventTx(ctx, tx, &Event{
			EntityType: entityType,
			EntityID:   id,
			Action:     ActionUpdate,
			BeforeHash: beforeHash,
			AfterHash:  afterHash,
			DiffJSON:   string(diff),
			Source:     meta.Source,
			Reason:     meta.Reason,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// DeleteWithEvent deletes a row and appends a delete event whose diff_json
// carries the full prior row, enough to recreate it on rollback. A missing
// row yields applied=false without error.
func (l *Ledger) DeleteWithEvent(ctx context.Context, entityType, id string, meta Meta) (bool, error) {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return false, err
	}

	applied := false
	err = l.store.Transaction(ctx, func(tx *sql.Tx) error {
		current, found, err := readRowTx(ctx, tx, ent, id)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}

		beforeHash, err := row.Fingerprint(entityType, current)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", entityType, id, err)
		}
		diff, err := row.MarshalCanonicalRow(current)
		if err != nil {
			return fmt.Errorf("delete %s/%s: %w", entityType, id, err)
		}

		if err := deleteRowTx(ctx, tx, ent, id); err != nil {
			return err
		}

		applied = true
		return l.AppendEventTx(ctx, tx, &Event{
			EntityType: entityType,
			EntityID:   id,
			Action:     ActionDelete,
			BeforeHash: beforeHash,
			DiffJSON:   string(diff),
			Source:     meta.Source,
			Reason:     meta.Reason,
		})
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// ReadRow reads one domain row outside any transaction. Used by read-only
// scans (anomaly detection, doctor).
func (l *Ledger) ReadRow(ctx context.Context, entityType, id string) (row.Row, bool, error) {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return nil, false, err
	}
	return scanEntityRow(l.store.QueryRow(ctx, rowSelect(ent), id), ent)
}

// ReadRowTx is ReadRow inside a caller-managed transaction. The rollback
// engine uses it while applying inverse mutations.
func (l *Ledger) ReadRowTx(ctx context.Context, tx *sql.Tx, entityType, id string) (row.Row, bool, error) {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return nil, false, err
	}
	return readRowTx(ctx, tx, ent, id)
}

// InsertRowTx inserts a domain row WITHOUT appending a create event.
// Only the rollback engine calls this: it recreates deleted rows while
// recording its own rollback_applied events.
func (l *Ledger) InsertRowTx(ctx context.Context, tx *sql.Tx, entityType string, r row.Row) error {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return err
	}
	if err := validateRow(ent, r, true); err != nil {
		return err
	}
	return insertRowTx(ctx, tx, ent, normalize(r))
}

// UpdateRowTx updates row columns WITHOUT appending an update event.
// Only the rollback engine calls this.
func (l *Ledger) UpdateRowTx(ctx context.Context, tx *sql.Tx, entityType, id string, updates row.Row) error {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return err
	}
	if err := validateRow(ent, updates, false); err != nil {
		return err
	}
	return updateRowTx(ctx, tx, ent, id, updates)
}

// DeleteRowTx deletes a row WITHOUT appending a delete event.
// Only the rollback engine calls this.
func (l *Ledger) DeleteRowTx(ctx context.Context, tx *sql.Tx, entityType, id string) error {
	ent, err := LookupEntity(entityType)
	if err != nil {
		return err
	}
	return deleteRowTx(ctx, tx, ent, id)
}

// AppendEventTx appends an event inside a caller-managed transaction,
// stamping id and timestamp if unset. The ledger's own write path and the
// rollback engine both funnel through here; nothing else appends events.
func (l *Ledger) AppendEventTx(ctx context.Context, tx *sql.Tx, ev *Event) error {
	if ev.ID == "" {
		ev.ID = l.ids.Generate()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = l.clock.Now()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO events
		(id, timestamp_utc, entity_type, entity_id, action, before_hash, after_hash, diff_json, source, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		ev.ID,
		storage.FormatTime(ev.Timestamp),
		ev.EntityType,
		ev.EntityID,
		string(ev.Action),
		nullable(ev.BeforeHash),
		nullable(ev.AfterHash),
		ev.DiffJSON,
		ev.Source,
		nullable(ev.Reason),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Transaction exposes the store's transaction primitive so callers
// composing raw-row helpers with event appends stay atomic.
func (l *Ledger) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return l.store.Transaction(ctx, fn)
}

// rowID extracts and validates the optional caller-assigned id.
func rowID(ent Entity, r row.Row) (string, error) {
	v, ok := r["id"]
	if !ok {
		return "", nil
	}
	s, ok := v.(row.String)
	if !ok || s == "" {
		return "", &ColumnError{EntityType: ent.Type, Column: "id", Reason: "id must be a non-empty string"}
	}
	return string(s), nil
}

// normalize strips explicit Nulls: an absent column and a Null column both
// store SQL NULL, and fingerprints treat them identically.
func normalize(r row.Row) row.Row {
	out := make(row.Row, len(r))
	for k, v := range r {
		if _, isNull := v.(row.Null); isNull {
			continue
		}
		out[k] = v
	}
	return out
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// insertRowTx builds and runs a generic INSERT. Table and column names
// come exclusively from the registry entity.
func insertRowTx(ctx context.Context, tx *sql.Tx, ent Entity, full row.Row) error {
	cols := []string{"id"}
	args := []any{string(full["id"].(row.String))}

	for _, c := range ent.Columns {
		v, ok := full[c.Name]
		if !ok {
			continue
		}
		arg, err := valueToArg(ent, c, v)
		if err != nil {
			return err
		}
		cols = append(cols, c.Name)
		args = append(args, arg)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s)",
		ent.Table,
		strings.Join(cols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", "),
	)
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert %s: %w", ent.Type, err)
	}
	return nil
}

// updateRowTx builds and runs a generic UPDATE for the given columns.
// A row.Null value sets the column to SQL NULL.
func updateRowTx(ctx context.Context, tx *sql.Tx, ent Entity, id string, updates row.Row) error {
	var (
		sets []string
		args []any
	)
	for _, c := range ent.Columns {
		v, ok := updates[c.Name]
		if !ok {
			continue
		}
		if _, isNull := v.(row.Null); isNull {
			sets = append(sets, c.Name+" = NULL")
			continue
		}
		arg, err := valueToArg(ent, c, v)
		if err != nil {
			return err
		}
		sets = append(sets, c.Name+" = ?")
		args = append(args, arg)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", ent.Table, strings.Join(sets, ", "))
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update %s: %w", ent.Type, err)
	}
	return nil
}

func deleteRowTx(ctx context.Context, tx *sql.Tx, ent Entity, id string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", ent.Table)
	if _, err := tx.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete %s: %w", ent.Type, err)
	}
	return nil
}

func readRowTx(ctx context.Context, tx *sql.Tx, ent Entity, id string) (row.Row, bool, error) {
	return scanEntityRow(tx.QueryRowContext(ctx, rowSelect(ent), id), ent)
}

// rowSelect builds the SELECT for one entity row by id.
func rowSelect(ent Entity) string {
	cols := make([]string, 0, len(ent.Columns)+1)
	cols = append(cols, "id")
	for _, c := range ent.Columns {
		cols = append(cols, c.Name)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", strings.Join(cols, ", "), ent.Table)
}

// scanEntityRow scans one entity row. NULL columns are omitted from the
// returned Row (absent means NULL throughout the ledger).
func scanEntityRow(s rowScanner, ent Entity) (row.Row, bool, error) {
	var id string
	dests := make([]any, 0, len(ent.Columns)+1)
	dests = append(dests, &id)

	texts := make([]sql.NullString, len(ent.Columns))
	ints := make([]sql.NullInt64, len(ent.Columns))
	reals := make([]sql.NullFloat64, len(ent.Columns))
	for i, c := range ent.Columns {
		switch c.Kind {
		case KindInt, KindBool:
			dests = append(dests, &ints[i])
		case KindReal:
			dests = append(dests, &reals[i])
		default:
			dests = append(dests, &texts[i])
		}
	}

	if err := s.Scan(dests...); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", ent.Type, err)
	}

	r := row.Row{"id": row.String(id)}
	for i, c := range ent.Columns {
		switch c.Kind {
		case KindInt:
			if ints[i].Valid {
				r[c.Name] = row.Int(ints[i].Int64)
			}
		case KindBool:
			if ints[i].Valid {
				r[c.Name] = row.Bool(ints[i].Int64 != 0)
			}
		case KindReal:
			if reals[i].Valid {
				r[c.Name] = floatOrInt(reals[i].Float64)
			}
		case KindJSON:
			if texts[i].Valid {
				v, err := row.ValueFromJSON([]byte(texts[i].String))
				if err != nil {
					return nil, false, fmt.Errorf("read %s.%s: %w", ent.Type, c.Name, err)
				}
				r[c.Name] = v
			}
		default:
			if texts[i].Valid {
				r[c.Name] = row.String(texts[i].String)
			}
		}
	}
	return r, true, nil
}

// floatOrInt maps whole REAL values back to Int so a row written with
// Int(10) fingerprints identically after a read round-trip.
func floatOrInt(f float64) row.Value {
	if f == float64(int64(f)) {
		return row.Int(int64(f))
	}
	return row.Float(f)
}

// valueToArg converts a row value to a driver argument, enforcing the
// registered column kind.
func valueToArg(ent Entity, c Column, v row.Value) (any, error) {
	mismatch := func() error {
		return &ColumnError{EntityType: ent.Type, Column: c.Name, Reason: fmt.Sprintf("value %T does not match column kind", v)}
	}

	switch c.Kind {
	case KindText:
		s, ok := v.(row.String)
		if !ok {
			return nil, mismatch()
		}
		return string(s), nil
	case KindInt:
		n, ok := v.(row.Int)
		if !ok {
			return nil, mismatch()
		}
		return int64(n), nil
	case KindReal:
		switch n := v.(type) {
		case row.Float:
			return float64(n), nil
		case row.Int:
			return float64(n), nil
		}
		return nil, mismatch()
	case KindBool:
		b, ok := v.(row.Bool)
		if !ok {
			return nil, mismatch()
		}
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	case KindJSON:
		switch v.(type) {
		case row.Object, row.Array:
			data, err := row.MarshalCanonical(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ent.Type, c.Name, err)
			}
			return string(data), nil
		}
		return nil, mismatch()
	default:
		return nil, mismatch()
	}
}
