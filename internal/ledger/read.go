package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/coach/internal/storage"
)

// Deterministic ordering: every multi-event query orders by
// (timestamp_utc, id). Timestamps are fixed-width so lexicographic order
// is time order, and UUIDv7 ids break ties in creation order.

// EventByID returns one event by id.
func (l *Ledger) EventByID(ctx context.Context, id string) (Event, bool, error) {
	r := l.store.QueryRow(ctx,
		"SELECT "+eventColumns+" FROM events WHERE id = ?", id)
	ev, err := scanEvent(r)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

const eventsForEntityQuery = `
	SELECT ` + eventColumns + ` FROM events
	WHERE entity_type = ? AND entity_id = ?
	ORDER BY timestamp_utc ASC, id ASC
`

// EventsForEntity returns the full event history of one entity, oldest
// first. Rollback replays this to reconstruct prior row states.
func (l *Ledger) EventsForEntity(ctx context.Context, entityType, entityID string) ([]Event, error) {
	return l.queryEvents(ctx, eventsForEntityQuery, entityType, entityID)
}

// EventsForEntityTx is EventsForEntity inside an open transaction. The
// store pools a single connection, so a read issued mid-transaction must
// ride the transaction itself or it blocks on the held connection.
func (l *Ledger) EventsForEntityTx(ctx context.Context, tx *sql.Tx, entityType, entityID string) ([]Event, error) {
	rows, err := tx.QueryContext(ctx, eventsForEntityQuery, entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

// EventsAfter returns all events strictly newer than the given event,
// newest first. "Newer" uses the (timestamp, id) total order so ties on
// timestamp resolve deterministically.
func (l *Ledger) EventsAfter(ctx context.Context, after Event) ([]Event, error) {
	ts := storage.FormatTime(after.Timestamp)
	return l.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE timestamp_utc > ? OR (timestamp_utc = ? AND id > ?)
		ORDER BY timestamp_utc DESC, id DESC
	`, ts, ts, after.ID)
}

// RecentEvents returns the n newest events, newest first.
func (l *Ledger) RecentEvents(ctx context.Context, n int) ([]Event, error) {
	return l.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		ORDER BY timestamp_utc DESC, id DESC
		LIMIT ?
	`, n)
}

// EventsInRange returns events with from <= timestamp < to, oldest first.
func (l *Ledger) EventsInRange(ctx context.Context, from, to time.Time) ([]Event, error) {
	return l.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE timestamp_utc >= ? AND timestamp_utc < ?
		ORDER BY timestamp_utc ASC, id ASC
	`, storage.FormatTime(from), storage.FormatTime(to))
}

// EventsSince returns events at or after the given time, newest first.
func (l *Ledger) EventsSince(ctx context.Context, since time.Time) ([]Event, error) {
	return l.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE timestamp_utc >= ?
		ORDER BY timestamp_utc DESC, id DESC
	`, storage.FormatTime(since))
}

// CountEvents returns the total number of ledger events.
func (l *Ledger) CountEvents(ctx context.Context) (int64, error) {
	var n int64
	if err := l.store.QueryRow(ctx, "SELECT COUNT(*) FROM events").Scan(&n); err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}

// EventCount is one cell of the grouped event census.
type EventCount struct {
	EntityType string `json:"entity_type"`
	Action     Action `json:"action"`
	Count      int64  `json:"count"`
}

// CountsByEntityAction returns event counts grouped by entity type and
// action, ordered by entity type then action.
func (l *Ledger) CountsByEntityAction(ctx context.Context) ([]EventCount, error) {
	rows, err := l.store.Query(ctx, `
		SELECT entity_type, action, COUNT(*)
		FROM events
		GROUP BY entity_type, action
		ORDER BY entity_type ASC, action ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("count events by entity/action: %w", err)
	}
	defer rows.Close()

	counts := []EventCount{}
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.EntityType, (*string)(&c.Action), &c.Count); err != nil {
			return nil, fmt.Errorf("scan event count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event counts: %w", err)
	}
	return counts, nil
}

// NthNewestEvent returns the event at 1-based position n ordered newest
// first: n=1 is the latest event. found=false when fewer than n exist.
func (l *Ledger) NthNewestEvent(ctx context.Context, n int) (Event, bool, error) {
	r := l.store.QueryRow(ctx, `
		SELECT `+eventColumns+` FROM events
		ORDER BY timestamp_utc DESC, id DESC
		LIMIT 1 OFFSET ?
	`, n-1)
	ev, err := scanEvent(r)
	if err == sql.ErrNoRows {
		return Event{}, false, nil
	}
	if err != nil {
		return Event{}, false, err
	}
	return ev, true, nil
}

func (l *Ledger) queryEvents(ctx context.Context, query string, args ...any) ([]Event, error) {
	rows, err := l.store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}
