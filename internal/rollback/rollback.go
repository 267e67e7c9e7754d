package rollback

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/row"
)

// protected lists the entity types rollback must never revert: raw
// source data and the coaching decision trail. Their events are still
// planned, so callers can report them, but apply skips them.
var protected = map[string]bool{
	ledger.EntityRawIngest:     true,
	ledger.EntityCoachSession:  true,
	ledger.EntityCoachDecision: true,
}

// Protected reports whether an entity type is excluded from reversion.
func Protected(entityType string) bool {
	return protected[entityType]
}

// Plan is a computed revert set for one target event. Both slices are
// ordered newest-first, the order apply processes them in.
type Plan struct {
	Target  ledger.Event   `json:"target"`
	Revert  []ledger.Event `json:"revert"`
	Skipped []ledger.Event `json:"skipped"`
}

// RevertCounts groups the revert set by entity type.
func (p Plan) RevertCounts() map[string]int { return countByEntity(p.Revert) }

// SkippedCounts groups the protected events by entity type.
func (p Plan) SkippedCounts() map[string]int { return countByEntity(p.Skipped) }

func countByEntity(events []ledger.Event) map[string]int {
	out := make(map[string]int, len(events))
	for _, ev := range events {
		out[ev.EntityType]++
	}
	return out
}

// EntityTypes returns the sorted entity types present in events.
func EntityTypes(counts map[string]int) []string {
	out := make([]string, 0, len(counts))
	for t := range counts {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Result summarizes an applied plan.
type Result struct {
	Reverted int `json:"reverted"`
	Skipped  int `json:"skipped"`
}

// Engine plans and applies rollbacks over the ledger.
type Engine struct {
	led *ledger.Ledger
}

// New builds an Engine over a ledger.
func New(led *ledger.Ledger) *Engine {
	return &Engine{led: led}
}

// PlanByEvent computes the revert set for an explicit target event id.
// The target itself is kept; everything strictly newer is reverted.
func (e *Engine) PlanByEvent(ctx context.Context, eventID string) (Plan, error) {
	target, found, err := e.led.EventByID(ctx, eventID)
	if err != nil {
		return Plan{}, err
	}
	if !found {
		return Plan{}, &EventNotFoundError{ID: eventID}
	}
	return e.plan(ctx, target)
}

// PlanLast computes the revert set for the n newest events. The target
// becomes the (n+1)th-newest event, so the ledger must hold more than n
// events.
func (e *Engine) PlanLast(ctx context.Context, n int) (Plan, error) {
	if n < 1 {
		return Plan{}, fmt.Errorf("rollback count must be positive, got %d", n)
	}
	target, found, err := e.led.NthNewestEvent(ctx, n+1)
	if err != nil {
		return Plan{}, err
	}
	if !found {
		total, err := e.led.CountEvents(ctx)
		if err != nil {
			return Plan{}, err
		}
		return Plan{}, &InsufficientHistoryError{Requested: n, Available: total}
	}
	return e.plan(ctx, target)
}

func (e *Engine) plan(ctx context.Context, target ledger.Event) (Plan, error) {
	newer, err := e.led.EventsAfter(ctx, target)
	if err != nil {
		return Plan{}, err
	}

	p := Plan{Target: target}
	for _, ev := range newer {
		if protected[ev.EntityType] {
			p.Skipped = append(p.Skipped, ev)
			continue
		}
		p.Revert = append(p.Revert, ev)
	}
	return p, nil
}

// Apply reverts every event in the plan's revert set, newest-first, in
// a single transaction. Each reversion writes the inverse row state and
// appends a rollback_applied event whose hashes mirror the reverted
// event's, so a later rollback can revert the rollback itself.
func (e *Engine) Apply(ctx context.Context, p Plan) (Result, error) {
	err := e.led.Transaction(ctx, func(tx *sql.Tx) error {
		for _, ev := range p.Revert {
			if err := e.revertOne(ctx, tx, ev); err != nil {
				return fmt.Errorf("revert event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return Result{Reverted: len(p.Revert), Skipped: len(p.Skipped)}, nil
}

// revertOne restores the entity to its state just before ev. Because
// apply runs newest-first and protection is decided per entity type,
// every newer event for this entity has already been undone, so the
// current row is exactly the state ev left behind.
func (e *Engine) revertOne(ctx context.Context, tx *sql.Tx, ev ledger.Event) error {
	prior, err := e.stateBefore(ctx, tx, ev)
	if err != nil {
		return err
	}
	if err := verifyHash(ev.ID, ev.BeforeHash, ev.EntityType, prior); err != nil {
		return err
	}

	current, found, err := e.led.ReadRowTx(ctx, tx, ev.EntityType, ev.EntityID)
	if err != nil {
		return err
	}

	switch {
	case prior == nil:
		if found {
			if err := e.led.DeleteRowTx(ctx, tx, ev.EntityType, ev.EntityID); err != nil {
				return err
			}
		}
	case !found:
		if err := e.led.InsertRowTx(ctx, tx, ev.EntityType, prior); err != nil {
			return err
		}
	default:
		if err := e.led.UpdateRowTx(ctx, tx, ev.EntityType, ev.EntityID, restoreUpdates(current, prior)); err != nil {
			return err
		}
	}

	diff, err := stateJSON(prior)
	if err != nil {
		return err
	}
	return e.led.AppendEventTx(ctx, tx, &ledger.Event{
		EntityType: ev.EntityType,
		EntityID:   ev.EntityID,
		Action:     ledger.ActionRollbackApplied,
		BeforeHash: ev.AfterHash,
		AfterHash:  ev.BeforeHash,
		DiffJSON:   diff,
		Source:     "rollback",
		Reason:     fmt.Sprintf("revert event %s", ev.ID),
	})
}

// stateBefore reconstructs the entity's full row state immediately
// before ev by replaying its history from the beginning. A nil row
// means the entity did not exist at that point. The replay reads
// through the apply transaction; the pool's only connection is held by
// it, so a pool read here would block.
func (e *Engine) stateBefore(ctx context.Context, tx *sql.Tx, ev ledger.Event) (row.Row, error) {
	history, err := e.led.EventsForEntityTx(ctx, tx, ev.EntityType, ev.EntityID)
	if err != nil {
		return nil, err
	}

	var state row.Row
	for _, h := range history {
		if h.ID == ev.ID {
			return state, nil
		}
		state, err = applyToState(state, h)
		if err != nil {
			return nil, fmt.Errorf("replay event %s: %w", h.ID, err)
		}
	}
	return nil, fmt.Errorf("event %s not found in history of %s/%s",
		ev.ID, ev.EntityType, ev.EntityID)
}

// applyToState advances a replayed row state by one event.
// rollback_applied events carry a full post-state snapshot in diff_json
// (JSON null when the reversion removed the row), so replay treats them
// as absolute rather than incremental.
func applyToState(state row.Row, ev ledger.Event) (row.Row, error) {
	switch ev.Action {
	case ledger.ActionCreate:
		return row.FromJSON([]byte(ev.DiffJSON))
	case ledger.ActionUpdate:
		diff, err := row.FromJSON([]byte(ev.DiffJSON))
		if err != nil {
			return nil, err
		}
		return state.Merge(diff), nil
	case ledger.ActionDelete:
		return nil, nil
	case ledger.ActionRollbackApplied:
		if ev.DiffJSON == "" || ev.DiffJSON == "null" {
			return nil, nil
		}
		return row.FromJSON([]byte(ev.DiffJSON))
	default:
		return nil, fmt.Errorf("unknown action %q", ev.Action)
	}
}

// restoreUpdates computes the column updates that transform current
// into prior. Columns present now but absent then are cleared with
// Null.
func restoreUpdates(current, prior row.Row) row.Row {
	updates := make(row.Row, len(prior))
	for k, v := range prior {
		if k == "id" {
			continue
		}
		updates[k] = v
	}
	for k := range current {
		if k == "id" {
			continue
		}
		if _, ok := prior[k]; !ok {
			updates[k] = row.Null{}
		}
	}
	return updates
}

func verifyHash(eventID, expected, entityType string, state row.Row) error {
	got := ""
	if state != nil {
		fp, err := row.Fingerprint(entityType, state)
		if err != nil {
			return err
		}
		got = fp
	}
	if got != expected {
		return &InconsistentHistoryError{EventID: eventID, Expected: expected, Got: got}
	}
	return nil
}

func stateJSON(state row.Row) (string, error) {
	if state == nil {
		return "null", nil
	}
	data, err := row.MarshalCanonicalRow(state)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
