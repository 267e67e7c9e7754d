package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coach/internal/row"
)

func TestInsertWithEvent_AssignsIDAndAppendsCreate(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.InsertWithEvent(ctx, EntityBiomarker, row.Row{
		"name":  row.String("hrv"),
		"value": row.Int(48),
		"unit":  row.String("ms"),
	}, Meta{Source: "test"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	events, err := l.EventsForEntity(ctx, EntityBiomarker, id)
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, ActionCreate, ev.Action)
	assert.Empty(t, ev.BeforeHash, "create has no prior state")
	assert.NotEmpty(t, ev.AfterHash)
	assert.Equal(t, "test", ev.Source)

	stored, found, err := l.ReadRow(ctx, EntityBiomarker, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, row.MustFingerprint(EntityBiomarker, stored), ev.AfterHash,
		"after_hash must fingerprint the full inserted row")
}

func TestMutationScenario_InsertUpdateDelete(t *testing.T) {
	// Spec'd lifecycle: create with {id:a1, value:10}, update to value 12,
	// then delete; hashes must chain and diffs must carry the right payloads.
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.InsertWithEvent(ctx, EntityBiomarker, row.Row{
		"id":    row.String("a1"),
		"name":  row.String("glucose"),
		"value": row.Int(10),
	}, Meta{Source: "test"})
	require.NoError(t, err)
	assert.Equal(t, "a1", id, "caller-assigned id is kept")

	applied, err := l.UpdateWithEvent(ctx, EntityBiomarker, "a1",
		row.Row{"value": row.Int(12)}, Meta{Source: "test"})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = l.DeleteWithEvent(ctx, EntityBiomarker, "a1", Meta{Source: "test"})
	require.NoError(t, err)
	require.True(t, applied)

	events, err := l.EventsForEntity(ctx, EntityBiomarker, "a1")
	require.NoError(t, err)
	require.Len(t, events, 3)

	create, update, del := events[0], events[1], events[2]

	assert.Equal(t, ActionCreate, create.Action)
	assert.Equal(t, ActionUpdate, update.Action)
	assert.Equal(t, ActionDelete, del.Action)

	// Hash chain: update's before_hash equals create's after_hash.
	assert.Equal(t, create.AfterHash, update.BeforeHash)
	assert.Equal(t, update.AfterHash, del.BeforeHash)
	assert.Empty(t, del.AfterHash, "delete has no new state")

	// Update diff carries only the changed field.
	assert.JSONEq(t, `{"value":12}`, update.DiffJSON)

	// Delete diff reproduces the full prior row.
	prior, err := row.FromJSON([]byte(del.DiffJSON))
	require.NoError(t, err)
	assert.Equal(t, row.String("a1"), prior["id"])
	assert.Equal(t, row.Int(12), prior["value"])
	assert.Equal(t, row.String("glucose"), prior["name"])
}

func TestEventCountMatchesMutationCount(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id1, err := l.InsertWithEvent(ctx, EntityWorkout, row.Row{"sport": row.String("run")}, Meta{Source: "test"})
	require.NoError(t, err)
	_, err = l.InsertWithEvent(ctx, EntityWorkout, row.Row{"sport": row.String("bike")}, Meta{Source: "test"})
	require.NoError(t, err)

	applied, err := l.UpdateWithEvent(ctx, EntityWorkout, id1, row.Row{"duration_min": row.Int(40)}, Meta{Source: "test"})
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = l.DeleteWithEvent(ctx, EntityWorkout, id1, Meta{Source: "test"})
	require.NoError(t, err)
	require.True(t, applied)

	// A no-op update of a missing row must not add an event.
	applied, err = l.UpdateWithEvent(ctx, EntityWorkout, "missing", row.Row{"duration_min": row.Int(1)}, Meta{Source: "test"})
	require.NoError(t, err)
	assert.False(t, applied)

	n, err := l.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "one event per successful mutation")
}

func TestUpdateWithEvent_MissingRow(t *testing.T) {
	l := newTestLedger(t)

	applied, err := l.UpdateWithEvent(context.Background(), EntityBiomarker, "ghost",
		row.Row{"unit": row.String("ms")}, Meta{Source: "test"})
	require.NoError(t, err, "missing row fails silently")
	assert.False(t, applied)
}

func TestDeleteWithEvent_MissingRow(t *testing.T) {
	l := newTestLedger(t)

	applied, err := l.DeleteWithEvent(context.Background(), EntityBiomarker, "ghost", Meta{Source: "test"})
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestUpdateWithEvent_ClearsColumnWithNull(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.InsertWithEvent(ctx, EntityWorkout, row.Row{
		"sport": row.String("run"),
		"notes": row.String("tempo"),
	}, Meta{Source: "test"})
	require.NoError(t, err)

	applied, err := l.UpdateWithEvent(ctx, EntityWorkout, id,
		row.Row{"notes": row.Null{}}, Meta{Source: "test"})
	require.NoError(t, err)
	require.True(t, applied)

	stored, found, err := l.ReadRow(ctx, EntityWorkout, id)
	require.NoError(t, err)
	require.True(t, found)
	_, present := stored["notes"]
	assert.False(t, present, "cleared column reads back absent")
}

func TestInsertWithEvent_UnknownEntity(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.InsertWithEvent(context.Background(), "no_such_entity",
		row.Row{"x": row.Int(1)}, Meta{Source: "test"})
	require.Error(t, err)
	assert.True(t, IsUnknownEntity(err))
}

func TestInsertWithEvent_UnknownColumn(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.InsertWithEvent(context.Background(), EntityBiomarker,
		row.Row{"name": row.String("hrv"), "nope": row.Int(1)}, Meta{Source: "test"})
	require.Error(t, err)

	var ce *ColumnError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "nope", ce.Column)
}

func TestInsertWithEvent_RequiredColumnMissing(t *testing.T) {
	l := newTestLedger(t)

	_, err := l.InsertWithEvent(context.Background(), EntityBiomarker,
		row.Row{"value": row.Int(48)}, Meta{Source: "test"})
	require.Error(t, err, "biomarker.name is required")
}

func TestUpdateWithEvent_RejectsIDChange(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	id, err := l.InsertWithEvent(ctx, EntityBiomarker,
		row.Row{"name": row.String("hrv")}, Meta{Source: "test"})
	require.NoError(t, err)

	_, err = l.UpdateWithEvent(ctx, EntityBiomarker, id,
		row.Row{"id": row.String("other")}, Meta{Source: "test"})
	require.Error(t, err)
}

func TestInsertWithEvent_FailedWriteProducesNoEvent(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	_, err := l.InsertWithEvent(ctx, EntityBiomarker,
		row.Row{"id": row.String("dup"), "name": row.String("hrv")}, Meta{Source: "test"})
	require.NoError(t, err)

	// Second insert with the same id violates the primary key.
	_, err = l.InsertWithEvent(ctx, EntityBiomarker,
		row.Row{"id": row.String("dup"), "name": row.String("hrv")}, Meta{Source: "test"})
	require.Error(t, err)

	n, err := l.CountEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "failed write must not append an event")
}

func TestInsertWithEvent_JSONAndBoolRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	ingestID, err := l.InsertWithEvent(ctx, EntityRawIngest, row.Row{
		"payload":     row.Object{"device": row.String("fenix"), "laps": row.Array{row.Int(1), row.Int(2)}},
		"source_file": row.String("2026-03-01.fit"),
	}, Meta{Source: "sync"})
	require.NoError(t, err)

	stored, found, err := l.ReadRow(ctx, EntityRawIngest, ingestID)
	require.NoError(t, err)
	require.True(t, found)
	payload, ok := stored["payload"].(row.Object)
	require.True(t, ok)
	assert.Equal(t, row.String("fenix"), payload["device"])

	noteID, err := l.InsertWithEvent(ctx, EntityKnowledge, row.Row{
		"topic":    row.String("zone 2"),
		"archived": row.Bool(true),
	}, Meta{Source: "test"})
	require.NoError(t, err)

	stored, found, err = l.ReadRow(ctx, EntityKnowledge, noteID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, row.Bool(true), stored["archived"])
}

func TestClock_NonDecreasing(t *testing.T) {
	// A wall clock stepping backwards must not produce a regressing
	// timestamp.
	steps := []time.Time{
		time.Unix(100, 0), time.Unix(50, 0), time.Unix(60, 0), time.Unix(200, 0),
	}
	i := 0
	c := NewClockWithNow(func() time.Time {
		t := steps[i]
		i++
		return t
	})

	prev := c.Now()
	for range steps[1:] {
		cur := c.Now()
		assert.False(t, cur.Before(prev), "clock regressed: %v < %v", cur, prev)
		prev = cur
	}
	assert.Equal(t, time.Unix(200, 0).UTC(), prev)
}
