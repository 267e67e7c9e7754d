package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/rollback"
	"github.com/roach88/coach/internal/row"
	"github.com/roach88/coach/internal/storage"
)

func TestRollbackRequiresTargetFlag(t *testing.T) {
	opts := testRootOptions(t, newTestDB(t))

	_, _, err := execCommand(NewRollbackCommand(opts))
	require.Error(t, err)

	_, _, err = execCommand(NewRollbackCommand(testRootOptions(t, newTestDB(t))),
		"--event", "x", "--last", "2")
	require.Error(t, err)
}

func TestRollbackUnknownEvent(t *testing.T) {
	opts := testRootOptions(t, newTestDB(t))

	_, _, err := execCommand(NewRollbackCommand(opts), "--event", "no-such-id")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "target event not found")
}

func TestRollbackInsufficientHistory(t *testing.T) {
	dbPath := newTestDB(t)
	seedRow(t, dbPath, ledger.EntityBiomarker, row.Row{"name": row.String("hrv")})
	opts := testRootOptions(t, dbPath)

	_, _, err := execCommand(NewRollbackCommand(opts), "--last", "5")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not enough history")
}

func TestRollbackDryRunLeavesStateAlone(t *testing.T) {
	dbPath := newTestDB(t)
	seedRow(t, dbPath, ledger.EntityBiomarker, row.Row{"name": row.String("hrv")})
	workoutID := seedRow(t, dbPath, ledger.EntityWorkout, row.Row{"sport": row.String("run")})
	opts := testRootOptions(t, dbPath)

	out, _, err := execCommand(NewRollbackCommand(opts), "--last", "1", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "dry run")
	assert.Contains(t, out, "Events to revert: 1")

	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	_, found, err := ledger.New(st).ReadRow(context.Background(), ledger.EntityWorkout, workoutID)
	require.NoError(t, err)
	assert.True(t, found, "dry run must not delete anything")
}

func TestRollbackAppliesRevert(t *testing.T) {
	dbPath := newTestDB(t)
	seedRow(t, dbPath, ledger.EntityBiomarker, row.Row{"name": row.String("hrv")})
	workoutID := seedRow(t, dbPath, ledger.EntityWorkout, row.Row{"sport": row.String("run")})
	opts := testRootOptions(t, dbPath)

	out, _, err := execCommand(NewRollbackCommand(opts), "--last", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Rollback Applied")

	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()
	_, found, err := ledger.New(st).ReadRow(context.Background(), ledger.EntityWorkout, workoutID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRollbackRenderTextGolden(t *testing.T) {
	p := rollback.Plan{
		Target: ledger.Event{
			ID: "ev-target", Action: ledger.ActionCreate,
			EntityType: "biomarker", EntityID: "a1",
		},
		Revert: []ledger.Event{
			{ID: "ev-3", Action: ledger.ActionDelete, EntityType: "workout", EntityID: "w1"},
			{ID: "ev-2", Action: ledger.ActionUpdate, EntityType: "biomarker", EntityID: "a1"},
		},
		Skipped: []ledger.Event{
			{ID: "ev-4", Action: ledger.ActionCreate, EntityType: "raw_ingest", EntityID: "r1"},
		},
	}

	buf := &bytes.Buffer{}
	renderRollbackText(buf, p, true, true)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "rollback_plan", buf.Bytes())
}
