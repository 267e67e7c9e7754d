package cli

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/row"
	"github.com/roach88/coach/internal/storage"
)

func TestPreSyncCleanDatabaseAllows(t *testing.T) {
	opts := testRootOptions(t, newTestDB(t))

	out, _, err := execCommand(NewHookCommand(opts), "pre-sync")
	require.NoError(t, err)
	assert.Contains(t, out, "pre-sync: ok")
}

func TestPreSyncFailsOpenOnMissingDatabase(t *testing.T) {
	opts := testRootOptions(t, filepath.Join(t.TempDir(), "absent.db"))

	_, errOut, err := execCommand(NewHookCommand(opts), "pre-sync")
	require.NoError(t, err, "internal failure must not block the sync")
	assert.Contains(t, errOut, "warning: pre-sync check skipped")
}

func TestPreSyncFailsClosedOnBlockingIssues(t *testing.T) {
	dbPath := newTestDB(t)

	// A dropped table is a critical schema finding.
	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	_, err = st.Execute(context.Background(), "DROP TABLE workouts")
	require.NoError(t, err)
	require.NoError(t, st.Close())

	opts := testRootOptions(t, dbPath)
	out, _, err := execCommand(NewHookCommand(opts), "pre-sync")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Blocking errors: yes")
}

func TestPreSyncAllowsNonBlockingIssues(t *testing.T) {
	dbPath := newTestDB(t)
	seedRow(t, dbPath, ledger.EntityBiomarker, row.Row{"name": row.String("glucose")})

	opts := testRootOptions(t, dbPath)
	out, _, err := execCommand(NewHookCommand(opts), "pre-sync")
	require.NoError(t, err)
	assert.Contains(t, out, "non-blocking issue(s) open")
}
