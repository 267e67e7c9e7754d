package cli

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coach/internal/guard"
	"github.com/roach88/coach/internal/storage"
)

// seedStaleLock plants an already-expired lock row.
func seedStaleLock(t *testing.T, dbPath, resource string) {
	t.Helper()
	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	past := time.Now().UTC().Add(-time.Hour)
	_, err = st.Execute(context.Background(), `
		INSERT INTO write_locks (resource_name, holder_trace_id, acquired_at, expires_at)
		VALUES (?, 'crashed-run', ?, ?)
	`, resource, storage.FormatTime(past.Add(-guard.DefaultLockTTL)), storage.FormatTime(past))
	require.NoError(t, err)
}

func TestLocksNoneStale(t *testing.T) {
	opts := testRootOptions(t, newTestDB(t))

	out, _, err := execCommand(NewLocksCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "No stale locks")
}

func TestLocksListsStale(t *testing.T) {
	dbPath := newTestDB(t)
	seedStaleLock(t, dbPath, "doctor")
	opts := testRootOptions(t, dbPath)

	out, _, err := execCommand(NewLocksCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Stale locks: 1")
	assert.Contains(t, out, "doctor")
	assert.Contains(t, out, "crashed-run")
}

func TestLocksClear(t *testing.T) {
	dbPath := newTestDB(t)
	seedStaleLock(t, dbPath, "doctor")
	seedStaleLock(t, dbPath, "sync")
	opts := testRootOptions(t, dbPath)

	out, _, err := execCommand(NewLocksCommand(opts), "--clear")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleared 2 lock(s)")

	out, _, err = execCommand(NewLocksCommand(testRootOptions(t, dbPath)))
	require.NoError(t, err)
	assert.Contains(t, out, "No stale locks")
}

func TestLocksCleanupKeys(t *testing.T) {
	dbPath := newTestDB(t)

	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Hour)
	_, err = st.Execute(context.Background(), `
		INSERT INTO idempotency_keys (idempotency_key, resource_name, result_snapshot, created_at, expires_at)
		VALUES ('k1', 'doctor', '{}', ?, ?)
	`, storage.FormatTime(past.Add(-time.Hour)), storage.FormatTime(past))
	require.NoError(t, err)
	require.NoError(t, st.Close())

	opts := testRootOptions(t, dbPath)
	out, _, err := execCommand(NewLocksCommand(opts), "--cleanup-keys")
	require.NoError(t, err)
	assert.Contains(t, out, "Swept 1 expired idempotency record(s)")
}
