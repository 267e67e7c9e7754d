package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/coach/internal/config"
	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/row"
	"github.com/roach88/coach/internal/storage"
)

// testRootOptions builds root options bound to an isolated database
// path, neutralizing any config file or environment override.
func testRootOptions(t *testing.T, dbPath string) *RootOptions {
	t.Helper()
	t.Setenv(config.EnvDBPath, "")
	return &RootOptions{
		Format:     "text",
		Database:   dbPath,
		ConfigPath: filepath.Join(t.TempDir(), "no-config.yaml"),
	}
}

// newTestDB creates an initialized database and returns its path.
func newTestDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "coach.db")
	st, err := storage.Open(path)
	require.NoError(t, err)
	require.NoError(t, st.Close())
	return path
}

// seedRow inserts one row through the ledger and returns its id.
func seedRow(t *testing.T, dbPath, entityType string, r row.Row) string {
	t.Helper()
	st, err := storage.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	id, err := ledger.New(st).InsertWithEvent(context.Background(), entityType, r, ledger.Meta{Source: "test"})
	require.NoError(t, err)
	return id
}

// execCommand runs a command with args and captures stdout and stderr.
func execCommand(cmd *cobra.Command, args ...string) (string, string, error) {
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), errBuf.String(), err
}
