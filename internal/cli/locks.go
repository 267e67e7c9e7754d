package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/coach/internal/guard"
	"github.com/roach88/coach/internal/storage"
)

// LocksOptions holds flags for the locks command.
type LocksOptions struct {
	*RootOptions
	Clear       bool
	CleanupKeys bool
}

// LocksResult is the JSON payload for a locks run.
type LocksResult struct {
	Stale     []guard.WriteLock `json:"stale"`
	Cleared   int64             `json:"cleared,omitempty"`
	KeysSwept int64             `json:"keys_swept,omitempty"`
}

// NewLocksCommand creates the locks command.
func NewLocksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LocksOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and sweep write locks and idempotency records",
		Long: `List write locks whose TTL has expired. Expired locks are harmless
(any acquisition supersedes them) but indicate a crashed run.

--clear forcibly removes ALL locks, live ones included. It exists as an
administrative escape hatch and should never be part of a normal flow.

--cleanup-keys deletes expired idempotency records.

Examples:
  coach locks
  coach locks --cleanup-keys
  coach locks --clear`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLocks(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Clear, "clear", false, "forcibly remove all locks, including live ones")
	cmd.Flags().BoolVar(&opts.CleanupKeys, "cleanup-keys", false, "delete expired idempotency records")

	return cmd
}

func runLocks(opts *LocksOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var result LocksResult

	stale, err := a.coord.StaleLocks(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list stale locks", err)
	}
	result.Stale = stale

	if opts.Clear {
		cleared, err := a.coord.ClearAllLocks(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to clear locks", err)
		}
		result.Cleared = cleared
	}
	if opts.CleanupKeys {
		swept, err := a.coord.CleanupIdempotencyKeys(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to sweep idempotency keys", err)
		}
		result.KeysSwept = swept
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return f.JSON(result, "")
	}
	renderLocksText(cmd.OutOrStdout(), result, opts)
	return nil
}

func renderLocksText(w io.Writer, result LocksResult, opts *LocksOptions) {
	if len(result.Stale) == 0 {
		fmt.Fprintln(w, "No stale locks")
	} else {
		fmt.Fprintf(w, "Stale locks: %d\n", len(result.Stale))
		for _, l := range result.Stale {
			fmt.Fprintf(w, "  %-12s holder=%s expired=%s\n",
				l.ResourceName, l.HolderTraceID, storage.FormatTime(l.ExpiresAt))
		}
	}
	if opts.Clear {
		fmt.Fprintf(w, "Cleared %d lock(s)\n", result.Cleared)
	}
	if opts.CleanupKeys {
		fmt.Fprintf(w, "Swept %d expired idempotency record(s)\n", result.KeysSwept)
	}
}
