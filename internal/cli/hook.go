package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewHookCommand creates the hook command group for automation callers.
func NewHookCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hook",
		Short: "Entry points for automated callers",
	}
	cmd.AddCommand(newPreSyncCommand(rootOpts))
	return cmd
}

// newPreSyncCommand creates the pre-sync integrity gate. Exit code 1
// means "blocking issues, do not sync". Any internal failure of the
// check itself exits 0: a broken checker must not halt every sync.
func newPreSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pre-sync",
		Short: "Integrity gate run before an automated sync",
		Long: `Run the read-only doctor check and decide whether a sync may
proceed. Blocks (exit 1) only on an explicit critical finding; exits 0
on a clean report and also on any internal error of the check itself,
with a warning on stderr.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreSync(rootOpts, cmd)
		},
	}
	return cmd
}

func runPreSync(opts *RootOptions, cmd *cobra.Command) error {
	a, err := openApp(opts)
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: pre-sync check skipped: %v\n", err)
		return nil
	}
	defer a.Close()

	report, err := a.doc.Check(cmd.Context())
	if err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: pre-sync check failed: %v\n", err)
		return nil
	}

	if report.HasBlockingErrors {
		renderDoctorText(cmd.OutOrStdout(), report, false, opts.Verbose)
		return NewExitError(ExitFailure, "sync blocked: critical issues found")
	}

	if report.IssuesFound > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "pre-sync: ok (%d non-blocking issue(s) open)\n", report.IssuesFound)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "pre-sync: ok")
	}
	return nil
}
