package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/roach88/coach/internal/doctor"
	"github.com/roach88/coach/internal/guard"
)

// DoctorOptions holds flags for the doctor command.
type DoctorOptions struct {
	*RootOptions
	Fix            bool
	TraceID        string
	IdempotencyKey string
}

// NewDoctorCommand creates the doctor command.
func NewDoctorCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DoctorOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check data integrity, optionally repairing safe issues",
		Long: `Verify the schema, scan for anomalies, and report every open issue.

Without --fix this is read-only and takes no lock. With --fix the run
is serialized under the "doctor" write lock and issue types with a
known-safe repair are fixed automatically; everything else stays open
for manual handling.

An idempotency key makes a retried --fix run return the first run's
result instead of repairing twice.

Examples:
  coach doctor
  coach doctor --fix
  coach doctor --fix --idempotency-key nightly-2026-09-01 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Fix, "fix", false, "repair auto-fixable issues under the doctor lock")
	cmd.Flags().StringVar(&opts.TraceID, "trace-id", "", "trace correlation id (generated when empty)")
	cmd.Flags().StringVar(&opts.IdempotencyKey, "idempotency-key", "", "replay a prior --fix result for the same key")

	return cmd
}

func runDoctor(opts *DoctorOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	traceID := opts.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}

	ctx := cmd.Context()
	var (
		report doctor.Report
		cached bool
	)
	if opts.Fix {
		report, cached, err = a.doc.CheckAndFix(ctx, traceID, opts.IdempotencyKey)
	} else {
		report, err = a.doc.Check(ctx)
		report.TraceID = traceID
	}
	if err != nil {
		switch {
		case doctor.IsNotInitialized(err):
			return WrapExitError(ExitCommandError, "database not initialized", err)
		case guard.IsLockContended(err):
			return WrapExitError(ExitCommandError, "another doctor run holds the lock", err)
		default:
			return WrapExitError(ExitCommandError, "doctor run failed", err)
		}
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if err := f.JSON(report, report.TraceID); err != nil {
			return err
		}
	} else {
		renderDoctorText(cmd.OutOrStdout(), report, cached, opts.Verbose)
	}

	if report.HasBlockingErrors {
		return NewExitError(ExitFailure, "blocking issues found")
	}
	return nil
}

// renderDoctorText writes the human-readable report. Output is fully
// determined by the report contents.
func renderDoctorText(w io.Writer, r doctor.Report, cached, verbose bool) {
	fmt.Fprintln(w, "=== Doctor Report ===")
	if cached {
		fmt.Fprintln(w, "(replayed from idempotency record)")
	}
	fmt.Fprintf(w, "Schema valid:    %s\n", yesNo(r.SchemaValid))
	fmt.Fprintf(w, "Issues found:    %d\n", r.IssuesFound)
	fmt.Fprintf(w, "Issues fixed:    %d\n", r.IssuesFixed)
	fmt.Fprintf(w, "Blocking errors: %s\n", yesNo(r.HasBlockingErrors))

	if len(r.IssuesByType) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Open issues by type:")
		for _, t := range sortedKeys(r.IssuesByType) {
			fmt.Fprintf(w, "  %-22s %d\n", t, r.IssuesByType[t])
		}
	}

	if verbose && len(r.Details) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Details:")
		for _, issue := range r.Details {
			fmt.Fprintf(w, "  [%s] %s: %s\n", issue.Severity, issue.IssueType, issue.Description)
			if issue.SuggestedFix != "" {
				fmt.Fprintf(w, "      fix: %s\n", issue.SuggestedFix)
			}
		}
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
