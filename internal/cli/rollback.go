package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/rollback"
	"github.com/roach88/coach/internal/storage"
)

// RollbackOptions holds flags for the rollback command.
type RollbackOptions struct {
	*RootOptions
	EventID string
	Last    int
	DryRun  bool
}

// RollbackResult is the JSON payload for a rollback run.
type RollbackResult struct {
	Target        ledger.Event   `json:"target"`
	DryRun        bool           `json:"dry_run"`
	RevertCounts  map[string]int `json:"revert_counts"`
	SkippedCounts map[string]int `json:"skipped_counts"`
	Reverted      int            `json:"reverted"`
	Skipped       int            `json:"skipped"`
	Events        []ledger.Event `json:"events,omitempty"`
}

// NewRollbackCommand creates the rollback command.
func NewRollbackCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RollbackOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Revert state to an earlier point in the event ledger",
		Long: `Pick a target event, either explicitly with --event or as "keep
everything up to the Nth-newest event" with --last, then revert every
newer event by applying its inverse. Raw ingest data and coach
session/decision history are never reverted; their events are listed
separately as skipped.

Reversion is additive: each undone event gets a new rollback_applied
record, existing events are never touched.

Examples:
  coach rollback --last 3 --dry-run
  coach rollback --event 0192d7a0-5c1e-7a40-b0c4-2f9f3f6f2a11
  coach rollback --last 1 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRollback(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EventID, "event", "", "target event id to roll back to")
	cmd.Flags().IntVar(&opts.Last, "last", 0, "number of most-recent events to revert")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "preview the revert set without applying")
	cmd.MarkFlagsOneRequired("event", "last")
	cmd.MarkFlagsMutuallyExclusive("event", "last")

	return cmd
}

func runRollback(opts *RollbackOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	var plan rollback.Plan
	if opts.EventID != "" {
		plan, err = a.eng.PlanByEvent(ctx, opts.EventID)
	} else {
		plan, err = a.eng.PlanLast(ctx, opts.Last)
	}
	if err != nil {
		switch {
		case rollback.IsEventNotFound(err):
			return WrapExitError(ExitCommandError, "target event not found", err)
		case rollback.IsInsufficientHistory(err):
			return WrapExitError(ExitCommandError, "not enough history", err)
		case storage.IsUnavailable(err):
			return WrapExitError(ExitCommandError, "database unavailable", err)
		default:
			return WrapExitError(ExitCommandError, "rollback planning failed", err)
		}
	}

	result := RollbackResult{
		Target:        plan.Target,
		DryRun:        opts.DryRun,
		RevertCounts:  plan.RevertCounts(),
		SkippedCounts: plan.SkippedCounts(),
		Skipped:       len(plan.Skipped),
	}
	if opts.Verbose {
		result.Events = plan.Revert
	}

	if !opts.DryRun {
		res, err := a.eng.Apply(ctx, plan)
		if err != nil {
			return WrapExitError(ExitCommandError, "rollback apply failed", err)
		}
		result.Reverted = res.Reverted
	}

	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return f.JSON(result, "")
	}
	renderRollbackText(cmd.OutOrStdout(), plan, opts.DryRun, opts.Verbose)
	return nil
}

// renderRollbackText writes the revert plan, always separating events
// that will be reverted from events skipped as protected.
func renderRollbackText(w io.Writer, p rollback.Plan, dryRun, verbose bool) {
	if dryRun {
		fmt.Fprintln(w, "=== Rollback Plan (dry run) ===")
	} else {
		fmt.Fprintln(w, "=== Rollback Applied ===")
	}
	fmt.Fprintf(w, "Target event: %s (%s %s/%s)\n",
		p.Target.ID, p.Target.Action, p.Target.EntityType, p.Target.EntityID)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Events to revert: %d\n", len(p.Revert))
	counts := p.RevertCounts()
	for _, t := range rollback.EntityTypes(counts) {
		fmt.Fprintf(w, "  %-16s %d\n", t, counts[t])
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Events skipped (protected): %d\n", len(p.Skipped))
	skipped := p.SkippedCounts()
	for _, t := range rollback.EntityTypes(skipped) {
		fmt.Fprintf(w, "  %-16s %d\n", t, skipped[t])
	}

	if verbose && len(p.Revert) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Revert order (newest first):")
		for _, ev := range p.Revert {
			fmt.Fprintf(w, "  %s  %-7s %s/%s\n", ev.ID, ev.Action, ev.EntityType, ev.EntityID)
		}
	}
}
