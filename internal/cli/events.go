package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/coach/internal/ledger"
	"github.com/roach88/coach/internal/storage"
)

// EventsOptions holds flags for the events command.
type EventsOptions struct {
	*RootOptions
	EntityType string
	EntityID   string
	Last       int
	Since      string
	Counts     bool
}

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EventsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect the event ledger",
		Long: `Query the append-only mutation history: the full trail of one
entity, the most recent events overall, everything since a point in
time, or aggregate counts by entity type and action.

Examples:
  coach events --last 20
  coach events --entity biomarker --id a1
  coach events --since 2026-08-01T00:00:00Z
  coach events --counts`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvents(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.EntityType, "entity", "", "entity type to filter by")
	cmd.Flags().StringVar(&opts.EntityID, "id", "", "entity id (requires --entity)")
	cmd.Flags().IntVar(&opts.Last, "last", 0, "show the N newest events")
	cmd.Flags().StringVar(&opts.Since, "since", "", "show events at or after this RFC 3339 time")
	cmd.Flags().BoolVar(&opts.Counts, "counts", false, "aggregate counts by entity type and action")
	cmd.MarkFlagsRequiredTogether("entity", "id")

	return cmd
}

func runEvents(opts *EventsOptions, cmd *cobra.Command) error {
	a, err := openApp(opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	f := &OutputFormatter{Format: opts.Format, Writer: out}

	switch {
	case opts.Counts:
		counts, err := a.led.CountsByEntityAction(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to count events", err)
		}
		if opts.Format == "json" {
			return f.JSON(counts, "")
		}
		renderEventCounts(out, counts)
		return nil

	case opts.EntityType != "":
		events, err := a.led.EventsForEntity(ctx, opts.EntityType, opts.EntityID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read entity history", err)
		}
		return renderEvents(f, out, opts, events)

	case opts.Since != "":
		since, err := parseSince(opts.Since)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --since value", err)
		}
		events, err := a.led.EventsSince(ctx, since)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		return renderEvents(f, out, opts, events)

	default:
		n := opts.Last
		if n <= 0 {
			n = 10
		}
		events, err := a.led.RecentEvents(ctx, n)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read events", err)
		}
		return renderEvents(f, out, opts, events)
	}
}

// parseSince accepts plain RFC 3339 as well as the ledger's own
// fixed-width timestamp format.
func parseSince(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return storage.ParseTime(s)
}

func renderEvents(f *OutputFormatter, w io.Writer, opts *EventsOptions, events []ledger.Event) error {
	if opts.Format == "json" {
		return f.JSON(events, "")
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "(no events)")
		return nil
	}
	for _, ev := range events {
		fmt.Fprintf(w, "%s  %s  %-7s %s/%s  source=%s\n",
			ev.ID, storage.FormatTime(ev.Timestamp), ev.Action, ev.EntityType, ev.EntityID, ev.Source)
		if opts.Verbose {
			fmt.Fprintf(w, "    diff: %s\n", ev.DiffJSON)
			if ev.Reason != "" {
				fmt.Fprintf(w, "    reason: %s\n", ev.Reason)
			}
		}
	}
	return nil
}

func renderEventCounts(w io.Writer, counts []ledger.EventCount) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "(no events)")
		return
	}
	for _, c := range counts {
		fmt.Fprintf(w, "%-16s %-16s %d\n", c.EntityType, c.Action, c.Count)
	}
}
