package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/coach/internal/storage"
)

// InitResult describes a completed init run.
type InitResult struct {
	Path    string `json:"path"`
	Created bool   `json:"created"`
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or upgrade the database schema",
		Long: `Create the database file and apply the schema, or bring an existing
file up to the current schema version. Running init repeatedly is safe.

Examples:
  coach init
  coach init --db ./coach.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(rootOpts, cmd)
		},
	}
	return cmd
}

func runInit(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	// Created vs upgraded only matters for the message.
	_, statErr := os.Stat(cfg.DBPath)
	existed := statErr == nil

	st, err := storage.Open(cfg.DBPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize database", err)
	}
	defer st.Close()

	// Sanity check that the core table is queryable before reporting ok.
	if ok, err := st.TableExists(context.Background(), "events"); err != nil || !ok {
		return WrapExitError(ExitCommandError, "schema verification after init failed", err)
	}

	result := InitResult{Path: st.Path(), Created: !existed}
	if opts.Format == "json" {
		f := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		return f.JSON(result, "")
	}

	if result.Created {
		fmt.Fprintf(cmd.OutOrStdout(), "Initialized new database at %s\n", result.Path)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Database at %s is up to date\n", result.Path)
	}
	return nil
}
