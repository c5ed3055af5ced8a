package cli

import (
	"fmt"
	"log/slog"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/opsi-org/cachesync/internal/policy"
	"github.com/opsi-org/cachesync/internal/reconcile"
	"github.com/opsi-org/cachesync/internal/tracker"
)

var conflictColor = color.New(color.FgYellow)

// NewReconcileCommand replays the journaled mutation log against the
// authoritative store.
func NewReconcileCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Merge journaled local mutations back into the authoritative store",
		Long: `Reads the session's mutation journal, folds it, and reconciles it into the
authoritative store with the configured per-type merge policies. The journal
is cleared only after every entity type committed; a failed pass leaves it
intact for retry.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.JournalFile == "" {
				return WrapExitError(ExitCommandError, "reconcile", fmt.Errorf("config: journal_file is required"))
			}

			pol, err := loadPolicies(cfg.PolicyFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "load merge policies", err)
			}

			master, _, snapshot, closeAll, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			mlog, err := tracker.OpenJournal(cfg.JournalFile)
			if err != nil {
				return WrapExitError(ExitCommandError, "open mutation journal", err)
			}
			defer mlog.Close()

			engine := reconcile.New(pol, slog.Default())
			report, err := engine.Reconcile(cmd.Context(), mlog, master, snapshot)
			if err != nil {
				// Partial progress is already committed; the log keeps
				// the full session for a blind retry.
				printReport(opts, cmd, report)
				return WrapExitError(ExitFailure, "reconcile", err)
			}

			return printReport(opts, cmd, report)
		},
	}
}

func loadPolicies(path string) (*policy.Set, error) {
	if path == "" {
		return policy.Default()
	}
	return policy.LoadFile(path)
}

func printReport(opts *RootOptions, cmd *cobra.Command, report *reconcile.Report) error {
	out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return out.Success(report)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "reconciled %d type(s): %d deleted, %d upserted, %d skipped\n",
		len(report.TypesProcessed), report.Deleted, report.Upserted, report.Skipped)
	for _, c := range report.Conflicts {
		conflictColor.Fprintf(cmd.OutOrStdout(), "conflict: %s\n", c)
	}
	return nil
}
