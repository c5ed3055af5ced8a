package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/opsi-org/cachesync/internal/config"
	"github.com/opsi-org/cachesync/internal/replicate"
	"github.com/opsi-org/cachesync/internal/store"
)

// NewBootstrapCommand replicates the authoritative store into the local
// and snapshot stores, establishing a new disconnected session.
func NewBootstrapCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap",
		Short: "Replicate authoritative state into the local and snapshot stores",
		Long: `Resets the local and snapshot stores, copies the selected subset of the
authoritative store into the local store, takes the verbatim baseline
snapshot, reserves licenses for pending work, and writes the offline
credential and metadata files.

A previous session's un-reconciled mutations are discarded: bootstrap
starts a fresh session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			master, local, snapshot, closeAll, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer closeAll()

			b := &replicate.Bootstrap{
				Master:         master,
				Local:          local,
				Snapshot:       snapshot,
				EndpointID:     cfg.EndpointID,
				DepotID:        cfg.DepotID,
				Selectors:      cfg.ReplicationSelectors(),
				Username:       cfg.Username,
				CredentialFile: cfg.CredentialFile,
				MetadataFile:   cfg.MetadataFile,
				Logger:         slog.Default(),
			}
			// The pass runs on a worker goroutine; the command blocks
			// on its completion box.
			if _, err := b.RunAsync(cmd.Context()).Await(); err != nil {
				if replicate.IsConfigError(err) {
					return WrapExitError(ExitCommandError, "bootstrap", err)
				}
				return WrapExitError(ExitFailure, "bootstrap", err)
			}

			// The rebuilt baseline invalidates any un-reconciled
			// mutations from the previous session: replaying them
			// against the fresh snapshot would push dead session
			// state upstream.
			if err := discardJournal(cfg.JournalFile); err != nil {
				return WrapExitError(ExitFailure, "discard stale mutation journal", err)
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(fmt.Sprintf("bootstrap complete for endpoint %s", cfg.EndpointID))
		},
	}
}

// discardJournal truncates the previous session's mutation journal. A
// missing file means there is nothing to discard.
func discardJournal(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Truncate(path, 0); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// openStores opens the three configured stores, closing any already-open
// ones on failure.
func openStores(cfg *config.Config) (master, local, snapshot store.Store, closeAll func(), err error) {
	var opened []store.Store
	closeAll = func() {
		for _, s := range opened {
			s.Close()
		}
	}
	open := func(name string, sc config.StoreConfig) (store.Store, error) {
		s, err := config.OpenStore(sc)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "open "+name+" store", err)
		}
		opened = append(opened, s)
		return s, nil
	}

	if master, err = open("master", cfg.Master); err != nil {
		closeAll()
		return nil, nil, nil, nil, err
	}
	if local, err = open("local", cfg.Local); err != nil {
		closeAll()
		return nil, nil, nil, nil, err
	}
	if snapshot, err = open("snapshot", cfg.Snapshot); err != nil {
		closeAll()
		return nil, nil, nil, nil, err
	}
	return master, local, snapshot, closeAll, nil
}
