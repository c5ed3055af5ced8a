package cli

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/opsi-org/cachesync/internal/replicate"
	"github.com/opsi-org/cachesync/internal/tracker"
)

// statusData is the status command's payload.
type statusData struct {
	PendingMutations int               `json:"pendingMutations"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

func (s statusData) String() string {
	out := fmt.Sprintf("pending mutations: %d", s.PendingMutations)
	keys := make([]string, 0, len(s.Metadata))
	for k := range s.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out += fmt.Sprintf("\n%s = %s", k, s.Metadata[k])
	}
	return out
}

// NewStatusCommand reports the session's pending mutation count and the
// cached service metadata, entirely offline.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending mutations and cached service metadata",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			data := statusData{}
			if cfg.JournalFile != "" {
				if _, err := os.Stat(cfg.JournalFile); err == nil {
					mlog, err := tracker.OpenJournal(cfg.JournalFile)
					if err != nil {
						return WrapExitError(ExitCommandError, "open mutation journal", err)
					}
					data.PendingMutations = mlog.Len()
					mlog.Close()
				}
			}
			if cfg.MetadataFile != "" {
				if _, err := os.Stat(cfg.MetadataFile); err == nil {
					meta, err := replicate.ReadKeyValueFile(cfg.MetadataFile)
					if err != nil {
						return WrapExitError(ExitCommandError, "read metadata file", err)
					}
					data.Metadata = meta
				}
			}

			out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			return out.Success(data)
		},
	}
}
