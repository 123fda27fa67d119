package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

var syncCmd = &cobra.Command{
	Use:   "sync <source-id>",
	Short: "Queue a sync for a source",
	Long: `Queues a sync job for a source. Incremental syncs read the provider's
change feed and merge into an already queued incremental job.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var syncRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Queue a new job carrying the work of a failed job",
	Args:  cobra.ExactArgs(1),
	RunE:  runSyncRetry,
}

var (
	syncFull        bool
	syncIncremental bool
)

func init() {
	syncCmd.Flags().BoolVar(&syncFull, "full", false, "re-list every file (default)")
	syncCmd.Flags().BoolVar(&syncIncremental, "incremental", false, "apply changes since the stored cursor")
	syncCmd.MarkFlagsMutuallyExclusive("full", "incremental")

	syncCmd.AddCommand(syncRetryCmd)
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}

	kind := domain.JobKindFull
	if syncIncremental {
		kind = domain.JobKindIncremental
	}

	jobID, err := svc.Sync.Trigger(cmd.Context(), args[0], kind)
	if err != nil {
		if errors.Is(err, domain.ErrSourceDisconnected) {
			return fmt.Errorf("source %s is disconnected", args[0])
		}
		return fmt.Errorf("sync failed: %w", err)
	}
	cmd.Printf("Queued %s sync for %s: job %s\n", kind, args[0], jobID)
	return nil
}

func runSyncRetry(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	jobID, err := svc.Sync.Retry(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("retry failed: %w", err)
	}
	cmd.Printf("Queued job %s to retry %s\n", jobID, args[0])
	return nil
}
