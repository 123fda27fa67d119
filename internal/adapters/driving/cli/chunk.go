package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Manage indexed chunks",
}

var chunkReprocessCmd = &cobra.Command{
	Use:   "reprocess <chunk-id>",
	Short: "Re-embed a chunk",
	Long: `Re-embeds a chunk from its retained body. When the retention tier kept
no body the chunk's file is queued for a single-file job instead.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunkReprocess,
}

var chunkStatsCmd = &cobra.Command{
	Use:   "stats <tenant-id>",
	Short: "Show chunk storage stats for a tenant",
	Args:  cobra.ExactArgs(1),
	RunE:  runChunkStats,
}

func init() {
	chunkCmd.AddCommand(chunkReprocessCmd, chunkStatsCmd)
	rootCmd.AddCommand(chunkCmd)
}

func runChunkReprocess(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	jobID, err := svc.Sync.Reprocess(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("reprocess failed: %w", err)
	}
	if jobID == "" {
		cmd.Printf("Chunk %s re-embedded.\n", args[0])
		return nil
	}
	cmd.Printf("No retained body, queued single-file job %s\n", jobID)
	return nil
}

func runChunkStats(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	stats, err := svc.Sources.Stats(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	cmd.Printf("Tenant:   %s\n", args[0])
	cmd.Printf("Total:    %d\n", stats.Total)
	cmd.Printf("Embedded: %d\n", stats.Embedded)
	cmd.Printf("Pending:  %d\n", stats.Pending)
	cmd.Printf("Failed:   %d\n", stats.Failed)
	cmd.Printf("Removed:  %d\n", stats.Removed)
	return nil
}
