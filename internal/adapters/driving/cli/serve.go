package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook receiver, workers and scheduler",
	Long: `Runs the sync engine until interrupted: the webhook receiver, the sync
and process worker pools, local folder watches and the maintenance scheduler.
Sources declared in the sources manifest are connected on start.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	if svc.Server == nil {
		return errors.New("server not configured")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := svc.Server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
