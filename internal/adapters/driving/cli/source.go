package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Manage sources",
}

var sourceAddCmd = &cobra.Command{
	Use:   "add <provider>",
	Short: "Connect a source and queue its initial sync",
	Long: `Validates the provider credential, stores the source, registers its
webhook and queues the initial full sync.

Examples:
  sercha-sync source add github --setting repository=acme/api --exclude 'vendor/**'
  sercha-sync source add local --setting root_path=/srv/notes`,
	Args: cobra.ExactArgs(1),
	RunE: runSourceAdd,
}

var sourceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sources",
	Args:  cobra.NoArgs,
	RunE:  runSourceList,
}

var sourceRemoveCmd = &cobra.Command{
	Use:   "remove <source-id>",
	Short: "Disconnect a source and remove its files",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceRemove,
}

var sourceStatusCmd = &cobra.Command{
	Use:   "status <source-id>",
	Short: "Show sync status and live progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourceStatus,
}

var sourceAddFlags struct {
	id        string
	name      string
	tenant    string
	user      string
	branch    string
	secret    string
	maxSizeMB int64
	include   []string
	exclude   []string
	languages []string
	settings  map[string]string
}

func init() {
	f := sourceAddCmd.Flags()
	f.StringVar(&sourceAddFlags.id, "id", "", "source id (generated when empty)")
	f.StringVar(&sourceAddFlags.name, "name", "", "display name")
	f.StringVar(&sourceAddFlags.tenant, "tenant", "", "tenant id")
	f.StringVar(&sourceAddFlags.user, "user", "", "owner user id for credential lookup")
	f.StringVar(&sourceAddFlags.branch, "branch", "", "branch to sync (Git providers)")
	f.StringVar(&sourceAddFlags.secret, "webhook-secret", "", "shared webhook secret")
	f.Int64Var(&sourceAddFlags.maxSizeMB, "max-file-size-mb", 0, "skip files larger than this")
	f.StringSliceVar(&sourceAddFlags.include, "include", nil, "include glob (repeatable)")
	f.StringSliceVar(&sourceAddFlags.exclude, "exclude", nil, "exclude glob (repeatable)")
	f.StringSliceVar(&sourceAddFlags.languages, "language", nil, "language filter (repeatable)")
	f.StringToStringVar(&sourceAddFlags.settings, "setting", nil, "provider setting key=value (repeatable)")

	sourceCmd.AddCommand(sourceAddCmd, sourceListCmd, sourceRemoveCmd, sourceStatusCmd)
	rootCmd.AddCommand(sourceCmd)
}

func runSourceAdd(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	provider, err := domain.ParseProviderType(args[0])
	if err != nil {
		return err
	}

	f := sourceAddFlags
	src := domain.Source{
		ID:       f.id,
		Name:     f.name,
		TenantID: f.tenant,
		UserID:   f.user,
		Provider: provider,
		Config: domain.SourceConfig{
			IncludePaths:     f.include,
			ExcludePaths:     f.exclude,
			Languages:        f.languages,
			Branch:           f.branch,
			MaxFileSizeBytes: f.maxSizeMB * 1024 * 1024,
			WebhookSecret:    f.secret,
			Settings:         f.settings,
		},
	}

	callback := ""
	if svc.CallbackURL != nil {
		callback = svc.CallbackURL(provider)
	}

	stored, err := svc.Sync.Connect(cmd.Context(), src, callback)
	if err != nil {
		return fmt.Errorf("connect source: %w", err)
	}

	cmd.Printf("Connected %s source %s\n", stored.Provider, stored.ID)
	if stored.Webhook != nil {
		cmd.Printf("Change notifications: %s (%s)\n", stored.Webhook.Kind, stored.Webhook.ID)
	}
	cmd.Println("Initial sync queued.")
	return nil
}

func runSourceList(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	sources, err := svc.Sources.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		cmd.Println("No sources configured.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROVIDER\tSTATUS\tLAST SYNC\tNAME")
	for _, s := range sources {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Provider, s.Status, formatTime(s.LastSyncAt), s.Name)
	}
	return w.Flush()
}

func runSourceRemove(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	if err := svc.Sync.Disconnect(cmd.Context(), args[0]); err != nil {
		return fmt.Errorf("disconnect source: %w", err)
	}
	cmd.Printf("Source %s disconnected.\n", args[0])
	return nil
}

func runSourceStatus(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	status, err := svc.Sync.Status(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	cmd.Printf("Source:    %s\n", status.SourceID)
	cmd.Printf("State:     %s\n", status.State)
	cmd.Printf("Last sync: %s\n", formatTime(status.LastSyncAt))
	if status.LastError != "" {
		cmd.Printf("Error:     %s\n", status.LastError)
	}
	if status.JobID != "" {
		p := status.Progress
		cmd.Printf("Job:       %s (running: %t)\n", status.JobID, status.Running)
		cmd.Printf("Progress:  %d/%d processed, %d skipped, %d deleted, %d errors\n",
			p.FilesProcessed, p.FilesTotal, p.FilesSkipped, p.FilesDeleted, p.Errors)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
