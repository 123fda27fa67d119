package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/sercha-sync/internal/core/domain"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect sync jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobList,
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobShow,
}

var jobListFlags struct {
	source string
	status string
	queue  string
	limit  int
}

func init() {
	f := jobListCmd.Flags()
	f.StringVar(&jobListFlags.source, "source", "", "only jobs of this source")
	f.StringVar(&jobListFlags.status, "status", "", "queued, running, completed or failed")
	f.StringVar(&jobListFlags.queue, "queue", "", "sync or process")
	f.IntVar(&jobListFlags.limit, "limit", 20, "maximum jobs to show")

	jobCmd.AddCommand(jobListCmd, jobShowCmd)
	rootCmd.AddCommand(jobCmd)
}

func runJobList(cmd *cobra.Command, _ []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	jobs, err := svc.Sources.Jobs(cmd.Context(), domain.JobFilter{
		SourceID: jobListFlags.source,
		Status:   domain.JobStatus(jobListFlags.status),
		Queue:    domain.QueueName(jobListFlags.queue),
		Limit:    jobListFlags.limit,
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		cmd.Println("No jobs.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSOURCE\tKIND\tSTATUS\tATTEMPT\tPROCESSED\tERRORS\tQUEUED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%d/%d\t%d\t%s\n",
			j.ID, j.SourceID, j.Kind, j.Status, j.Attempt, j.MaxAttempts,
			j.Progress.FilesProcessed, j.Progress.FilesTotal, j.Progress.Errors, formatTime(j.QueuedAt))
	}
	return w.Flush()
}

func runJobShow(cmd *cobra.Command, args []string) error {
	svc, err := loadServices()
	if err != nil {
		return err
	}
	j, err := svc.Sources.Job(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}

	cmd.Printf("Job:       %s\n", j.ID)
	cmd.Printf("Source:    %s\n", j.SourceID)
	cmd.Printf("Kind:      %s (%s queue)\n", j.Kind, j.Queue)
	cmd.Printf("Status:    %s\n", j.Status)
	cmd.Printf("Attempt:   %d of %d\n", j.Attempt, j.MaxAttempts)
	cmd.Printf("Queued:    %s\n", formatTime(j.QueuedAt))
	cmd.Printf("Started:   %s\n", formatTime(j.StartedAt))
	cmd.Printf("Completed: %s\n", formatTime(j.CompletedAt))
	p := j.Progress
	cmd.Printf("Progress:  %d/%d processed, %d skipped, %d deleted, %d errors\n",
		p.FilesProcessed, p.FilesTotal, p.FilesSkipped, p.FilesDeleted, p.Errors)
	if len(j.Changes) > 0 {
		cmd.Printf("Changes:   %d\n", len(j.Changes))
	}
	if j.UseChangeFeed {
		cmd.Println("Changes:   from provider change feed")
	}
	if len(j.Paths) > 0 {
		cmd.Printf("Paths:     %v\n", j.Paths)
	}
	if j.Resume != nil {
		cmd.Printf("Resume:    at file %d of %d\n", j.Resume.Next, len(j.Resume.Listed))
	}
	if j.LastError != "" {
		cmd.Printf("Error:     %s\n", j.LastError)
	}
	return nil
}
