package commands

import (
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/pulse/async"
)

// JobsCmd lists recent jobs
var JobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List recent jobs",
	Long: `List recent jobs, newest first.

Examples:
  fnpulse jobs                          # Last 20 jobs
  fnpulse jobs --status failed          # Only failures
  fnpulse jobs --limit 100 -o json      # Machine-readable`,
	Args: cobra.NoArgs,
	RunE: runJobs,
}

var (
	jobsStatus string
	jobsLimit  int
	jobsOutput string
)

func init() {
	JobsCmd.Flags().StringVar(&jobsStatus, "status", "", "Filter by status (queued, running, finished, failed)")
	JobsCmd.Flags().IntVar(&jobsLimit, "limit", 20, "Maximum number of jobs to display")
	JobsCmd.Flags().StringVarP(&jobsOutput, "output", "o", formatTable, "Output format: table, json, yaml")
}

func runJobs(cmd *cobra.Command, args []string) error {
	var status *async.JobStatus
	if jobsStatus != "" {
		if !async.IsValidStatus(jobsStatus) {
			return errors.NewInvalidRequestError("invalid status: %s (expected queued, running, finished or failed)", jobsStatus)
		}
		s := async.JobStatus(jobsStatus)
		status = &s
	}

	database, queue, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	jobs, err := queue.ListJobs(cmd.Context(), status, jobsLimit)
	if err != nil {
		return errors.Wrap(err, "failed to list jobs")
	}

	out := cmd.OutOrStdout()
	if jobs == nil {
		jobs = []*async.Job{}
	}
	if handled, err := writeStructured(out, jobsOutput, jobs); handled {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs found")
		return nil
	}

	data := pterm.TableData{{"JOB ID", "STATUS", "FUNCTION", "RUNTIME", "TIME", "COST", "CREATED"}}
	for _, job := range jobs {
		data = append(data, []string{
			job.ID,
			string(job.Status),
			truncate(job.Function, 25),
			string(job.Runtime),
			formatSeconds(job.Meta.ExecutionTime),
			formatCost(job.Meta.Cost),
			formatTime(&job.CreatedAt),
		})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render jobs table")
	}
	fmt.Fprintln(out, table)
	fmt.Fprintf(out, "\nTotal: %d job(s)\n", len(jobs))
	return nil
}
