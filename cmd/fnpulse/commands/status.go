package commands

import (
	"fmt"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/pulse/async"
)

// StatusCmd shows the status surface of one job
var StatusCmd = &cobra.Command{
	Use:   "status <job_id>",
	Short: "Show the status of a job",
	Long: `Show the status of a job: state, execution time, cost, and the result
(finished jobs) or error (failed jobs).

Examples:
  fnpulse status 6f1c2a9e-...           # Table view
  fnpulse status 6f1c2a9e-... -o json   # Same shape as GET /status/{job_id}`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

var statusOutput string

func init() {
	StatusCmd.Flags().StringVarP(&statusOutput, "output", "o", formatTable, "Output format: table, json, yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	database, queue, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := queue.GetJob(cmd.Context(), args[0])
	if err != nil {
		if errors.IsNotFoundError(err) {
			return errors.NewNotFoundError("job %s not found", args[0])
		}
		return err
	}
	view := job.StatusView()

	out := cmd.OutOrStdout()
	if handled, err := writeStructured(out, statusOutput, view); handled {
		return err
	}

	data := pterm.TableData{
		{"Field", "Value"},
		{"Job ID", job.ID},
		{"Function", job.Function},
		{"Runtime", string(job.Runtime)},
		{"Filename", job.Filename},
		{"Source", job.Source},
		{"Status", string(job.Status)},
		{"Worker", job.Meta.WorkerTag},
		{"Execution time", formatSeconds(view.ExecutionTime)},
		{"Cost", formatCost(view.Cost)},
		{"Retries", strconv.Itoa(view.Retries)},
		{"Created", formatTime(&job.CreatedAt)},
		{"Started", formatTime(job.StartedAt)},
		{"Completed", formatTime(job.CompletedAt)},
	}
	switch job.Status {
	case async.JobStatusFinished:
		data = append(data, []string{"Result", string(view.Result)})
	case async.JobStatusFailed:
		data = append(data, []string{"Error", view.Error})
	}

	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render status table")
	}
	fmt.Fprintln(out, table)
	return nil
}
