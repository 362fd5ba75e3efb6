package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// SubmitCmd enqueues a job directly in the job database
var SubmitCmd = &cobra.Command{
	Use:   "submit <function>",
	Short: "Enqueue a function invocation",
	Long: `Enqueue a function invocation and print its job id.

The job is written straight to the job database, so the server does not
need to be reachable; any running worker will pick it up.

Examples:
  fnpulse submit sample_sum --runtime native --payload '{"a":1,"b":2}'
  fnpulse submit resize --filename images/resize.py --payload '{"w":64}'`,
	Args: cobra.ExactArgs(1),
	RunE: runSubmit,
}

var (
	submitPayload  string
	submitRuntime  string
	submitFilename string
)

func init() {
	SubmitCmd.Flags().StringVarP(&submitPayload, "payload", "p", "{}", "JSON object passed to the function")
	SubmitCmd.Flags().StringVarP(&submitRuntime, "runtime", "r", string(sandbox.DefaultRuntime), "Runtime: python, node or native")
	SubmitCmd.Flags().StringVarP(&submitFilename, "filename", "f", "", "Script path under the functions directory (default: <function>.py|.js)")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	if !json.Valid([]byte(submitPayload)) {
		return errors.NewInvalidRequestError("payload is not valid JSON: %s", submitPayload)
	}

	database, queue, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	job, err := queue.Enqueue(cmd.Context(), async.JobSpec{
		Function: args[0],
		Payload:  json.RawMessage(submitPayload),
		Runtime:  sandbox.Runtime(submitRuntime),
		Filename: submitFilename,
		Source:   async.SourceCLI,
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), job.ID)
	return nil
}
