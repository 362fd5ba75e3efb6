package commands

import (
	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/am"
	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
)

// RootCmd is the fnpulse entry point
var RootCmd = &cobra.Command{
	Use:   "fnpulse",
	Short: "fnpulse - function execution as a service",
	Long: `fnpulse - queue, run and price functions on an autoscaled worker pool.

Clients submit a function name and a JSON payload. fnpulse queues the job,
runs it in a python or node container (or in-process for native functions),
and records the result, execution time and cost.

Available commands:
  serve   - Start the HTTP server, autoscaler and trigger dispatcher
  worker  - Run one worker process (spawned by serve)
  submit  - Enqueue a job from the command line
  status  - Show the status of a job
  jobs    - List recent jobs
  am      - Show and validate configuration ("I am")
  db      - Manage the job database
  version - Show build information

Examples:
  fnpulse serve -v                          # Start serving with info logs
  fnpulse submit sample_sum --runtime native --payload '{"a":1,"b":2}'
  fnpulse status 6f1c...                    # Inspect a job
  fnpulse am show --format yaml             # Effective configuration`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
			am.SetConfigFile(configFile)
		}
		return initLogger(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	RootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	RootCmd.PersistentFlags().String("config", "", "Config file (default: am.toml search path)")
	RootCmd.PersistentFlags().String("db", "", "Database path (overrides database.path)")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(WorkerCmd)
	RootCmd.AddCommand(SubmitCmd)
	RootCmd.AddCommand(StatusCmd)
	RootCmd.AddCommand(JobsCmd)
	RootCmd.AddCommand(AmCmd)
	RootCmd.AddCommand(DbCmd)
	RootCmd.AddCommand(VersionCmd)
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// logComponents maps long-running commands to their log file name.
// Other commands log to stdout only.
var logComponents = map[string]string{
	"serve":  "server",
	"worker": "worker",
}

// initLogger builds the global logger. -v flags win over log.level. An
// unreadable config falls back to defaults so `am validate` can still
// report the problem.
func initLogger(cmd *cobra.Command) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	opts := logger.Options{Level: logger.VerbosityToLevel(verbosity)}
	component, longRunning := logComponents[cmd.Name()]

	cfg, err := am.Load()
	if err == nil {
		opts.JSON = cfg.Log.JSON
		if longRunning {
			opts.Component = component
			opts.Dir = cfg.Log.Dir
			if verbosity == 0 {
				opts.Level = logger.ParseLevel(cfg.Log.Level)
			}
		}
	}

	if err := logger.Initialize(opts); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}
