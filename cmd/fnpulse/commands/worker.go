package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/am"
	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/functions"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/autoscale"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// WorkerCmd runs a single worker process
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one worker process",
	Long: `Run one worker process: claim a queued job, execute it, record the
outcome, repeat.

The server spawns workers itself; run this by hand only with
'fnpulse serve --no-autoscale'. The worker tag comes from --tag, then the
WORKER_TAG environment variable, then a generated name.

SIGTERM (or Ctrl+C) finishes the job in flight and exits. SIGKILL stops
the worker immediately and leaves its job in status running.`,
	RunE: runWorker,
}

var workerTag string

func init() {
	WorkerCmd.Flags().StringVar(&workerTag, "tag", "", "Worker tag recorded on claimed jobs (default: $WORKER_TAG)")
}

// resolveWorkerTag picks the tag from the flag, the environment, or a fresh id
func resolveWorkerTag(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(autoscale.WorkerTagEnv); env != "" {
		return env
	}
	return "worker-" + uuid.NewString()[:8]
}

// newExecutor builds the sandbox executor from configuration
func newExecutor(cfg *am.Config) (*sandbox.Executor, error) {
	runner, err := sandbox.NewContainerRunner(sandbox.ContainerRunnerConfig{
		Command:     cfg.Sandbox.ContainerCommand,
		KillCommand: cfg.Sandbox.KillCommand,
		PythonImage: cfg.Sandbox.PythonImage,
		NodeImage:   cfg.Sandbox.NodeImage,
	})
	if err != nil {
		return nil, err
	}

	natives := sandbox.NewRegistry()
	functions.RegisterBuiltins(natives)

	return sandbox.NewExecutor(sandbox.Config{
		FunctionsDir: cfg.Functions.Dir,
		Timeout:      cfg.Sandbox.Timeout(),
	}, runner, natives, logger.Logger), nil
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	database, queue, err := openQueue(cmd)
	if err != nil {
		return err
	}
	defer database.Close()

	executor, err := newExecutor(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create executor")
	}

	ctx, stop := signal.NotifyContext(logger.WithComponent(context.Background(), "worker"), os.Interrupt, syscall.SIGTERM)
	defer stop()

	worker := async.NewWorker(queue, executor, async.WorkerConfig{
		Tag:          resolveWorkerTag(workerTag),
		PollInterval: cfg.Worker.PollInterval(),
	}, logger.Logger)

	return worker.Run(ctx)
}
