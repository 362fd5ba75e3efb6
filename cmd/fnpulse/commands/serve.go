package commands

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/fnpulse/am"
	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/autoscale"
	"github.com/teranos/fnpulse/pulse/trigger"
	"github.com/teranos/fnpulse/server"
)

// ServeCmd starts the HTTP server, the autoscaler and the trigger dispatcher
var ServeCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"server"},
	Short:   "Start the fnpulse server",
	Long: `Start the fnpulse server.

The server process runs:
- the HTTP API (submit, upload, status, triggers, events, metrics)
- the autoscaler, which keeps between min_workers and max_workers worker
  processes alive based on queue depth
- the trigger dispatcher, which checks interval triggers every trigger.tick_interval_ms

Press Ctrl+C once for a graceful shutdown, twice to force exit.`,
	RunE: runServe,
}

var (
	serveNoAutoscale bool
	servePort        int
)

func init() {
	ServeCmd.Flags().BoolVar(&serveNoAutoscale, "no-autoscale", false, "Do not spawn worker processes (run workers yourself)")
	ServeCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides server.port)")
}

// autoscaleConfig converts the configured policy into autoscaler terms
func autoscaleConfig(c am.AutoscalerConfig) autoscale.Config {
	return autoscale.Config{
		TickInterval:  c.TickInterval(),
		MinWorkers:    c.MinWorkers,
		MaxWorkers:    c.MaxWorkers,
		JobsPerWorker: c.JobsPerWorker,
		SpawnStagger:  c.SpawnStagger(),
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	verbosity, _ := cmd.Flags().GetCount("verbose")

	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}

	dbPath, _ := cmd.Flags().GetString("db")
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}
	database, err := openDatabase(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	queue := async.NewQueue(database)
	log := logger.Logger

	// Jobs left running by a previous server are not requeued; report them
	if orphans, err := queue.CountRunning(cmd.Context()); err != nil {
		log.Warnw("Failed to count orphaned jobs", logger.FieldError, err)
	} else if orphans > 0 {
		logger.PulseWarnw("Jobs left running by a previous run will not be resumed", logger.FieldCount, orphans)
	}

	registry := trigger.NewRegistry()
	registry.SetDefaultInterval(cfg.Trigger.DefaultIntervalSeconds)
	dispatcher := trigger.NewDispatcher(registry, queue, cfg.Trigger.TickInterval(), log)

	var (
		scaler     *autoscale.Autoscaler
		supervisor *autoscale.Supervisor
	)
	if !serveNoAutoscale {
		spawner, err := autoscale.NewProcessSpawner(am.ConfigFile(), log)
		if err != nil {
			return err
		}
		if dbPath != cfg.Database.Path {
			spawner.Args = []string{"--db", dbPath}
		}
		supervisor = autoscale.NewSupervisor(spawner, cfg.Autoscaler.GracePeriod(), log)
		scaler = autoscale.New(queue, supervisor, autoscaleConfig(cfg.Autoscaler), log)
	}

	opts := server.Options{
		Queue:          queue,
		Dispatcher:     dispatcher,
		FunctionsDir:   cfg.Functions.Dir,
		MaxUploadSize:  cfg.Functions.MaxUploadSize,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	}
	if scaler != nil {
		opts.Scaler = scaler
	}
	srv, err := server.New(opts)
	if err != nil {
		return errors.Wrap(err, "failed to create server")
	}

	watcher := watchConfig(scaler, supervisor)

	printStartupBanner(verbosity, cfg, dbPath, scaler != nil)

	dispatcher.Start()
	if scaler != nil {
		scaler.Start()
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(cfg.Server.Addr())
	}()
	logger.PulseOpenInfow("fnpulse serving",
		"addr", cfg.Server.Addr(),
		"autoscaling", scaler != nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var serveErr error
	select {
	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = errors.Wrap(err, "server failed")
		}
		pterm.Warning.Println("HTTP server stopped, shutting down")
	case <-sigChan:
		pterm.Info.Println("Shutting down gracefully (press Ctrl+C again to force)...")
	}

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- shutdown(srv, dispatcher, scaler, watcher)
	}()

	select {
	case err := <-shutdownDone:
		if err != nil {
			return errors.Wrap(err, "shutdown error")
		}
		if serveErr != nil {
			return serveErr
		}
		logger.PulseCloseInfow("fnpulse stopped")
		pterm.Success.Println("fnpulse stopped cleanly")
		return nil
	case <-sigChan:
		pterm.Warning.Println("Force shutdown - exiting immediately")
		os.Exit(1)
		return nil
	}
}

// shutdown stops the front door first so no new work arrives, then the
// trigger dispatcher, then the worker pool
func shutdown(srv *server.Server, dispatcher *trigger.Dispatcher, scaler *autoscale.Autoscaler, watcher *am.ConfigWatcher) error {
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			logger.Warnw("Failed to stop config watcher", logger.FieldError, err)
		}
	}

	ctx := context.Background()
	var errs error
	if err := srv.Stop(ctx); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	dispatcher.Stop()
	if scaler != nil {
		if err := scaler.Stop(ctx); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// watchConfig applies new autoscaler bounds and grace period when the
// config file changes. Returns nil when there is no file to watch.
func watchConfig(scaler *autoscale.Autoscaler, supervisor *autoscale.Supervisor) *am.ConfigWatcher {
	path := am.ConfigFile()
	if path == "" || scaler == nil {
		return nil
	}

	watcher, err := am.NewConfigWatcher(path)
	if err != nil {
		logger.Warnw("Config hot reload disabled", "path", path, logger.FieldError, err)
		return nil
	}
	watcher.OnReload(func(cfg *am.Config) error {
		scaler.UpdateBounds(autoscaleConfig(cfg.Autoscaler))
		supervisor.SetGracePeriod(cfg.Autoscaler.GracePeriod())
		logger.PulseInfow("Worker grace period reloaded",
			"grace_period", cfg.Autoscaler.GracePeriod())
		return nil
	})
	watcher.Start()
	return watcher
}
