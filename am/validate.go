package am

import "github.com/teranos/fnpulse/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Newf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if c.Functions.Dir == "" {
		return errors.New("functions.dir cannot be empty")
	}

	if c.Sandbox.TimeoutSeconds <= 0 {
		return errors.Newf("sandbox.timeout_seconds must be > 0, got %d", c.Sandbox.TimeoutSeconds)
	}
	if c.Sandbox.ContainerCommand == "" {
		return errors.New("sandbox.container_command cannot be empty")
	}

	if c.Worker.PollIntervalMS <= 0 {
		return errors.Newf("worker.poll_interval_ms must be > 0, got %d", c.Worker.PollIntervalMS)
	}

	if c.Trigger.TickIntervalMS <= 0 {
		return errors.Newf("trigger.tick_interval_ms must be > 0, got %d", c.Trigger.TickIntervalMS)
	}
	if c.Trigger.DefaultIntervalSeconds <= 0 {
		return errors.Newf("trigger.default_interval_seconds must be > 0, got %d", c.Trigger.DefaultIntervalSeconds)
	}

	return c.Autoscaler.Validate()
}

// Validate checks the autoscaler bounds. Split out so a hot reload can
// reject bad bounds without re-checking unrelated sections.
func (c AutoscalerConfig) Validate() error {
	if c.TickIntervalSeconds <= 0 {
		return errors.Newf("autoscaler.tick_interval_seconds must be > 0, got %d", c.TickIntervalSeconds)
	}
	if c.MinWorkers < 1 {
		return errors.Newf("autoscaler.min_workers must be >= 1, got %d", c.MinWorkers)
	}
	if c.MaxWorkers < c.MinWorkers {
		return errors.Newf("autoscaler.max_workers (%d) must be >= min_workers (%d)", c.MaxWorkers, c.MinWorkers)
	}
	if c.JobsPerWorker <= 0 {
		return errors.Newf("autoscaler.jobs_per_worker must be > 0, got %d", c.JobsPerWorker)
	}
	if c.SpawnStaggerMS < 0 {
		return errors.Newf("autoscaler.spawn_stagger_ms must be >= 0, got %d", c.SpawnStaggerMS)
	}
	if c.GracePeriodSeconds < 0 {
		return errors.Newf("autoscaler.grace_period_seconds must be >= 0, got %d", c.GracePeriodSeconds)
	}
	return nil
}
