package am

import "github.com/spf13/viper"

// Default values referenced outside SetDefaults
const (
	DefaultServerPort       = 5000
	DefaultDatabasePath     = "fnpulse.db"
	DefaultFunctionsDir     = "functions"
	DefaultContainerCommand = "docker run --rm"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{"http://localhost", "https://localhost"})

	v.SetDefault("functions.dir", DefaultFunctionsDir)
	v.SetDefault("functions.max_upload_size", 10<<20) // 10 MiB

	v.SetDefault("sandbox.timeout_seconds", 300)
	v.SetDefault("sandbox.container_command", DefaultContainerCommand)
	v.SetDefault("sandbox.kill_command", "")
	v.SetDefault("sandbox.python_image", "python:3.11")
	v.SetDefault("sandbox.node_image", "node:18")

	v.SetDefault("worker.poll_interval_ms", 500)

	v.SetDefault("autoscaler.tick_interval_seconds", 5)
	v.SetDefault("autoscaler.min_workers", 1)
	v.SetDefault("autoscaler.max_workers", 5)
	v.SetDefault("autoscaler.jobs_per_worker", 10)
	v.SetDefault("autoscaler.spawn_stagger_ms", 1000)
	v.SetDefault("autoscaler.grace_period_seconds", 10)

	v.SetDefault("trigger.tick_interval_ms", 100)
	v.SetDefault("trigger.default_interval_seconds", 60)

	v.SetDefault("log.dir", "logs")
	v.SetDefault("log.json", false)
	v.SetDefault("log.level", "info")
}
