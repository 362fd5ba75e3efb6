package am

import (
	"fmt"
	"time"
)

// Config represents the fnpulse configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	Functions  FunctionsConfig  `mapstructure:"functions"`
	Sandbox    SandboxConfig    `mapstructure:"sandbox"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Autoscaler AutoscalerConfig `mapstructure:"autoscaler"`
	Trigger    TriggerConfig    `mapstructure:"trigger"`
	Log        LogConfig        `mapstructure:"log"`
}

// DatabaseConfig configures the SQLite job store
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the HTTP front door
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // CORS and websocket origin prefixes
}

// FunctionsConfig locates function artifacts
type FunctionsConfig struct {
	Dir           string `mapstructure:"dir"`             // Container runtime scripts live here
	MaxUploadSize int64  `mapstructure:"max_upload_size"` // Bytes accepted by POST /upload
}

// SandboxConfig configures how container runtimes are launched
type SandboxConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`   // Per-invocation wall clock limit
	ContainerCommand string `mapstructure:"container_command"` // Prefix, e.g. "docker run --rm"
	KillCommand      string `mapstructure:"kill_command"`      // Stops a timed-out container by name; defaults to "<cli> kill"
	PythonImage      string `mapstructure:"python_image"`
	NodeImage        string `mapstructure:"node_image"`
}

// WorkerConfig configures worker processes
type WorkerConfig struct {
	PollIntervalMS int `mapstructure:"poll_interval_ms"` // Sleep between empty dequeues
}

// AutoscalerConfig configures the worker pool control loop
type AutoscalerConfig struct {
	TickIntervalSeconds int `mapstructure:"tick_interval_seconds"`
	MinWorkers          int `mapstructure:"min_workers"`
	MaxWorkers          int `mapstructure:"max_workers"`
	JobsPerWorker       int `mapstructure:"jobs_per_worker"`
	SpawnStaggerMS      int `mapstructure:"spawn_stagger_ms"`     // Delay between consecutive spawns
	GracePeriodSeconds  int `mapstructure:"grace_period_seconds"` // SIGTERM to SIGKILL
}

// TriggerConfig configures the trigger dispatcher
type TriggerConfig struct {
	TickIntervalMS         int `mapstructure:"tick_interval_ms"`
	DefaultIntervalSeconds int `mapstructure:"default_interval_seconds"` // Used when a trigger omits interval
}

// LogConfig configures log output
type LogConfig struct {
	Dir   string `mapstructure:"dir"`
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// Addr returns host:port for the HTTP listener
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the per-invocation sandbox timeout
func (c SandboxConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PollInterval returns the worker's empty-queue sleep
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMS) * time.Millisecond
}

// TickInterval returns the autoscaler tick period
func (c AutoscalerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

// SpawnStagger returns the delay between consecutive spawns
func (c AutoscalerConfig) SpawnStagger() time.Duration {
	return time.Duration(c.SpawnStaggerMS) * time.Millisecond
}

// GracePeriod returns how long a terminated worker may take to exit
func (c AutoscalerConfig) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodSeconds) * time.Second
}

// TickInterval returns the trigger dispatcher tick period
func (c TriggerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Server: %s, Autoscaler: [%d,%d]}",
		c.Database.Path, c.Server.Addr(), c.Autoscaler.MinWorkers, c.Autoscaler.MaxWorkers)
}
