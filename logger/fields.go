package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across fnpulse.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity and context
	FieldJobID     = "job_id"
	FieldTriggerID = "trigger_id"
	FieldWorkerTag = "worker_tag"

	// Components
	FieldComponent = "component"

	// Jobs
	FieldFunction      = "function"
	FieldRuntime       = "runtime"
	FieldFilename      = "filename"
	FieldStatus        = "status"
	FieldCost          = "cost"
	FieldExecutionTime = "execution_time"

	// Capacity
	FieldQueueSize = "queue_size"
	FieldWorkers   = "workers"
	FieldDesired   = "desired"
	FieldPID       = "pid"

	// Operations
	FieldMethod = "method"
	FieldPath   = "path"
	FieldEvent  = "event_type"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError = "error"

	// Counts and sizes
	FieldCount = "count"

	// fnpulse-specific
	FieldSymbol = "symbol" // Pulse symbol (꩜, ✿, ❀)
)

// Context keys for propagating logging context
type contextKey string

const (
	jobIDKey     contextKey = "logger_job_id"
	componentKey contextKey = "logger_component"
)

// WithJobID adds a job ID to the context for logging
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey, jobID)
}

// WithComponent adds a component name to the context for logging
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if jobID, ok := ctx.Value(jobIDKey).(string); ok && jobID != "" {
		fields = append(fields, FieldJobID, jobID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns a logger with fields extracted from context.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Autoscaler struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func NewAutoscaler() *Autoscaler {
//	    return &Autoscaler{
//	        logger: logger.ComponentLogger("autoscaler"),
//	    }
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}
