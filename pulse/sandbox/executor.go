package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
)

// DefaultTimeout bounds a single container run
const DefaultTimeout = 300 * time.Second

// Invocation names the function to run and its input
type Invocation struct {
	JobID    string // Names the container; optional
	Function string
	Payload  json.RawMessage
	Runtime  Runtime
	Filename string // Defaults to DefaultFilename(Function, Runtime)
}

// Outcome is the measured result of a run. Execute returns a non-nil
// Outcome on every path, so failures are timed and charged too.
type Outcome struct {
	Result        json.RawMessage // Set on success only
	ExecutionTime float64         // Seconds, from resolution start to completion
	Cost          float64
}

// Config configures an Executor
type Config struct {
	FunctionsDir string
	Timeout      time.Duration // Container wall clock limit; 0 means DefaultTimeout
}

// Executor resolves and runs function artifacts
type Executor struct {
	functionsDir string
	timeout      time.Duration
	runner       Runner
	natives      *Registry
	now          func() time.Time
	logger       *zap.SugaredLogger
}

// NewExecutor creates an executor. runner may be nil when only native
// functions are served; natives may be nil when none are registered.
func NewExecutor(cfg Config, runner Runner, natives *Registry, log *zap.SugaredLogger) *Executor {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if natives == nil {
		natives = NewRegistry()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Executor{
		functionsDir: cfg.FunctionsDir,
		timeout:      timeout,
		runner:       runner,
		natives:      natives,
		now:          time.Now,
		logger:       log.Named("executor"),
	}
}

// Execute runs inv and returns its outcome. Errors are NotFoundError for a
// missing artifact, ExecutionError for a failing run, or InvalidRequestError
// for an unusable invocation. The Outcome is never nil.
func (e *Executor) Execute(ctx context.Context, inv Invocation) (*Outcome, error) {
	start := e.now()
	result, err := e.execute(ctx, inv)

	elapsed := e.now().Sub(start).Seconds()
	outcome := &Outcome{
		ExecutionTime: elapsed,
		Cost:          Cost(elapsed),
	}
	if err != nil {
		logger.LoggerFromContext(ctx, e.logger).Debugw("Execution failed",
			logger.FieldFunction, inv.Function,
			logger.FieldRuntime, inv.Runtime,
			logger.FieldExecutionTime, elapsed,
			logger.FieldCost, outcome.Cost,
			logger.FieldError, err)
		return outcome, err
	}
	outcome.Result = result
	return outcome, nil
}

func (e *Executor) execute(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	if inv.Function == "" {
		return nil, errors.NewInvalidRequestError("function name required")
	}
	if inv.Runtime == "" {
		inv.Runtime = DefaultRuntime
	}
	if inv.Filename == "" {
		inv.Filename = DefaultFilename(inv.Function, inv.Runtime)
	}
	if len(inv.Payload) == 0 {
		inv.Payload = json.RawMessage(`{}`)
	}

	switch {
	case inv.Runtime == RuntimeNative:
		return e.runNative(ctx, inv)
	case inv.Runtime.IsContainer():
		return e.runContainer(ctx, inv)
	default:
		return nil, errors.NewInvalidRequestError("unsupported runtime %q", inv.Runtime)
	}
}

// ResolveArtifact returns the absolute functions directory and the cleaned
// relative filename, or NotFoundError if the file does not exist there.
// Names escaping the directory are treated as not found.
func (e *Executor) ResolveArtifact(filename string) (dir string, rel string, err error) {
	dir, err = filepath.Abs(e.functionsDir)
	if err != nil {
		return "", "", errors.Wrapf(err, "failed to resolve functions directory %s", e.functionsDir)
	}

	rel = filepath.Clean(filename)
	if filepath.IsAbs(rel) || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", "", errors.NewNotFoundError("Function file %s not found", filename)
	}

	info, statErr := os.Stat(filepath.Join(dir, rel))
	if statErr != nil || info.IsDir() {
		return "", "", errors.NewNotFoundError("Function file %s not found", filename)
	}
	return dir, filepath.ToSlash(rel), nil
}

func (e *Executor) runContainer(ctx context.Context, inv Invocation) (json.RawMessage, error) {
	dir, rel, err := e.ResolveArtifact(inv.Filename)
	if err != nil {
		return nil, err
	}
	if e.runner == nil {
		return nil, errors.NewExecutionError("no container runner configured for %s runtime", inv.Runtime)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	spec := ContainerSpec{FunctionsDir: dir, Filename: rel, Payload: inv.Payload}
	if inv.JobID != "" {
		spec.Name = ContainerNamePrefix + inv.JobID
	}

	var stdout string
	switch inv.Runtime {
	case RuntimeNode:
		stdout, err = e.runner.RunNode(runCtx, spec)
	default:
		stdout, err = e.runner.RunPython(runCtx, spec)
	}
	if err != nil {
		err = errors.WithDetail(err, fmt.Sprintf("Function: %s", inv.Function))
		return nil, errors.WithDetail(err, fmt.Sprintf("Filename: %s", rel))
	}

	// Container stdout is returned verbatim as a JSON string
	encoded, err := json.Marshal(stdout)
	if err != nil {
		return nil, errors.WrapExecution(err, "failed to encode container output")
	}
	return encoded, nil
}

func (e *Executor) runNative(ctx context.Context, inv Invocation) (result json.RawMessage, err error) {
	name := NativeName(inv.Filename)
	handler, ok := e.natives.Get(name)
	if !ok {
		return nil, errors.NewNotFoundError("Function %s not found", name)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(inv.Payload, &payload); err != nil {
		return nil, errors.WrapExecution(err, "payload must be a JSON object")
	}

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = errors.NewExecutionError("native handler %s panicked: %v", name, r)
		}
	}()

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	value, err := handler(runCtx, payload)
	if err != nil {
		if runCtx.Err() == context.DeadlineExceeded {
			return nil, errors.WrapTimeout(err, fmt.Sprintf("native handler %s timed out", name))
		}
		return nil, errors.WrapExecution(err, fmt.Sprintf("native handler %s failed", name))
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, errors.WrapExecution(err, fmt.Sprintf("native handler %s returned a non-JSON value", name))
	}
	return encoded, nil
}
