package autoscale

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
)

// WorkerTagEnv carries the worker tag to a spawned worker process
const WorkerTagEnv = "WORKER_TAG"

// Handle controls one spawned worker process
type Handle interface {
	PID() int
	// Terminate asks the worker to finish its current job and exit (SIGTERM)
	Terminate() error
	// Kill stops the worker immediately (SIGKILL)
	Kill() error
	// Done is closed once the process has exited
	Done() <-chan struct{}
}

// Spawner starts worker processes
type Spawner interface {
	Spawn(ctx context.Context, tag string) (Handle, error)
}

// ProcessSpawner starts workers as child processes running
// `<Executable> <Args...> worker --tag <tag>`.
type ProcessSpawner struct {
	Executable string   // Defaults to os.Executable()
	Args       []string // Inserted before the worker subcommand
	ConfigFile string   // Passed through as --config when set
	logger     *zap.SugaredLogger
}

// NewProcessSpawner creates a spawner that re-executes the running binary
func NewProcessSpawner(configFile string, log *zap.SugaredLogger) (*ProcessSpawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, "failed to locate fnpulse executable")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ProcessSpawner{Executable: exe, ConfigFile: configFile, logger: log}, nil
}

// argv returns the worker command line for tag
func (p *ProcessSpawner) argv(tag string) []string {
	args := append([]string{}, p.Args...)
	args = append(args, "worker", "--tag", tag)
	if p.ConfigFile != "" {
		args = append(args, "--config", p.ConfigFile)
	}
	return args
}

// Spawn starts a worker process. The process is not bound to ctx; its
// lifetime is managed through the returned Handle.
func (p *ProcessSpawner) Spawn(ctx context.Context, tag string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	log := p.logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	args := p.argv(tag)
	cmd := exec.Command(p.Executable, args...)
	cmd.Env = append(os.Environ(), fmt.Sprintf("%s=%s", WorkerTagEnv, tag))
	// Workers write their own worker.log; stderr carries crashes and panics
	cmd.Stderr = &outputLogger{logger: log, tag: tag}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "failed to start worker %s (binary=%s, args=%v)",
			tag, p.Executable, args)
	}

	h := &processHandle{cmd: cmd, done: make(chan struct{})}
	go func() {
		h.err = cmd.Wait()
		close(h.done)
	}()
	return h, nil
}

type processHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error // Wait result, valid once done is closed
}

func (h *processHandle) PID() int { return h.cmd.Process.Pid }

func (h *processHandle) Terminate() error {
	return h.signal(syscall.SIGTERM)
}

func (h *processHandle) Kill() error {
	return h.signal(syscall.SIGKILL)
}

func (h *processHandle) signal(sig os.Signal) error {
	select {
	case <-h.done:
		return nil
	default:
	}
	if err := h.cmd.Process.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrapf(err, "failed to send %s to worker pid %d", sig, h.PID())
	}
	return nil
}

func (h *processHandle) Done() <-chan struct{} { return h.done }

// outputLogger logs a worker's stderr line by line
type outputLogger struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger
	tag    string
	buf    strings.Builder
}

func (l *outputLogger) Write(p []byte) (n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.buf.Write(p)
	for {
		line, rest, found := strings.Cut(l.buf.String(), "\n")
		if !found {
			break
		}
		l.buf.Reset()
		l.buf.WriteString(rest)

		if line = strings.TrimSpace(line); line != "" {
			l.logger.Warnw("Worker stderr", logger.FieldWorkerTag, l.tag, "message", line)
		}
	}
	return len(p), nil
}
