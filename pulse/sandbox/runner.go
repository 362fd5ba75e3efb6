package sandbox

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kballard/go-shellquote"

	"github.com/teranos/fnpulse/errors"
)

// ContainerNamePrefix starts the name of every container the runner starts
const ContainerNamePrefix = "fnpulse-"

// killTimeout bounds the kill issued for a timed-out container
const killTimeout = 10 * time.Second

// ContainerSpec describes one container invocation
type ContainerSpec struct {
	Name         string // Container name; generated when empty
	FunctionsDir string // Absolute host path, mounted read-only at /app
	Filename     string // Script path relative to FunctionsDir
	Payload      []byte // JSON, exported as PAYLOAD
}

// Runner launches container runtimes. Implementations return the
// container's stdout; non-zero exits and timeouts are execution errors.
type Runner interface {
	RunPython(ctx context.Context, spec ContainerSpec) (string, error)
	RunNode(ctx context.Context, spec ContainerSpec) (string, error)
}

// maxDiagnostics bounds how much stderr is kept in an error message
const maxDiagnostics = 4096

// ContainerRunnerConfig configures a ContainerRunner
type ContainerRunnerConfig struct {
	Command     string // e.g. "docker run --rm"; split with shell quoting rules
	KillCommand string // e.g. "docker kill"; defaults to the CLI from Command plus "kill"
	PythonImage string
	NodeImage   string
}

// ContainerRunner runs scripts through a container CLI
type ContainerRunner struct {
	command     []string
	kill        []string
	pythonImage string
	nodeImage   string
}

// NewContainerRunner parses the command prefix and returns a runner
func NewContainerRunner(cfg ContainerRunnerConfig) (*ContainerRunner, error) {
	argv, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid container command %q", cfg.Command)
	}
	if len(argv) == 0 {
		return nil, errors.New("container command cannot be empty")
	}

	kill := []string{argv[0], "kill"}
	if strings.TrimSpace(cfg.KillCommand) != "" {
		if kill, err = shellquote.Split(cfg.KillCommand); err != nil {
			return nil, errors.Wrapf(err, "invalid kill command %q", cfg.KillCommand)
		}
	}

	return &ContainerRunner{
		command:     argv,
		kill:        kill,
		pythonImage: cfg.PythonImage,
		nodeImage:   cfg.NodeImage,
	}, nil
}

// RunPython runs spec.Filename with python in the python image
func (r *ContainerRunner) RunPython(ctx context.Context, spec ContainerSpec) (string, error) {
	return r.run(ctx, spec, r.pythonImage, "python")
}

// RunNode runs spec.Filename with node in the node image
func (r *ContainerRunner) RunNode(ctx context.Context, spec ContainerSpec) (string, error) {
	return r.run(ctx, spec, r.nodeImage, "node")
}

// Argv returns the full command line for spec
func (r *ContainerRunner) Argv(spec ContainerSpec, image, interpreter string) []string {
	argv := make([]string, 0, len(r.command)+9)
	argv = append(argv, r.command...)
	if spec.Name != "" {
		argv = append(argv, "--name", spec.Name)
	}
	argv = append(argv,
		"-v", spec.FunctionsDir+":/app:ro",
		"-e", "PAYLOAD="+string(spec.Payload),
		image,
		interpreter, "/app/"+spec.Filename,
	)
	return argv
}

// KillArgv returns the command line that stops the named container
func (r *ContainerRunner) KillArgv(name string) []string {
	argv := make([]string, 0, len(r.kill)+1)
	argv = append(argv, r.kill...)
	return append(argv, name)
}

func (r *ContainerRunner) run(ctx context.Context, spec ContainerSpec, image, interpreter string) (string, error) {
	if spec.Name == "" {
		spec.Name = ContainerNamePrefix + uuid.NewString()
	}
	argv := r.Argv(spec, image, interpreter)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Grandchildren may hold the pipes open after the kill
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		// Killing the CLI client does not stop the container itself
		err = errors.WrapTimeout(ctx.Err(), interpreter+" container timed out")
		if killErr := r.stop(spec.Name); killErr != nil {
			err = errors.WithDetail(err, killErr.Error())
		}
		return "", errors.WithDetail(err, diagnostics(&stderr))
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", errors.NewExecutionError("%s container exited with status %d: %s",
				interpreter, exitErr.ExitCode(), diagnostics(&stderr))
		}
		return "", errors.WrapExecution(err, "failed to launch "+interpreter+" container")
	}

	return strings.TrimSpace(stdout.String()), nil
}

// stop kills the named container. It runs on its own deadline since the
// job's context has already expired.
func (r *ContainerRunner) stop(name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), killTimeout)
	defer cancel()

	argv := r.KillArgv(name)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "failed to kill container %s: %s", name, strings.TrimSpace(string(out)))
	}
	return nil
}

func diagnostics(stderr *bytes.Buffer) string {
	s := strings.TrimSpace(stderr.String())
	if len(s) > maxDiagnostics {
		s = s[len(s)-maxDiagnostics:]
	}
	return s
}
