package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/fnpulse/errors"
)

var testSpec = ContainerSpec{
	Name:         "fnpulse-test",
	FunctionsDir: "/srv/functions",
	Filename:     "sample_sum.py",
	Payload:      []byte(`{"numbers":[1,2,3]}`),
}

func TestNewContainerRunnerSplitsCommand(t *testing.T) {
	r, err := NewContainerRunner(ContainerRunnerConfig{
		Command:     `docker run --rm --network none --label "owner=fn pulse"`,
		PythonImage: "python:3.11",
		NodeImage:   "node:18",
	})
	require.NoError(t, err)

	argv := r.Argv(testSpec, "python:3.11", "python")
	assert.Equal(t, []string{
		"docker", "run", "--rm", "--network", "none", "--label", "owner=fn pulse",
		"--name", "fnpulse-test",
		"-v", "/srv/functions:/app:ro",
		"-e", `PAYLOAD={"numbers":[1,2,3]}`,
		"python:3.11",
		"python", "/app/sample_sum.py",
	}, argv)
}

func TestNewContainerRunnerRejectsBadCommand(t *testing.T) {
	_, err := NewContainerRunner(ContainerRunnerConfig{Command: `docker "run`})
	assert.Error(t, err)

	_, err = NewContainerRunner(ContainerRunnerConfig{Command: "   "})
	assert.Error(t, err)
}

func TestContainerRunnerCapturesStdout(t *testing.T) {
	// echo stands in for the container CLI and prints its argv
	r, err := NewContainerRunner(ContainerRunnerConfig{Command: "echo", PythonImage: "python:3.11", NodeImage: "node:18"})
	require.NoError(t, err)

	out, err := r.RunNode(context.Background(), testSpec)
	require.NoError(t, err)
	assert.Contains(t, out, "PAYLOAD=")
	assert.Contains(t, out, "node:18 node /app/sample_sum.py")
	assert.Contains(t, out, "--name fnpulse-test")
	assert.NotContains(t, out, "\n", "stdout is trimmed")

	unnamed := testSpec
	unnamed.Name = ""
	out, err = r.RunPython(context.Background(), unnamed)
	require.NoError(t, err)
	assert.Contains(t, out, "--name "+ContainerNamePrefix, "a name is generated")
}

func TestKillArgv(t *testing.T) {
	r, err := NewContainerRunner(ContainerRunnerConfig{Command: "podman run --rm"})
	require.NoError(t, err)
	assert.Equal(t, []string{"podman", "kill", "fnpulse-1"}, r.KillArgv("fnpulse-1"))

	r, err = NewContainerRunner(ContainerRunnerConfig{Command: "docker run --rm", KillCommand: "docker rm -f"})
	require.NoError(t, err)
	assert.Equal(t, []string{"docker", "rm", "-f", "fnpulse-1"}, r.KillArgv("fnpulse-1"))

	_, err = NewContainerRunner(ContainerRunnerConfig{Command: "docker run", KillCommand: `docker "kill`})
	assert.Error(t, err)
}

func TestContainerRunnerNonZeroExit(t *testing.T) {
	r, err := NewContainerRunner(ContainerRunnerConfig{Command: `sh -c 'echo oops >&2; exit 3' sh`})
	require.NoError(t, err)

	_, err = r.RunPython(context.Background(), testSpec)
	require.Error(t, err)
	assert.True(t, errors.IsExecutionError(err))
	assert.Contains(t, err.Error(), "status 3")
	assert.Contains(t, err.Error(), "oops")
}

func TestContainerRunnerTimeout(t *testing.T) {
	// The kill command writes the container name it was given to a file
	killed := filepath.Join(t.TempDir(), "killed")
	r, err := NewContainerRunner(ContainerRunnerConfig{
		Command:     `sh -c 'exec sleep 5' sh`,
		KillCommand: `sh -c 'printf %s "$1" > "$0"' ` + killed,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = r.RunPython(ctx, testSpec)
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	assert.True(t, errors.IsExecutionError(err))
	assert.Less(t, time.Since(start), 3*time.Second)

	name, err := os.ReadFile(killed)
	require.NoError(t, err, "timed-out container was not killed")
	assert.Equal(t, testSpec.Name, strings.TrimSpace(string(name)))
}

func TestContainerRunnerTimeoutReportsKillFailure(t *testing.T) {
	r, err := NewContainerRunner(ContainerRunnerConfig{
		Command:     `sh -c 'exec sleep 5' sh`,
		KillCommand: `sh -c 'echo no such container >&2; exit 1' sh`,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = r.RunPython(ctx, testSpec)
	require.Error(t, err)
	assert.True(t, errors.IsTimeoutError(err))
	details := strings.Join(errors.GetAllDetails(err), "\n")
	assert.Contains(t, details, "failed to kill container fnpulse-test")
	assert.Contains(t, details, "no such container")
}

func TestContainerRunnerMissingBinary(t *testing.T) {
	r, err := NewContainerRunner(ContainerRunnerConfig{Command: "definitely-not-a-container-cli-xyz run"})
	require.NoError(t, err)

	_, err = r.RunPython(context.Background(), testSpec)
	require.Error(t, err)
	assert.True(t, errors.IsExecutionError(err))
}
