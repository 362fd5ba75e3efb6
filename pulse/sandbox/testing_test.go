package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeRunner records container invocations and returns canned output
type fakeRunner struct {
	mu     sync.Mutex
	calls  []fakeCall
	stdout string
	err    error
	block  bool // wait for ctx cancellation
}

type fakeCall struct {
	interpreter string
	spec        ContainerSpec
}

func (f *fakeRunner) RunPython(ctx context.Context, spec ContainerSpec) (string, error) {
	return f.run(ctx, "python", spec)
}

func (f *fakeRunner) RunNode(ctx context.Context, spec ContainerSpec) (string, error) {
	return f.run(ctx, "node", spec)
}

func (f *fakeRunner) run(ctx context.Context, interpreter string, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{interpreter: interpreter, spec: spec})
	f.mu.Unlock()
	if f.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.stdout, f.err
}

// stepClock returns a clock that advances by step on every call
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := now
		now = now.Add(step)
		return t
	}
}

// writeFunction drops a script into dir
func writeFunction(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
}
