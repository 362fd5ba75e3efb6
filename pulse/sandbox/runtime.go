// Package sandbox executes functions in an isolated runtime and prices the run.
//
// Two kinds of runtime exist:
//   - container runtimes (python, node): the script is resolved under the
//     functions directory and run by a Runner with the directory mounted
//     read-only and the payload in the PAYLOAD environment variable
//   - native: a handler registered in-process under the function's name
//
// Every run produces an Outcome carrying wall-clock timing and cost, on the
// failure path as well as the success path.
package sandbox

import (
	"path/filepath"
	"strings"

	"github.com/teranos/fnpulse/errors"
)

// Runtime selects how a function artifact is executed
type Runtime string

const (
	RuntimePython Runtime = "python"
	RuntimeNode   Runtime = "node"
	RuntimeNative Runtime = "native"
)

// DefaultRuntime applies when a submission names no runtime
const DefaultRuntime = RuntimePython

// ParseRuntime validates a runtime name. Empty selects DefaultRuntime.
func ParseRuntime(s string) (Runtime, error) {
	switch Runtime(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return DefaultRuntime, nil
	case RuntimePython:
		return RuntimePython, nil
	case RuntimeNode:
		return RuntimeNode, nil
	case RuntimeNative:
		return RuntimeNative, nil
	default:
		return "", errors.NewInvalidRequestError("unsupported runtime %q (expected python, node or native)", s)
	}
}

// IsContainer reports whether the runtime runs in a container
func (r Runtime) IsContainer() bool {
	return r == RuntimePython || r == RuntimeNode
}

// Extension returns the script extension for container runtimes
func (r Runtime) Extension() string {
	switch r {
	case RuntimePython:
		return ".py"
	case RuntimeNode:
		return ".js"
	default:
		return ""
	}
}

// DefaultFilename returns the artifact name used when a submission omits one:
// <function>.py, <function>.js, or the bare function name for native.
func DefaultFilename(function string, runtime Runtime) string {
	return function + runtime.Extension()
}

// NativeName maps a native filename to its registry key: the base name
// without extension, so "sample_sum" and "sample_sum.py" resolve alike.
func NativeName(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
