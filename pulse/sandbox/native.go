package sandbox

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// NativeHandler runs a function in-process. The returned value must be
// JSON-serializable; it becomes the job result.
type NativeHandler func(ctx context.Context, payload map[string]interface{}) (interface{}, error)

// Registry maps native function names to handlers.
// Thread-safe for concurrent registration and lookup.
type Registry struct {
	handlers map[string]NativeHandler
	mu       sync.RWMutex
}

// NewRegistry creates an empty native handler registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]NativeHandler),
	}
}

// Register adds a handler under name.
// Panics if a handler is already registered with that name.
func (r *Registry) Register(name string, handler NativeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[name]; exists {
		panic(fmt.Sprintf("native handler already registered for name: %s", name))
	}
	r.handlers[name] = handler
}

// Get retrieves the handler for name
func (r *Registry) Get(name string) (NativeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns all registered handler names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
