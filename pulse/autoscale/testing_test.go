package autoscale

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/teranos/fnpulse/errors"
)

// fakeHandle is a worker that exits on SIGTERM unless stubborn
type fakeHandle struct {
	pid        int
	stubborn   bool
	terminated atomic.Bool
	killed     atomic.Bool
	once       sync.Once
	done       chan struct{}
}

func (h *fakeHandle) PID() int { return h.pid }

func (h *fakeHandle) Terminate() error {
	h.terminated.Store(true)
	if !h.stubborn {
		h.exit()
	}
	return nil
}

func (h *fakeHandle) Kill() error {
	h.killed.Store(true)
	h.exit()
	return nil
}

func (h *fakeHandle) Done() <-chan struct{} { return h.done }

// exit simulates the process ending on its own
func (h *fakeHandle) exit() {
	h.once.Do(func() { close(h.done) })
}

// fakeSpawner hands out fakeHandles in spawn order
type fakeSpawner struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	tags     []string
	stubborn bool
	fail     error
}

func (s *fakeSpawner) Spawn(ctx context.Context, tag string) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	h := &fakeHandle{pid: 1000 + len(s.handles), stubborn: s.stubborn, done: make(chan struct{})}
	s.handles = append(s.handles, h)
	s.tags = append(s.tags, tag)
	return h, nil
}

func (s *fakeSpawner) handle(i int) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles[i]
}

func (s *fakeSpawner) spawned() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handles)
}

// fakeQueue reports a settable size
type fakeQueue struct {
	mu   sync.Mutex
	size int
	err  error
}

func (q *fakeQueue) Size(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size, q.err
}

func (q *fakeQueue) set(n int) {
	q.mu.Lock()
	q.size = n
	q.mu.Unlock()
}

var errSpawn = errors.New("fork/exec: resource temporarily unavailable")
