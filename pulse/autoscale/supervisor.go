package autoscale

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
)

// DefaultGracePeriod is how long a terminated worker may take to finish its
// current job before it is killed
const DefaultGracePeriod = 10 * time.Second

// WorkerInfo describes a live worker process
type WorkerInfo struct {
	Tag       string    `json:"tag"`
	PID       int       `json:"pid"`
	SpawnedAt time.Time `json:"spawned_at"`
	RSSBytes  uint64    `json:"rss_bytes,omitempty"`
}

type workerRecord struct {
	tag       string
	handle    Handle
	spawnedAt time.Time
}

// Supervisor owns the set of worker processes. It is the only holder of
// worker handles; callers act on workers through it.
type Supervisor struct {
	spawner Spawner
	grace   time.Duration
	now     func() time.Time
	logger  *zap.SugaredLogger

	mu          sync.Mutex
	workers     []*workerRecord // Spawn order, oldest first
	terminating sync.WaitGroup
}

// NewSupervisor creates a supervisor spawning workers through spawner
func NewSupervisor(spawner Spawner, grace time.Duration, log *zap.SugaredLogger) *Supervisor {
	if grace < 0 {
		grace = DefaultGracePeriod
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Supervisor{
		spawner: spawner,
		grace:   grace,
		now:     time.Now,
		logger:  log.Named("supervisor"),
	}
}

// SetGracePeriod changes the grace period for future terminations
func (s *Supervisor) SetGracePeriod(grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grace = grace
}

// Spawn starts one worker with a fresh tag
func (s *Supervisor) Spawn(ctx context.Context) (WorkerInfo, error) {
	tag := "worker-" + uuid.NewString()[:8]

	h, err := s.spawner.Spawn(ctx, tag)
	if err != nil {
		return WorkerInfo{}, errors.WrapInfrastructure(err, "failed to spawn worker")
	}

	rec := &workerRecord{tag: tag, handle: h, spawnedAt: s.now()}
	s.mu.Lock()
	s.workers = append(s.workers, rec)
	count := len(s.workers)
	s.mu.Unlock()

	logger.AddPulseOpenSymbol(s.logger).Infow("Worker spawned",
		logger.FieldWorkerTag, tag,
		logger.FieldPID, h.PID(),
		logger.FieldWorkers, count)
	return WorkerInfo{Tag: tag, PID: h.PID(), SpawnedAt: rec.spawnedAt}, nil
}

// Reap forgets workers whose process has exited and returns how many
func (s *Supervisor) Reap() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	alive := s.workers[:0]
	reaped := 0
	for _, w := range s.workers {
		select {
		case <-w.handle.Done():
			reaped++
			s.logger.Warnw("Worker exited on its own",
				logger.FieldWorkerTag, w.tag,
				logger.FieldPID, w.handle.PID())
		default:
			alive = append(alive, w)
		}
	}
	for i := len(alive); i < len(s.workers); i++ {
		s.workers[i] = nil
	}
	s.workers = alive
	return reaped
}

// Count returns the number of workers not yet reaped or terminated
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// TerminateOldest removes the oldest worker, unless that would leave fewer
// than floor, and stops it with SIGTERM followed by SIGKILL after the grace
// period. Termination completes in the background; Shutdown waits for it.
func (s *Supervisor) TerminateOldest(floor int) (string, bool) {
	s.mu.Lock()
	if len(s.workers) <= floor || len(s.workers) == 0 {
		s.mu.Unlock()
		return "", false
	}
	oldest := s.workers[0]
	s.workers[0] = nil
	s.workers = s.workers[1:]
	grace := s.grace
	s.terminating.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.terminating.Done()
		s.stop(oldest, grace)
	}()
	return oldest.tag, true
}

// stop runs the two-phase termination of one worker and waits for exit
func (s *Supervisor) stop(w *workerRecord, grace time.Duration) {
	log := logger.AddPulseCloseSymbol(s.logger).With(
		logger.FieldWorkerTag, w.tag,
		logger.FieldPID, w.handle.PID())

	if err := w.handle.Terminate(); err != nil {
		log.Warnw("Failed to signal worker, killing", logger.FieldError, err)
		s.kill(w)
		return
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-w.handle.Done():
		log.Infow("Worker terminated")
	case <-timer.C:
		log.Warnw("Worker ignored SIGTERM within grace period, killing", "grace", grace)
		s.kill(w)
	}
}

func (s *Supervisor) kill(w *workerRecord) {
	if err := w.handle.Kill(); err != nil {
		s.logger.Errorw("Failed to kill worker",
			logger.FieldWorkerTag, w.tag,
			logger.FieldError, err)
		return
	}
	<-w.handle.Done()
}

// Workers returns the live workers, oldest first, with resident memory
// where the process can be inspected
func (s *Supervisor) Workers(ctx context.Context) []WorkerInfo {
	s.mu.Lock()
	records := append([]*workerRecord(nil), s.workers...)
	s.mu.Unlock()

	infos := make([]WorkerInfo, 0, len(records))
	for _, w := range records {
		info := WorkerInfo{Tag: w.tag, PID: w.handle.PID(), SpawnedAt: w.spawnedAt}
		if p, err := process.NewProcessWithContext(ctx, int32(info.PID)); err == nil {
			if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
				info.RSSBytes = mem.RSS
			}
		}
		infos = append(infos, info)
	}
	return infos
}

// Shutdown terminates every worker with the same two-phase policy and
// waits for all of them, including terminations already in progress.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	grace := s.grace
	s.mu.Unlock()

	for _, w := range workers {
		s.terminating.Add(1)
		go func(w *workerRecord) {
			defer s.terminating.Done()
			s.stop(w, grace)
		}(w)
	}

	done := make(chan struct{})
	go func() {
		s.terminating.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "worker shutdown interrupted")
	}
}
