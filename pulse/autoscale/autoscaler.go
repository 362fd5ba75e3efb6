// Package autoscale sizes the worker process pool to queue pressure.
//
// Every tick the autoscaler reaps exited workers, reads the queue size and
// moves the worker count toward desired = clamp(min, max, size/jobsPerWorker + 1).
// New workers are spawned one at a time with a stagger; surplus workers are
// terminated oldest first, never below the floor.
package autoscale

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
)

// QueueSizer reports the number of queued jobs
type QueueSizer interface {
	Size(ctx context.Context) (int, error)
}

// Config holds the scaling policy
type Config struct {
	TickInterval  time.Duration
	MinWorkers    int
	MaxWorkers    int
	JobsPerWorker int
	SpawnStagger  time.Duration
}

// DefaultConfig returns the standard policy: 5s tick, 1..5 workers, one
// worker per 10 queued jobs, 1s between spawns
func DefaultConfig() Config {
	return Config{
		TickInterval:  5 * time.Second,
		MinWorkers:    1,
		MaxWorkers:    5,
		JobsPerWorker: 10,
		SpawnStagger:  time.Second,
	}
}

// DesiredWorkers is clamp(min, max, queueSize/jobsPerWorker + 1)
func DesiredWorkers(queueSize, jobsPerWorker, minWorkers, maxWorkers int) int {
	if jobsPerWorker <= 0 {
		jobsPerWorker = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	desired := queueSize/jobsPerWorker + 1
	if desired < minWorkers {
		desired = minWorkers
	}
	if desired > maxWorkers {
		desired = maxWorkers
	}
	return desired
}

// Status is a snapshot of the last completed tick
type Status struct {
	Workers   int       `json:"workers"`
	Desired   int       `json:"desired"`
	QueueSize int       `json:"queue_size"`
	LastTick  time.Time `json:"last_tick"`
	Ticks     int64     `json:"ticks"`
	LastError string    `json:"last_error,omitempty"`
}

// Autoscaler runs the scaling control loop
type Autoscaler struct {
	queue      QueueSizer
	supervisor *Supervisor
	limiter    *rate.Limiter
	interval   time.Duration
	logger     *zap.SugaredLogger
	pulseLog   *zap.SugaredLogger

	mu     sync.Mutex
	cfg    Config
	status Status

	tickMu sync.Mutex // Serializes ticks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an autoscaler. It does nothing until Start.
func New(queue QueueSizer, supervisor *Supervisor, cfg Config, log *zap.SugaredLogger) *Autoscaler {
	return NewWithContext(context.Background(), queue, supervisor, cfg, log)
}

// NewWithContext creates an autoscaler whose loop stops when ctx is cancelled
func NewWithContext(ctx context.Context, queue QueueSizer, supervisor *Supervisor, cfg Config, log *zap.SugaredLogger) *Autoscaler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	loopCtx, cancel := context.WithCancel(ctx)

	log = log.Named("autoscaler")
	return &Autoscaler{
		queue:      queue,
		supervisor: supervisor,
		limiter:    newStaggerLimiter(cfg.SpawnStagger),
		interval:   cfg.TickInterval,
		logger:     log,
		pulseLog:   logger.AddPulseSymbol(log),
		cfg:        cfg,
		ctx:        loopCtx,
		cancel:     cancel,
	}
}

func newStaggerLimiter(stagger time.Duration) *rate.Limiter {
	if stagger <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(stagger), 1)
}

// UpdateBounds applies a new scaling policy from the next tick on. The
// tick interval is fixed at Start.
func (a *Autoscaler) UpdateBounds(cfg Config) {
	a.mu.Lock()
	cfg.TickInterval = a.interval
	a.cfg = cfg
	a.mu.Unlock()

	if cfg.SpawnStagger <= 0 {
		a.limiter.SetLimit(rate.Inf)
	} else {
		a.limiter.SetLimit(rate.Every(cfg.SpawnStagger))
	}
	a.pulseLog.Infow("Autoscaler bounds updated",
		"min_workers", cfg.MinWorkers,
		"max_workers", cfg.MaxWorkers,
		"jobs_per_worker", cfg.JobsPerWorker)
}

// Config returns the current scaling policy
func (a *Autoscaler) Config() Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// Status returns a snapshot of the last tick
func (a *Autoscaler) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	s := a.status
	s.Workers = a.supervisor.Count()
	return s
}

// Workers lists the supervised worker processes, oldest first
func (a *Autoscaler) Workers(ctx context.Context) []WorkerInfo {
	return a.supervisor.Workers(ctx)
}

// Start ticks once immediately, so the floor is met at startup, then
// every TickInterval
func (a *Autoscaler) Start() {
	a.wg.Add(1)
	go a.run()
	cfg := a.Config()
	logger.AddPulseOpenSymbol(a.logger).Infow("Autoscaler started",
		"interval", a.interval,
		"min_workers", cfg.MinWorkers,
		"max_workers", cfg.MaxWorkers)
}

// Stop ends the loop and terminates every worker
func (a *Autoscaler) Stop(ctx context.Context) error {
	a.cancel()
	a.wg.Wait()
	err := a.supervisor.Shutdown(ctx)
	logger.AddPulseCloseSymbol(a.logger).Infow("Autoscaler stopped")
	return err
}

func (a *Autoscaler) run() {
	defer a.wg.Done()

	a.tickAndLog()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			a.tickAndLog()
		}
	}
}

func (a *Autoscaler) tickAndLog() {
	if err := a.Tick(a.ctx); err != nil {
		if a.ctx.Err() != nil {
			return
		}
		a.pulseLog.Errorw("Autoscaler tick failed", logger.FieldError, err)
	}
}

// Tick performs one control step. Errors abort the step and are retried on
// the next tick. Concurrent calls are skipped, not queued.
func (a *Autoscaler) Tick(ctx context.Context) error {
	if !a.tickMu.TryLock() {
		return nil
	}
	defer a.tickMu.Unlock()

	cfg := a.Config()

	if reaped := a.supervisor.Reap(); reaped > 0 {
		a.pulseLog.Infow("Reaped exited workers", logger.FieldCount, reaped)
	}

	size, err := a.queue.Size(ctx)
	if err != nil {
		a.recordError(err)
		return errors.WrapInfrastructure(err, "failed to read queue size")
	}

	desired := DesiredWorkers(size, cfg.JobsPerWorker, cfg.MinWorkers, cfg.MaxWorkers)
	current := a.supervisor.Count()

	a.mu.Lock()
	a.status.Desired = desired
	a.status.QueueSize = size
	a.mu.Unlock()

	switch {
	case current < desired:
		a.pulseLog.Infow("Scaling up",
			logger.FieldQueueSize, size,
			logger.FieldWorkers, current,
			logger.FieldDesired, desired)
		for i := current; i < desired; i++ {
			if err := a.limiter.Wait(ctx); err != nil {
				a.recordError(err)
				return errors.Wrap(err, "spawn stagger interrupted")
			}
			if _, err := a.supervisor.Spawn(ctx); err != nil {
				a.recordError(err)
				return err
			}
		}
	case current > desired:
		a.pulseLog.Infow("Scaling down",
			logger.FieldQueueSize, size,
			logger.FieldWorkers, current,
			logger.FieldDesired, desired)
		floor := max(cfg.MinWorkers, desired)
		for i := desired; i < current; i++ {
			if _, ok := a.supervisor.TerminateOldest(floor); !ok {
				break
			}
		}
	}

	a.mu.Lock()
	a.status.LastTick = time.Now()
	a.status.Ticks++
	a.status.LastError = ""
	a.mu.Unlock()
	return nil
}

func (a *Autoscaler) recordError(err error) {
	a.mu.Lock()
	a.status.LastError = err.Error()
	a.mu.Unlock()
}
