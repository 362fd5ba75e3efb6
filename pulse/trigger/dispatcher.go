package trigger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/async"
)

// DefaultTickInterval is how often interval triggers are checked. It bounds
// how late a due trigger fires, whatever its registration phase.
const DefaultTickInterval = 100 * time.Millisecond

// Enqueuer accepts jobs. *async.Queue satisfies it.
type Enqueuer interface {
	Enqueue(ctx context.Context, spec async.JobSpec) (*async.Job, error)
}

// Dispatcher turns due interval triggers and reported events into jobs
type Dispatcher struct {
	registry *Registry
	queue    Enqueuer
	interval time.Duration
	logger   *zap.SugaredLogger
	pulseLog *zap.SugaredLogger

	tickMu sync.Mutex // Serializes interval ticks

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher checking interval triggers every tick
func NewDispatcher(registry *Registry, queue Enqueuer, tick time.Duration, log *zap.SugaredLogger) *Dispatcher {
	return NewDispatcherWithContext(context.Background(), registry, queue, tick, log)
}

// NewDispatcherWithContext creates a dispatcher with a parent context
func NewDispatcherWithContext(ctx context.Context, registry *Registry, queue Enqueuer, tick time.Duration, log *zap.SugaredLogger) *Dispatcher {
	if tick <= 0 {
		tick = DefaultTickInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	loopCtx, cancel := context.WithCancel(ctx)
	log = log.Named("trigger")
	return &Dispatcher{
		registry: registry,
		queue:    queue,
		interval: tick,
		logger:   log,
		pulseLog: logger.AddPulseSymbol(log),
		ctx:      loopCtx,
		cancel:   cancel,
	}
}

// Registry returns the trigger registry
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Start begins the interval loop
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go d.run()
	logger.AddPulseOpenSymbol(d.logger).Infow("Trigger dispatcher started", "interval", d.interval)
}

// Stop ends the interval loop
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
	logger.AddPulseCloseSymbol(d.logger).Infow("Trigger dispatcher stopped")
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return
		case tickTime := <-ticker.C:
			if _, err := d.Tick(d.ctx, tickTime); err != nil && d.ctx.Err() == nil {
				d.pulseLog.Warnw("Trigger tick error", logger.FieldError, err)
			}
		}
	}
}

// Tick fires every interval trigger due at now and returns the number of
// jobs enqueued. Each trigger is claimed for this interval before its job
// is enqueued; if the enqueue fails the interval is skipped, never fired
// twice.
func (d *Dispatcher) Tick(ctx context.Context, now time.Time) (int, error) {
	d.tickMu.Lock()
	defer d.tickMu.Unlock()

	var errs []error
	fired := 0
	for _, t := range d.registry.ListDue(now) {
		if err := ctx.Err(); err != nil {
			return fired, err
		}
		if !d.registry.MarkFired(t.ID, *t.LastFired, nextFired(*t.LastFired, t.Interval(), now)) {
			continue
		}

		job, err := d.enqueue(ctx, t)
		if err != nil {
			d.pulseLog.Errorw("Interval trigger failed to enqueue",
				logger.FieldTriggerID, t.ID,
				logger.FieldFunction, t.Function,
				logger.FieldError, err)
			errs = append(errs, err)
			continue
		}
		fired++
		d.pulseLog.Infow("Interval trigger fired",
			logger.FieldTriggerID, t.ID,
			logger.FieldFunction, t.Function,
			logger.FieldJobID, job.ID)
	}

	if len(errs) > 0 {
		return fired, errors.Newf("%d interval trigger(s) failed to enqueue: %v", len(errs), errs[0])
	}
	return fired, nil
}

// FireEvent enqueues one job for every event trigger matching eventType
// and returns their ids. Triggers that fail to enqueue are skipped and
// reported in the error.
func (d *Dispatcher) FireEvent(ctx context.Context, eventType string) ([]string, error) {
	if eventType == "" {
		return nil, errors.NewInvalidRequestError("event_type required")
	}

	var jobIDs []string
	var errs []error
	for _, t := range d.registry.MatchEvent(eventType) {
		job, err := d.enqueue(ctx, t)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		jobIDs = append(jobIDs, job.ID)
	}

	d.pulseLog.Infow("Event processed",
		logger.FieldEvent, eventType,
		logger.FieldCount, len(jobIDs))

	if len(errs) > 0 {
		err := errors.Newf("%d event trigger(s) failed to enqueue: %v", len(errs), errs[0])
		return jobIDs, errors.WithDetail(err, "Event type: "+eventType)
	}
	return jobIDs, nil
}

// nextFired is the last_fired stamp for a trigger firing at now. A trigger
// within one interval of its due time keeps its registration phase; one
// that missed whole intervals restarts from now instead of firing a burst.
func nextFired(prev time.Time, interval time.Duration, now time.Time) time.Time {
	if now.Sub(prev) >= 2*interval {
		return now
	}
	return prev.Add(interval)
}

func (d *Dispatcher) enqueue(ctx context.Context, t *Trigger) (*async.Job, error) {
	return d.queue.Enqueue(ctx, async.JobSpec{
		Function: t.Function,
		Payload:  t.Payload,
		Runtime:  t.Runtime,
		Filename: t.Filename,
		Source:   t.Source(),
	})
}
