package async

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/fnpulse/db"
	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/logger"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

const (
	// DefaultPollInterval is how long an idle worker waits before polling again
	DefaultPollInterval = 500 * time.Millisecond

	maxConsecutiveErrors = 5
	maxBackoff           = 30 * time.Second

	// Terminal writes retry on lock contention; each attempt also waits out
	// the SQLite busy timeout
	maxCompleteAttempts  = 5
	completeRetryBackoff = 250 * time.Millisecond
	maxCompleteBackoff   = 4 * time.Second
)

// Executor runs one invocation and reports its timing and cost.
// *sandbox.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, inv sandbox.Invocation) (*sandbox.Outcome, error)
}

// WorkerConfig configures a Worker
type WorkerConfig struct {
	Tag          string        // worker_tag written on every job this worker claims
	PollInterval time.Duration // Idle wait between empty dequeues
}

// Worker is the job loop of one worker process: claim one job, execute it,
// write its terminal state, repeat. It never holds more than one job.
type Worker struct {
	queue        *Queue
	executor     Executor
	tag          string
	pollInterval time.Duration
	logger       *zap.SugaredLogger

	mu        sync.Mutex
	current   string // id of the job in flight, empty when idle
	processed int
}

// NewWorker creates a worker pulling from queue
func NewWorker(queue *Queue, executor Executor, cfg WorkerConfig, log *zap.SugaredLogger) *Worker {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Worker{
		queue:        queue,
		executor:     executor,
		tag:          cfg.Tag,
		pollInterval: poll,
		logger:       log.With(logger.FieldWorkerTag, cfg.Tag),
	}
}

// Tag returns the worker's tag
func (w *Worker) Tag() string {
	return w.tag
}

// Processed returns how many jobs this worker has brought to a terminal state
func (w *Worker) Processed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.processed
}

// Current returns the id of the job in flight, or ""
func (w *Worker) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx is cancelled. Cancellation stops new claims; a job
// already in flight runs to its terminal write before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	logger.AddPulseOpenSymbol(w.logger).Infow("Worker started",
		"poll_interval", w.pollInterval)
	defer logger.AddPulseCloseSymbol(w.logger).Infow("Worker stopped",
		logger.FieldCount, w.Processed())

	errorCount := 0
	backoffDuration := time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		worked, err := w.ProcessNext(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, sql.ErrConnDone) || db.IsDatabaseClosed(err) {
				return nil
			}
			if db.IsBusy(err) && !worked {
				w.logger.Debugw("Queue busy, retrying", logger.FieldError, err)
				if !sleepCtx(ctx, w.pollInterval) {
					return nil
				}
				continue
			}

			errorCount++
			w.logger.Errorw("Worker error processing job",
				logger.FieldError, err,
				"consecutive_errors", errorCount)

			if errorCount >= maxConsecutiveErrors {
				w.logger.Warnw("Worker backing off due to consecutive errors",
					"backoff", backoffDuration,
					"consecutive_errors", errorCount)
				if !sleepCtx(ctx, backoffDuration) {
					return nil
				}
				backoffDuration = min(backoffDuration*2, maxBackoff)
			}
		} else if errorCount > 0 {
			w.logger.Infow("Worker recovered from errors",
				"previous_error_count", errorCount)
			errorCount = 0
			backoffDuration = time.Second
		}

		if worked {
			continue
		}
		if !sleepCtx(ctx, w.pollInterval) {
			return nil
		}
	}
}

// ProcessNext claims and runs at most one job. It reports whether a job
// was claimed. Execution failures are recorded on the job and are not
// returned; the error is for queue and store failures only.
func (w *Worker) ProcessNext(ctx context.Context) (bool, error) {
	job, err := w.queue.Dequeue(ctx, w.tag)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.setCurrent(job.ID)
	defer w.setCurrent("")

	log := w.logger.With(
		logger.FieldJobID, job.ID,
		logger.FieldFunction, job.Function,
		logger.FieldRuntime, job.Runtime,
	)
	log.Infow("Job claimed")

	// The claimed job finishes even when the worker is asked to stop
	runCtx := logger.WithJobID(context.WithoutCancel(ctx), job.ID)

	outcome, execErr := w.executor.Execute(runCtx, job.Invocation())
	if err := w.complete(runCtx, log, job, outcome, execErr); err != nil {
		log.Errorw("Job left running, terminal write failed", logger.FieldError, err)
		return true, err
	}

	w.mu.Lock()
	w.processed++
	w.mu.Unlock()

	if execErr != nil {
		log.Warnw("Job failed",
			logger.FieldError, execErr.Error(),
			logger.FieldExecutionTime, *job.Meta.ExecutionTime,
			logger.FieldCost, *job.Meta.Cost)
		return true, nil
	}
	log.Infow("Job finished",
		logger.FieldExecutionTime, *job.Meta.ExecutionTime,
		logger.FieldCost, *job.Meta.Cost)
	return true, nil
}

// complete writes the terminal state, retrying while another process
// holds the write lock
func (w *Worker) complete(ctx context.Context, log *zap.SugaredLogger, job *Job, outcome *sandbox.Outcome, execErr error) error {
	backoff := completeRetryBackoff
	for attempt := 1; ; attempt++ {
		err := w.queue.Complete(ctx, job, outcome, execErr)
		if err == nil || !db.IsBusy(err) {
			return err
		}
		if attempt >= maxCompleteAttempts {
			return errors.Wrapf(err, "gave up after %d attempts", attempt)
		}
		log.Warnw("Terminal write busy, retrying",
			"attempt", attempt,
			"backoff", backoff,
			logger.FieldError, err)
		if !sleepCtx(ctx, backoff) {
			return err
		}
		backoff = min(backoff*2, maxCompleteBackoff)
	}
}

func (w *Worker) setCurrent(id string) {
	w.mu.Lock()
	w.current = id
	w.mu.Unlock()
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
