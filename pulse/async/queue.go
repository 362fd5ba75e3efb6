package async

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/teranos/fnpulse/errors"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

const (
	// DefaultListLimit caps job listings when the caller gives no limit
	DefaultListLimit = 100
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue is the FIFO of pending jobs plus the record store behind it.
// Ordering and exclusivity come from the database, so many Queue values in
// many processes may share one file.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan *Job // Channels to notify of job updates in this process
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan *Job, 0),
	}
}

// Enqueue validates spec, persists a queued job and returns it
func (q *Queue) Enqueue(ctx context.Context, spec JobSpec) (*Job, error) {
	job, err := NewJob(spec)
	if err != nil {
		return nil, err
	}

	if err := q.store.CreateJob(ctx, job); err != nil {
		err = errors.WrapInfrastructure(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Function: %s", job.Function))
		err = errors.WithDetail(err, fmt.Sprintf("Runtime: %s", job.Runtime))
		err = errors.WithDetail(err, fmt.Sprintf("Source: %s", job.Source))
		return nil, err
	}

	q.notify(job)
	return job, nil
}

// Dequeue claims the oldest queued job for workerTag and marks it running.
// Returns nil, nil when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context, workerTag string) (*Job, error) {
	job, err := q.store.ClaimNext(ctx, workerTag)
	if err != nil {
		err = errors.WrapInfrastructure(err, "failed to dequeue job")
		err = errors.WithDetail(err, fmt.Sprintf("Worker: %s", workerTag))
		return nil, err
	}
	if job == nil {
		return nil, nil
	}

	q.notify(job)
	return job, nil
}

// Size returns the number of queued jobs
func (q *Queue) Size(ctx context.Context) (int, error) {
	n, err := q.store.CountQueued(ctx)
	if err != nil {
		return 0, errors.WrapInfrastructure(err, "failed to read queue size")
	}
	return n, nil
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// Complete records the executor's verdict on a running job: finished when
// execErr is nil, failed otherwise. Timing and cost are recorded either way.
func (q *Queue) Complete(ctx context.Context, job *Job, outcome *sandbox.Outcome, execErr error) error {
	if execErr != nil {
		job.Fail(outcome, execErr)
	} else {
		job.Finish(outcome)
	}

	if err := q.store.CompleteJob(ctx, job); err != nil {
		err = errors.Wrapf(err, "failed to record %s job", job.Status)
		for _, d := range describe(job) {
			err = errors.WithDetail(err, d)
		}
		return err
	}

	q.notify(job)
	return nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (q *Queue) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return q.store.ListJobs(ctx, status, limit)
}

// CountRunning returns jobs currently marked running. At server start these
// are jobs whose worker went away mid-execution.
func (q *Queue) CountRunning(ctx context.Context) (int, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return 0, err
	}
	return counts[JobStatusRunning], nil
}

// TotalCost sums cost across all jobs
func (q *Queue) TotalCost(ctx context.Context) (float64, error) {
	return q.store.TotalCost(ctx)
}

// Cleanup removes old finished/failed jobs
func (q *Queue) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	return q.store.CleanupOldJobs(ctx, olderThan)
}

// QueueStats returns statistics about the queue
type QueueStats struct {
	Queued   int `json:"queued"`
	Running  int `json:"running"`
	Finished int `json:"finished"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*QueueStats, error) {
	counts, err := q.store.CountByStatus(ctx)
	if err != nil {
		return nil, errors.WrapInfrastructure(err, "failed to read queue stats")
	}

	stats := &QueueStats{
		Queued:   counts[JobStatusQueued],
		Running:  counts[JobStatusRunning],
		Finished: counts[JobStatusFinished],
		Failed:   counts[JobStatusFailed],
	}
	stats.Total = stats.Queued + stats.Running + stats.Finished + stats.Failed
	return stats, nil
}

// Subscribe returns a channel that receives job updates made through this
// Queue. The caller is responsible for calling Unsubscribe when done.
func (q *Queue) Subscribe() chan *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan *Job, SubscriberChannelBufferSize)
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel from the queue.
// The channel is NOT closed by this method; callers close it themselves.
func (q *Queue) Unsubscribe(ch chan *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notify sends a snapshot of job to all subscribers without blocking
func (q *Queue) notify(job *Job) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if len(q.subscribers) == 0 {
		return
	}
	snapshot := *job
	for _, ch := range q.subscribers {
		select {
		case ch <- &snapshot:
		default:
		}
	}
}
