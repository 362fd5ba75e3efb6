package async

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/teranos/fnpulse/errors"
)

// ErrClaimLost is returned when a terminal write finds the job no longer
// running under the writer's tag
var ErrClaimLost = errors.New("job is not running under this worker")

// Store handles persistence of jobs
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new queued job. The row is visible to dequeuers as
// soon as the insert commits.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	query := `
		INSERT INTO jobs (
			id, function, payload, runtime, filename, source, status,
			retries, success, worker_tag, error,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		job.ID,
		job.Function,
		string(job.Payload),
		job.Runtime,
		job.Filename,
		job.Source,
		job.Status,
		job.Meta.Retries,
		job.Meta.Success,
		job.Meta.WorkerTag,
		job.Meta.Error,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID. Unknown ids are NotFoundError.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	job, err := scanJob(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("job not found: %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return job, nil
}

// ClaimNext moves the oldest queued job to running under workerTag and
// returns it, or nil when nothing is queued. The select and the guarded
// update share one IMMEDIATE transaction, so concurrent claimers in any
// process serialize on the database write lock. BeginTx is IMMEDIATE only
// because db.Open sets _txlock=immediate in the DSN; without it the
// transaction is deferred and two claimers can both read the same row.
func (s *Store) ClaimNext(ctx context.Context, workerTag string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to begin claim")
	}
	defer tx.Rollback()

	var seq int64
	var id string
	err = tx.QueryRowContext(ctx,
		`SELECT seq, id FROM jobs WHERE status = 'queued' ORDER BY seq LIMIT 1`,
	).Scan(&seq, &id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to select queued job")
	}

	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running', worker_tag = ?, started_at = ?, updated_at = ?
		WHERE seq = ? AND status = 'queued'
	`, workerTag, now, now, seq)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to claim job %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		// Lost the race inside the lock window; caller polls again
		return nil, nil
	}

	job, err := scanJob(tx.QueryRowContext(ctx,
		`SELECT `+StandardJobSelectColumns()+` FROM jobs WHERE seq = ?`, seq))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read claimed job %s", id)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrapf(err, "failed to commit claim of job %s", id)
	}
	return job, nil
}

// CompleteJob performs the single terminal write for a job: status, meta,
// result or error. It only applies while the job is running under the same
// worker tag, so a terminal state is written at most once.
func (s *Store) CompleteJob(ctx context.Context, job *Job) error {
	if !job.Status.IsTerminal() {
		return errors.Newf("job %s has non-terminal status %s", job.ID, job.Status)
	}

	var result sql.NullString
	if job.Status == JobStatusFinished && len(job.Meta.Result) > 0 {
		result = sql.NullString{String: string(job.Meta.Result), Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?,
		    execution_time = ?,
		    retries = ?,
		    success = ?,
		    cost = ?,
		    result = ?,
		    error = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = 'running' AND worker_tag = ?
	`,
		job.Status,
		job.Meta.ExecutionTime,
		job.Meta.Retries,
		job.Meta.Success,
		job.Meta.Cost,
		result,
		job.Meta.Error,
		job.CompletedAt,
		job.UpdatedAt,
		job.ID,
		job.Meta.WorkerTag,
	)
	if err != nil {
		return errors.Wrap(err, "failed to complete job")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected")
	}
	if n == 0 {
		return errors.Wrapf(ErrClaimLost, "job %s", job.ID)
	}
	return nil
}

// ListJobs returns jobs newest first, optionally filtered by status
func (s *Store) ListJobs(ctx context.Context, status *JobStatus, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY seq DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY seq DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// CountQueued returns the number of queued jobs (served by idx_jobs_status_seq)
func (s *Store) CountQueued(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE status = 'queued'`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "failed to count queued jobs")
	}
	return n, nil
}

// CountByStatus returns job counts keyed by status. Statuses with no jobs
// are present with zero.
func (s *Store) CountByStatus(ctx context.Context) (map[JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	counts := make(map[JobStatus]int, len(AllStatuses))
	for _, st := range AllStatuses {
		counts[st] = 0
	}
	for rows.Next() {
		var st JobStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan status count")
		}
		counts[st] = n
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating status counts")
	}
	return counts, nil
}

// TotalCost sums the cost of every job that has one
func (s *Store) TotalCost(ctx context.Context) (float64, error) {
	var total float64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(cost), 0) FROM jobs`).Scan(&total); err != nil {
		return 0, errors.Wrap(err, "failed to sum job cost")
	}
	return total, nil
}

// CleanupOldJobs removes finished/failed jobs older than the specified duration
func (s *Store) CleanupOldJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	result, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('finished', 'failed')
		  AND updated_at < ?
	`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// describe is used in error details
func describe(job *Job) []string {
	return []string{
		fmt.Sprintf("Job ID: %s", job.ID),
		fmt.Sprintf("Function: %s", job.Function),
		fmt.Sprintf("Runtime: %s", job.Runtime),
	}
}
