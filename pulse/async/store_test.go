package async

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/fnpulse/errors"
	fntest "github.com/teranos/fnpulse/internal/testing"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// ============================================================================
// TAS Bot & Kirby Store Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who persists job data
//   - Kirby: The worker who claims jobs and writes their results
//   - Cronos: Greek god of time, appears for cleanup and time-based operations
//
// Theme: TAS Bot stores save states (jobs) in the database, Kirby claims
// and completes them, and Cronos manages old saves (cleanup).
// ============================================================================

func newTestJob(t *testing.T, function string) *Job {
	t.Helper()
	job, err := NewJob(JobSpec{Function: function, Payload: json.RawMessage(`{"a":1}`)})
	require.NoError(t, err)
	return job
}

// TestTASBotCreatesJob tests that TAS Bot can persist and reload a job
func TestTASBotCreatesJob(t *testing.T) {
	t.Log("🎮 TAS Bot creates save state (persists job to database)...")

	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))

	job := newTestJob(t, "sample_sum")
	require.NoError(t, store.CreateJob(ctx, job))

	loaded, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, loaded.ID)
	assert.Equal(t, "sample_sum", loaded.Function)
	assert.Equal(t, sandbox.RuntimePython, loaded.Runtime)
	assert.Equal(t, "sample_sum.py", loaded.Filename)
	assert.Equal(t, JobStatusQueued, loaded.Status)
	assert.JSONEq(t, `{"a":1}`, string(loaded.Payload))
	assert.Nil(t, loaded.StartedAt)
	assert.Nil(t, loaded.Meta.Cost)
	assert.WithinDuration(t, job.CreatedAt, loaded.CreatedAt, time.Millisecond)

	t.Log("✓ TAS Bot save state written and read back frame-perfect")
}

// TestKirbyUnknownJobIsNotFound tests lookups of ids that were never issued
func TestKirbyUnknownJobIsNotFound(t *testing.T) {
	t.Log("⭐ Kirby looks for a save slot that does not exist...")

	store := NewStore(fntest.CreateTestDB(t))
	_, err := store.GetJob(context.Background(), "no-such-job")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))

	t.Log("✓ Kirby gets a clean not-found, not a crash")
}

// TestKirbyClaimsOldestFirst tests FIFO claim order and the running transition
func TestKirbyClaimsOldestFirst(t *testing.T) {
	t.Log("⭐ Kirby inhales jobs in the order TAS Bot queued them...")

	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))

	first := newTestJob(t, "first")
	second := newTestJob(t, "second")
	require.NoError(t, store.CreateJob(ctx, first))
	require.NoError(t, store.CreateJob(ctx, second))

	claimed, err := store.ClaimNext(ctx, "kirby")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)
	assert.Equal(t, JobStatusRunning, claimed.Status)
	assert.Equal(t, "kirby", claimed.Meta.WorkerTag)
	require.NotNil(t, claimed.StartedAt)

	claimed, err = store.ClaimNext(ctx, "kirby")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, second.ID, claimed.ID)

	claimed, err = store.ClaimNext(ctx, "kirby")
	require.NoError(t, err)
	assert.Nil(t, claimed, "empty queue yields no job")

	t.Log("✓ Kirby claimed first, then second, then found nothing")
}

// TestTASBotAndKirbyNoDoubleClaim tests that concurrent claimers never
// receive the same job
func TestTASBotAndKirbyNoDoubleClaim(t *testing.T) {
	t.Log("🎮 TAS Bot queues 40 jobs while 4 Kirbys race to claim them...")

	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))

	const jobs = 40
	for i := 0; i < jobs; i++ {
		require.NoError(t, store.CreateJob(ctx, newTestJob(t, "race")))
	}

	var mu sync.Mutex
	seen := make(map[string]string)
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		tag := []string{"kirby-a", "kirby-b", "kirby-c", "kirby-d"}[w]
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.ClaimNext(ctx, tag)
				if !assert.NoError(t, err) || job == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[job.ID]; dup {
					t.Errorf("job %s claimed by %s and %s", job.ID, prev, tag)
				}
				seen[job.ID] = tag
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts[JobStatusQueued])
	assert.Equal(t, jobs, counts[JobStatusRunning])

	t.Log("✓ Every job claimed exactly once")
}

// TestKirbyTerminalWriteIsWriteOnce tests that a terminal state cannot be
// overwritten
func TestKirbyTerminalWriteIsWriteOnce(t *testing.T) {
	t.Log("⭐ Kirby finishes a job, then tries to finish it again...")

	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))
	require.NoError(t, store.CreateJob(ctx, newTestJob(t, "once")))

	job, err := store.ClaimNext(ctx, "kirby")
	require.NoError(t, err)
	require.NotNil(t, job)

	job.Finish(&sandbox.Outcome{Result: json.RawMessage(`"ok"`), ExecutionTime: 0.5, Cost: sandbox.Cost(0.5)})
	require.NoError(t, store.CompleteJob(ctx, job))

	job.Fail(&sandbox.Outcome{ExecutionTime: 1, Cost: sandbox.Cost(1)}, errors.New("late failure"))
	err = store.CompleteJob(ctx, job)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClaimLost))

	stored, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFinished, stored.Status)
	assert.True(t, stored.Meta.Success)
	assert.JSONEq(t, `"ok"`, string(stored.Meta.Result))
	assert.Empty(t, stored.Meta.Error)
	require.NotNil(t, stored.Meta.Cost)
	assert.Equal(t, 0.035, *stored.Meta.Cost)
	require.NotNil(t, stored.CompletedAt)

	t.Log("✓ First terminal write stands; the second was rejected")
}

// TestKirbyCannotCompleteAnotherWorkersJob tests the worker_tag guard
func TestKirbyCannotCompleteAnotherWorkersJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))
	require.NoError(t, store.CreateJob(ctx, newTestJob(t, "mine")))

	job, err := store.ClaimNext(ctx, "tas-bot")
	require.NoError(t, err)

	job.Meta.WorkerTag = "kirby"
	job.Finish(&sandbox.Outcome{Result: json.RawMessage(`1`)})
	assert.True(t, errors.Is(store.CompleteJob(ctx, job), ErrClaimLost))

	queued := newTestJob(t, "not-claimed")
	require.NoError(t, store.CreateJob(ctx, queued))
	queued.Finish(&sandbox.Outcome{Result: json.RawMessage(`1`)})
	assert.True(t, errors.Is(store.CompleteJob(ctx, queued), ErrClaimLost),
		"queued jobs cannot jump to a terminal state")
}

// TestTASBotListsAndCounts tests listing order, filters, counts and cost
func TestTASBotListsAndCounts(t *testing.T) {
	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))

	var ids []string
	for i := 0; i < 3; i++ {
		job := newTestJob(t, "list")
		ids = append(ids, job.ID)
		require.NoError(t, store.CreateJob(ctx, job))
	}

	job, err := store.ClaimNext(ctx, "kirby")
	require.NoError(t, err)
	job.Fail(&sandbox.Outcome{ExecutionTime: 2, Cost: sandbox.Cost(2)}, errors.New("boom"))
	require.NoError(t, store.CompleteJob(ctx, job))

	all, err := store.ListJobs(ctx, nil, 10)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].ID, "newest first")
	assert.Equal(t, ids[0], all[2].ID)

	failed := JobStatusFailed
	onlyFailed, err := store.ListJobs(ctx, &failed, 10)
	require.NoError(t, err)
	require.Len(t, onlyFailed, 1)
	assert.Equal(t, "boom", onlyFailed[0].Meta.Error)

	queued, err := store.CountQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	total, err := store.TotalCost(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.11, total, 1e-9)

	counts, err := store.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[JobStatus]int{
		JobStatusQueued:   2,
		JobStatusRunning:  0,
		JobStatusFinished: 0,
		JobStatusFailed:   1,
	}, counts)
}

// TestCronosCleanupOldJobs tests removal of old terminal jobs only
func TestCronosCleanupOldJobs(t *testing.T) {
	t.Log("⏳ Cronos sweeps away old save states...")

	ctx := context.Background()
	store := NewStore(fntest.CreateTestDB(t))

	require.NoError(t, store.CreateJob(ctx, newTestJob(t, "old")))
	require.NoError(t, store.CreateJob(ctx, newTestJob(t, "pending")))

	job, err := store.ClaimNext(ctx, "kirby")
	require.NoError(t, err)
	job.Finish(&sandbox.Outcome{Result: json.RawMessage(`1`)})
	job.UpdatedAt = time.Now().UTC().Add(-48 * time.Hour)
	require.NoError(t, store.CompleteJob(ctx, job))

	removed, err := store.CleanupOldJobs(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	queued, err := store.CountQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, queued, "Cronos never touches queued jobs")
}

func TestStoreWrapsDatabaseErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("disk I/O error"))
	err = store.CreateJob(ctx, newTestJob(t, "f"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create job")

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
	_, err = store.ClaimNext(ctx, "kirby")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to begin claim")

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM jobs WHERE status = 'queued'`).
		WillReturnError(errors.New("no such table: jobs"))
	_, err = store.CountQueued(ctx)
	require.Error(t, err)

	mock.ExpectQuery(`SELECT COALESCE\(SUM\(cost\), 0\) FROM jobs`).
		WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(1.25))
	total, err := store.TotalCost(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.25, total)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextRollsBackWhenRowVanishes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT seq, id FROM jobs WHERE status = 'queued'`).
		WillReturnRows(sqlmock.NewRows([]string{"seq", "id"}).AddRow(7, "job-7"))
	mock.ExpectExec(`UPDATE jobs`).
		WithArgs("kirby", sqlmock.AnyArg(), sqlmock.AnyArg(), 7).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	job, err := NewStore(db).ClaimNext(context.Background(), "kirby")
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}
