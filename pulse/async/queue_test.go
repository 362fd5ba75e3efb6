package async

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/fnpulse/errors"
	fntest "github.com/teranos/fnpulse/internal/testing"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// ============================================================================
// TAS Bot & Yugi Queue Test Universe
// ============================================================================
//
// Characters:
//   - TAS Bot: Frame-perfect coordinator who enqueues jobs
//   - Yugi: Duelist who draws jobs from the queue like cards from a deck
// ============================================================================

// TestTASBotEnqueuesJob tests that Enqueue makes a job visible to status
// lookups and to dequeuers at once
func TestTASBotEnqueuesJob(t *testing.T) {
	t.Log("🎮 TAS Bot enqueues a job at the optimal frame...")

	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	job, err := queue.Enqueue(ctx, JobSpec{
		Function: "sample_sum",
		Payload:  json.RawMessage(`{"a":1,"b":2,"c":3}`),
		Runtime:  sandbox.RuntimeNative,
	})
	require.NoError(t, err)
	assert.Equal(t, "sample_sum", job.Filename)

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)

	stored, err := queue.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusQueued, stored.Status)

	t.Log("✓ Job is queued and visible")
}

// TestYugiDrawsFromDeck tests FIFO dequeue and the empty deck
func TestYugiDrawsFromDeck(t *testing.T) {
	t.Log("🃏 Yugi draws cards in the order they were placed...")

	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	a, err := queue.Enqueue(ctx, JobSpec{Function: "dark_magician"})
	require.NoError(t, err)
	b, err := queue.Enqueue(ctx, JobSpec{Function: "kuriboh"})
	require.NoError(t, err)

	drawn, err := queue.Dequeue(ctx, "yugi")
	require.NoError(t, err)
	assert.Equal(t, a.ID, drawn.ID)
	drawn, err = queue.Dequeue(ctx, "yugi")
	require.NoError(t, err)
	assert.Equal(t, b.ID, drawn.ID)

	drawn, err = queue.Dequeue(ctx, "yugi")
	require.NoError(t, err)
	assert.Nil(t, drawn)

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)

	t.Log("✓ It's time to d-d-d-duel: deck drawn in order")
}

// TestTASBotRejectsInvalidSpec tests that bad submissions never reach the queue
func TestTASBotRejectsInvalidSpec(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	_, err := queue.Enqueue(ctx, JobSpec{Function: "f", Runtime: "cobol"})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, size)
}

// TestYugiCompletesAndFailsJobs tests terminal writes and queue stats
func TestYugiCompletesAndFailsJobs(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	for _, fn := range []string{"win", "lose", "wait"} {
		_, err := queue.Enqueue(ctx, JobSpec{Function: fn})
		require.NoError(t, err)
	}

	win, err := queue.Dequeue(ctx, "yugi")
	require.NoError(t, err)
	require.NoError(t, queue.Complete(ctx, win,
		&sandbox.Outcome{Result: json.RawMessage(`"exodia"`), ExecutionTime: 1, Cost: sandbox.Cost(1)}, nil))

	lose, err := queue.Dequeue(ctx, "yugi")
	require.NoError(t, err)
	require.NoError(t, queue.Complete(ctx, lose,
		&sandbox.Outcome{ExecutionTime: 3, Cost: sandbox.Cost(3)}, errors.NewExecutionError("trap card")))

	stats, err := queue.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, &QueueStats{Queued: 1, Finished: 1, Failed: 1, Total: 3}, stats)

	total, err := queue.TotalCost(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.06+0.16, total, 1e-9)

	failed, err := queue.GetJob(ctx, lose.ID)
	require.NoError(t, err)
	assert.Equal(t, "trap card", failed.Meta.Error)
	assert.Nil(t, failed.Meta.Result)

	// A second verdict on the same job is refused
	err = queue.Complete(ctx, win, &sandbox.Outcome{}, errors.New("again"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrClaimLost))
}

// TestTASBotSubscribersSeeUpdates tests in-process job notifications
func TestTASBotSubscribersSeeUpdates(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	ch := queue.Subscribe()
	defer func() {
		queue.Unsubscribe(ch)
		close(ch)
	}()

	job, err := queue.Enqueue(ctx, JobSpec{Function: "watched"})
	require.NoError(t, err)
	_, err = queue.Dequeue(ctx, "yugi")
	require.NoError(t, err)

	first := <-ch
	assert.Equal(t, job.ID, first.ID)
	assert.Equal(t, JobStatusQueued, first.Status)
	second := <-ch
	assert.Equal(t, JobStatusRunning, second.Status)
}

func TestListJobsDefaultLimit(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	for i := 0; i < 3; i++ {
		_, err := queue.Enqueue(ctx, JobSpec{Function: "f"})
		require.NoError(t, err)
	}
	jobs, err := queue.ListJobs(ctx, nil, 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}

func TestCountRunningReportsOrphans(t *testing.T) {
	ctx := context.Background()
	queue := NewQueue(fntest.CreateTestDB(t))

	_, err := queue.Enqueue(ctx, JobSpec{Function: "f"})
	require.NoError(t, err)
	_, err = queue.Dequeue(ctx, "gone")
	require.NoError(t, err)

	n, err := queue.CountRunning(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQueueInfrastructureErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	queue := NewQueue(db)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).WillReturnError(errors.New("database is locked"))
	_, err = queue.Size(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsInfrastructureError(err))

	mock.ExpectExec("INSERT INTO jobs").WillReturnError(errors.New("disk full"))
	_, err = queue.Enqueue(ctx, JobSpec{Function: "f"})
	require.Error(t, err)
	assert.True(t, errors.IsInfrastructureError(err))
	assert.Contains(t, errors.FlattenDetails(err), "Function: f")

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
	_, err = queue.Dequeue(ctx, "yugi")
	require.Error(t, err)
	assert.True(t, errors.IsInfrastructureError(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}
