package trigger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/fnpulse/errors"
	fntest "github.com/teranos/fnpulse/internal/testing"
	"github.com/teranos/fnpulse/pulse/async"
	"github.com/teranos/fnpulse/pulse/sandbox"
)

// ============================================================================
// Cronos Trigger Test Universe
// ============================================================================
//
// Characters:
//   - Cronos: Greek god of time, owns the interval clock
//   - TAS Bot: Registers triggers and reports events with frame-perfect timing
// ============================================================================

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedRegistry(now time.Time) *Registry {
	r := NewRegistry()
	r.now = func() time.Time { return now }
	return r
}

// recordingQueue collects enqueued specs
type recordingQueue struct {
	mu    sync.Mutex
	specs []async.JobSpec
	fail  error
}

func (q *recordingQueue) Enqueue(ctx context.Context, spec async.JobSpec) (*async.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail != nil {
		return nil, q.fail
	}
	q.specs = append(q.specs, spec)
	return async.NewJob(spec)
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.specs)
}

// TestCronosIntervalCadence tests that a 2s trigger fires once by 2.1s and
// twice by 4.1s
func TestCronosIntervalCadence(t *testing.T) {
	t.Log("⏳ Cronos sets a 2 second rhythm...")

	reg := fixedRegistry(epoch)
	q := &recordingQueue{}
	d := NewDispatcher(reg, q, time.Second, nil)

	_, err := reg.Register(Spec{Type: "interval", Function: "sample_sum", Runtime: sandbox.RuntimeNative, IntervalSeconds: 2})
	require.NoError(t, err)

	ctx := context.Background()
	for sec := 1; sec <= 4; sec++ {
		_, err := d.Tick(ctx, epoch.Add(time.Duration(sec)*time.Second))
		require.NoError(t, err)
		if sec == 2 {
			assert.Equal(t, 1, q.count(), "one job by 2.1s")
		}
	}
	assert.Equal(t, 2, q.count(), "two jobs by 4.1s")

	spec := q.specs[0]
	assert.Equal(t, "sample_sum", spec.Function)
	assert.Equal(t, sandbox.RuntimeNative, spec.Runtime)
	assert.Contains(t, spec.Source, "trigger:")

	t.Log("✓ Cronos kept time")
}

// TestCronosTickIsIdempotentForSameInstant tests that replaying a tick at
// the same instant does not fire again
func TestCronosTickIsIdempotentForSameInstant(t *testing.T) {
	reg := fixedRegistry(epoch)
	q := &recordingQueue{}
	d := NewDispatcher(reg, q, time.Second, nil)

	_, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 1})
	require.NoError(t, err)

	at := epoch.Add(time.Second)
	n, err := d.Tick(context.Background(), at)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = d.Tick(context.Background(), at)
	require.NoError(t, err)
	assert.Zero(t, n)
}

// TestCronosFailedEnqueueSkipsInterval tests that an enqueue failure does
// not retry within the same interval
func TestCronosFailedEnqueueSkipsInterval(t *testing.T) {
	reg := fixedRegistry(epoch)
	q := &recordingQueue{fail: errors.New("database is locked")}
	d := NewDispatcher(reg, q, time.Second, nil)

	tr, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 2})
	require.NoError(t, err)

	_, err = d.Tick(context.Background(), epoch.Add(2*time.Second))
	require.Error(t, err)

	q.fail = nil
	n, err := d.Tick(context.Background(), epoch.Add(3*time.Second))
	require.NoError(t, err)
	assert.Zero(t, n, "interval already consumed")

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(2*time.Second), *got.LastFired)
}

// TestTASBotEventFansOut tests that every matching event trigger fires
// exactly once per event, with no dedup across triggers
func TestTASBotEventFansOut(t *testing.T) {
	t.Log("🎮 TAS Bot reports event X to two listeners...")

	ctx := context.Background()
	queue := async.NewQueue(fntest.CreateTestDB(t))
	reg := NewRegistry()
	d := NewDispatcher(reg, queue, time.Second, nil)

	for i := 0; i < 2; i++ {
		_, err := reg.Register(Spec{Type: "event", Function: "sample_upper", EventType: "X",
			Payload: json.RawMessage(`{"text":"poyo"}`)})
		require.NoError(t, err)
	}
	_, err := reg.Register(Spec{Type: "event", Function: "other", EventType: "Y"})
	require.NoError(t, err)

	ids, err := d.FireEvent(ctx, "X")
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	job, err := queue.GetJob(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, "sample_upper", job.Function)
	assert.JSONEq(t, `{"text":"poyo"}`, string(job.Payload))

	ids, err = d.FireEvent(ctx, "unheard")
	require.NoError(t, err)
	assert.Empty(t, ids)

	t.Log("✓ Exactly two jobs for event X")
}

func TestFireEventRequiresType(t *testing.T) {
	d := NewDispatcher(NewRegistry(), &recordingQueue{}, time.Second, nil)
	_, err := d.FireEvent(context.Background(), "")
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestRegisterValidation(t *testing.T) {
	reg := fixedRegistry(epoch)

	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown type", Spec{Type: "sometimes", Function: "f"}},
		{"missing function", Spec{Type: "interval"}},
		{"negative interval", Spec{Type: "interval", Function: "f", IntervalSeconds: -5}},
		{"event without type", Spec{Type: "event", Function: "f"}},
		{"bad runtime", Spec{Type: "event", Function: "f", EventType: "X", Runtime: "lua"}},
		{"array payload", Spec{Type: "event", Function: "f", EventType: "X", Payload: json.RawMessage(`[]`)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := reg.Register(tt.spec)
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
		})
	}
	assert.Empty(t, reg.List())
}

func TestRegisterDefaultsAndAliases(t *testing.T) {
	reg := fixedRegistry(epoch)

	cron, err := reg.Register(Spec{Type: "cron", Function: "f"})
	require.NoError(t, err)
	assert.Equal(t, TypeInterval, cron.Type)
	assert.Equal(t, DefaultIntervalSeconds, cron.IntervalSeconds)
	require.NotNil(t, cron.LastFired)
	assert.Equal(t, epoch, *cron.LastFired)
	assert.Equal(t, sandbox.RuntimePython, cron.Runtime)

	hook, err := reg.Register(Spec{Type: "webhook", Function: "f", EventType: "push"})
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, hook.Type)
	assert.Nil(t, hook.LastFired)

	reg.SetDefaultInterval(15)
	short, err := reg.Register(Spec{Type: "interval", Function: "f"})
	require.NoError(t, err)
	assert.Equal(t, 15, short.IntervalSeconds)

	assert.Len(t, reg.List(), 3)
	assert.Equal(t, map[Type]int{TypeInterval: 2, TypeEvent: 1}, reg.Counts())
	assert.Equal(t, []string{"push"}, reg.EventTypes())

	_, err = reg.Get("missing")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestMarkFiredIsCompareAndSwap(t *testing.T) {
	reg := fixedRegistry(epoch)
	tr, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 1})
	require.NoError(t, err)

	later := epoch.Add(time.Second)
	assert.True(t, reg.MarkFired(tr.ID, epoch, later))
	assert.False(t, reg.MarkFired(tr.ID, epoch, later.Add(time.Second)), "stale prev loses")
	assert.False(t, reg.MarkFired("missing", epoch, later))
}

func TestListedTriggersAreCopies(t *testing.T) {
	reg := fixedRegistry(epoch)
	_, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 1})
	require.NoError(t, err)

	listed := reg.List()[0]
	*listed.LastFired = epoch.Add(time.Hour)
	assert.Len(t, reg.ListDue(epoch.Add(time.Second)), 1)
}

// TestCronosRealClock runs the dispatcher loop against wall time, with the
// trigger registered while the loop is already ticking
func TestCronosRealClock(t *testing.T) {
	if testing.Short() {
		t.Skip("wall clock test")
	}

	q := &recordingQueue{}
	reg := NewRegistry()
	tick := 20 * time.Millisecond
	d := NewDispatcher(reg, q, tick, nil)
	d.Start()
	defer d.Stop()

	t.Log("⏳ Cronos registers a 2 second rhythm out of phase with the tick...")
	time.Sleep(tick / 2)
	registered := time.Now()
	_, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 2})
	require.NoError(t, err)

	time.Sleep(time.Until(registered.Add(2100 * time.Millisecond)))
	assert.Equal(t, 1, q.count(), "one job by 2.1s")
	time.Sleep(time.Until(registered.Add(4100 * time.Millisecond)))
	assert.Equal(t, 2, q.count(), "two jobs by 4.1s")
}

// TestCronosLateTickKeepsPhase tests that a tick landing after the due time
// does not shift later fires
func TestCronosLateTickKeepsPhase(t *testing.T) {
	reg := fixedRegistry(epoch)
	q := &recordingQueue{}
	d := NewDispatcher(reg, q, time.Second, nil)

	tr, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 2})
	require.NoError(t, err)

	n, err := d.Tick(context.Background(), epoch.Add(2900*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(2*time.Second), *got.LastFired, "anchored to registration")

	n, err = d.Tick(context.Background(), epoch.Add(4*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "second fire due at 4s, not 4.9s")
}

// TestCronosStallRestartsPhase tests that missed intervals are not replayed
func TestCronosStallRestartsPhase(t *testing.T) {
	reg := fixedRegistry(epoch)
	q := &recordingQueue{}
	d := NewDispatcher(reg, q, time.Second, nil)

	tr, err := reg.Register(Spec{Type: "interval", Function: "f", IntervalSeconds: 2})
	require.NoError(t, err)

	stalled := epoch.Add(11 * time.Second)
	n, err := d.Tick(context.Background(), stalled)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = d.Tick(context.Background(), stalled.Add(time.Second))
	require.NoError(t, err)
	assert.Zero(t, n, "no catch-up burst")

	got, err := reg.Get(tr.ID)
	require.NoError(t, err)
	assert.Equal(t, stalled, *got.LastFired)
}

func TestNextFired(t *testing.T) {
	interval := 2 * time.Second
	assert.Equal(t, epoch.Add(interval), nextFired(epoch, interval, epoch.Add(interval)))
	assert.Equal(t, epoch.Add(interval), nextFired(epoch, interval, epoch.Add(3999*time.Millisecond)))
	assert.Equal(t, epoch.Add(2*interval), nextFired(epoch, interval, epoch.Add(2*interval)))
}
