package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/remote"
	"github.com/mrlokans/studysync/internal/syncer"
	"github.com/mrlokans/studysync/internal/tasks"
)

type countingRunner struct {
	runs chan struct{}
}

func newCountingRunner() *countingRunner {
	return &countingRunner{runs: make(chan struct{}, 16)}
}

func (r *countingRunner) Drain(ctx context.Context) (syncer.CycleReport, error) {
	r.runs <- struct{}{}
	return syncer.CycleReport{}, nil
}

func (r *countingRunner) expectRun(t *testing.T) {
	t.Helper()
	select {
	case <-r.runs:
	case <-time.After(2 * time.Second):
		t.Fatal("expected a sync cycle")
	}
}

func (r *countingRunner) expectNoRun(t *testing.T) {
	t.Helper()
	select {
	case <-r.runs:
		t.Fatal("unexpected sync cycle")
	case <-time.After(100 * time.Millisecond):
	}
}

func startTrigger(t *testing.T, runner CycleRunner, schedule string) *SyncTrigger {
	t.Helper()
	trigger := NewSyncTrigger(runner, nil, schedule)
	require.NoError(t, trigger.Start(context.Background()))
	t.Cleanup(trigger.Stop)
	return trigger
}

func TestSyncTrigger_ReconnectRunsCycle(t *testing.T) {
	runner := newCountingRunner()
	trigger := startTrigger(t, runner, "")

	trigger.SetOnline(true)
	runner.expectRun(t)

	trigger.SetOnline(true)
	runner.expectNoRun(t)

	trigger.SetOnline(false)
	trigger.SetOnline(true)
	runner.expectRun(t)
}

func TestSyncTrigger_OfflineSuppressesTriggers(t *testing.T) {
	runner := newCountingRunner()
	trigger := startTrigger(t, runner, "")

	assert.False(t, trigger.IsOnline())
	assert.False(t, trigger.Trigger(ReasonManual))
	trigger.Foreground()
	trigger.RunNow()
	trigger.Nudge()
	runner.expectNoRun(t)
}

func TestSyncTrigger_ForegroundAndManual(t *testing.T) {
	runner := newCountingRunner()
	trigger := startTrigger(t, runner, "")
	trigger.SetOnline(true)
	runner.expectRun(t)

	trigger.Foreground()
	runner.expectRun(t)

	trigger.RunNow()
	runner.expectRun(t)
}

type blockingRunner struct {
	mu      sync.Mutex
	runs    int
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Drain(ctx context.Context) (syncer.CycleReport, error) {
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	r.started <- struct{}{}
	<-r.release
	return syncer.CycleReport{}, nil
}

func TestSyncTrigger_MergesPendingRequests(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}, 4), release: make(chan struct{})}
	trigger := startTrigger(t, runner, "")

	trigger.SetOnline(true)
	<-runner.started

	// One request queues behind the running cycle, the rest merge into it.
	assert.True(t, trigger.Trigger(ReasonManual))
	assert.False(t, trigger.Trigger(ReasonManual))
	assert.False(t, trigger.Trigger(ReasonForeground))

	close(runner.release)
	<-runner.started
	time.Sleep(50 * time.Millisecond)

	runner.mu.Lock()
	defer runner.mu.Unlock()
	assert.Equal(t, 2, runner.runs)
}

func TestSyncTrigger_TimerSchedule(t *testing.T) {
	runner := newCountingRunner()
	trigger := startTrigger(t, runner, "@every 1s")
	trigger.SetOnline(true)
	runner.expectRun(t)

	next := trigger.NextRunTime()
	require.NotNil(t, next)
	assert.WithinDuration(t, time.Now(), *next, 2*time.Second)
	runner.expectRun(t)
}

func TestSyncTrigger_InvalidSchedule(t *testing.T) {
	trigger := NewSyncTrigger(newCountingRunner(), nil, "not a schedule")
	assert.Error(t, trigger.Start(context.Background()))
	assert.False(t, trigger.IsRunning())
}

func TestSyncTrigger_StopIsIdempotent(t *testing.T) {
	trigger := NewSyncTrigger(newCountingRunner(), nil, "")
	trigger.Stop()
	require.NoError(t, trigger.Start(context.Background()))
	assert.True(t, trigger.IsRunning())
	trigger.Stop()
	trigger.Stop()
	assert.False(t, trigger.IsRunning())
	assert.Nil(t, trigger.NextRunTime())
}

type acceptingSender struct {
	mu    sync.Mutex
	calls int
}

func (s *acceptingSender) Do(ctx context.Context, req remote.Request) (*remote.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return &remote.Response{StatusCode: http.StatusOK}, nil
}

func (s *acceptingSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestSyncTrigger_ReconnectDrainsEveryBatch(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "trigger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	queue := syncqueue.NewRepository(db.DB)
	for i := 0; i < 5; i++ {
		_, err := queue.Enqueue(ctx, syncqueue.EnqueueRequest{Action: &actions.Review{
			FlashcardID: fmt.Sprintf("F%d", i),
			UserID:      "u1",
			Confidence:  3,
			ReviewedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		}})
		require.NoError(t, err)
	}

	sender := &acceptingSender{}
	coordinator := syncer.NewCoordinator(queue, sender, syncer.Config{BatchSize: 2})
	trigger := NewSyncTrigger(coordinator, queue, "")
	require.NoError(t, trigger.Start(ctx))
	t.Cleanup(trigger.Stop)

	trigger.SetOnline(true)

	require.Eventually(t, func() bool {
		stats, err := queue.Stats(ctx)
		return err == nil && stats.Pending == 0
	}, 2*time.Second, 20*time.Millisecond, "one reconnect delivers more than one batch")
	assert.Equal(t, 5, sender.Calls())
	assert.Nil(t, trigger.NextRetryTime(), "nothing left to wake up for")
}

// onceDue reports a due entry on its first call only.
type onceDue struct {
	mu    sync.Mutex
	calls int
}

func (d *onceDue) NextDue(context.Context) (*time.Time, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls > 1 {
		return nil, nil
	}
	now := time.Now()
	return &now, nil
}

func TestSyncTrigger_WakesWhenRetryIsDue(t *testing.T) {
	runner := newCountingRunner()
	trigger := NewSyncTrigger(runner, &onceDue{}, "")
	require.NoError(t, trigger.Start(context.Background()))
	t.Cleanup(trigger.Stop)

	trigger.SetOnline(true)
	runner.expectRun(t)

	require.Eventually(t, func() bool { return trigger.NextRetryTime() != nil }, time.Second, 10*time.Millisecond)
	runner.expectRun(t)

	require.Eventually(t, func() bool { return trigger.NextRetryTime() == nil }, time.Second, 10*time.Millisecond)
	runner.expectNoRun(t)
}

func TestSyncTrigger_StopCancelsRetryWake(t *testing.T) {
	runner := newCountingRunner()
	trigger := NewSyncTrigger(runner, &onceDue{}, "")
	require.NoError(t, trigger.Start(context.Background()))

	trigger.SetOnline(true)
	runner.expectRun(t)
	require.Eventually(t, func() bool { return trigger.NextRetryTime() != nil }, time.Second, 10*time.Millisecond)

	trigger.Stop()
	assert.Nil(t, trigger.NextRetryTime())
}

type fakeEvictor struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeEvictor) EvictAll(context.Context) (map[entities.ContentKind]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil, f.err
}

func (f *fakeEvictor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeEnqueuer struct {
	tasks []backlite.Task
}

func (f *fakeEnqueuer) Enqueue(task backlite.Task) (string, error) {
	f.tasks = append(f.tasks, task)
	return "task-1", nil
}

func TestEvictionScheduler_SweepsAtStartup(t *testing.T) {
	evictor := &fakeEvictor{}
	s := NewEvictionScheduler(evictor, nil, "@every 1h")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Equal(t, 1, evictor.Calls())
}

func TestEvictionScheduler_UsesTaskQueue(t *testing.T) {
	evictor := &fakeEvictor{}
	queue := &fakeEnqueuer{}
	s := NewEvictionScheduler(evictor, queue, "@every 1h")
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Zero(t, evictor.Calls())
	require.Len(t, queue.tasks, 1)
	assert.IsType(t, tasks.EvictStaleContentTask{}, queue.tasks[0])
}

func TestEvictionScheduler_FailureIsLogged(t *testing.T) {
	evictor := &fakeEvictor{err: errors.New("disk I/O error")}
	s := NewEvictionScheduler(evictor, nil, "@every 1h")
	s.Sweep(context.Background())
	assert.Equal(t, 1, evictor.Calls())
}

func TestEvictionScheduler_InvalidSchedule(t *testing.T) {
	s := NewEvictionScheduler(&fakeEvictor{}, nil, "every hour")
	assert.Error(t, s.Start(context.Background()))
}

func TestNextRunTime(t *testing.T) {
	now := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)
	next, err := NextRunTime("0 * * * *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = NextRunTime("bogus", now)
	assert.Error(t, err)
}
