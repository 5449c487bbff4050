package tasks

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/syncer"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Workers = 1

	client, err := NewClient(filepath.Join(t.TempDir(), "study.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestNewClient(t *testing.T) {
	tmpDir := t.TempDir()

	client, err := NewClient(filepath.Join(tmpDir, "study.db"), Config{Workers: 1})
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(tmpDir, "study-tasks.db"))
	assert.NoError(t, err, "tasks database should be created")

	assert.NoError(t, client.Close())
}

func TestTasksDBPath(t *testing.T) {
	assert.Equal(t, filepath.Join("data", "study-tasks.db"), TasksDBPath(filepath.Join("data", "study.db")))
	assert.Equal(t, filepath.Join("data", "study-tasks"), TasksDBPath(filepath.Join("data", "study")))
}

func TestClientStartStop(t *testing.T) {
	client := newTestClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer stopCancel()
	assert.True(t, client.Stop(stopCtx), "stop should succeed gracefully")
}

func TestClientStopWithoutStart(t *testing.T) {
	client := newTestClient(t)
	assert.True(t, client.Stop(context.Background()))
}

type fakeEvictor struct {
	calls   chan entities.ContentKind
	evicted map[entities.ContentKind]int64
	err     error
}

func (f *fakeEvictor) EvictAll(ctx context.Context) (map[entities.ContentKind]int64, error) {
	f.calls <- ""
	return f.evicted, f.err
}

func (f *fakeEvictor) EvictOlderThan(ctx context.Context, kind entities.ContentKind, maxAge time.Duration) (int64, error) {
	f.calls <- kind
	return f.evicted[kind], f.err
}

func (f *fakeEvictor) MaxAge(entities.ContentKind) time.Duration { return time.Hour }

func TestEvictStaleContentTask_RunsOnQueue(t *testing.T) {
	client := newTestClient(t)
	evictor := &fakeEvictor{calls: make(chan entities.ContentKind, 1), evicted: map[entities.ContentKind]int64{}}
	client.Register(NewEvictStaleContentQueue(evictor))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go client.Start(ctx)

	id, err := client.Enqueue(EvictStaleContentTask{})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case kind := <-evictor.calls:
		assert.Empty(t, kind, "an empty kind sweeps everything")
	case <-time.After(5 * time.Second):
		t.Fatal("task was not executed within timeout")
	}
}

func TestEvictStaleContentProcessor(t *testing.T) {
	evictor := &fakeEvictor{calls: make(chan entities.ContentKind, 1), evicted: map[entities.ContentKind]int64{entities.ContentKindQuiz: 2}}
	process := EvictStaleContentProcessor(evictor)

	require.NoError(t, process(context.Background(), EvictStaleContentTask{Kind: entities.ContentKindQuiz}))
	assert.Equal(t, entities.ContentKindQuiz, <-evictor.calls)

	evictor.err = errors.New("disk I/O error")
	assert.Error(t, process(context.Background(), EvictStaleContentTask{}))
	<-evictor.calls

	assert.Error(t, EvictStaleContentProcessor(nil)(context.Background(), EvictStaleContentTask{}))
}

type fakeRunner struct {
	report syncer.CycleReport
	err    error
	runs   int
}

func (f *fakeRunner) Drain(context.Context) (syncer.CycleReport, error) {
	f.runs++
	return f.report, f.err
}

func TestRunSyncCycleProcessor(t *testing.T) {
	runner := &fakeRunner{report: syncer.CycleReport{Applied: 2}}
	process := RunSyncCycleProcessor(runner)

	require.NoError(t, process(context.Background(), RunSyncCycleTask{Reason: "manual"}))
	assert.Equal(t, 1, runner.runs)

	runner.report = syncer.CycleReport{Coalesced: true}
	require.NoError(t, process(context.Background(), RunSyncCycleTask{}))

	runner.err = errors.New("local storage is unavailable")
	assert.Error(t, process(context.Background(), RunSyncCycleTask{}))
}

func TestTaskConfigs(t *testing.T) {
	evict := EvictStaleContentTask{}.Config()
	assert.Equal(t, "evict_stale_content", evict.Name)
	assert.Equal(t, 3, evict.MaxAttempts)
	assert.NotNil(t, evict.Retention)

	cycle := RunSyncCycleTask{}.Config()
	assert.Equal(t, "run_sync_cycle", cycle.Name)
	assert.Equal(t, 1, cycle.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cycle.Timeout)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "pending", StatusString(backlite.TaskStatusPending))
	assert.Equal(t, "success", StatusString(backlite.TaskStatusSuccess))
	assert.Equal(t, "not_found", StatusString(backlite.TaskStatusNotFound))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 15*time.Minute, cfg.ReleaseAfter)
	assert.Equal(t, time.Hour, cfg.CleanupInterval)

	assert.Equal(t, cfg, Config{}.withDefaults())
}
