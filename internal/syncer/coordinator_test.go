package syncer

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/database/mutations"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/remote"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeRemote records calls and stores the last received confidence per card.
type fakeRemote struct {
	mu         sync.Mutex
	calls      []remote.Request
	confidence map[string]int
	respond    func(req remote.Request, attempt int) error
	attempts   map[string]int
}

func newFakeRemote(respond func(req remote.Request, attempt int) error) *fakeRemote {
	return &fakeRemote{
		confidence: make(map[string]int),
		attempts:   make(map[string]int),
		respond:    respond,
	}
}

func (f *fakeRemote) Do(ctx context.Context, req remote.Request) (*remote.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.attempts[req.IdempotencyKey]++
	attempt := f.attempts[req.IdempotencyKey]
	f.mu.Unlock()

	if f.respond != nil {
		if err := f.respond(req, attempt); err != nil {
			return nil, err
		}
	}

	if req.Endpoint == remote.PathReviews {
		var r actions.Review
		if err := json.Unmarshal(req.Body, &r); err != nil {
			return nil, &remote.StatusError{StatusCode: http.StatusBadRequest}
		}
		f.mu.Lock()
		f.confidence[r.FlashcardID] = r.Confidence
		f.mu.Unlock()
	}
	return &remote.Response{StatusCode: http.StatusOK}, nil
}

func (f *fakeRemote) Calls() []remote.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]remote.Request(nil), f.calls...)
}

func (f *fakeRemote) Confidence(card string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.confidence[card]
}

type fixture struct {
	db         *database.Database
	queue      *syncqueue.Repository
	clock      *testClock
	remote     *fakeRemote
	sync       *Coordinator
	reviewedAt time.Time
}

func setupCoordinator(t *testing.T, cfg Config, respond func(remote.Request, int) error) *fixture {
	t.Helper()
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	queue := syncqueue.NewRepositoryWithClock(db.DB, clock.Now)
	fake := newFakeRemote(respond)

	return &fixture{
		db:         db,
		queue:      queue,
		clock:      clock,
		remote:     fake,
		sync:       NewCoordinator(queue, fake, cfg, WithClock(clock.Now), WithRand(func() float64 { return 0 })),
		reviewedAt: clock.Now().Add(-time.Hour),
	}
}

func (f *fixture) review(t *testing.T, card string, confidence int) *entities.SyncQueueEntry {
	t.Helper()
	f.reviewedAt = f.reviewedAt.Add(time.Second)
	entry, err := f.queue.Enqueue(context.Background(), syncqueue.EnqueueRequest{Action: &actions.Review{
		FlashcardID: card,
		UserID:      "u1",
		Confidence:  confidence,
		ReviewedAt:  f.reviewedAt,
	}})
	require.NoError(t, err)
	f.clock.Advance(time.Millisecond)
	return entry
}

func (f *fixture) entry(t *testing.T, id string) *entities.SyncQueueEntry {
	t.Helper()
	e, err := f.queue.Get(context.Background(), id)
	require.NoError(t, err)
	return e
}

func unavailable(remote.Request, int) error {
	return &remote.StatusError{StatusCode: http.StatusServiceUnavailable}
}

func TestRunCycle_AppliesAndMarksSynced(t *testing.T) {
	f := setupCoordinator(t, Config{}, nil)
	ctx := context.Background()

	e1 := f.review(t, "F1", 3)
	f.review(t, "F2", 4)
	_, err := f.queue.Enqueue(ctx, syncqueue.EnqueueRequest{Action: &actions.ProgressUpdate{
		UserID: "u1", DeckID: "D1", CardsStudied: 2, UpdatedAt: f.clock.Now(),
	}})
	require.NoError(t, err)

	report, err := f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Batch)
	assert.Equal(t, 3, report.Applied)
	assert.Zero(t, report.Retried)

	pending, err := f.queue.PeekBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	m, err := mutations.NewRepository(f.db.DB).Get(ctx, e1.MutationID)
	require.NoError(t, err)
	assert.True(t, m.Synced)

	last, ok := f.sync.LastReport()
	require.True(t, ok)
	assert.Equal(t, 3, last.Applied)
	assert.False(t, f.sync.IsRunning())
}

func TestRunCycle_SendsIdempotencyKey(t *testing.T) {
	f := setupCoordinator(t, Config{}, nil)
	e := f.review(t, "F1", 3)

	_, err := f.sync.RunCycle(context.Background())
	require.NoError(t, err)

	calls := f.remote.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, e.MutationID, calls[0].IdempotencyKey)
	assert.Equal(t, "flashcard:F1:u1", calls[0].NaturalKey)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, remote.PathReviews, calls[0].Endpoint)
	assert.JSONEq(t, string(e.Payload), string(calls[0].Body))
}

func TestRunCycle_SameKeyInOrderWhileOtherKeyRaces(t *testing.T) {
	// The first F1 call is slow, giving F2 every chance to overtake it.
	f := setupCoordinator(t, Config{Concurrency: 4}, func(req remote.Request, attempt int) error {
		var r actions.Review
		_ = json.Unmarshal(req.Body, &r)
		if r.FlashcardID == "F1" && r.Confidence == 3 {
			time.Sleep(50 * time.Millisecond)
		}
		return nil
	})

	f.review(t, "F1", 3)
	f.review(t, "F2", 4)
	f.review(t, "F1", 5)

	report, err := f.sync.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, report.Applied)

	var order []string
	for _, call := range f.remote.Calls() {
		var r actions.Review
		require.NoError(t, json.Unmarshal(call.Body, &r))
		order = append(order, r.FlashcardID+"="+string(rune('0'+r.Confidence)))
	}
	require.Len(t, order, 3)
	assert.Equal(t, []string{"F1=3", "F1=5"}, filter(order, "F1"))
	assert.Less(t, indexOf(order, "F2=4"), indexOf(order, "F1=5"), "F2 is dispatched while F1 is still in flight")

	assert.Equal(t, 5, f.remote.Confidence("F1"))
	assert.Equal(t, 4, f.remote.Confidence("F2"))
}

func indexOf(order []string, v string) int {
	for i, o := range order {
		if o == v {
			return i
		}
	}
	return -1
}

func filter(order []string, prefix string) []string {
	var out []string
	for _, o := range order {
		if len(o) >= len(prefix) && o[:len(prefix)] == prefix {
			out = append(out, o)
		}
	}
	return out
}

func TestRunCycle_TransientFailureHoldsBackLaterEntries(t *testing.T) {
	f := setupCoordinator(t, Config{BackoffBase: time.Second, BackoffCap: time.Minute}, func(req remote.Request, attempt int) error {
		var r actions.Review
		_ = json.Unmarshal(req.Body, &r)
		if attempt == 1 && r.Confidence == 3 {
			return &remote.StatusError{StatusCode: http.StatusBadGateway}
		}
		return nil
	})
	ctx := context.Background()

	first := f.review(t, "F1", 3)
	f.review(t, "F1", 5)

	report, err := f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, report.Deferred)
	assert.Len(t, f.remote.Calls(), 1, "the second F1 review must wait for the first")

	e := f.entry(t, first.ID)
	assert.Equal(t, 1, e.RetryCount)
	assert.Contains(t, e.LastError, "502")
	assert.True(t, e.NextAttemptAt.Equal(f.clock.Now().Add(time.Second)))

	report, err = f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Batch, "a key that is backing off is not peeked")
	assert.Len(t, f.remote.Calls(), 1)

	f.clock.Advance(time.Second)
	report, err = f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Applied)
	assert.Equal(t, 5, f.remote.Confidence("F1"))
}

func TestRunCycle_BackingOffKeyDoesNotStarveOthers(t *testing.T) {
	f := setupCoordinator(t, Config{BatchSize: 2, BackoffBase: time.Minute, BackoffCap: time.Hour}, func(req remote.Request, attempt int) error {
		if req.NaturalKey == "flashcard:K:u1" {
			return &remote.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	ctx := context.Background()

	head := f.review(t, "K", 3)
	f.review(t, "K", 4)
	f.review(t, "K", 2)
	f.review(t, "L", 5)

	report, err := f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Zero(t, f.remote.Confidence("L"), "L is outside the first batch")

	for i := 0; i < 3; i++ {
		f.clock.Advance(time.Second)
		_, err := f.sync.RunCycle(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, 5, f.remote.Confidence("L"), "a due key is delivered while another backs off")
	assert.Len(t, f.remote.Calls(), 2, "K is not retried before its backoff ends")
	assert.Equal(t, 1, f.entry(t, head.ID).RetryCount)

	pending, err := f.queue.PeekBatch(ctx, 0)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, head.ID, pending[0].ID, "K keeps its order")
}

func TestRunCycle_BackoffIsExponential(t *testing.T) {
	f := setupCoordinator(t, Config{BackoffBase: time.Second, BackoffCap: 5 * time.Second, MaxRetries: 10}, unavailable)
	ctx := context.Background()
	e := f.review(t, "F1", 3)

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		_, err := f.sync.RunCycle(ctx)
		require.NoError(t, err)
		next := f.entry(t, e.ID).NextAttemptAt
		delay := next.Sub(f.clock.Now())
		delays = append(delays, delay)
		f.clock.Advance(delay)
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}, delays)
}

func TestRunCycle_RetryBoundIsExact(t *testing.T) {
	f := setupCoordinator(t, Config{MaxRetries: 5, BackoffBase: time.Second, BackoffCap: time.Minute}, unavailable)
	ctx := context.Background()
	e := f.review(t, "F1", 3)

	for retry := 1; retry <= 5; retry++ {
		report, err := f.sync.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Retried, "attempt %d", retry)

		got := f.entry(t, e.ID)
		assert.Equal(t, entities.QueueStatusPending, got.Status, "not dead-lettered before the bound")
		assert.Equal(t, retry, got.RetryCount)
		f.clock.Advance(time.Minute)
	}

	report, err := f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)

	got := f.entry(t, e.ID)
	assert.Equal(t, entities.QueueStatusDeadLettered, got.Status)
	assert.Equal(t, 5, got.RetryCount)
	assert.Contains(t, got.LastError, "giving up after 5 retries")
	assert.Len(t, f.remote.Calls(), 6)

	f.clock.Advance(time.Hour)
	report, err = f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Batch, "dead-lettered entries are never retried automatically")
	assert.Len(t, f.remote.Calls(), 6)
}

func TestRunCycle_RequeueGrantsFreshBudget(t *testing.T) {
	f := setupCoordinator(t, Config{MaxRetries: 1, BackoffBase: time.Second}, unavailable)
	ctx := context.Background()
	e := f.review(t, "F1", 3)

	for i := 0; i < 2; i++ {
		_, err := f.sync.RunCycle(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Minute)
	}
	require.Equal(t, entities.QueueStatusDeadLettered, f.entry(t, e.ID).Status)

	require.NoError(t, f.queue.Requeue(ctx, e.ID))
	report, err := f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)

	got := f.entry(t, e.ID)
	assert.Equal(t, entities.QueueStatusPending, got.Status)
	assert.Equal(t, 2, got.RetryCount, "counter only increases")
}

func TestRunCycle_PermanentRejectionDeadLettersWithoutRetry(t *testing.T) {
	f := setupCoordinator(t, Config{}, func(req remote.Request, attempt int) error {
		if req.Endpoint == remote.PathAttempts {
			return &remote.StatusError{StatusCode: http.StatusUnprocessableEntity, Body: "invalid answers"}
		}
		return nil
	})
	ctx := context.Background()

	submission, err := f.queue.Enqueue(ctx, syncqueue.EnqueueRequest{Action: &actions.Submission{
		AttemptID: "A1", QuizID: "Q1", UserID: "u1", MaxScore: 10, Score: 7, SubmittedAt: f.clock.Now(),
	}})
	require.NoError(t, err)
	f.review(t, "F1", 4)

	report, err := f.sync.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, 1, report.Applied)

	got := f.entry(t, submission.ID)
	assert.Equal(t, entities.QueueStatusDeadLettered, got.Status)
	assert.Equal(t, 0, got.RetryCount)
	assert.Contains(t, got.LastError, "invalid answers")
	assert.NotNil(t, got.DeadLetteredAt)
}

func TestRunCycle_PermanentRejectionDoesNotBlockKey(t *testing.T) {
	f := setupCoordinator(t, Config{}, func(req remote.Request, attempt int) error {
		var r actions.Review
		_ = json.Unmarshal(req.Body, &r)
		if r.Confidence == 3 {
			return &remote.StatusError{StatusCode: http.StatusConflict}
		}
		return nil
	})

	rejected := f.review(t, "F1", 3)
	f.review(t, "F1", 5)

	report, err := f.sync.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Equal(t, 1, report.Applied)
	assert.Equal(t, entities.QueueStatusDeadLettered, f.entry(t, rejected.ID).Status)
	assert.Equal(t, 5, f.remote.Confidence("F1"))
}

func TestRunCycle_CorruptPayloadIsDeadLettered(t *testing.T) {
	f := setupCoordinator(t, Config{}, nil)
	e := f.review(t, "F1", 3)
	require.NoError(t, f.db.DB.Model(&entities.SyncQueueEntry{}).
		Where("id = ?", e.ID).
		Update("payload", datatypes.JSON(`{"flashcard_id":"F9","user_id":"u1"}`)).Error)

	report, err := f.sync.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.DeadLettered)
	assert.Empty(t, f.remote.Calls())

	got := f.entry(t, e.ID)
	assert.Contains(t, got.LastError, "does not match entry key")
	assert.Zero(t, got.RetryCount)
}

func TestRunCycle_CoalescesConcurrentCycles(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f := setupCoordinator(t, Config{}, func(remote.Request, int) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})
	f.review(t, "F1", 3)

	done := make(chan CycleReport)
	go func() {
		report, _ := f.sync.RunCycle(context.Background())
		done <- report
	}()

	<-entered
	assert.True(t, f.sync.IsRunning())
	assert.Len(t, f.sync.InFlight(), 1)

	report, err := f.sync.RunCycle(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Coalesced)

	close(release)
	first := <-done
	assert.False(t, first.Coalesced)
	assert.Equal(t, 1, first.Applied)
	assert.Len(t, f.remote.Calls(), 1)
	assert.Empty(t, f.sync.InFlight())
}

func TestRunCycle_CancellationLeavesEntriesPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := setupCoordinator(t, Config{}, func(remote.Request, int) error {
		cancel()
		return context.Canceled
	})
	e := f.review(t, "F1", 3)
	f.review(t, "F1", 5)

	report, err := f.sync.RunCycle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, report.Deferred)
	assert.NotEmpty(t, report.Error)

	got := f.entry(t, e.ID)
	assert.Equal(t, entities.QueueStatusPending, got.Status)
	assert.Zero(t, got.RetryCount, "an aborted attempt is not a failure")
	assert.Empty(t, got.LastError)
}

func TestRunCycle_TimeoutIsTransient(t *testing.T) {
	f := setupCoordinator(t, Config{}, func(remote.Request, int) error {
		return remote.ErrTimeout
	})
	e := f.review(t, "F1", 3)

	report, err := f.sync.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retried)
	assert.Equal(t, 1, f.entry(t, e.ID).RetryCount)
}

func TestDrain_EventualConsistency(t *testing.T) {
	// Every key fails once; reviews of F3 are always rejected.
	f := setupCoordinator(t, Config{BatchSize: 4, BackoffBase: time.Second, BackoffCap: time.Second}, func(req remote.Request, attempt int) error {
		if req.NaturalKey == "flashcard:F3:u1" {
			return &remote.StatusError{StatusCode: http.StatusForbidden}
		}
		if attempt == 1 {
			return &remote.StatusError{StatusCode: http.StatusServiceUnavailable}
		}
		return nil
	})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 10; i++ {
		card := []string{"F1", "F2", "F3", "F4"}[i%4]
		ids = append(ids, f.review(t, card, 1+i%5).MutationID)
	}

	for i := 0; i < 20; i++ {
		_, err := f.sync.Drain(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Second)

		pending, err := f.queue.PeekBatch(ctx, 0)
		require.NoError(t, err)
		if len(pending) == 0 {
			break
		}
	}

	pending, err := f.queue.PeekBatch(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending, "no entry remains pending")

	dead, err := f.queue.ListDeadLettered(ctx)
	require.NoError(t, err)
	assert.Len(t, dead, 2, "both F3 reviews are dead-lettered")

	repo := mutations.NewRepository(f.db.DB)
	synced := 0
	for _, id := range ids {
		m, err := repo.Get(ctx, id)
		require.NoError(t, err)
		if m.Synced {
			synced++
		}
	}
	assert.Equal(t, 8, synced)
}

func TestGroupByKey(t *testing.T) {
	batch := []entities.SyncQueueEntry{
		{ID: "1", NaturalKey: "a"},
		{ID: "2", NaturalKey: "b"},
		{ID: "3", NaturalKey: "a"},
		{ID: "4", NaturalKey: "c"},
	}
	groups := groupByKey(batch)
	require.Len(t, groups, 3)
	assert.Equal(t, "1", groups[0][0].ID)
	assert.Equal(t, "3", groups[0][1].ID)
	assert.Equal(t, "2", groups[1][0].ID)
	assert.Equal(t, "4", groups[2][0].ID)
}
