// Package syncer drains the sync queue against the remote authority.
//
// A Coordinator runs one cycle at a time. Each cycle peeks a batch of pending
// entries, groups them by natural key and delivers the groups on a bounded
// worker pool. Entries sharing a key are delivered strictly in creation order
// and a transient failure stops the rest of that key's group, so a later
// mutation never overtakes an earlier one on the same remote object.
//
// Outcomes map onto the queue as follows:
//
//	2xx                       -> MarkApplied
//	network, timeout, 5xx,
//	408, 429                  -> MarkFailed with backoff, or MarkDeadLettered
//	                             once MaxRetries retries are spent
//	other 4xx, bad payload    -> MarkDeadLettered, retry counter untouched
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/remote"
)

const (
	DefaultBatchSize   = 50
	DefaultConcurrency = 4
	DefaultMaxRetries  = 5
	DefaultBackoffBase = 2 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
	DefaultJitter      = 0.2

	maxDrainCycles = 100
)

// Queue is the subset of the sync queue the coordinator drives.
type Queue interface {
	PeekDue(ctx context.Context, max int, asOf time.Time) ([]entities.SyncQueueEntry, error)
	MarkApplied(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error
	MarkDeadLettered(ctx context.Context, id string, cause error) error
}

// Sender performs one remote call.
type Sender interface {
	Do(ctx context.Context, req remote.Request) (*remote.Response, error)
}

// Config holds coordinator settings. Zero values take the package defaults,
// except RateLimit and Jitter where zero disables the feature.
type Config struct {
	BatchSize   int
	Concurrency int
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	Jitter      float64
	// RateLimit is the sustained number of remote calls per second.
	RateLimit float64
	RateBurst int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = DefaultBackoffCap
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 1
	}
	return c
}

// CycleReport summarizes one RunCycle call.
type CycleReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
	Batch        int           `json:"batch"`
	Applied      int           `json:"applied"`
	Retried      int           `json:"retried"`
	DeadLettered int           `json:"dead_lettered"`
	// Deferred counts entries left pending without an attempt, either because
	// their key was still backing off or an earlier entry of the key failed.
	Deferred int `json:"deferred"`
	// Coalesced is set when another cycle was already running.
	Coalesced bool   `json:"coalesced"`
	Error     string `json:"error,omitempty"`
}

// Processed returns the number of entries that reached a new persisted state.
func (r CycleReport) Processed() int {
	return r.Applied + r.Retried + r.DeadLettered
}

func (r *CycleReport) add(o CycleReport) {
	r.Applied += o.Applied
	r.Retried += o.Retried
	r.DeadLettered += o.DeadLettered
	r.Deferred += o.Deferred
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock sets the time source used for backoff scheduling.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithRand sets the jitter source, returning values in [0, 1).
func WithRand(r func() float64) Option {
	return func(c *Coordinator) { c.backoff.rand = r }
}

// Coordinator delivers queued mutations to the remote authority.
type Coordinator struct {
	queue   Queue
	sender  Sender
	cfg     Config
	backoff Backoff
	limiter *rate.Limiter
	now     func() time.Time

	running atomic.Bool

	mu       sync.Mutex
	inFlight map[string]struct{}
	last     *CycleReport
}

// NewCoordinator creates a coordinator draining queue through sender.
func NewCoordinator(queue Queue, sender Sender, cfg Config, opts ...Option) *Coordinator {
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	c := &Coordinator{
		queue:    queue,
		sender:   sender,
		cfg:      cfg,
		backoff:  NewBackoff(cfg.BackoffBase, cfg.BackoffCap, cfg.Jitter),
		limiter:  rate.NewLimiter(limit, cfg.RateBurst),
		now:      time.Now,
		inFlight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRunning reports whether a cycle is in progress.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// InFlight returns the IDs of entries currently being delivered.
func (c *Coordinator) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		ids = append(ids, id)
	}
	return ids
}

// LastReport returns the report of the most recent completed cycle.
func (c *Coordinator) LastReport() (CycleReport, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return CycleReport{}, false
	}
	return *c.last, true
}

// RunCycle drains one batch. If a cycle is already running it returns at once
// with Coalesced set. Remote failures are recorded on the entries and do not
// produce an error; the returned error is a storage failure or the context's.
func (c *Coordinator) RunCycle(ctx context.Context) (CycleReport, error) {
	if !c.running.CompareAndSwap(false, true) {
		return CycleReport{Coalesced: true}, nil
	}
	defer c.running.Store(false)

	report := CycleReport{StartedAt: c.now()}
	err := c.runCycle(ctx, &report)
	report.Duration = c.now().Sub(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
	}

	c.mu.Lock()
	saved := report
	c.last = &saved
	c.mu.Unlock()

	if report.Batch > 0 || err != nil {
		log.Printf("[SYNC] Cycle finished: batch=%d applied=%d retried=%d dead_lettered=%d deferred=%d",
			report.Batch, report.Applied, report.Retried, report.DeadLettered, report.Deferred)
	}
	if err != nil {
		log.Printf("[SYNC] Cycle aborted: %v", err)
	}
	return report, err
}

// Drain runs cycles until one makes no progress, the context ends or a cycle
// fails. Keys that are backing off are skipped rather than waited on, so a
// drain ends once every remaining entry is backing off.
func (c *Coordinator) Drain(ctx context.Context) (CycleReport, error) {
	var total CycleReport
	total.StartedAt = c.now()
	for i := 0; i < maxDrainCycles; i++ {
		report, err := c.RunCycle(ctx)
		if report.Coalesced {
			total.Coalesced = true
			break
		}
		total.Batch += report.Batch
		total.add(report)
		total.Deferred = report.Deferred
		if err != nil {
			total.Duration = c.now().Sub(total.StartedAt)
			return total, err
		}
		if report.Processed() == 0 {
			break
		}
	}
	total.Duration = c.now().Sub(total.StartedAt)
	return total, nil
}

func (c *Coordinator) runCycle(ctx context.Context, report *CycleReport) error {
	batch, err := c.queue.PeekDue(ctx, c.cfg.BatchSize, c.now())
	if err != nil {
		return fmt.Errorf("peek batch: %w", err)
	}
	report.Batch = len(batch)
	if len(batch) == 0 {
		return nil
	}

	groups := groupByKey(batch)
	results := make([]CycleReport, len(groups))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, group := range groups {
		g.Go(func() error {
			return c.deliverGroup(gctx, group, &results[i])
		})
	}
	err = g.Wait()

	for _, r := range results {
		report.add(r)
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

// deliverGroup delivers the entries of one natural key in order.
func (c *Coordinator) deliverGroup(ctx context.Context, group []entities.SyncQueueEntry, result *CycleReport) error {
	for i := range group {
		entry := &group[i]
		if entry.NextAttemptAt.After(c.now()) {
			result.Deferred += len(group) - i
			return nil
		}

		state, err := c.deliver(ctx, entry)
		if err != nil {
			result.Deferred += len(group) - i
			return err
		}

		switch state {
		case StateApplied:
			result.Applied++
		case StateDeadLettered:
			result.DeadLettered++
		case StatePending:
			result.Retried++
			result.Deferred += len(group) - i - 1
			return nil
		}
	}
	return nil
}

// deliver performs one attempt for entry and records the outcome. It returns
// the state the entry reached. A non-nil error means the outcome could not be
// recorded or the context ended, and the entry is still pending.
func (c *Coordinator) deliver(ctx context.Context, entry *entities.SyncQueueEntry) (State, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return StatePending, err
	}

	state := StatePending.To(StateInFlight)
	c.markInFlight(entry.ID)
	defer c.clearInFlight(entry.ID)

	// An observed outcome is recorded even if the cycle is cancelled meanwhile.
	record := context.WithoutCancel(ctx)

	req, err := buildRequest(entry)
	if err != nil {
		state = state.To(StateDeadLettered)
		log.Printf("[SYNC] Dead-lettering %s (%s): %v", entry.ID, entry.NaturalKey, err)
		return state, c.queue.MarkDeadLettered(record, entry.ID, err)
	}

	_, callErr := c.sender.Do(ctx, req)
	if callErr != nil && ctx.Err() != nil {
		state = state.To(StatePending)
		return state, ctx.Err()
	}

	switch remote.Classify(callErr) {
	case remote.OutcomeSuccess:
		state = state.To(StateApplied)
		return state, c.queue.MarkApplied(record, entry.ID)

	case remote.OutcomePermanent:
		state = state.To(StateDeadLettered)
		log.Printf("[SYNC] Remote rejected %s (%s): %v", entry.ID, entry.NaturalKey, callErr)
		return state, c.queue.MarkDeadLettered(record, entry.ID, callErr)

	default:
		used := entry.RetriesUsed()
		if used >= c.cfg.MaxRetries {
			state = state.To(StateDeadLettered)
			cause := fmt.Errorf("giving up after %d retries: %w", used, callErr)
			log.Printf("[SYNC] Dead-lettering %s (%s): %v", entry.ID, entry.NaturalKey, cause)
			return state, c.queue.MarkDeadLettered(record, entry.ID, cause)
		}
		state = state.To(StatePending)
		next := c.now().Add(c.backoff.Delay(used))
		log.Printf("[SYNC] Transient failure for %s (%s), retry %d/%d at %s: %v",
			entry.ID, entry.NaturalKey, used+1, c.cfg.MaxRetries, next.Format(time.RFC3339), callErr)
		return state, c.queue.MarkFailed(record, entry.ID, callErr, next)
	}
}

func (c *Coordinator) markInFlight(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.inFlight[id]; ok {
		panic(fmt.Sprintf("syncer: entry %s dispatched twice", id))
	}
	c.inFlight[id] = struct{}{}
}

func (c *Coordinator) clearInFlight(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inFlight, id)
}

// errUndeliverable marks a stored entry that can never be sent as is.
var errUndeliverable = errors.New("undeliverable queue entry")

// buildRequest turns an entry into its remote call. The payload is decoded so
// that a corrupt entry is dead-lettered instead of being sent.
func buildRequest(entry *entities.SyncQueueEntry) (remote.Request, error) {
	action, err := actions.Decode(entry.Kind, entry.Payload)
	if err != nil {
		return remote.Request{}, fmt.Errorf("%w: %v", errUndeliverable, err)
	}

	switch a := action.(type) {
	case *actions.Submission, *actions.Review, *actions.ProgressUpdate:
		if a.NaturalKey() != entry.NaturalKey {
			return remote.Request{}, fmt.Errorf("%w: payload key %q does not match entry key %q",
				errUndeliverable, a.NaturalKey(), entry.NaturalKey)
		}
	default:
		panic(fmt.Sprintf("syncer: unhandled action type %T", action))
	}

	return remote.Request{
		Method:         entry.Method,
		Endpoint:       entry.Endpoint,
		IdempotencyKey: entry.MutationID,
		NaturalKey:     entry.NaturalKey,
		Body:           entry.Payload,
	}, nil
}

// groupByKey splits a batch into per-key groups. Groups are ordered by their
// oldest entry and each group keeps batch order.
func groupByKey(batch []entities.SyncQueueEntry) [][]entities.SyncQueueEntry {
	index := make(map[string]int)
	var groups [][]entities.SyncQueueEntry
	for _, entry := range batch {
		i, ok := index[entry.NaturalKey]
		if !ok {
			i = len(groups)
			index[entry.NaturalKey] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], entry)
	}
	return groups
}
