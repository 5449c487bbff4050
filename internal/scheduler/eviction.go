package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mikestefanello/backlite"
	"github.com/robfig/cron/v3"

	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/tasks"
)

// Evictor sweeps stale cached content.
type Evictor interface {
	EvictAll(ctx context.Context) (map[entities.ContentKind]int64, error)
}

// TaskEnqueuer hands work to the background task queue.
type TaskEnqueuer interface {
	Enqueue(task backlite.Task) (string, error)
}

// EvictionScheduler sweeps the content cache once at startup and then on a
// schedule. With a task queue the sweep runs as an EvictStaleContentTask,
// otherwise inline on the cron goroutine.
type EvictionScheduler struct {
	evictor  Evictor
	queue    TaskEnqueuer
	schedule string

	cron      *cron.Cron
	mu        sync.Mutex
	isRunning bool
}

// NewEvictionScheduler creates an eviction scheduler. queue may be nil.
func NewEvictionScheduler(evictor Evictor, queue TaskEnqueuer, schedule string) *EvictionScheduler {
	return &EvictionScheduler{
		evictor:  evictor,
		queue:    queue,
		schedule: schedule,
		cron:     newCron(),
	}
}

// Start runs a first sweep and starts the schedule.
func (s *EvictionScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return nil
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return fmt.Errorf("invalid eviction schedule '%s': %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.Sweep(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule eviction job: %w", err)
	}

	s.Sweep(ctx)
	s.cron.Start()
	s.isRunning = true
	log.Printf("[EVICT] Scheduler started with schedule '%s'", s.schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *EvictionScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}
	<-s.cron.Stop().Done()
	s.isRunning = false
	log.Printf("[EVICT] Scheduler stopped")
}

// Sweep evicts stale content now, through the task queue when one is set.
func (s *EvictionScheduler) Sweep(ctx context.Context) {
	if s.queue != nil {
		if _, err := s.queue.Enqueue(tasks.EvictStaleContentTask{}); err != nil {
			log.Printf("[EVICT] Failed to enqueue eviction task: %v", err)
		}
		return
	}

	sweepCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if _, err := s.evictor.EvictAll(sweepCtx); err != nil {
		log.Printf("[EVICT] Sweep failed: %v", err)
	}
}
