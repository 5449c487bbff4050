package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/studysync/internal/entities"
)

// ContentEvictor removes stale cached content.
type ContentEvictor interface {
	EvictAll(ctx context.Context) (map[entities.ContentKind]int64, error)
	EvictOlderThan(ctx context.Context, kind entities.ContentKind, maxAge time.Duration) (int64, error)
	MaxAge(kind entities.ContentKind) time.Duration
}

// EvictStaleContentTask removes cached quizzes and flashcards past their
// maximum age. An empty Kind sweeps every kind.
type EvictStaleContentTask struct {
	Kind entities.ContentKind `json:"kind,omitempty"`
}

// Config returns the queue configuration for eviction tasks.
func (t EvictStaleContentTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "evict_stale_content",
		MaxAttempts: 3,
		Backoff:     time.Minute,
		Timeout:     2 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// EvictStaleContentProcessor creates a processor function for EvictStaleContentTask.
func EvictStaleContentProcessor(evictor ContentEvictor) backlite.QueueProcessor[EvictStaleContentTask] {
	return func(ctx context.Context, task EvictStaleContentTask) error {
		if evictor == nil {
			return fmt.Errorf("content evictor not configured")
		}

		if task.Kind != "" {
			deleted, err := evictor.EvictOlderThan(ctx, task.Kind, evictor.MaxAge(task.Kind))
			if err != nil {
				return err
			}
			log.Printf("[TASK] Evicted %d stale %s records", deleted, task.Kind)
			return nil
		}

		counts, err := evictor.EvictAll(ctx)
		if err != nil {
			return err
		}
		var total int64
		for _, n := range counts {
			total += n
		}
		log.Printf("[TASK] Evicted %d stale cached records", total)
		return nil
	}
}

// NewEvictStaleContentQueue creates a backlite queue for eviction tasks.
func NewEvictStaleContentQueue(evictor ContentEvictor) backlite.Queue {
	return backlite.NewQueue(EvictStaleContentProcessor(evictor))
}
