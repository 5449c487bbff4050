package tasks

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/studysync/internal/syncer"
)

// CycleRunner runs sync cycles until the queue stops making progress.
type CycleRunner interface {
	Drain(ctx context.Context) (syncer.CycleReport, error)
}

// RunSyncCycleTask drains the sync queue in the background. Reason is recorded in
// the log only.
type RunSyncCycleTask struct {
	Reason string `json:"reason,omitempty"`
}

// Config returns the queue configuration for sync cycle tasks.
// A failed cycle is not retried here; the entries it left pending are picked
// up by the next scheduled or triggered cycle.
func (t RunSyncCycleTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "run_sync_cycle",
		MaxAttempts: 1,
		Backoff:     time.Second,
		Timeout:     10 * time.Minute,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: false,
			Data:       &backlite.RetainData{OnlyFailed: true},
		},
	}
}

// RunSyncCycleProcessor creates a processor function for RunSyncCycleTask.
func RunSyncCycleProcessor(runner CycleRunner) backlite.QueueProcessor[RunSyncCycleTask] {
	return func(ctx context.Context, task RunSyncCycleTask) error {
		if runner == nil {
			return fmt.Errorf("sync coordinator not configured")
		}

		report, err := runner.Drain(ctx)
		if err != nil {
			return fmt.Errorf("sync cycle: %w", err)
		}
		if report.Coalesced {
			log.Printf("[TASK] Sync cycle (%s) coalesced with a running cycle", task.Reason)
			return nil
		}
		log.Printf("[TASK] Sync cycle (%s): applied=%d retried=%d dead_lettered=%d",
			task.Reason, report.Applied, report.Retried, report.DeadLettered)
		return nil
	}
}

// NewRunSyncCycleQueue creates a backlite queue for sync cycle tasks.
func NewRunSyncCycleQueue(runner CycleRunner) backlite.Queue {
	return backlite.NewQueue(RunSyncCycleProcessor(runner))
}
