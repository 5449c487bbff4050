package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/scheduler"
	"github.com/mrlokans/studysync/internal/syncer"
	"github.com/mrlokans/studysync/internal/tasks"
)

// SyncController handles sync status and dead-letter management endpoints.
type SyncController struct {
	queue       QueueStore
	coordinator CycleReporter
	trigger     Trigger
	tasks       TaskQueue
}

// NewSyncController creates a new SyncController. taskQueue may be nil.
func NewSyncController(queue QueueStore, coordinator CycleReporter, trigger Trigger, taskQueue TaskQueue) *SyncController {
	return &SyncController{
		queue:       queue,
		coordinator: coordinator,
		trigger:     trigger,
		tasks:       taskQueue,
	}
}

// SyncStatusResponse describes the state of the sync engine.
type SyncStatusResponse struct {
	Online          bool                `json:"online"`
	Running         bool                `json:"running"`
	InFlight        []string            `json:"in_flight"`
	Pending         int64               `json:"pending"`
	Due             int64               `json:"due"`
	DeadLettered    int64               `json:"dead_lettered"`
	Unsynced        int64               `json:"unsynced"`
	OldestPendingAt *time.Time          `json:"oldest_pending_at,omitempty"`
	NextRunAt       *time.Time          `json:"next_run_at,omitempty"`
	LastCycle       *syncer.CycleReport `json:"last_cycle,omitempty"`
}

// Status handles GET /api/sync/status
func (sc *SyncController) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	stats, err := sc.queue.Stats(ctx)
	if err != nil {
		respondActionError(c, err, "sync stats")
		return
	}

	resp := SyncStatusResponse{
		Pending:         stats.Pending,
		Due:             stats.Due,
		DeadLettered:    stats.DeadLettered,
		Unsynced:        stats.Unsynced,
		OldestPendingAt: stats.OldestPendingAt,
		InFlight:        []string{},
	}
	if sc.trigger != nil {
		resp.Online = sc.trigger.IsOnline()
		resp.NextRunAt = sc.trigger.NextRunTime()
	}
	if sc.coordinator != nil {
		resp.Running = sc.coordinator.IsRunning()
		resp.InFlight = append(resp.InFlight, sc.coordinator.InFlight()...)
		if last, ok := sc.coordinator.LastReport(); ok {
			resp.LastCycle = &last
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Run handles POST /api/sync/run
// With a task queue the cycle is queued as a background task and runs even
// while the device is believed offline. Without one the trigger is asked for
// a cycle, which only happens while online.
func (sc *SyncController) Run(c *gin.Context) {
	if sc.tasks != nil {
		taskID, err := sc.tasks.Enqueue(tasks.RunSyncCycleTask{Reason: scheduler.ReasonManual})
		if err != nil {
			respondInternalError(c, err, "enqueue sync cycle")
			return
		}
		respondAccepted(c, "sync cycle queued", gin.H{"task_id": taskID})
		return
	}

	if sc.trigger == nil || !sc.trigger.IsOnline() {
		respondError(c, http.StatusConflict, "remote authority is unreachable", CodeOffline)
		return
	}
	sc.trigger.Trigger(scheduler.ReasonManual)
	respondAccepted(c, "sync cycle requested", nil)
}

// ListDeadLetters handles GET /api/sync/dead-letters
func (sc *SyncController) ListDeadLetters(c *gin.Context) {
	entries, err := sc.queue.ListDeadLettered(c.Request.Context())
	if err != nil {
		respondActionError(c, err, "list dead letters")
		return
	}
	if entries == nil {
		entries = []entities.SyncQueueEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "total": len(entries)})
}

// RetryDeadLetter handles POST /api/sync/dead-letters/:id/retry
func (sc *SyncController) RetryDeadLetter(c *gin.Context) {
	id := c.Param("id")
	if err := sc.queue.Requeue(c.Request.Context(), id); err != nil {
		sc.respondEntryError(c, err, "requeue")
		return
	}
	if sc.trigger != nil {
		sc.trigger.Trigger(scheduler.ReasonManual)
	}
	respondSuccess(c, "entry requeued")
}

// DiscardDeadLetter handles DELETE /api/sync/dead-letters/:id
func (sc *SyncController) DiscardDeadLetter(c *gin.Context) {
	if err := sc.queue.Discard(c.Request.Context(), c.Param("id")); err != nil {
		sc.respondEntryError(c, err, "discard")
		return
	}
	respondSuccess(c, "entry discarded")
}

func (sc *SyncController) respondEntryError(c *gin.Context, err error, op string) {
	if errors.Is(err, syncqueue.ErrNotFound) {
		respondNotFound(c, "dead-lettered entry")
		return
	}
	respondActionError(c, err, op)
}
