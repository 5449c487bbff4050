package interfaces

// This file contains compile-time interface implementation checks.
// These ensure that concrete types satisfy their interfaces at compile time,
// catching missing methods before runtime.
//
// To verify all checks pass: go build ./internal/interfaces/...

import (
	"github.com/mrlokans/studysync/internal/connectivity"
	"github.com/mrlokans/studysync/internal/content"
	contentdb "github.com/mrlokans/studysync/internal/database/content"
	"github.com/mrlokans/studysync/internal/database/mutations"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/freshness"
	"github.com/mrlokans/studysync/internal/http"
	"github.com/mrlokans/studysync/internal/remote"
	"github.com/mrlokans/studysync/internal/scheduler"
	"github.com/mrlokans/studysync/internal/study"
	"github.com/mrlokans/studysync/internal/syncer"
	"github.com/mrlokans/studysync/internal/tasks"
)

// =============================================================================
// Local Durable Store
// =============================================================================

var _ syncer.Queue = (*syncqueue.Repository)(nil)
var _ study.Queue = (*syncqueue.Repository)(nil)
var _ http.QueueStore = (*syncqueue.Repository)(nil)
var _ scheduler.DueSource = (*syncqueue.Repository)(nil)

var _ freshness.Store = (*contentdb.Repository)(nil)
var _ study.Cache = (*contentdb.Repository)(nil)
var _ content.Store = (*contentdb.Repository)(nil)

var _ study.History = (*mutations.Repository)(nil)

// =============================================================================
// Remote Authority Client
// =============================================================================

var _ syncer.Sender = (*remote.Client)(nil)
var _ connectivity.HealthChecker = (*remote.Client)(nil)
var _ content.Fetcher = (*remote.Client)(nil)

// =============================================================================
// Sync Coordination
// =============================================================================

var _ http.CycleReporter = (*syncer.Coordinator)(nil)
var _ scheduler.CycleRunner = (*syncer.Coordinator)(nil)
var _ tasks.CycleRunner = (*syncer.Coordinator)(nil)

var _ connectivity.Listener = (*scheduler.SyncTrigger)(nil)
var _ content.Connectivity = (*scheduler.SyncTrigger)(nil)
var _ study.Nudger = (*scheduler.SyncTrigger)(nil)
var _ http.Trigger = (*scheduler.SyncTrigger)(nil)

// =============================================================================
// Cache Freshness
// =============================================================================

var _ content.Freshness = (*freshness.Manager)(nil)
var _ tasks.ContentEvictor = (*freshness.Manager)(nil)
var _ scheduler.Evictor = (*freshness.Manager)(nil)

// =============================================================================
// Services and Background Tasks
// =============================================================================

var _ http.StudyService = (*study.Service)(nil)
var _ http.ContentService = (*content.Service)(nil)

var _ http.TaskQueue = (*tasks.Client)(nil)
var _ scheduler.TaskEnqueuer = (*tasks.Client)(nil)
