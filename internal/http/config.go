package http

import (
	"github.com/mrlokans/studysync/internal/database"
)

// RouterConfig contains all dependencies needed to create the HTTP router.
type RouterConfig struct {
	Database *database.Database
	Version  string

	// Sync engine
	Queue       QueueStore
	Coordinator CycleReporter
	Trigger     Trigger

	// Task queue client (optional). When set, manual sync runs are queued
	// as background tasks.
	TaskClient TaskQueue

	Study   StudyService
	Content ContentService
}
