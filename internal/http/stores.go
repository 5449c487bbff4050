package http

import (
	"context"
	"time"

	"github.com/mikestefanello/backlite"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/content"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/syncer"
)

// This file consolidates the interfaces the HTTP controllers depend on.

// QueueStore provides operator access to the sync queue.
type QueueStore interface {
	Stats(ctx context.Context) (*syncqueue.Stats, error)
	ListDeadLettered(ctx context.Context) ([]entities.SyncQueueEntry, error)
	Requeue(ctx context.Context, id string) error
	Discard(ctx context.Context, id string) error
}

// CycleReporter exposes the coordinator's progress.
type CycleReporter interface {
	IsRunning() bool
	InFlight() []string
	LastReport() (syncer.CycleReport, bool)
}

// Trigger requests sync cycles.
type Trigger interface {
	Trigger(reason string) bool
	Foreground()
	IsOnline() bool
	NextRunTime() *time.Time
}

// TaskQueue runs background tasks.
type TaskQueue interface {
	Enqueue(task backlite.Task) (string, error)
	Status(ctx context.Context, taskID string) (backlite.TaskStatus, error)
}

// StudyService records user actions.
type StudyService interface {
	SubmitAttempt(ctx context.Context, attempt *actions.Submission) (*entities.SyncQueueEntry, error)
	ReviewFlashcard(ctx context.Context, review *actions.Review) (*entities.SyncQueueEntry, error)
	UpdateProgress(ctx context.Context, progress *actions.ProgressUpdate) (*entities.SyncQueueEntry, error)
	History(ctx context.Context, userID string, limit int) ([]entities.LocalMutation, error)
}

// ContentService reads quizzes and flashcards.
type ContentService interface {
	Quiz(ctx context.Context, id string) (*entities.CachedQuiz, content.Source, error)
	Flashcard(ctx context.Context, id string) (*entities.CachedFlashcard, content.Source, error)
}
