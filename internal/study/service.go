// Package study implements the user actions that change study state.
//
// Every action is validated, written to the local store and queued for the
// remote authority before the call returns. Cached content the action makes
// stale is dropped, and the sync trigger is nudged so an online device
// delivers the action promptly.
package study

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/database/syncqueue"
	"github.com/mrlokans/studysync/internal/entities"
)

// Queue records actions durably.
type Queue interface {
	Enqueue(ctx context.Context, req syncqueue.EnqueueRequest) (*entities.SyncQueueEntry, error)
}

// Cache drops cached content.
type Cache interface {
	Delete(ctx context.Context, kind entities.ContentKind, key string) error
}

// History lists recorded actions.
type History interface {
	ListForUser(ctx context.Context, userID string, limit int) ([]entities.LocalMutation, error)
}

// Nudger is told when a new action was queued.
type Nudger interface {
	Nudge()
}

// Service records study actions.
type Service struct {
	queue   Queue
	cache   Cache
	history History
	nudger  Nudger
	now     func() time.Time
}

// NewService creates a study service. cache and nudger may be nil.
func NewService(queue Queue, cache Cache, history History, nudger Nudger) *Service {
	return &Service{
		queue:   queue,
		cache:   cache,
		history: history,
		nudger:  nudger,
		now:     time.Now,
	}
}

// SubmitAttempt records a completed quiz attempt. A missing AttemptID is
// generated and a zero SubmittedAt is set to now.
func (s *Service) SubmitAttempt(ctx context.Context, attempt *actions.Submission) (*entities.SyncQueueEntry, error) {
	if attempt.AttemptID == "" {
		attempt.AttemptID = uuid.NewString()
	}
	if attempt.SubmittedAt.IsZero() {
		attempt.SubmittedAt = s.now().UTC()
	}
	return s.record(ctx, attempt)
}

// ReviewFlashcard records a confidence rating. A zero ReviewedAt is set to now.
func (s *Service) ReviewFlashcard(ctx context.Context, review *actions.Review) (*entities.SyncQueueEntry, error) {
	if review.ReviewedAt.IsZero() {
		review.ReviewedAt = s.now().UTC()
	}
	return s.record(ctx, review)
}

// UpdateProgress records a deck progress snapshot. A zero UpdatedAt is set to now.
func (s *Service) UpdateProgress(ctx context.Context, progress *actions.ProgressUpdate) (*entities.SyncQueueEntry, error) {
	if progress.UpdatedAt.IsZero() {
		progress.UpdatedAt = s.now().UTC()
	}
	return s.record(ctx, progress)
}

// History returns a user's recorded actions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]entities.LocalMutation, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", actions.ErrInvalidAction)
	}
	return s.history.ListForUser(ctx, userID, limit)
}

func (s *Service) record(ctx context.Context, action actions.Action) (*entities.SyncQueueEntry, error) {
	entry, err := s.queue.Enqueue(ctx, syncqueue.EnqueueRequest{Action: action})
	if err != nil {
		return nil, fmt.Errorf("record %s: %w", action.Kind(), err)
	}

	s.invalidate(ctx, action)
	if s.nudger != nil {
		s.nudger.Nudge()
	}
	return entry, nil
}

// invalidate drops the cached content an action makes stale. The action is
// already recorded, so a failure here is only logged.
func (s *Service) invalidate(ctx context.Context, action actions.Action) {
	if s.cache == nil {
		return
	}

	var kind entities.ContentKind
	var key string
	switch a := action.(type) {
	case *actions.Submission:
		kind, key = entities.ContentKindQuiz, a.QuizID
	case *actions.Review:
		kind, key = entities.ContentKindFlashcard, a.FlashcardID
	case *actions.ProgressUpdate:
		return
	default:
		panic(fmt.Sprintf("study: unhandled action type %T", action))
	}

	if err := s.cache.Delete(ctx, kind, key); err != nil {
		log.Printf("[STUDY] Failed to invalidate cached %s %s: %v", kind, key, err)
	}
}
