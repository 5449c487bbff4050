// Package actions defines the closed set of user actions that are queued for
// the remote authority.
//
// An Action is one of Submission, Review or ProgressUpdate. The interface is
// sealed so callers dispatch with an exhaustive type switch instead of
// comparing kind strings:
//
//	switch a := action.(type) {
//	case *actions.Submission:
//	case *actions.Review:
//	case *actions.ProgressUpdate:
//	}
package actions

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"gorm.io/datatypes"

	"github.com/mrlokans/studysync/internal/entities"
)

// ErrInvalidAction is returned when an action fails validation.
var ErrInvalidAction = errors.New("invalid action")

const (
	MinConfidence = 1
	MaxConfidence = 5
)

// Route is the remote endpoint an action is delivered to.
type Route struct {
	Method   string
	Endpoint string
}

// Action is a user activity that must eventually be reflected remotely.
type Action interface {
	Kind() entities.ActionKind
	// NaturalKey identifies the remote object the action mutates. Actions
	// sharing a natural key are applied in the order they were recorded.
	NaturalKey() string
	Owner() string
	Validate() error

	sealed()
}

// Answer is a single question response within a quiz attempt.
type Answer struct {
	QuestionID string `json:"question_id"`
	Choice     string `json:"choice"`
	Correct    bool   `json:"correct"`
}

// Submission is a completed quiz attempt. AttemptID is generated on the
// client and is the authority's deduplication key.
type Submission struct {
	AttemptID   string    `json:"attempt_id"`
	QuizID      string    `json:"quiz_id"`
	UserID      string    `json:"user_id"`
	Answers     []Answer  `json:"answers"`
	Score       float64   `json:"score"`
	MaxScore    float64   `json:"max_score"`
	StartedAt   time.Time `json:"started_at"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (s *Submission) Kind() entities.ActionKind { return entities.ActionSubmission }
func (s *Submission) NaturalKey() string        { return "attempt:" + s.AttemptID }
func (s *Submission) Owner() string             { return s.UserID }
func (s *Submission) sealed()                   {}

func (s *Submission) Validate() error {
	switch {
	case strings.TrimSpace(s.AttemptID) == "":
		return fmt.Errorf("%w: attempt_id is required", ErrInvalidAction)
	case strings.TrimSpace(s.QuizID) == "":
		return fmt.Errorf("%w: quiz_id is required", ErrInvalidAction)
	case strings.TrimSpace(s.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidAction)
	case s.MaxScore < 0 || s.Score < 0 || s.Score > s.MaxScore:
		return fmt.Errorf("%w: score %.2f out of range [0, %.2f]", ErrInvalidAction, s.Score, s.MaxScore)
	case s.SubmittedAt.IsZero():
		return fmt.Errorf("%w: submitted_at is required", ErrInvalidAction)
	}
	return nil
}

// Review is a flashcard confidence rating. Reviews of the same card by the
// same user resolve last-write-wins on ReviewedAt.
type Review struct {
	FlashcardID string    `json:"flashcard_id"`
	DeckID      string    `json:"deck_id,omitempty"`
	UserID      string    `json:"user_id"`
	Confidence  int       `json:"confidence"`
	ReviewedAt  time.Time `json:"reviewed_at"`
}

func (r *Review) Kind() entities.ActionKind { return entities.ActionReview }
func (r *Review) NaturalKey() string        { return "flashcard:" + r.FlashcardID + ":" + r.UserID }
func (r *Review) Owner() string             { return r.UserID }
func (r *Review) sealed()                   {}

func (r *Review) Validate() error {
	switch {
	case strings.TrimSpace(r.FlashcardID) == "":
		return fmt.Errorf("%w: flashcard_id is required", ErrInvalidAction)
	case strings.TrimSpace(r.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidAction)
	case r.Confidence < MinConfidence || r.Confidence > MaxConfidence:
		return fmt.Errorf("%w: confidence %d out of range [%d, %d]", ErrInvalidAction, r.Confidence, MinConfidence, MaxConfidence)
	case r.ReviewedAt.IsZero():
		return fmt.Errorf("%w: reviewed_at is required", ErrInvalidAction)
	}
	return nil
}

// ProgressUpdate is a snapshot of a user's progress through a deck.
type ProgressUpdate struct {
	UserID        string    `json:"user_id"`
	DeckID        string    `json:"deck_id"`
	CardsStudied  int       `json:"cards_studied"`
	CardsMastered int       `json:"cards_mastered"`
	StreakDays    int       `json:"streak_days"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (p *ProgressUpdate) Kind() entities.ActionKind { return entities.ActionProgressUpdate }
func (p *ProgressUpdate) NaturalKey() string        { return "progress:" + p.UserID + ":" + p.DeckID }
func (p *ProgressUpdate) Owner() string             { return p.UserID }
func (p *ProgressUpdate) sealed()                   {}

func (p *ProgressUpdate) Validate() error {
	switch {
	case strings.TrimSpace(p.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidAction)
	case strings.TrimSpace(p.DeckID) == "":
		return fmt.Errorf("%w: deck_id is required", ErrInvalidAction)
	case p.CardsStudied < 0 || p.CardsMastered < 0 || p.StreakDays < 0:
		return fmt.Errorf("%w: counters must not be negative", ErrInvalidAction)
	case p.CardsMastered > p.CardsStudied:
		return fmt.Errorf("%w: cards_mastered exceeds cards_studied", ErrInvalidAction)
	case p.UpdatedAt.IsZero():
		return fmt.Errorf("%w: updated_at is required", ErrInvalidAction)
	}
	return nil
}

// DefaultRoute returns the endpoint an action is delivered to when the caller
// does not override it.
func DefaultRoute(a Action) Route {
	switch a.(type) {
	case *Submission:
		return Route{Method: http.MethodPost, Endpoint: "/api/v1/attempts"}
	case *Review:
		return Route{Method: http.MethodPost, Endpoint: "/api/v1/reviews"}
	case *ProgressUpdate:
		return Route{Method: http.MethodPut, Endpoint: "/api/v1/progress"}
	}
	panic(fmt.Sprintf("actions: unhandled action type %T", a))
}

// Encode serializes an action payload for storage.
func Encode(a Action) (datatypes.JSON, error) {
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", a.Kind(), err)
	}
	return datatypes.JSON(data), nil
}

// Decode restores an action from its stored kind and payload.
func Decode(kind entities.ActionKind, payload []byte) (Action, error) {
	var a Action
	switch kind {
	case entities.ActionSubmission:
		a = &Submission{}
	case entities.ActionReview:
		a = &Review{}
	case entities.ActionProgressUpdate:
		a = &ProgressUpdate{}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidAction, kind)
	}
	if err := json.Unmarshal(payload, a); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return a, nil
}
