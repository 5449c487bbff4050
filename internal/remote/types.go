package remote

import (
	"encoding/json"
	"time"
)

// Wire paths of the remote authority.
const (
	PathAttempts   = "/api/v1/attempts"
	PathReviews    = "/api/v1/reviews"
	PathProgress   = "/api/v1/progress"
	PathQuizzes    = "/api/v1/quizzes/"
	PathFlashcards = "/api/v1/flashcards/"
	PathHealth     = "/health"

	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderNaturalKey     = "X-Natural-Key"
)

// Quiz is the remote representation of a quiz.
type Quiz struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Subject    string          `json:"subject,omitempty"`
	Questions  json.RawMessage `json:"questions,omitempty"`
	AuthorName string          `json:"author_name,omitempty"`
	Version    int             `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Flashcard is the remote representation of a flashcard.
type Flashcard struct {
	ID         string    `json:"id"`
	DeckID     string    `json:"deck_id"`
	DeckName   string    `json:"deck_name,omitempty"`
	Front      string    `json:"front"`
	Back       string    `json:"back"`
	Confidence int       `json:"confidence,omitempty"`
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Ack is the body the authority returns when it accepts a mutation.
type Ack struct {
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate"`
}
