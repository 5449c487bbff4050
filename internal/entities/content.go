package entities

import (
	"time"

	"gorm.io/datatypes"
)

// ContentKind identifies a type of remotely owned content kept for offline reads.
type ContentKind string

const (
	ContentKindQuiz      ContentKind = "quiz"
	ContentKindFlashcard ContentKind = "flashcard"
)

// ContentKinds lists every cacheable kind.
var ContentKinds = []ContentKind{ContentKindQuiz, ContentKindFlashcard}

func (k ContentKind) Valid() bool {
	return k == ContentKindQuiz || k == ContentKindFlashcard
}

// ContentRecord is implemented by every cached content model.
type ContentRecord interface {
	Kind() ContentKind
	NaturalKey() string
	CachedTime() time.Time
}

// CachedQuiz is a read-only snapshot of a remote quiz.
// At most one row exists per RemoteID; refetches overwrite it in place.
type CachedQuiz struct {
	ID            uint           `gorm:"primaryKey" json:"-"`
	RemoteID      string         `gorm:"uniqueIndex;size:128;not null" json:"id"`
	Title         string         `gorm:"size:512" json:"title"`
	Subject       string         `gorm:"size:256" json:"subject,omitempty"`
	QuestionCount int            `json:"question_count"`
	Questions     datatypes.JSON `gorm:"type:text" json:"questions,omitempty"`
	AuthorName    string         `gorm:"size:256" json:"author_name,omitempty"`
	RemoteVersion int            `json:"version"`
	CachedAt      time.Time      `gorm:"index;not null" json:"cached_at"`
}

func (CachedQuiz) TableName() string {
	return "cached_quizzes"
}

func (q *CachedQuiz) Kind() ContentKind     { return ContentKindQuiz }
func (q *CachedQuiz) NaturalKey() string    { return q.RemoteID }
func (q *CachedQuiz) CachedTime() time.Time { return q.CachedAt }

// CachedFlashcard is a read-only snapshot of a remote flashcard.
type CachedFlashcard struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	RemoteID      string    `gorm:"uniqueIndex;size:128;not null" json:"id"`
	DeckID        string    `gorm:"index;size:128" json:"deck_id"`
	DeckName      string    `gorm:"size:256" json:"deck_name,omitempty"`
	Front         string    `gorm:"type:text" json:"front"`
	Back          string    `gorm:"type:text" json:"back"`
	Confidence    int       `json:"confidence"`
	RemoteVersion int       `json:"version"`
	CachedAt      time.Time `gorm:"index;not null" json:"cached_at"`
}

func (CachedFlashcard) TableName() string {
	return "cached_flashcards"
}

func (f *CachedFlashcard) Kind() ContentKind     { return ContentKindFlashcard }
func (f *CachedFlashcard) NaturalKey() string    { return f.RemoteID }
func (f *CachedFlashcard) CachedTime() time.Time { return f.CachedAt }
