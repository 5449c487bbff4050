package authority

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mrlokans/studysync/internal/remote"
)

// Seed is the content a fresh authority starts with.
type Seed struct {
	Quizzes    []remote.Quiz      `json:"quizzes"`
	Flashcards []remote.Flashcard `json:"flashcards"`
}

// Apply writes the seed content to the store.
func (s *Seed) Apply(ctx context.Context, store *Store) error {
	for i := range s.Quizzes {
		if err := store.PutQuiz(ctx, &s.Quizzes[i]); err != nil {
			return err
		}
	}
	for i := range s.Flashcards {
		if err := store.PutFlashcard(ctx, &s.Flashcards[i]); err != nil {
			return err
		}
	}
	return nil
}

// LoadSeed reads a JSON seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return &seed, nil
}
