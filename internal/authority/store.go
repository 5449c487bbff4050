package authority

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/remote"
)

// IdempotencyTTL is how long a committed Idempotency-Key is remembered.
const IdempotencyTTL = 30 * 24 * time.Hour

const (
	keyPrefix  = "authority:"
	txAttempts = 5
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Result is the outcome of committing a mutation.
type Result string

const (
	ResultApplied    Result = "applied"
	ResultSuperseded Result = "superseded"
	ResultReplayed   Result = "replayed"
)

// envelope stores a last-write-wins value together with its write time.
type envelope struct {
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Store keeps the authoritative study state in Redis.
type Store struct {
	client *redis.Client
}

// OpenStore connects to the Redis server at redisURL.
func OpenStore(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStore creates a store from an existing Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}

// SeenKey reports whether a mutation with this Idempotency-Key was committed.
func (s *Store) SeenKey(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, idempotencyKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("look up idempotency key: %w", err)
	}
	return n > 0, nil
}

// RecordAttempt stores a quiz attempt once per AttemptID. A repeated
// AttemptID or Idempotency-Key yields ResultReplayed.
func (s *Store) RecordAttempt(ctx context.Context, idemKey string, attempt *actions.Submission) (Result, error) {
	data, err := json.Marshal(attempt)
	if err != nil {
		return "", fmt.Errorf("marshal attempt: %w", err)
	}
	return s.commit(ctx, idemKey, attemptKey(attempt.AttemptID), data, func([]byte) (Result, error) {
		return ResultReplayed, nil
	})
}

// Attempt returns a recorded attempt.
func (s *Store) Attempt(ctx context.Context, id string) (*actions.Submission, error) {
	var attempt actions.Submission
	if err := s.getJSON(ctx, attemptKey(id), &attempt); err != nil {
		return nil, err
	}
	return &attempt, nil
}

// ApplyReview stores a review unless a review of the same card by the same
// user with an equal or later ReviewedAt is already stored.
func (s *Store) ApplyReview(ctx context.Context, idemKey string, review *actions.Review) (Result, error) {
	return s.applyLatest(ctx, idemKey, reviewKey(review.FlashcardID, review.UserID), review.ReviewedAt, review)
}

// Review returns the current review of a card by a user.
func (s *Store) Review(ctx context.Context, flashcardID, userID string) (*actions.Review, error) {
	var review actions.Review
	if err := s.getLatest(ctx, reviewKey(flashcardID, userID), &review); err != nil {
		return nil, err
	}
	return &review, nil
}

// ApplyProgress stores a progress snapshot unless a later one is stored.
func (s *Store) ApplyProgress(ctx context.Context, idemKey string, progress *actions.ProgressUpdate) (Result, error) {
	return s.applyLatest(ctx, idemKey, progressKey(progress.UserID, progress.DeckID), progress.UpdatedAt, progress)
}

// Progress returns the current progress of a user through a deck.
func (s *Store) Progress(ctx context.Context, userID, deckID string) (*actions.ProgressUpdate, error) {
	var progress actions.ProgressUpdate
	if err := s.getLatest(ctx, progressKey(userID, deckID), &progress); err != nil {
		return nil, err
	}
	return &progress, nil
}

func (s *Store) PutQuiz(ctx context.Context, quiz *remote.Quiz) error {
	return s.setJSON(ctx, keyPrefix+"quiz:"+quiz.ID, quiz)
}

func (s *Store) Quiz(ctx context.Context, id string) (*remote.Quiz, error) {
	var quiz remote.Quiz
	if err := s.getJSON(ctx, keyPrefix+"quiz:"+id, &quiz); err != nil {
		return nil, err
	}
	return &quiz, nil
}

func (s *Store) PutFlashcard(ctx context.Context, card *remote.Flashcard) error {
	return s.setJSON(ctx, keyPrefix+"flashcard:"+card.ID, card)
}

func (s *Store) Flashcard(ctx context.Context, id string) (*remote.Flashcard, error) {
	var card remote.Flashcard
	if err := s.getJSON(ctx, keyPrefix+"flashcard:"+id, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

// applyLatest writes value under key when at is after the stored write time.
func (s *Store) applyLatest(ctx context.Context, idemKey, key string, at time.Time, value any) (Result, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", key, err)
	}
	next, err := json.Marshal(envelope{At: at.UTC(), Data: data})
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.commit(ctx, idemKey, key, next, func(raw []byte) (Result, error) {
		var current envelope
		if err := json.Unmarshal(raw, &current); err != nil {
			return "", fmt.Errorf("decode %s: %w", key, err)
		}
		if !at.After(current.At) {
			return ResultSuperseded, nil
		}
		return ResultApplied, nil
	})
}

// commit writes value under key and records idemKey in one WATCH/MULTI
// transaction, so the key is remembered exactly when the outcome is durable.
// A recorded idemKey short-circuits to ResultReplayed. When key already
// holds a value, decide picks the outcome; only ResultApplied overwrites it.
// An empty idemKey skips the ledger.
func (s *Store) commit(ctx context.Context, idemKey, key string, value []byte, decide func(current []byte) (Result, error)) (Result, error) {
	watched := []string{key}
	if idemKey != "" {
		watched = append(watched, idempotencyKey(idemKey))
	}

	var result Result
	txf := func(tx *redis.Tx) error {
		if idemKey != "" {
			n, err := tx.Exists(ctx, idempotencyKey(idemKey)).Result()
			if err != nil {
				return err
			}
			if n > 0 {
				result = ResultReplayed
				return nil
			}
		}

		result = ResultApplied
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if result, err = decide(raw); err != nil {
				return err
			}
		}

		if result != ResultApplied && idemKey == "" {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if result == ResultApplied {
				pipe.Set(ctx, key, value, 0)
			}
			if idemKey != "" {
				pipe.Set(ctx, idempotencyKey(idemKey), string(result), IdempotencyTTL)
			}
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < txAttempts; i++ {
		err = s.client.Watch(ctx, txf, watched...)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	if err != nil {
		return "", fmt.Errorf("apply %s: %w", key, err)
	}
	return result, nil
}

func (s *Store) getLatest(ctx context.Context, key string, out any) error {
	var current envelope
	if err := s.getJSON(ctx, key, &current); err != nil {
		return err
	}
	if err := json.Unmarshal(current.Data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *Store) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

func (s *Store) getJSON(ctx context.Context, key string, out any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func idempotencyKey(key string) string {
	return keyPrefix + "idem:" + key
}

func attemptKey(id string) string {
	return keyPrefix + "attempt:" + id
}

func reviewKey(flashcardID, userID string) string {
	return keyPrefix + "review:" + flashcardID + ":" + userID
}

func progressKey(userID, deckID string) string {
	return keyPrefix + "progress:" + userID + ":" + deckID
}
