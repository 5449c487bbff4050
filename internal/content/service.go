// Package content serves quizzes and flashcards for offline reads.
//
// While the device is online every read goes to the remote authority and the
// result replaces the cached copy. When the authority cannot be reached, or
// the device is offline, the cached copy is served as long as it is fresh.
// A fresh cached copy also caps how long an online read waits on the network.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/entities"
	"github.com/mrlokans/studysync/internal/remote"
)

var (
	// ErrNotCached means the record is unavailable offline.
	ErrNotCached = errors.New("content is not available offline")

	// ErrNotFound means the authority has no such record.
	ErrNotFound = errors.New("content not found")
)

// Source tells where a served record came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceCache  Source = "cache"
)

// Fetcher reads content from the remote authority.
type Fetcher interface {
	FetchQuiz(ctx context.Context, id string) (*remote.Quiz, error)
	FetchFlashcard(ctx context.Context, id string) (*remote.Flashcard, error)
}

// Store is the local cache.
type Store interface {
	Put(ctx context.Context, rec entities.ContentRecord) error
	Get(ctx context.Context, kind entities.ContentKind, key string) (entities.ContentRecord, error)
	Delete(ctx context.Context, kind entities.ContentKind, key string) error
}

// Connectivity reports whether the device is online.
type Connectivity interface {
	IsOnline() bool
}

// Freshness decides whether a cached record may still be served.
type Freshness interface {
	IsFresh(kind entities.ContentKind, cachedAt time.Time) bool
}

// DefaultRemoteReadTimeout bounds an online read that has a fresh fallback.
const DefaultRemoteReadTimeout = 2 * time.Second

// Service is a read-through cache over the remote authority.
type Service struct {
	fetcher     Fetcher
	store       Store
	online      Connectivity
	freshness   Freshness
	readTimeout time.Duration
}

// NewService creates a content service.
func NewService(fetcher Fetcher, store Store, online Connectivity, freshness Freshness) *Service {
	return &Service{
		fetcher:     fetcher,
		store:       store,
		online:      online,
		freshness:   freshness,
		readTimeout: DefaultRemoteReadTimeout,
	}
}

// SetRemoteReadTimeout changes how long an online read waits for the
// authority before serving a fresh cached copy. Zero or less keeps the default.
func (s *Service) SetRemoteReadTimeout(d time.Duration) {
	if d > 0 {
		s.readTimeout = d
	}
}

// Quiz returns the quiz with the given remote ID.
func (s *Service) Quiz(ctx context.Context, id string) (*entities.CachedQuiz, Source, error) {
	rec, source, err := s.read(ctx, entities.ContentKindQuiz, id, func(ctx context.Context) (entities.ContentRecord, error) {
		quiz, err := s.fetcher.FetchQuiz(ctx, id)
		if err != nil {
			return nil, err
		}
		return quizRecord(quiz), nil
	})
	if err != nil {
		return nil, "", err
	}
	return rec.(*entities.CachedQuiz), source, nil
}

// Flashcard returns the flashcard with the given remote ID.
func (s *Service) Flashcard(ctx context.Context, id string) (*entities.CachedFlashcard, Source, error) {
	rec, source, err := s.read(ctx, entities.ContentKindFlashcard, id, func(ctx context.Context) (entities.ContentRecord, error) {
		card, err := s.fetcher.FetchFlashcard(ctx, id)
		if err != nil {
			return nil, err
		}
		return flashcardRecord(card), nil
	})
	if err != nil {
		return nil, "", err
	}
	return rec.(*entities.CachedFlashcard), source, nil
}

func (s *Service) read(ctx context.Context, kind entities.ContentKind, id string, fetch func(context.Context) (entities.ContentRecord, error)) (entities.ContentRecord, Source, error) {
	if s.online != nil && !s.online.IsOnline() {
		return s.cached(ctx, kind, id)
	}

	// With a fresh copy at hand the remote read only gets readTimeout.
	fallback, _, cacheErr := s.cached(ctx, kind, id)
	fetchCtx := ctx
	if cacheErr == nil {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, s.readTimeout)
		defer cancel()
	}

	rec, err := fetch(fetchCtx)
	if err == nil {
		if err := s.store.Put(ctx, rec); err != nil {
			log.Printf("Failed to cache %s %s: %v", kind, id, err)
		}
		return rec, SourceRemote, nil
	}

	var statusErr *remote.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
		if err := s.store.Delete(ctx, kind, id); err != nil {
			log.Printf("Failed to drop cached %s %s: %v", kind, id, err)
		}
		return nil, "", fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	log.Printf("Remote read of %s %s failed, falling back to cache: %v", kind, id, err)

	if cacheErr != nil {
		return nil, "", cacheErr
	}
	return fallback, SourceCache, nil
}

// cached serves the local copy when it is still fresh.
func (s *Service) cached(ctx context.Context, kind entities.ContentKind, id string) (entities.ContentRecord, Source, error) {
	rec, err := s.store.Get(ctx, kind, id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, "", fmt.Errorf("%s %s: %w", kind, id, ErrNotCached)
	}
	if err != nil {
		return nil, "", err
	}
	if s.freshness != nil && !s.freshness.IsFresh(kind, rec.CachedTime()) {
		return nil, "", fmt.Errorf("%s %s is stale: %w", kind, id, ErrNotCached)
	}
	return rec, SourceCache, nil
}

func quizRecord(q *remote.Quiz) *entities.CachedQuiz {
	rec := &entities.CachedQuiz{
		RemoteID:      q.ID,
		Title:         q.Title,
		Subject:       q.Subject,
		AuthorName:    q.AuthorName,
		RemoteVersion: q.Version,
	}
	if len(q.Questions) > 0 {
		rec.Questions = []byte(q.Questions)
		var questions []json.RawMessage
		if err := json.Unmarshal(q.Questions, &questions); err == nil {
			rec.QuestionCount = len(questions)
		}
	}
	return rec
}

func flashcardRecord(f *remote.Flashcard) *entities.CachedFlashcard {
	return &entities.CachedFlashcard{
		RemoteID:      f.ID,
		DeckID:        f.DeckID,
		DeckName:      f.DeckName,
		Front:         f.Front,
		Back:          f.Back,
		Confidence:    f.Confidence,
		RemoteVersion: f.Version,
	}
}
