// Package content provides the cached content tables of the local store.
//
// Cached quizzes and flashcards are immutable snapshots of remote content,
// keyed by their remote identifier. Put overwrites an existing snapshot in
// place, so at most one row exists per (kind, key).
//
// # Usage
//
//	repo := content.NewRepository(db)
//	err := repo.Put(ctx, &entities.CachedFlashcard{RemoteID: "F1", Front: "..."})
//	rec, err := repo.Get(ctx, entities.ContentKindFlashcard, "F1")
package content

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/entities"
)

// Index names a secondary index usable with QueryByIndex.
type Index string

const (
	IndexNaturalKey Index = "natural_key"
	IndexCachedAt   Index = "cached_at"
)

func (i Index) column() (string, error) {
	switch i {
	case IndexNaturalKey:
		return "remote_id", nil
	case IndexCachedAt:
		return "cached_at", nil
	}
	return "", fmt.Errorf("unknown index %q", i)
}

// Range bounds an index scan. From is inclusive, To is exclusive, and a nil
// bound is open.
type Range struct {
	From any
	To   any
}

// Repository handles cached content database operations.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new content repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Put inserts a record, or replaces the existing record with the same kind and key.
// A zero CachedAt is stamped with the current time.
func (r *Repository) Put(ctx context.Context, rec entities.ContentRecord) error {
	if rec == nil || rec.NaturalKey() == "" {
		return fmt.Errorf("put content: natural key is required")
	}

	switch v := rec.(type) {
	case *entities.CachedQuiz:
		v.CachedAt = r.stamp(v.CachedAt)
	case *entities.CachedFlashcard:
		v.CachedAt = r.stamp(v.CachedAt)
	default:
		return fmt.Errorf("put content: unsupported record type %T", rec)
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "remote_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	return database.Wrap(fmt.Sprintf("put %s %s", rec.Kind(), rec.NaturalKey()), err)
}

// Get returns the cached record for kind and key, or database.ErrNotFound.
func (r *Repository) Get(ctx context.Context, kind entities.ContentKind, key string) (entities.ContentRecord, error) {
	rec, err := newRecord(kind)
	if err != nil {
		return nil, err
	}
	err = r.db.WithContext(ctx).Where("remote_id = ?", key).First(rec).Error
	if err != nil {
		return nil, database.Wrap(fmt.Sprintf("get %s %s", kind, key), err)
	}
	return rec, nil
}

// Quiz returns a cached quiz by remote ID.
func (r *Repository) Quiz(ctx context.Context, id string) (*entities.CachedQuiz, error) {
	rec, err := r.Get(ctx, entities.ContentKindQuiz, id)
	if err != nil {
		return nil, err
	}
	return rec.(*entities.CachedQuiz), nil
}

// Flashcard returns a cached flashcard by remote ID.
func (r *Repository) Flashcard(ctx context.Context, id string) (*entities.CachedFlashcard, error) {
	rec, err := r.Get(ctx, entities.ContentKindFlashcard, id)
	if err != nil {
		return nil, err
	}
	return rec.(*entities.CachedFlashcard), nil
}

// QueryByIndex returns records of kind whose index value lies within rng,
// ordered by that index.
func (r *Repository) QueryByIndex(ctx context.Context, kind entities.ContentKind, index Index, rng Range) ([]entities.ContentRecord, error) {
	column, err := index.column()
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx)
	if rng.From != nil {
		query = query.Where(column+" >= ?", normalize(rng.From))
	}
	if rng.To != nil {
		query = query.Where(column+" < ?", normalize(rng.To))
	}
	query = query.Order(column + " ASC").Order("id ASC")

	op := fmt.Sprintf("query %s by %s", kind, index)
	switch kind {
	case entities.ContentKindQuiz:
		var rows []entities.CachedQuiz
		if err := query.Find(&rows).Error; err != nil {
			return nil, database.Wrap(op, err)
		}
		out := make([]entities.ContentRecord, len(rows))
		for i := range rows {
			out[i] = &rows[i]
		}
		return out, nil
	case entities.ContentKindFlashcard:
		var rows []entities.CachedFlashcard
		if err := query.Find(&rows).Error; err != nil {
			return nil, database.Wrap(op, err)
		}
		out := make([]entities.ContentRecord, len(rows))
		for i := range rows {
			out[i] = &rows[i]
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown content kind %q", kind)
}

// Delete removes the cached record for kind and key. Deleting a missing
// record is not an error.
func (r *Repository) Delete(ctx context.Context, kind entities.ContentKind, key string) error {
	rec, err := newRecord(kind)
	if err != nil {
		return err
	}
	err = r.db.WithContext(ctx).Where("remote_id = ?", key).Delete(rec).Error
	return database.Wrap(fmt.Sprintf("delete %s %s", kind, key), err)
}

// DeleteCachedBefore removes every record of kind cached strictly before cutoff.
// Returns the number of deleted records.
func (r *Repository) DeleteCachedBefore(ctx context.Context, kind entities.ContentKind, cutoff time.Time) (int64, error) {
	rec, err := newRecord(kind)
	if err != nil {
		return 0, err
	}
	result := r.db.WithContext(ctx).Where("cached_at < ?", cutoff.UTC()).Delete(rec)
	if result.Error != nil {
		return 0, database.Wrap(fmt.Sprintf("evict %s", kind), result.Error)
	}
	return result.RowsAffected, nil
}

// stamp stores every timestamp in UTC so that SQLite's text timestamps
// compare in chronological order.
func (r *Repository) stamp(t time.Time) time.Time {
	if t.IsZero() {
		t = r.now()
	}
	return t.UTC()
}

func normalize(bound any) any {
	if t, ok := bound.(time.Time); ok {
		return t.UTC()
	}
	return bound
}

func newRecord(kind entities.ContentKind) (entities.ContentRecord, error) {
	switch kind {
	case entities.ContentKindQuiz:
		return &entities.CachedQuiz{}, nil
	case entities.ContentKindFlashcard:
		return &entities.CachedFlashcard{}, nil
	}
	return nil, fmt.Errorf("unknown content kind %q", kind)
}
