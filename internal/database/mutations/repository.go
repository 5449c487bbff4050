// Package mutations provides read access to the local mutation history.
//
// Mutation records are created by the sync queue in the same transaction as
// their queue entry and are never deleted. The only write this package
// performs is the one-way synced flip, guarded so a synced record is never
// touched again.
package mutations

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/entities"
)

// Repository handles local mutation database operations.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new mutations repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get returns a mutation by its local ID.
func (r *Repository) Get(ctx context.Context, id string) (*entities.LocalMutation, error) {
	var m entities.LocalMutation
	if err := r.db.WithContext(ctx).First(&m, "id = ?", id).Error; err != nil {
		return nil, database.Wrap("get mutation "+id, err)
	}
	return &m, nil
}

// ListForUser returns a user's mutations, newest first. A limit of zero or
// less returns every record.
func (r *Repository) ListForUser(ctx context.Context, userID string, limit int) ([]entities.LocalMutation, error) {
	var out []entities.LocalMutation
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, database.Wrap("list mutations for "+userID, err)
	}
	return out, nil
}

// ListByNaturalKey returns every mutation recorded against key, oldest first.
func (r *Repository) ListByNaturalKey(ctx context.Context, key string) ([]entities.LocalMutation, error) {
	var out []entities.LocalMutation
	err := r.db.WithContext(ctx).
		Where("natural_key = ?", key).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, database.Wrap("list mutations for key "+key, err)
	}
	return out, nil
}

// ListUnsynced returns mutations not yet accepted by the remote, oldest first.
func (r *Repository) ListUnsynced(ctx context.Context) ([]entities.LocalMutation, error) {
	var out []entities.LocalMutation
	err := r.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, database.Wrap("list unsynced mutations", err)
	}
	return out, nil
}

// CountUnsynced returns the number of mutations not yet accepted by the remote.
func (r *Repository) CountUnsynced(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&entities.LocalMutation{}).Where("synced = ?", false).Count(&n).Error
	if err != nil {
		return 0, database.Wrap("count unsynced mutations", err)
	}
	return n, nil
}

// MarkSynced flips a mutation to synced within tx. Marking an already synced
// mutation is a no-op that keeps the original SyncedAt.
func MarkSynced(tx *gorm.DB, id string, at time.Time) error {
	result := tx.Model(&entities.LocalMutation{}).
		Where("id = ? AND synced = ?", id, false).
		Updates(map[string]any{
			"synced":     true,
			"synced_at":  at.UTC(),
			"updated_at": at.UTC(),
		})
	if result.Error != nil {
		return database.Wrap("mark mutation synced "+id, result.Error)
	}
	if result.RowsAffected == 0 {
		var n int64
		if err := tx.Model(&entities.LocalMutation{}).Where("id = ?", id).Count(&n).Error; err != nil {
			return database.Wrap("mark mutation synced "+id, err)
		}
		if n == 0 {
			return fmt.Errorf("mark mutation synced %s: %w", id, database.ErrNotFound)
		}
	}
	return nil
}
