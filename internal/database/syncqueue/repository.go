// Package syncqueue provides the durable queue of mutations awaiting delivery
// to the remote authority.
//
// Every entry is created in the same transaction as the local mutation it
// delivers, so a successful Enqueue means both rows are on disk. Entries are
// read in creation order and leave the queue in one of two ways: MarkApplied
// deletes the entry and flips its mutation to synced, MarkDeadLettered keeps
// it for an operator to requeue or discard.
//
// # Usage
//
//	queue := syncqueue.NewRepository(db)
//	entry, err := queue.Enqueue(ctx, syncqueue.EnqueueRequest{Action: review})
//	batch, err := queue.PeekBatch(ctx, 50)
package syncqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mrlokans/studysync/internal/actions"
	"github.com/mrlokans/studysync/internal/database"
	"github.com/mrlokans/studysync/internal/database/mutations"
	"github.com/mrlokans/studysync/internal/entities"
)

var (
	// ErrDuplicateEntry means a mutation already has an outstanding entry.
	// Correct callers never see it.
	ErrDuplicateEntry = errors.New("queue entry already exists for mutation")

	// ErrNotFound is returned when an entry does not exist or is not in the
	// state the operation requires.
	ErrNotFound = database.ErrNotFound
)

// EnqueueRequest describes one user action to record and deliver.
type EnqueueRequest struct {
	Action actions.Action
	// Endpoint and Method override the action's default route.
	Endpoint string
	Method   string
	// UserID defaults to the action owner.
	UserID string
	// MutationID lets a caller supply a stable local ID, for example so that a
	// retried form submission cannot record the same action twice. A new
	// UUID is generated when empty.
	MutationID string
}

// Stats summarizes the queue for status reporting.
type Stats struct {
	Pending         int64      `json:"pending"`
	Due             int64      `json:"due"`
	DeadLettered    int64      `json:"dead_lettered"`
	Unsynced        int64      `json:"unsynced"`
	OldestPendingAt *time.Time `json:"oldest_pending_at,omitempty"`
}

// Repository handles sync queue database operations.
type Repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository creates a new sync queue repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// NewRepositoryWithClock creates a repository that reads time from now.
func NewRepositoryWithClock(db *gorm.DB, now func() time.Time) *Repository {
	return &Repository{db: db, now: now}
}

// Enqueue records the action as a local mutation and queues it for delivery,
// in one transaction. Validation failures wrap actions.ErrInvalidAction and
// storage failures wrap the database storage sentinels.
func (r *Repository) Enqueue(ctx context.Context, req EnqueueRequest) (*entities.SyncQueueEntry, error) {
	if req.Action == nil {
		return nil, fmt.Errorf("%w: action is required", actions.ErrInvalidAction)
	}
	if err := req.Action.Validate(); err != nil {
		return nil, err
	}
	payload, err := actions.Encode(req.Action)
	if err != nil {
		return nil, err
	}

	route := actions.DefaultRoute(req.Action)
	if req.Endpoint == "" {
		req.Endpoint = route.Endpoint
	}
	if req.Method == "" {
		req.Method = route.Method
	}
	if req.UserID == "" {
		req.UserID = req.Action.Owner()
	}
	if req.MutationID == "" {
		req.MutationID = uuid.NewString()
	}

	now := r.now().UTC()
	mutation := &entities.LocalMutation{
		ID:         req.MutationID,
		Kind:       req.Action.Kind(),
		NaturalKey: req.Action.NaturalKey(),
		UserID:     req.UserID,
		Payload:    payload,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	entry := &entities.SyncQueueEntry{
		ID:            uuid.NewString(),
		MutationID:    mutation.ID,
		Kind:          mutation.Kind,
		NaturalKey:    mutation.NaturalKey,
		Endpoint:      req.Endpoint,
		Method:        req.Method,
		Payload:       payload,
		Status:        entities.QueueStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(mutation).Error; err != nil {
			return err
		}

		var maxSeq int64
		if err := tx.Model(&entities.SyncQueueEntry{}).Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
			return err
		}
		entry.Seq = maxSeq + 1

		return tx.Create(entry).Error
	})
	if err != nil {
		if database.IsUniqueViolation(err) {
			return nil, fmt.Errorf("enqueue mutation %s: %w", req.MutationID, ErrDuplicateEntry)
		}
		return nil, database.Wrap("enqueue "+string(mutation.Kind), err)
	}

	return entry, nil
}

// PeekBatch returns up to max pending entries in creation order. Entries are
// not claimed; callers that process them concurrently must coordinate.
func (r *Repository) PeekBatch(ctx context.Context, max int) ([]entities.SyncQueueEntry, error) {
	var out []entities.SyncQueueEntry
	query := r.db.WithContext(ctx).
		Where("status = ?", entities.QueueStatusPending).
		Order("seq ASC")
	if max > 0 {
		query = query.Limit(max)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, database.Wrap("peek batch", err)
	}
	return out, nil
}

// PeekDue is PeekBatch restricted to keys that can be delivered at asOf. A key
// whose oldest pending entry is still backing off is skipped as a whole, so
// its later entries never overtake it and never take batch slots from other keys.
func (r *Repository) PeekDue(ctx context.Context, max int, asOf time.Time) ([]entities.SyncQueueEntry, error) {
	blocked := r.db.Model(&entities.SyncQueueEntry{}).
		Select("natural_key").
		Where("seq IN (?) AND next_attempt_at > ?", r.heads(), asOf.UTC())

	var out []entities.SyncQueueEntry
	query := r.db.WithContext(ctx).
		Where("status = ?", entities.QueueStatusPending).
		Where("natural_key NOT IN (?)", blocked).
		Order("seq ASC")
	if max > 0 {
		query = query.Limit(max)
	}
	if err := query.Find(&out).Error; err != nil {
		return nil, database.Wrap("peek due", err)
	}
	return out, nil
}

// NextDue returns the earliest time at which a key's oldest pending entry may
// be attempted, or nil when nothing is pending.
func (r *Repository) NextDue(ctx context.Context) (*time.Time, error) {
	var head entities.SyncQueueEntry
	err := r.db.WithContext(ctx).
		Where("seq IN (?)", r.heads()).
		Order("next_attempt_at ASC").
		First(&head).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, database.Wrap("next due", err)
	}
	due := head.NextAttemptAt
	return &due, nil
}

// heads selects the seq of the oldest pending entry of every natural key.
func (r *Repository) heads() *gorm.DB {
	return r.db.Model(&entities.SyncQueueEntry{}).
		Select("MIN(seq)").
		Where("status = ?", entities.QueueStatusPending).
		Group("natural_key")
}

// Get returns an entry by ID in any status.
func (r *Repository) Get(ctx context.Context, id string) (*entities.SyncQueueEntry, error) {
	var e entities.SyncQueueEntry
	if err := r.db.WithContext(ctx).First(&e, "id = ?", id).Error; err != nil {
		return nil, database.Wrap("get entry "+id, err)
	}
	return &e, nil
}

// MarkApplied removes a pending entry and flips its mutation to synced,
// atomically.
func (r *Repository) MarkApplied(ctx context.Context, id string) error {
	now := r.now().UTC()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var e entities.SyncQueueEntry
		if err := tx.First(&e, "id = ? AND status = ?", id, entities.QueueStatusPending).Error; err != nil {
			return err
		}
		if err := tx.Delete(&e).Error; err != nil {
			return err
		}
		return mutations.MarkSynced(tx, e.MutationID, now)
	})
	return database.Wrap("mark applied "+id, err)
}

// MarkFailed records a failed delivery attempt: the retry counter is
// incremented, cause is stored and the entry becomes due at nextAttemptAt.
func (r *Repository) MarkFailed(ctx context.Context, id string, cause error, nextAttemptAt time.Time) error {
	result := r.db.WithContext(ctx).Model(&entities.SyncQueueEntry{}).
		Where("id = ? AND status = ?", id, entities.QueueStatusPending).
		Updates(map[string]any{
			"retry_count":     gorm.Expr("retry_count + 1"),
			"last_error":      errorText(cause),
			"next_attempt_at": nextAttemptAt.UTC(),
			"updated_at":      r.now().UTC(),
		})
	return r.checkUpdated("mark failed "+id, result)
}

// MarkDeadLettered makes a pending entry terminal. It keeps its payload and
// retry counter and is excluded from PeekBatch until requeued.
func (r *Repository) MarkDeadLettered(ctx context.Context, id string, cause error) error {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).Model(&entities.SyncQueueEntry{}).
		Where("id = ? AND status = ?", id, entities.QueueStatusPending).
		Updates(map[string]any{
			"status":           entities.QueueStatusDeadLettered,
			"last_error":       errorText(cause),
			"dead_lettered_at": now,
			"updated_at":       now,
		})
	return r.checkUpdated("mark dead-lettered "+id, result)
}

// ListDeadLettered returns dead-lettered entries in creation order.
func (r *Repository) ListDeadLettered(ctx context.Context) ([]entities.SyncQueueEntry, error) {
	var out []entities.SyncQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", entities.QueueStatusDeadLettered).
		Order("created_at ASC").
		Order("seq ASC").
		Find(&out).Error
	if err != nil {
		return nil, database.Wrap("list dead-lettered", err)
	}
	return out, nil
}

// Requeue returns a dead-lettered entry to pending, due immediately. The retry
// counter is preserved and a fresh retry budget starts from its current value.
func (r *Repository) Requeue(ctx context.Context, id string) error {
	now := r.now().UTC()
	result := r.db.WithContext(ctx).Model(&entities.SyncQueueEntry{}).
		Where("id = ? AND status = ?", id, entities.QueueStatusDeadLettered).
		Updates(map[string]any{
			"status":           entities.QueueStatusPending,
			"retry_base":       gorm.Expr("retry_count"),
			"next_attempt_at":  now,
			"dead_lettered_at": nil,
			"updated_at":       now,
		})
	return r.checkUpdated("requeue "+id, result)
}

// Discard deletes a dead-lettered entry. Its mutation record stays unsynced
// as local history.
func (r *Repository) Discard(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, entities.QueueStatusDeadLettered).
		Delete(&entities.SyncQueueEntry{})
	return r.checkUpdated("discard "+id, result)
}

// Stats returns queue counters as of now.
func (r *Repository) Stats(ctx context.Context) (*Stats, error) {
	now := r.now().UTC()
	db := r.db.WithContext(ctx)
	stats := &Stats{}

	if err := db.Model(&entities.SyncQueueEntry{}).
		Where("status = ?", entities.QueueStatusPending).
		Count(&stats.Pending).Error; err != nil {
		return nil, database.Wrap("queue stats", err)
	}
	if err := db.Model(&entities.SyncQueueEntry{}).
		Where("status = ? AND next_attempt_at <= ?", entities.QueueStatusPending, now).
		Count(&stats.Due).Error; err != nil {
		return nil, database.Wrap("queue stats", err)
	}
	if err := db.Model(&entities.SyncQueueEntry{}).
		Where("status = ?", entities.QueueStatusDeadLettered).
		Count(&stats.DeadLettered).Error; err != nil {
		return nil, database.Wrap("queue stats", err)
	}
	if err := db.Model(&entities.LocalMutation{}).
		Where("synced = ?", false).
		Count(&stats.Unsynced).Error; err != nil {
		return nil, database.Wrap("queue stats", err)
	}

	if stats.Pending > 0 {
		var oldest entities.SyncQueueEntry
		err := db.Where("status = ?", entities.QueueStatusPending).
			Order("seq ASC").
			First(&oldest).Error
		if err != nil {
			return nil, database.Wrap("queue stats", err)
		}
		stats.OldestPendingAt = &oldest.CreatedAt
	}

	return stats, nil
}

func (r *Repository) checkUpdated(op string, result *gorm.DB) error {
	if result.Error != nil {
		return database.Wrap(op, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
