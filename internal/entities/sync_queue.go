package entities

import (
	"time"

	"gorm.io/datatypes"
)

// QueueStatus is the persisted status of a sync queue entry.
// Applied entries are deleted, so only two values are ever stored.
type QueueStatus string

const (
	QueueStatusPending      QueueStatus = "pending"
	QueueStatusDeadLettered QueueStatus = "dead_lettered"
)

// SyncQueueEntry is one pending remote side-effect.
type SyncQueueEntry struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Seq        int64          `gorm:"index;not null" json:"seq"`
	MutationID string         `gorm:"uniqueIndex;size:36;not null" json:"mutation_id"`
	Kind       ActionKind     `gorm:"size:32;not null" json:"kind"`
	NaturalKey string         `gorm:"index;size:256;not null" json:"natural_key"`
	Endpoint   string         `gorm:"size:512;not null" json:"endpoint"`
	Method     string         `gorm:"size:10;not null" json:"method"`
	Payload    datatypes.JSON `gorm:"type:text;not null" json:"payload"`
	Status     QueueStatus    `gorm:"index;size:20;not null;default:'pending'" json:"status"`
	RetryCount int            `gorm:"not null;default:0" json:"retry_count"`
	// RetryBase is the RetryCount value at which the current retry budget began.
	// It only moves when an operator requeues a dead-lettered entry.
	RetryBase      int        `gorm:"not null;default:0" json:"retry_base"`
	LastError      string     `gorm:"type:text" json:"last_error,omitempty"`
	NextAttemptAt  time.Time  `gorm:"index" json:"next_attempt_at"`
	DeadLetteredAt *time.Time `json:"dead_lettered_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index;not null" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

func (SyncQueueEntry) TableName() string {
	return "sync_queue"
}

// RetriesUsed returns the retries consumed in the current budget.
func (e *SyncQueueEntry) RetriesUsed() int {
	return e.RetryCount - e.RetryBase
}
