package entities

import (
	"time"

	"gorm.io/datatypes"
)

// ActionKind enumerates the user activities that produce remote side-effects.
type ActionKind string

const (
	ActionSubmission     ActionKind = "submission"
	ActionReview         ActionKind = "review"
	ActionProgressUpdate ActionKind = "progress_update"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionSubmission, ActionReview, ActionProgressUpdate:
		return true
	}
	return false
}

// LocalMutation is the durable local record of a user action.
// It is written before any network attempt and never deleted; Synced only
// ever moves from false to true.
type LocalMutation struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Kind       ActionKind     `gorm:"index;size:32;not null" json:"kind"`
	NaturalKey string         `gorm:"index;size:256;not null" json:"natural_key"`
	UserID     string         `gorm:"index;size:128;not null" json:"user_id"`
	Payload    datatypes.JSON `gorm:"type:text;not null" json:"payload"`
	Synced     bool           `gorm:"index;not null;default:false" json:"synced"`
	SyncedAt   *time.Time     `json:"synced_at,omitempty"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (LocalMutation) TableName() string {
	return "local_mutations"
}
