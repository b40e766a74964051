package models

import (
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/enums"
)

// RetryQueueItem is a failed operation waiting for its next replay.
// LeaseOwner/LeaseExpiresAt mark an in-flight claim by one drainer.
type RetryQueueItem struct {
	ID             string                   `gorm:"column:id;primaryKey"`
	Kind           enums.RetryOperationKind `gorm:"column:kind;type:text;not null"`
	Payload        string                   `gorm:"column:payload;type:text;not null"`
	LastError      string                   `gorm:"column:last_error;type:text;not null;default:''"`
	Attempts       int                      `gorm:"column:attempts;not null;default:0"`
	MaxAttempts    int                      `gorm:"column:max_attempts;not null;default:3"`
	NextRetryAt    time.Time                `gorm:"column:next_retry_at;not null;index"`
	LeaseOwner     *string                  `gorm:"column:lease_owner"`
	LeaseExpiresAt *time.Time               `gorm:"column:lease_expires_at"`
	CreatedAt      time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (RetryQueueItem) TableName() string { return "retry_queue_items" }

// RetryQueueDropped records items that exhausted their attempts.
type RetryQueueDropped struct {
	ID          string                   `gorm:"column:id;primaryKey"`
	Kind        enums.RetryOperationKind `gorm:"column:kind;type:text;not null"`
	Payload     string                   `gorm:"column:payload;type:text;not null"`
	LastError   string                   `gorm:"column:last_error;type:text;not null;default:''"`
	Attempts    int                      `gorm:"column:attempts;not null"`
	MaxAttempts int                      `gorm:"column:max_attempts;not null"`
	EnqueuedAt  time.Time                `gorm:"column:enqueued_at;not null"`
	DroppedAt   time.Time                `gorm:"column:dropped_at;not null;index"`
}

func (RetryQueueDropped) TableName() string { return "retry_queue_dropped" }
