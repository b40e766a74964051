package retryqueue

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"gorm.io/gorm"
)

const maxStoredErrorLen = 1024

// Repository persists retry items and their dropped counterparts.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(ctx context.Context, item *models.RetryQueueItem) error {
	if item == nil {
		return errors.New("retry item required")
	}
	item.LastError = truncateError(item.LastError)
	return r.db.WithContext(ctx).Create(item).Error
}

// Candidates returns unleased (or lease-expired) items ordered by next_retry_at.
func (r *Repository) Candidates(ctx context.Context, now time.Time, limit int) ([]models.RetryQueueItem, error) {
	var rows []models.RetryQueueItem
	err := r.db.WithContext(ctx).
		Where("lease_owner IS NULL OR lease_expires_at < ?", now).
		Order("next_retry_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Claim leases one item to owner. It reports false when another drainer holds a live lease.
func (r *Repository) Claim(ctx context.Context, id, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RetryQueueItem{}).
		Where("id = ? AND (lease_owner IS NULL OR lease_expires_at < ?)", id, now).
		UpdateColumns(map[string]any{
			"lease_owner":      owner,
			"lease_expires_at": now.Add(ttl),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// Release drops the lease without touching schedule or attempts.
func (r *Repository) Release(ctx context.Context, id, owner string) error {
	return r.db.WithContext(ctx).
		Model(&models.RetryQueueItem{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		UpdateColumns(map[string]any{
			"lease_owner":      nil,
			"lease_expires_at": nil,
		}).Error
}

// Reschedule records a failed attempt and releases the lease.
func (r *Repository) Reschedule(ctx context.Context, id, owner string, attempts int, lastErr string, next, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.RetryQueueItem{}).
		Where("id = ? AND lease_owner = ?", id, owner).
		UpdateColumns(map[string]any{
			"attempts":         attempts,
			"last_error":       truncateError(lastErr),
			"next_retry_at":    next,
			"lease_owner":      nil,
			"lease_expires_at": nil,
			"updated_at":       now,
		}).Error
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.RetryQueueItem{}).Error
}

// MoveToDropped writes the terminal record and removes the live item in one transaction.
func (r *Repository) MoveToDropped(ctx context.Context, entry models.RetryQueueDropped) error {
	entry.LastError = truncateError(entry.LastError)
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", entry.ID).Delete(&models.RetryQueueItem{}).Error
	})
}

func (r *Repository) Get(ctx context.Context, id string) (*models.RetryQueueItem, error) {
	var item models.RetryQueueItem
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *Repository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.RetryQueueItem{}).Count(&n).Error
	return n, err
}

func (r *Repository) ListDropped(ctx context.Context, limit int) ([]models.RetryQueueDropped, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []models.RetryQueueDropped
	err := r.db.WithContext(ctx).
		Order("dropped_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func truncateError(message string) string {
	if len(message) <= maxStoredErrorLen {
		return message
	}
	return message[:maxStoredErrorLen]
}
