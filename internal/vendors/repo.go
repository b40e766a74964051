package vendors

import (
	"context"
	"fmt"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"gorm.io/gorm"
)

// Repository handles vendor account persistence.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to vendor account operations.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByVendorID loads a vendor account row.
func (r *Repository) FindByVendorID(ctx context.Context, vendorID int64) (*models.VendorAccount, error) {
	var acct models.VendorAccount
	if err := r.db.WithContext(ctx).Where("vendor_id = ?", vendorID).First(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// FindByAccountID resolves the vendor owning a connected account id.
func (r *Repository) FindByAccountID(ctx context.Context, accountID string) (*models.VendorAccount, error) {
	var acct models.VendorAccount
	if err := r.db.WithContext(ctx).
		Where("stripe_account_id = ?", accountID).
		First(&acct).Error; err != nil {
		return nil, err
	}
	return &acct, nil
}

// ListForSweep returns linked, non-deleted vendors with vendor_id > after, ascending.
func (r *Repository) ListForSweep(ctx context.Context, after int64, limit int) ([]models.VendorAccount, error) {
	var rows []models.VendorAccount
	err := r.db.WithContext(ctx).
		Where("vendor_id > ?", after).
		Where("stripe_account_id <> ''").
		Where("status <> ?", enums.VendorAccountDeleted).
		Order("vendor_id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Save upserts the full row.
func (r *Repository) Save(ctx context.Context, acct *models.VendorAccount) error {
	if acct == nil {
		return fmt.Errorf("vendor account is required")
	}
	return r.db.WithContext(ctx).Save(acct).Error
}

// UpdateFields applies a partial update to one vendor row.
func (r *Repository) UpdateFields(ctx context.Context, vendorID int64, fields map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.VendorAccount{}).
		Where("vendor_id = ?", vendorID).
		Updates(fields).Error
}
