package models

import (
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/enums"
)

// VendorAccount links a marketplace vendor to its connected Stripe account.
// Rows are never removed; deletion upstream is recorded as a status.
type VendorAccount struct {
	VendorID          int64                     `gorm:"column:vendor_id;primaryKey;autoIncrement:false"`
	StripeAccountID   string                    `gorm:"column:stripe_account_id;type:text;not null;default:'';index"`
	Email             string                    `gorm:"column:email;type:text;not null;default:''"`
	Status            enums.VendorAccountStatus `gorm:"column:status;type:text;not null;default:'unlinked'"`
	ChargesEnabled    bool                      `gorm:"column:charges_enabled;not null;default:false"`
	PayoutsEnabled    bool                      `gorm:"column:payouts_enabled;not null;default:false"`
	DetailsSubmitted  bool                      `gorm:"column:details_submitted;not null;default:false"`
	LastCheckedAt     *time.Time                `gorm:"column:last_checked_at"`
	DeletedDetectedAt *time.Time                `gorm:"column:deleted_detected_at"`
	CreatedAt         time.Time                 `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                 `gorm:"column:updated_at;autoUpdateTime"`
}

func (VendorAccount) TableName() string { return "vendor_accounts" }
