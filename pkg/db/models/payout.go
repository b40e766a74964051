package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/connect-reconciler/pkg/enums"
)

// Payout is the latest known state of a provider payout, keyed by payout id.
type Payout struct {
	PayoutID        string             `gorm:"column:payout_id;primaryKey"`
	VendorID        int64              `gorm:"column:vendor_id;not null;index"`
	StripeAccountID string             `gorm:"column:stripe_account_id;type:text;not null"`
	Amount          decimal.Decimal    `gorm:"column:amount;type:numeric(20,4);not null"`
	Currency        string             `gorm:"column:currency;type:text;not null"`
	Status          enums.PayoutStatus `gorm:"column:status;type:text;not null"`
	PayoutCreatedAt time.Time          `gorm:"column:payout_created_at;not null;index"`
	ArrivalDate     *time.Time         `gorm:"column:arrival_date"`
	LastEventType   string             `gorm:"column:last_event_type;type:text;not null"`
	LastEventAt     time.Time          `gorm:"column:last_event_at;not null"`
	FailureCode     *string            `gorm:"column:failure_code"`
	FailureMessage  *string            `gorm:"column:failure_message"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (Payout) TableName() string { return "payouts" }
