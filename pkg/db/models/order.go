package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/connect-reconciler/pkg/enums"
)

// Order is the slice of a marketplace order this service mutates.
type Order struct {
	ID              uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	VendorID        int64             `gorm:"column:vendor_id;not null;index"`
	AmountCents     int64             `gorm:"column:amount_cents;not null"`
	Currency        string            `gorm:"column:currency;type:text;not null;default:'usd'"`
	Status          enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentIntentID *string           `gorm:"column:payment_intent_id"`
	PlacedAt        *time.Time        `gorm:"column:placed_at"`
	CreatedAt       time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }
