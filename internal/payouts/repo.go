package payouts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertResult describes what an upsert did to the stored row.
type UpsertResult struct {
	Created       bool
	StatusChanged bool
	Stale         bool
	Record        models.Payout
}

// Filter narrows payout queries. Zero values are ignored.
type Filter struct {
	VendorID      *int64
	Status        string
	Currency      string
	PayoutID      string
	MinAmount     *decimal.Decimal
	MaxAmount     *decimal.Decimal
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Limit         int
}

// Repository persists tracked payouts.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, payoutID string) (*models.Payout, error) {
	var row models.Payout
	if err := r.db.WithContext(ctx).Where("payout_id = ?", payoutID).First(&row).Error; err != nil {
		return nil, err
	}
	return &row, nil
}

// Upsert stores rec keyed by payout id. Amount and currency keep their first
// written values and status only moves forward; a final row is left alone.
func (r *Repository) Upsert(ctx context.Context, rec models.Payout) (UpsertResult, error) {
	if rec.PayoutID == "" {
		return UpsertResult{}, fmt.Errorf("payout id is required")
	}

	var result UpsertResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.Payout
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("payout_id = ?", rec.PayoutID).
			First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if err := tx.Create(&rec).Error; err != nil {
				return err
			}
			result = UpsertResult{Created: true, StatusChanged: true, Record: rec}
			return nil
		case err != nil:
			return err
		}

		if !existing.Status.CanAdvanceTo(rec.Status) {
			result = UpsertResult{Stale: true, Record: existing}
			return nil
		}

		fields := map[string]any{
			"status":          rec.Status,
			"last_event_type": rec.LastEventType,
			"last_event_at":   rec.LastEventAt,
		}
		if rec.ArrivalDate != nil {
			fields["arrival_date"] = rec.ArrivalDate
		}
		if rec.FailureCode != nil {
			fields["failure_code"] = rec.FailureCode
		}
		if rec.FailureMessage != nil {
			fields["failure_message"] = rec.FailureMessage
		}
		if err := tx.Model(&models.Payout{}).Where("payout_id = ?", rec.PayoutID).Updates(fields).Error; err != nil {
			return err
		}

		changed := existing.Status != rec.Status
		existing.Status = rec.Status
		existing.LastEventType = rec.LastEventType
		existing.LastEventAt = rec.LastEventAt
		if rec.ArrivalDate != nil {
			existing.ArrivalDate = rec.ArrivalDate
		}
		if rec.FailureCode != nil {
			existing.FailureCode = rec.FailureCode
		}
		if rec.FailureMessage != nil {
			existing.FailureMessage = rec.FailureMessage
		}
		result = UpsertResult{StatusChanged: changed, Record: existing}
		return nil
	})
	if err != nil && db.IsUniqueViolation(err, "") {
		// Lost a create race with a concurrent delivery; the row exists now.
		return r.Upsert(ctx, rec)
	}
	return result, err
}

// Query returns matching payouts, newest provider-created first.
func (r *Repository) Query(ctx context.Context, f Filter) ([]models.Payout, error) {
	q := r.db.WithContext(ctx).Model(&models.Payout{})
	if f.VendorID != nil {
		q = q.Where("vendor_id = ?", *f.VendorID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Currency != "" {
		q = q.Where("currency = ?", f.Currency)
	}
	if f.PayoutID != "" {
		q = q.Where("payout_id = ?", f.PayoutID)
	}
	if f.MinAmount != nil {
		q = q.Where("amount >= ?", *f.MinAmount)
	}
	if f.MaxAmount != nil {
		q = q.Where("amount <= ?", *f.MaxAmount)
	}
	if f.CreatedAfter != nil {
		q = q.Where("payout_created_at >= ?", *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		q = q.Where("payout_created_at <= ?", *f.CreatedBefore)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var rows []models.Payout
	err := q.Order("payout_created_at DESC").Order("payout_id DESC").Find(&rows).Error
	return rows, err
}
