package orders

import (
	"context"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines persistence operations for orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) (*models.Order, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
}

type vendorDirectory interface {
	Get(ctx context.Context, vendorID int64) (*models.VendorAccount, error)
	HandleAccountDeleted(ctx context.Context, accountID string) error
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, kind enums.RetryOperationKind, payload any, cause error, maxAttempts int) (string, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
