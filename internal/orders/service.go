package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
)

// PlaceResult reports whether Place moved the order.
type PlaceResult struct {
	Changed bool
	Order   *models.Order
}

// PaymentResult carries either the created intent or the retry item id.
type PaymentResult struct {
	PaymentIntent *stripe.PaymentIntent
	RetryID       string
}

// Service exposes order state changes driven by payment events.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	Place(ctx context.Context, id uuid.UUID) (PlaceResult, error)
	CreatePayment(ctx context.Context, id uuid.UUID, paymentMethodID string) (*PaymentResult, error)
	RetryPayment(ctx context.Context, payload PaymentPayload) error
}

type ServiceParams struct {
	Repo       Repository
	Tx         txRunner
	Vendors    vendorDirectory
	Provider   stripeclient.Client
	Retry      retryEnqueuer
	FeePercent decimal.Decimal
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	repo       Repository
	tx         txRunner
	vendors    vendorDirectory
	provider   stripeclient.Client
	retry      retryEnqueuer
	feePercent decimal.Decimal
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the orders service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if p.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if p.Vendors == nil {
		return nil, fmt.Errorf("vendor directory required")
	}
	if p.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if p.Retry == nil {
		return nil, fmt.Errorf("retry queue required")
	}
	if p.FeePercent.IsNegative() || p.FeePercent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, fmt.Errorf("fee percent must be between 0 and 100")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:       p.Repo,
		tx:         p.Tx,
		vendors:    p.Vendors,
		provider:   p.Provider,
		retry:      p.Retry,
		feePercent: p.FeePercent,
		logg:       p.Logger,
		now:        func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

// Place applies the place transition once. Orders already placed or
// completed are left as they are, so replays converge on the same state.
func (s *service) Place(ctx context.Context, id uuid.UUID) (PlaceResult, error) {
	var result PlaceResult
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		result.Order = order

		switch {
		case order.Status.IsPaid():
			return nil
		case order.Status != enums.OrderStatusPending:
			return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot be placed", order.Status))
		}

		now := s.now()
		if err := repo.Update(ctx, id, map[string]any{
			"status":    enums.OrderStatusPlaced,
			"placed_at": now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "place order")
		}
		order.Status = enums.OrderStatusPlaced
		order.PlacedAt = &now
		result.Changed = true
		return nil
	})
	if err != nil {
		return PlaceResult{}, err
	}
	if result.Changed {
		s.logg.Info(s.logg.WithField(ctx, "order_id", id.String()), "order placed")
	}
	return result, nil
}

// CreatePayment opens a split PaymentIntent: the full amount goes to the
// vendor's account minus the platform application fee.
func (s *service) CreatePayment(ctx context.Context, id uuid.UUID, paymentMethodID string) (*PaymentResult, error) {
	payload := PaymentPayload{OrderID: id, PaymentMethodID: strings.TrimSpace(paymentMethodID)}
	intent, err := s.createIntent(ctx, payload)
	if err == nil {
		return &PaymentResult{PaymentIntent: intent}, nil
	}
	if !pkgerrors.IsRetryable(err) {
		return nil, err
	}

	retryID, qErr := s.retry.Enqueue(ctx, enums.RetryKindPayment, payload, err, 0)
	if qErr != nil {
		s.logg.Error(s.logg.WithField(ctx, "order_id", id.String()), "enqueue payment retry failed", qErr)
		return nil, err
	}
	s.logg.Warn(s.logg.WithField(ctx, "order_id", id.String()), "payment creation queued for retry")
	return &PaymentResult{RetryID: retryID}, nil
}

func (s *service) RetryPayment(ctx context.Context, payload PaymentPayload) error {
	_, err := s.createIntent(ctx, payload)
	return err
}

func (s *service) createIntent(ctx context.Context, p PaymentPayload) (*stripe.PaymentIntent, error) {
	order, err := s.Get(ctx, p.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("order in status %s cannot take a payment", order.Status))
	}
	if order.AmountCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order amount must be positive")
	}

	vendor, err := s.vendors.Get(ctx, order.VendorID)
	if err != nil {
		return nil, err
	}
	switch {
	case vendor.Status == enums.VendorAccountDeleted:
		return nil, pkgerrors.New(pkgerrors.CodeAccountDeleted, "vendor connected account was deleted").
			WithDetails(map[string]any{"stripe_account_id": vendor.StripeAccountID})
	case vendor.StripeAccountID == "" || vendor.Status != enums.VendorAccountActive:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "vendor cannot accept payments yet")
	}

	currency := strings.ToLower(order.Currency)
	fee := stripeclient.ApplicationFee(order.AmountCents, s.feePercent)
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(order.AmountCents),
		Currency:             stripe.String(currency),
		ApplicationFeeAmount: stripe.Int64(fee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(vendor.StripeAccountID),
		},
	}
	if p.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethodID)
		params.ConfirmationMethod = stripe.String(string(stripe.PaymentIntentConfirmationMethodManual))
	}
	params.AddMetadata("order_id", order.ID.String())
	params.AddMetadata("vendor_id", fmt.Sprint(order.VendorID))
	params.SetIdempotencyKey("order-payment-" + order.ID.String())

	intent, err := s.provider.CreatePaymentIntent(ctx, params, stripeclient.Options{})
	if err != nil {
		if accountID, ok := stripeclient.AsAccountDeleted(err); ok {
			if markErr := s.vendors.HandleAccountDeleted(ctx, accountID); markErr != nil {
				s.logg.Error(s.logg.WithAccountID(ctx, accountID), "account deletion remediation failed", markErr)
			}
		}
		return nil, err
	}

	if err := s.repo.Update(ctx, order.ID, map[string]any{"payment_intent_id": intent.ID}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store payment intent id")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":          order.ID.String(),
		"payment_intent_id": intent.ID,
		"application_fee":   fee,
	}), "split payment created")
	return intent, nil
}
