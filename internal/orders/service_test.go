package orders

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pkgdb "github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type stubVendors struct {
	byID    map[int64]*models.VendorAccount
	deleted []string
}

func (s *stubVendors) Get(_ context.Context, vendorID int64) (*models.VendorAccount, error) {
	acct, ok := s.byID[vendorID]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor account not found")
	}
	return acct, nil
}

func (s *stubVendors) HandleAccountDeleted(_ context.Context, accountID string) error {
	s.deleted = append(s.deleted, accountID)
	return nil
}

type stubRetry struct {
	kinds    []enums.RetryOperationKind
	payloads []any
}

func (s *stubRetry) Enqueue(_ context.Context, kind enums.RetryOperationKind, payload any, _ error, _ int) (string, error) {
	s.kinds = append(s.kinds, kind)
	s.payloads = append(s.payloads, payload)
	return "retry-1", nil
}

type harness struct {
	svc      Service
	repo     Repository
	vendors  *stubVendors
	retry    *stubRetry
	provider *stripeclient.SyntheticClient
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&models.Order{}))

	now := time.Date(2024, 9, 2, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h := &harness{
		repo: NewRepository(conn),
		vendors: &stubVendors{byID: map[int64]*models.VendorAccount{
			7: {VendorID: 7, StripeAccountID: "acct_live", Status: enums.VendorAccountActive},
			8: {VendorID: 8, StripeAccountID: "acct_gone", Status: enums.VendorAccountDeleted},
			9: {VendorID: 9, StripeAccountID: "acct_new", Status: enums.VendorAccountPending},
		}},
		retry:    &stubRetry{},
		provider: stripeclient.NewSyntheticClient(clock),
		now:      now,
	}
	svc, err := NewService(ServiceParams{
		Repo:       h.repo,
		Tx:         pkgdb.Wrap(conn),
		Vendors:    h.vendors,
		Provider:   h.provider,
		Retry:      h.retry,
		FeePercent: decimal.NewFromInt(10),
		Clock:      clock,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) seed(t *testing.T, vendorID, amount int64, status enums.OrderStatus) *models.Order {
	t.Helper()
	order, err := h.repo.Create(context.Background(), &models.Order{
		VendorID:    vendorID,
		AmountCents: amount,
		Currency:    "usd",
		Status:      status,
	})
	require.NoError(t, err)
	return order
}

func TestNewServiceValidatesFeePercent(t *testing.T) {
	_, err := NewService(ServiceParams{
		Repo:       NewRepository(nil),
		Tx:         pkgdb.Wrap(nil),
		Vendors:    &stubVendors{},
		Provider:   stripeclient.NewSyntheticClient(nil),
		Retry:      &stubRetry{},
		FeePercent: decimal.NewFromInt(120),
	})
	require.Error(t, err)
}

func TestPlaceIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.seed(t, 7, 5000, enums.OrderStatusPending)

	first, err := h.svc.Place(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, first.Changed)

	second, err := h.svc.Place(ctx, order.ID)
	require.NoError(t, err)
	assert.False(t, second.Changed)

	stored, err := h.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPlaced, stored.Status)
	require.NotNil(t, stored.PlacedAt)
	assert.True(t, stored.PlacedAt.Equal(h.now))
}

func TestPlaceLeavesCompletedOrdersAlone(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, 7, 5000, enums.OrderStatusCompleted)

	res, err := h.svc.Place(context.Background(), order.ID)
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, enums.OrderStatusCompleted, res.Order.Status)
}

func TestPlaceRejectsCanceledAndMissing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.seed(t, 7, 5000, enums.OrderStatusCanceled)

	_, err := h.svc.Place(ctx, order.ID)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = h.svc.Place(ctx, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestCreatePaymentSplitsFee(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.seed(t, 7, 10000, enums.OrderStatusPending)

	res, err := h.svc.CreatePayment(ctx, order.ID, "pm_card_visa")
	require.NoError(t, err)
	require.NotNil(t, res.PaymentIntent)
	assert.Empty(t, res.RetryID)

	pi := res.PaymentIntent
	assert.Equal(t, int64(10000), pi.Amount)
	assert.Equal(t, int64(1000), pi.ApplicationFeeAmount)
	require.NotNil(t, pi.TransferData)
	assert.Equal(t, "acct_live", pi.TransferData.Destination.ID)
	assert.Equal(t, order.ID.String(), pi.Metadata["order_id"])

	stored, err := h.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.PaymentIntentID)
	assert.Equal(t, pi.ID, *stored.PaymentIntentID)
}

func TestCreatePaymentRequiresActiveVendor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	pending := h.seed(t, 9, 1000, enums.OrderStatusPending)
	_, err := h.svc.CreatePayment(ctx, pending.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	gone := h.seed(t, 8, 1000, enums.OrderStatusPending)
	_, err = h.svc.CreatePayment(ctx, gone.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAccountDeleted))

	placed := h.seed(t, 7, 1000, enums.OrderStatusPlaced)
	_, err = h.svc.CreatePayment(ctx, placed.ID, "")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestCreatePaymentQueuesTransientFailure(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, 7, 2500, enums.OrderStatusPending)
	h.provider.FailNext(stripeclient.OpCreatePaymentIntent, &stripe.Error{HTTPStatusCode: 503, Msg: "unavailable"})

	res, err := h.svc.CreatePayment(context.Background(), order.ID, "pm_1")
	require.NoError(t, err)
	assert.Equal(t, "retry-1", res.RetryID)
	assert.Nil(t, res.PaymentIntent)
	require.Len(t, h.retry.kinds, 1)
	assert.Equal(t, enums.RetryKindPayment, h.retry.kinds[0])
	assert.Equal(t, PaymentPayload{OrderID: order.ID, PaymentMethodID: "pm_1"}, h.retry.payloads[0])
}

func TestCreatePaymentRemoteDeletion(t *testing.T) {
	h := newHarness(t)
	order := h.seed(t, 7, 2500, enums.OrderStatusPending)
	h.provider.MarkDeleted("acct_live")

	_, err := h.svc.CreatePayment(context.Background(), order.ID, "")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAccountDeleted))
	assert.Equal(t, []string{"acct_live"}, h.vendors.deleted)
	assert.Empty(t, h.retry.kinds)
}

func TestPaymentRetryHandler(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.seed(t, 7, 4000, enums.OrderStatusPending)
	handler := RetryHandler(h.svc)

	raw, err := json.Marshal(PaymentPayload{OrderID: order.ID})
	require.NoError(t, err)
	require.NoError(t, handler(ctx, raw))

	stored, err := h.svc.Get(ctx, order.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.PaymentIntentID)

	assert.Error(t, handler(ctx, json.RawMessage(`{"order_id":"00000000-0000-0000-0000-000000000000"}`)))
	assert.Error(t, handler(ctx, json.RawMessage(`not json`)))
}
