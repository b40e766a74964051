package webhooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/connect-reconciler/internal/notifications"
	"github.com/angelmondragon/connect-reconciler/internal/orders"
	"github.com/angelmondragon/connect-reconciler/internal/payouts"
	"github.com/angelmondragon/connect-reconciler/internal/vendors"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
)

type orderPlacer interface {
	Place(ctx context.Context, id uuid.UUID) (orders.PlaceResult, error)
}

type payoutTracker interface {
	Track(ctx context.Context, payout *stripe.Payout, accountID string, vendorID int64, eventType string) (payouts.UpsertResult, error)
	VendorForAccount(ctx context.Context, accountID string) (int64, bool, error)
}

type accountReconciler interface {
	FindByAccountID(ctx context.Context, accountID string) (*models.VendorAccount, error)
	ApplySnapshot(ctx context.Context, accountID string, caps vendors.Capabilities) (bool, error)
	HandleAccountDeleted(ctx context.Context, accountID string) error
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, kind enums.RetryOperationKind, payload any, cause error, maxAttempts int) (string, error)
}

type HandlersParams struct {
	Orders   orderPlacer
	Payouts  payoutTracker
	Vendors  accountReconciler
	Retry    retryEnqueuer
	Notifier notifications.Notifier
	Logger   *logger.Logger
	Clock    func() time.Time
}

// Handlers holds the per-kind event handlers. All of them tolerate
// redelivery of the same event.
type Handlers struct {
	orders   orderPlacer
	payouts  payoutTracker
	vendors  accountReconciler
	retry    retryEnqueuer
	notifier notifications.Notifier
	logg     *logger.Logger
	now      func() time.Time
}

func NewHandlers(p HandlersParams) (*Handlers, error) {
	if p.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if p.Payouts == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payouts service required")
	}
	if p.Vendors == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "vendors service required")
	}
	if p.Retry == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "retry queue required")
	}
	if p.Notifier == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "notifier required")
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Handlers{
		orders:   p.Orders,
		payouts:  p.Payouts,
		vendors:  p.Vendors,
		retry:    p.Retry,
		notifier: p.Notifier,
		logg:     p.Logger,
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

// Register wires every handler into r.
func (h *Handlers) Register(r *Router) error {
	table := map[Kind]HandlerFunc{
		KindPaymentIntentSucceeded:     h.paymentIntentSucceeded,
		KindPaymentIntentPaymentFailed: h.paymentIntentFailed,
		KindChargeRefunded:             h.chargeRefunded,
		KindPayoutCreated:              h.payout,
		KindPayoutPaid:                 h.payout,
		KindPayoutFailed:               h.payout,
		KindAccountUpdated:             h.accountUpdated,
	}
	for _, kind := range knownKinds {
		if err := r.Register(kind, table[kind]); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handlers) paymentIntentSucceeded(ctx context.Context, e Event) error {
	pi, err := e.PaymentIntent()
	if err != nil {
		h.logg.Warn(ctx, err.Error())
		return nil
	}
	ctx = h.logg.WithField(ctx, "payment_intent_id", pi.ID)

	orderID, ok := h.orderID(ctx, pi.Metadata)
	if !ok {
		return nil
	}
	ctx = h.logg.WithField(ctx, "order_id", orderID.String())

	res, err := h.orders.Place(ctx, orderID)
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		h.logg.Warn(ctx, "order not found for payment")
		return nil
	case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
		h.logg.Warn(ctx, err.Error())
		return nil
	case err != nil:
		return h.eventFailure(ctx, e, err)
	}
	if !res.Changed {
		h.logg.Info(ctx, "order already paid")
	}
	return nil
}

func (h *Handlers) paymentIntentFailed(ctx context.Context, e Event) error {
	pi, err := e.PaymentIntent()
	if err != nil {
		h.logg.Warn(ctx, err.Error())
		return nil
	}
	reason := "unknown"
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		reason = pi.LastPaymentError.Msg
	}
	h.logg.Warn(h.logg.WithFields(ctx, map[string]any{
		"payment_intent_id": pi.ID,
		"order_id":          pi.Metadata["order_id"],
		"reason":            reason,
	}), "payment failed")
	return nil
}

func (h *Handlers) chargeRefunded(ctx context.Context, e Event) error {
	ch, err := e.Charge()
	if err != nil {
		h.logg.Warn(ctx, err.Error())
		return nil
	}
	orderID := ch.Metadata["order_id"]
	if orderID == "" && ch.PaymentIntent != nil {
		orderID = ch.PaymentIntent.Metadata["order_id"]
	}
	currency := string(ch.Currency)
	h.logg.Info(h.logg.WithFields(ctx, map[string]any{
		"charge_id":       ch.ID,
		"order_id":        orderID,
		"amount_refunded": stripeclient.FromMinorUnits(ch.AmountRefunded, currency).String(),
		"currency":        currency,
	}), "charge refunded")
	return nil
}

func (h *Handlers) payout(ctx context.Context, e Event) error {
	po, err := e.Payout()
	if err != nil {
		h.logg.Warn(ctx, err.Error())
		return nil
	}
	accountID := e.AccountID
	if accountID == "" && po.Destination != nil {
		accountID = po.Destination.ID
	}
	ctx = h.logg.WithFields(ctx, map[string]any{"payout_id": po.ID, "account_id": accountID})
	if accountID == "" {
		h.logg.Warn(ctx, "payout event without connected account")
		return nil
	}

	vendorID, ok, err := h.payouts.VendorForAccount(ctx, accountID)
	if err != nil {
		return h.eventFailure(ctx, e, err)
	}
	if !ok {
		h.logg.Warn(ctx, "payout for unknown connected account dropped")
		return nil
	}

	res, err := h.payouts.Track(ctx, po, accountID, vendorID, e.RawType)
	if err != nil {
		return h.eventFailure(ctx, e, err)
	}
	if res.Stale || !(res.Created || res.StatusChanged) {
		return nil
	}
	h.notifyPayout(ctx, e.Kind, res)
	return nil
}

func (h *Handlers) notifyPayout(ctx context.Context, kind Kind, res payouts.UpsertResult) {
	rec := res.Record
	now := h.now()
	var msgs []notifications.Message
	switch kind {
	case KindPayoutCreated:
		msgs = append(msgs, notifications.PayoutInTransit(rec.VendorID, rec.PayoutID, rec.Amount, rec.Currency, rec.ArrivalDate, now))
	case KindPayoutPaid:
		msgs = append(msgs, notifications.PayoutDeposited(rec.VendorID, rec.PayoutID, rec.Amount, rec.Currency, now))
	case KindPayoutFailed:
		reason := "unknown"
		if rec.FailureMessage != nil && *rec.FailureMessage != "" {
			reason = *rec.FailureMessage
		}
		vendorMsg := notifications.PayoutFailed(rec.VendorID, rec.PayoutID, rec.Amount, rec.Currency, reason, now)
		operatorMsg := vendorMsg
		operatorMsg.Audience = notifications.AudienceOperator
		msgs = append(msgs, vendorMsg, operatorMsg)
		h.logg.Error(h.logg.WithVendorID(ctx, rec.VendorID), "payout failed", fmt.Errorf("payout %s failed: %s", rec.PayoutID, reason))
	}
	for _, msg := range msgs {
		if err := h.notifier.Notify(ctx, msg); err != nil {
			h.logg.Error(ctx, "payout notification failed", err)
		}
	}
}

func (h *Handlers) accountUpdated(ctx context.Context, e Event) error {
	acct, err := e.Account()
	if err != nil {
		h.logg.Warn(ctx, err.Error())
		return nil
	}
	accountID := e.AccountID
	if accountID == "" {
		accountID = acct.ID
	}
	if accountID == "" {
		h.logg.Warn(ctx, "account event without account id")
		return nil
	}
	ctx = h.logg.WithAccountID(ctx, accountID)

	changed, err := h.vendors.ApplySnapshot(ctx, accountID, vendors.CapabilitiesFromAccount(acct))
	if err != nil {
		return h.accountFailure(ctx, accountID, err)
	}
	if changed {
		h.logg.Info(ctx, "vendor account status changed")
	}
	return nil
}

// accountFailure routes errors from account handling: deletions converge
// on the vendor remediation path, transient failures go to the retry queue.
func (h *Handlers) accountFailure(ctx context.Context, accountID string, cause error) error {
	if deletedID, ok := stripeclient.AsAccountDeleted(cause); ok {
		return h.vendors.HandleAccountDeleted(ctx, deletedID)
	}
	if !pkgerrors.IsRetryable(cause) {
		return cause
	}

	acct, err := h.vendors.FindByAccountID(ctx, accountID)
	if err != nil || acct == nil {
		return cause
	}
	payload := vendors.VerificationPayload{VendorID: acct.VendorID, AccountID: accountID}
	if _, err := h.retry.Enqueue(ctx, enums.RetryKindAccountVerification, payload, cause, 0); err != nil {
		h.logg.Error(ctx, "enqueue account verification failed", err)
		return cause
	}
	h.logg.Warn(ctx, "account update queued for verification")
	return nil
}

// eventFailure queues the whole event for replay when cause is transient.
// During a replay the error goes back to the queue so it keeps its own
// attempt count.
func (h *Handlers) eventFailure(ctx context.Context, e Event, cause error) error {
	if deletedID, ok := stripeclient.AsAccountDeleted(cause); ok {
		return h.vendors.HandleAccountDeleted(ctx, deletedID)
	}
	if !pkgerrors.IsRetryable(cause) || isReplay(ctx) {
		return cause
	}
	if _, err := h.retry.Enqueue(ctx, enums.RetryKindWebhookEvent, replayPayloadFor(e), cause, 0); err != nil {
		h.logg.Error(ctx, "enqueue webhook event failed", err)
		return cause
	}
	h.logg.Warn(ctx, "webhook event queued for replay")
	return nil
}

func (h *Handlers) orderID(ctx context.Context, metadata map[string]string) (uuid.UUID, bool) {
	raw := strings.TrimSpace(metadata["order_id"])
	if raw == "" {
		h.logg.Info(ctx, "payment intent has no order id")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		h.logg.Warn(h.logg.WithField(ctx, "order_id", raw), "payment intent carries malformed order id")
		return uuid.Nil, false
	}
	return id, true
}
