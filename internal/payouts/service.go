package payouts

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
)

const (
	vendorCacheTTL     = 5 * time.Minute
	vendorCacheCleanup = 10 * time.Minute
	manualEventType    = "manual"
)

var currencyPattern = regexp.MustCompile(`^[a-z]{3}$`)

var scheduleIntervals = map[string]bool{
	"manual":  true,
	"daily":   true,
	"weekly":  true,
	"monthly": true,
}

type repository interface {
	Upsert(ctx context.Context, rec models.Payout) (UpsertResult, error)
	Query(ctx context.Context, f Filter) ([]models.Payout, error)
}

type vendorDirectory interface {
	Get(ctx context.Context, vendorID int64) (*models.VendorAccount, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.VendorAccount, error)
	HandleAccountDeleted(ctx context.Context, accountID string) error
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, kind enums.RetryOperationKind, payload any, cause error, maxAttempts int) (string, error)
}

// ManualPayoutInput requests a payout from a vendor's connected balance.
type ManualPayoutInput struct {
	VendorID    int64
	Amount      decimal.Decimal
	Currency    string
	Description string
}

// ManualPayoutResult carries either the created payout or the retry item id
// when the provider failed transiently.
type ManualPayoutResult struct {
	Payout  *stripe.Payout
	RetryID string
}

// ScheduleInput updates a connected account's automatic payout schedule.
type ScheduleInput struct {
	Interval      string
	DelayDays     *int64
	WeeklyAnchor  string
	MonthlyAnchor *int64
}

// Service tracks payouts and exposes payout operations on connected accounts.
type Service interface {
	Track(ctx context.Context, payout *stripe.Payout, accountID string, vendorID int64, eventType string) (UpsertResult, error)
	Query(ctx context.Context, f Filter) ([]models.Payout, error)
	Summary(ctx context.Context, vendorID *int64, from, to *time.Time) (Summary, error)
	VendorForAccount(ctx context.Context, accountID string) (int64, bool, error)
	CreateManualPayout(ctx context.Context, input ManualPayoutInput) (*ManualPayoutResult, error)
	UpdateSchedule(ctx context.Context, vendorID int64, input ScheduleInput) (*stripe.Account, error)
	RetryPayout(ctx context.Context, payload ManualPayoutPayload) error
}

type ServiceParams struct {
	Repo     repository
	Vendors  vendorDirectory
	Provider stripeclient.Client
	Retry    retryEnqueuer
	Logger   *logger.Logger
	Clock    func() time.Time
}

type service struct {
	repo     repository
	vendors  vendorDirectory
	provider stripeclient.Client
	retry    retryEnqueuer
	logg     *logger.Logger
	cache    *gocache.Cache
	now      func() time.Time
}

// NewService builds the payout service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("payout repository required")
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
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:     p.Repo,
		vendors:  p.Vendors,
		provider: p.Provider,
		retry:    p.Retry,
		logg:     p.Logger,
		cache:    gocache.New(vendorCacheTTL, vendorCacheCleanup),
		now:      func() time.Time { return clock().UTC() },
	}, nil
}

// Track records the payout carried by a webhook event.
func (s *service) Track(ctx context.Context, payout *stripe.Payout, accountID string, vendorID int64, eventType string) (UpsertResult, error) {
	if payout == nil || payout.ID == "" {
		return UpsertResult{}, pkgerrors.New(pkgerrors.CodeValidation, "payout id required")
	}
	now := s.now()
	currency := strings.ToLower(string(payout.Currency))

	status := enums.NormalizePayoutStatus(string(payout.Status))
	if status == "" {
		status = statusForEvent(eventType)
	}
	created := now
	if payout.Created > 0 {
		created = time.Unix(payout.Created, 0).UTC()
	}

	rec := models.Payout{
		PayoutID:        payout.ID,
		VendorID:        vendorID,
		StripeAccountID: accountID,
		Amount:          stripeclient.FromMinorUnits(payout.Amount, currency),
		Currency:        currency,
		Status:          status,
		PayoutCreatedAt: created,
		LastEventType:   eventType,
		LastEventAt:     now,
	}
	if payout.ArrivalDate > 0 {
		arrival := time.Unix(payout.ArrivalDate, 0).UTC()
		rec.ArrivalDate = &arrival
	}
	if payout.FailureCode != "" {
		code := string(payout.FailureCode)
		rec.FailureCode = &code
	}
	if payout.FailureMessage != "" {
		msg := payout.FailureMessage
		rec.FailureMessage = &msg
	}

	result, err := s.repo.Upsert(ctx, rec)
	if err != nil {
		return UpsertResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "track payout")
	}

	logCtx := s.logg.WithFields(s.logg.WithVendorID(ctx, vendorID), map[string]any{
		"payout_id":  payout.ID,
		"event_type": eventType,
		"status":     string(result.Record.Status),
		"amount":     result.Record.Amount.String(),
		"currency":   result.Record.Currency,
	})
	if result.Stale {
		s.logg.Info(logCtx, "stale payout event ignored")
	} else {
		s.logg.Info(logCtx, "payout tracked")
	}
	return result, nil
}

func statusForEvent(eventType string) enums.PayoutStatus {
	switch eventType {
	case "payout.paid":
		return enums.PayoutStatusPaid
	case "payout.failed":
		return enums.PayoutStatusFailed
	case "payout.canceled":
		return enums.PayoutStatusCanceled
	default:
		return enums.PayoutStatusPending
	}
}

func (s *service) Query(ctx context.Context, f Filter) ([]models.Payout, error) {
	f.Currency = strings.ToLower(strings.TrimSpace(f.Currency))
	f.Status = strings.ToLower(strings.TrimSpace(f.Status))
	rows, err := s.repo.Query(ctx, f)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "query payouts")
	}
	return rows, nil
}

// Summary aggregates payouts for one vendor (or all when vendorID is nil)
// created within [from, to].
func (s *service) Summary(ctx context.Context, vendorID *int64, from, to *time.Time) (Summary, error) {
	if from != nil && to != nil && from.After(*to) {
		return Summary{}, pkgerrors.New(pkgerrors.CodeValidation, "from must not be after to")
	}
	rows, err := s.Query(ctx, Filter{VendorID: vendorID, CreatedAfter: from, CreatedBefore: to})
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rows), nil
}

// VendorForAccount resolves the vendor owning a connected account.
func (s *service) VendorForAccount(ctx context.Context, accountID string) (int64, bool, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return 0, false, nil
	}
	if cached, ok := s.cache.Get(accountID); ok {
		return cached.(int64), true, nil
	}
	acct, err := s.vendors.FindByAccountID(ctx, accountID)
	if err != nil {
		return 0, false, err
	}
	if acct == nil {
		return 0, false, nil
	}
	s.cache.SetDefault(accountID, acct.VendorID)
	return acct.VendorID, true, nil
}

// CreateManualPayout pays out from the vendor's connected balance. Transient
// provider failures are queued and reported through RetryID.
func (s *service) CreateManualPayout(ctx context.Context, input ManualPayoutInput) (*ManualPayoutResult, error) {
	input.Currency = strings.ToLower(strings.TrimSpace(input.Currency))
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	if !currencyPattern.MatchString(input.Currency) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency must be a 3-letter code")
	}

	payload := ManualPayoutPayload{
		VendorID:       input.VendorID,
		Amount:         input.Amount.String(),
		Currency:       input.Currency,
		Description:    input.Description,
		IdempotencyKey: uuid.NewString(),
	}
	payout, err := s.createPayout(ctx, payload)
	if err == nil {
		return &ManualPayoutResult{Payout: payout}, nil
	}
	if !pkgerrors.IsRetryable(err) {
		return nil, err
	}

	id, qErr := s.retry.Enqueue(ctx, enums.RetryKindPayout, payload, err, 0)
	if qErr != nil {
		s.logg.Error(s.logg.WithVendorID(ctx, input.VendorID), "enqueue payout retry failed", qErr)
		return nil, err
	}
	s.logg.Warn(s.logg.WithVendorID(ctx, input.VendorID), "manual payout queued for retry")
	return &ManualPayoutResult{RetryID: id}, nil
}

// RetryPayout replays a queued manual payout with its original idempotency key.
func (s *service) RetryPayout(ctx context.Context, payload ManualPayoutPayload) error {
	_, err := s.createPayout(ctx, payload)
	return err
}

func (s *service) createPayout(ctx context.Context, p ManualPayoutPayload) (*stripe.Payout, error) {
	acct, err := s.payableVendor(ctx, p.VendorID)
	if err != nil {
		return nil, err
	}
	amount, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout amount")
	}

	params := &stripe.PayoutParams{
		Amount:   stripe.Int64(stripeclient.ToMinorUnits(amount, p.Currency)),
		Currency: stripe.String(p.Currency),
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	params.AddMetadata("vendor_id", fmt.Sprint(p.VendorID))
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	payout, err := s.provider.CreatePayout(ctx, params, stripeclient.Options{StripeAccount: acct.StripeAccountID})
	if err != nil {
		if accountID, ok := stripeclient.AsAccountDeleted(err); ok {
			if markErr := s.vendors.HandleAccountDeleted(ctx, accountID); markErr != nil {
				s.logg.Error(s.logg.WithAccountID(ctx, accountID), "account deletion remediation failed", markErr)
			}
		}
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(s.logg.WithVendorID(ctx, p.VendorID), map[string]any{
		"payout_id": payout.ID,
		"amount":    p.Amount,
		"currency":  p.Currency,
	}), "manual payout created")
	if _, err := s.Track(ctx, payout, acct.StripeAccountID, p.VendorID, manualEventType); err != nil {
		s.logg.Error(ctx, "track manual payout failed", err)
	}
	return payout, nil
}

// UpdateSchedule sets the automatic payout schedule on the vendor's account.
func (s *service) UpdateSchedule(ctx context.Context, vendorID int64, input ScheduleInput) (*stripe.Account, error) {
	interval := strings.ToLower(strings.TrimSpace(input.Interval))
	if !scheduleIntervals[interval] {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "interval must be manual, daily, weekly or monthly")
	}
	acct, err := s.payableVendor(ctx, vendorID)
	if err != nil {
		return nil, err
	}

	schedule := &stripe.AccountSettingsPayoutsScheduleParams{Interval: stripe.String(interval)}
	if input.DelayDays != nil {
		schedule.DelayDays = stripe.Int64(*input.DelayDays)
	}
	if interval == "weekly" && input.WeeklyAnchor != "" {
		schedule.WeeklyAnchor = stripe.String(strings.ToLower(input.WeeklyAnchor))
	}
	if interval == "monthly" && input.MonthlyAnchor != nil {
		schedule.MonthlyAnchor = stripe.Int64(*input.MonthlyAnchor)
	}
	params := &stripe.AccountParams{
		Settings: &stripe.AccountSettingsParams{
			Payouts: &stripe.AccountSettingsPayoutsParams{Schedule: schedule},
		},
	}

	updated, err := s.provider.UpdateAccount(ctx, acct.StripeAccountID, params)
	if err != nil {
		if accountID, ok := stripeclient.AsAccountDeleted(err); ok {
			if markErr := s.vendors.HandleAccountDeleted(ctx, accountID); markErr != nil {
				s.logg.Error(s.logg.WithAccountID(ctx, accountID), "account deletion remediation failed", markErr)
			}
		}
		return nil, err
	}
	s.logg.Info(s.logg.WithField(s.logg.WithVendorID(ctx, vendorID), "interval", interval), "payout schedule updated")
	return updated, nil
}

func (s *service) payableVendor(ctx context.Context, vendorID int64) (*models.VendorAccount, error) {
	acct, err := s.vendors.Get(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	switch {
	case acct.StripeAccountID == "":
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "vendor has no connected account")
	case acct.Status == enums.VendorAccountDeleted:
		return nil, pkgerrors.New(pkgerrors.CodeAccountDeleted, "connected account was deleted; relink required").
			WithDetails(map[string]any{"stripe_account_id": acct.StripeAccountID})
	}
	return acct, nil
}
