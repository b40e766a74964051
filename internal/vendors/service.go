package vendors

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/connect-reconciler/internal/notifications"
	"github.com/angelmondragon/connect-reconciler/internal/state"
	"github.com/angelmondragon/connect-reconciler/pkg/db"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/enums"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/metrics"
	stripeclient "github.com/angelmondragon/connect-reconciler/pkg/stripe"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"golang.org/x/time/rate"
)

type repository interface {
	FindByVendorID(ctx context.Context, vendorID int64) (*models.VendorAccount, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.VendorAccount, error)
	ListForSweep(ctx context.Context, after int64, limit int) ([]models.VendorAccount, error)
	Save(ctx context.Context, acct *models.VendorAccount) error
	UpdateFields(ctx context.Context, vendorID int64, fields map[string]any) error
}

type stateStore interface {
	SweepCursor(ctx context.Context) (int64, error)
	SetSweepCursor(ctx context.Context, vendorID int64) error
	RecordDeletedAccount(ctx context.Context, entry state.DeletedAccount) error
	DeletedAccounts(ctx context.Context) ([]state.DeletedAccount, error)
}

type retryEnqueuer interface {
	Enqueue(ctx context.Context, kind enums.RetryOperationKind, payload any, cause error, maxAttempts int) (string, error)
}

// SweepStats reports one reconciliation sweep pass.
type SweepStats struct {
	Checked int `json:"checked"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
}

// LinkInput creates (or recreates) a vendor's connected account.
type LinkInput struct {
	VendorID int64
	Email    string
	Country  string
}

// Service reconciles vendor accounts against the provider.
type Service interface {
	Get(ctx context.Context, vendorID int64) (*models.VendorAccount, error)
	FindByAccountID(ctx context.Context, accountID string) (*models.VendorAccount, error)
	ApplySnapshot(ctx context.Context, accountID string, caps Capabilities) (bool, error)
	VerifyAccount(ctx context.Context, vendorID int64) error
	HandleAccountDeleted(ctx context.Context, accountID string) error
	VerifyVendorAccounts(ctx context.Context, limit int) (SweepStats, error)
	Link(ctx context.Context, input LinkInput) (*models.VendorAccount, error)
	OnboardingLink(ctx context.Context, vendorID int64, refreshURL, returnURL string) (*stripe.AccountLink, error)
	CompleteOnboarding(ctx context.Context, vendorID int64) (*models.VendorAccount, error)
	DeletedAccounts(ctx context.Context) ([]state.DeletedAccount, error)
}

type ServiceParams struct {
	Repo           repository
	Provider       stripeclient.Client
	State          stateStore
	Retry          retryEnqueuer
	Notifier       notifications.Notifier
	Logger         *logger.Logger
	Metrics        *metrics.SweepMetrics
	Limiter        *rate.Limiter
	DefaultCountry string
	Clock          func() time.Time
}

type service struct {
	repo           repository
	provider       stripeclient.Client
	state          stateStore
	retry          retryEnqueuer
	notifier       notifications.Notifier
	logg           *logger.Logger
	metrics        *metrics.SweepMetrics
	limiter        *rate.Limiter
	defaultCountry string
	now            func() time.Time
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeDeleted
)

// NewService builds the vendor reconciliation service.
func NewService(p ServiceParams) (Service, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("vendor repository required")
	}
	if p.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if p.State == nil {
		return nil, fmt.Errorf("state store required")
	}
	if p.Retry == nil {
		return nil, fmt.Errorf("retry queue required")
	}
	if p.Notifier == nil {
		p.Notifier = notifications.NewLogNotifier(p.Logger)
	}
	if p.Logger == nil {
		p.Logger = logger.Nop()
	}
	if p.Limiter == nil {
		p.Limiter = rate.NewLimiter(rate.Inf, 1)
	}
	if strings.TrimSpace(p.DefaultCountry) == "" {
		p.DefaultCountry = "US"
	}
	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:           p.Repo,
		provider:       p.Provider,
		state:          p.State,
		retry:          p.Retry,
		notifier:       p.Notifier,
		logg:           p.Logger,
		metrics:        p.Metrics,
		limiter:        p.Limiter,
		defaultCountry: strings.ToUpper(strings.TrimSpace(p.DefaultCountry)),
		now:            func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) Get(ctx context.Context, vendorID int64) (*models.VendorAccount, error) {
	acct, err := s.repo.FindByVendorID(ctx, vendorID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "vendor account not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor account")
	}
	return acct, nil
}

// FindByAccountID returns nil without error when no vendor owns accountID.
func (s *service) FindByAccountID(ctx context.Context, accountID string) (*models.VendorAccount, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, nil
	}
	acct, err := s.repo.FindByAccountID(ctx, accountID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find vendor by account")
	}
	return acct, nil
}

// ApplySnapshot reconciles the vendor owning accountID against pushed
// capability flags. It reports whether the status changed.
func (s *service) ApplySnapshot(ctx context.Context, accountID string, caps Capabilities) (bool, error) {
	acct, err := s.FindByAccountID(ctx, accountID)
	if err != nil {
		return false, err
	}
	logCtx := s.logg.WithAccountID(ctx, accountID)
	if acct == nil {
		s.logg.Info(logCtx, "no vendor linked to account")
		return false, nil
	}
	out, err := s.apply(ctx, acct, caps)
	if err != nil {
		return false, err
	}
	return out == outcomeUpdated, nil
}

func (s *service) apply(ctx context.Context, acct *models.VendorAccount, caps Capabilities) (outcome, error) {
	if acct.Status == enums.VendorAccountDeleted {
		return outcomeUnchanged, nil
	}
	now := s.now()
	next := DeriveStatus(acct.Status, caps)
	fields := map[string]any{
		"charges_enabled":   caps.ChargesEnabled,
		"payouts_enabled":   caps.PayoutsEnabled,
		"details_submitted": caps.DetailsSubmitted,
		"last_checked_at":   now,
	}
	changed := next != acct.Status
	if changed {
		fields["status"] = next
	}
	if err := s.repo.UpdateFields(ctx, acct.VendorID, fields); err != nil {
		return outcomeUnchanged, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update vendor account")
	}

	prev := acct.Status
	acct.ChargesEnabled = caps.ChargesEnabled
	acct.PayoutsEnabled = caps.PayoutsEnabled
	acct.DetailsSubmitted = caps.DetailsSubmitted
	acct.LastCheckedAt = &now
	acct.Status = next

	if !changed {
		return outcomeUnchanged, nil
	}
	s.logg.Info(s.logg.WithFields(s.logg.WithVendorID(ctx, acct.VendorID), map[string]any{
		"from": string(prev),
		"to":   string(next),
	}), "vendor account status changed")
	return outcomeUpdated, nil
}

// VerifyAccount pulls the remote account for one vendor and reconciles it.
func (s *service) VerifyAccount(ctx context.Context, vendorID int64) error {
	acct, err := s.Get(ctx, vendorID)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	_, err = s.reconcile(ctx, acct)
	return err
}

func (s *service) reconcile(ctx context.Context, acct *models.VendorAccount) (outcome, error) {
	if acct.StripeAccountID == "" || acct.Status == enums.VendorAccountDeleted {
		return outcomeUnchanged, nil
	}
	remote, err := s.provider.RetrieveAccount(ctx, acct.StripeAccountID, stripeclient.Options{})
	if err != nil {
		if accountID, ok := stripeclient.AsAccountDeleted(err); ok {
			if markErr := s.markDeleted(ctx, acct, accountID); markErr != nil {
				return outcomeUnchanged, markErr
			}
			return outcomeDeleted, nil
		}
		return outcomeUnchanged, err
	}
	return s.apply(ctx, acct, CapabilitiesFromAccount(remote))
}

// HandleAccountDeleted is the single remediation path for a connected
// account that no longer exists upstream.
func (s *service) HandleAccountDeleted(ctx context.Context, accountID string) error {
	acct, err := s.FindByAccountID(ctx, accountID)
	if err != nil {
		return err
	}
	if acct == nil {
		s.logg.Warn(s.logg.WithAccountID(ctx, accountID), "deleted account has no linked vendor")
		return nil
	}
	return s.markDeleted(ctx, acct, accountID)
}

func (s *service) markDeleted(ctx context.Context, acct *models.VendorAccount, accountID string) error {
	if acct.Status == enums.VendorAccountDeleted {
		return nil
	}
	now := s.now()
	// The index entry goes first: once the row reads deleted no later
	// detection reaches this point again.
	if err := s.state.RecordDeletedAccount(ctx, state.DeletedAccount{
		AccountID:  accountID,
		VendorID:   acct.VendorID,
		DetectedAt: now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record deleted account")
	}

	err := s.repo.UpdateFields(ctx, acct.VendorID, map[string]any{
		"status":              enums.VendorAccountDeleted,
		"charges_enabled":     false,
		"payouts_enabled":     false,
		"last_checked_at":     now,
		"deleted_detected_at": now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark vendor account deleted")
	}
	acct.Status = enums.VendorAccountDeleted
	acct.ChargesEnabled = false
	acct.PayoutsEnabled = false
	acct.LastCheckedAt = &now
	acct.DeletedDetectedAt = &now

	logCtx := s.logg.WithAccountID(s.logg.WithVendorID(ctx, acct.VendorID), accountID)
	s.logg.Warn(logCtx, "connected account deleted upstream")
	if err := s.notifier.Notify(ctx, notifications.AccountDeleted(acct.VendorID, accountID, now)); err != nil {
		s.logg.Error(logCtx, "account deleted notification failed", err)
	}
	return nil
}

// VerifyVendorAccounts reconciles up to limit vendors after the persisted
// cursor. An empty page resets the cursor so the next pass starts over.
func (s *service) VerifyVendorAccounts(ctx context.Context, limit int) (SweepStats, error) {
	var stats SweepStats
	if limit <= 0 {
		return stats, pkgerrors.New(pkgerrors.CodeValidation, "sweep limit must be positive")
	}

	cursor, err := s.state.SweepCursor(ctx)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load sweep cursor")
	}
	batch, err := s.repo.ListForSweep(ctx, cursor, limit)
	if err != nil {
		return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list vendors for sweep")
	}
	if len(batch) == 0 {
		if err := s.state.SetSweepCursor(ctx, 0); err != nil {
			return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reset sweep cursor")
		}
		return stats, nil
	}

	var failures error
	for i := range batch {
		acct := &batch[i]
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, err
		}

		stats.Checked++
		out, err := s.reconcile(ctx, acct)
		switch {
		case err != nil:
			stats.Errors++
			failures = multierr.Append(failures, fmt.Errorf("vendor %d: %w", acct.VendorID, err))
			s.enqueueVerification(ctx, acct, err)
		case out == outcomeUpdated:
			stats.Updated++
		case out == outcomeDeleted:
			stats.Deleted++
		}

		if err := s.state.SetSweepCursor(ctx, acct.VendorID); err != nil {
			return stats, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "advance sweep cursor")
		}
	}

	s.metrics.Add(stats.Checked, stats.Updated, stats.Deleted, stats.Errors)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"checked": stats.Checked,
		"updated": stats.Updated,
		"deleted": stats.Deleted,
		"errors":  stats.Errors,
	})
	if failures != nil {
		s.logg.Error(logCtx, "vendor sweep finished with errors", failures)
	} else {
		s.logg.Info(logCtx, "vendor sweep finished")
	}
	return stats, nil
}

func (s *service) enqueueVerification(ctx context.Context, acct *models.VendorAccount, cause error) {
	payload := VerificationPayload{VendorID: acct.VendorID, AccountID: acct.StripeAccountID}
	if _, err := s.retry.Enqueue(ctx, enums.RetryKindAccountVerification, payload, cause, 0); err != nil {
		s.logg.Error(s.logg.WithVendorID(ctx, acct.VendorID), "enqueue account verification failed", err)
	}
}

// Link creates an Express account for the vendor and stores it as pending.
// A live link is returned unchanged; a deleted one is replaced.
func (s *service) Link(ctx context.Context, input LinkInput) (*models.VendorAccount, error) {
	if input.VendorID <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id required")
	}
	email := strings.TrimSpace(input.Email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "valid email required")
	}
	country := strings.ToUpper(strings.TrimSpace(input.Country))
	if country == "" {
		country = s.defaultCountry
	}

	existing, err := s.repo.FindByVendorID(ctx, input.VendorID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load vendor account")
	}
	if existing != nil && existing.StripeAccountID != "" && existing.Status != enums.VendorAccountDeleted {
		return existing, nil
	}

	params := &stripe.AccountParams{
		Type:    stripe.String(string(stripe.AccountTypeExpress)),
		Country: stripe.String(country),
		Email:   stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.AddMetadata("vendor_id", fmt.Sprint(input.VendorID))

	remote, err := s.provider.CreateAccount(ctx, params)
	if err != nil {
		return nil, err
	}

	now := s.now()
	acct := existing
	if acct == nil {
		acct = &models.VendorAccount{VendorID: input.VendorID, CreatedAt: now}
	}
	caps := CapabilitiesFromAccount(remote)
	acct.StripeAccountID = remote.ID
	acct.Email = email
	acct.Status = enums.VendorAccountPending
	acct.ChargesEnabled = caps.ChargesEnabled
	acct.PayoutsEnabled = caps.PayoutsEnabled
	acct.DetailsSubmitted = caps.DetailsSubmitted
	acct.LastCheckedAt = &now
	acct.DeletedDetectedAt = nil
	if err := s.repo.Save(ctx, acct); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "connected account already linked")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save vendor account")
	}

	s.logg.Info(s.logg.WithAccountID(s.logg.WithVendorID(ctx, acct.VendorID), acct.StripeAccountID), "connected account linked")
	return acct, nil
}

// OnboardingLink returns a hosted onboarding URL for the vendor's account.
func (s *service) OnboardingLink(ctx context.Context, vendorID int64, refreshURL, returnURL string) (*stripe.AccountLink, error) {
	acct, err := s.Get(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if err := linkable(acct); err != nil {
		return nil, err
	}

	params := &stripe.AccountLinkParams{
		Account:    stripe.String(acct.StripeAccountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	link, err := s.provider.CreateAccountLink(ctx, params)
	if err != nil {
		if accountID, ok := stripeclient.AsAccountDeleted(err); ok {
			if markErr := s.markDeleted(ctx, acct, accountID); markErr != nil {
				return nil, multierr.Append(err, markErr)
			}
		}
		return nil, err
	}
	return link, nil
}

// CompleteOnboarding runs after the vendor returns from hosted onboarding.
func (s *service) CompleteOnboarding(ctx context.Context, vendorID int64) (*models.VendorAccount, error) {
	acct, err := s.Get(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	if err := linkable(acct); err != nil {
		return nil, err
	}
	out, err := s.reconcile(ctx, acct)
	if err != nil {
		return nil, err
	}
	if out == outcomeDeleted {
		return nil, pkgerrors.New(pkgerrors.CodeAccountDeleted, "connected account was deleted; relink required").
			WithDetails(map[string]any{"stripe_account_id": acct.StripeAccountID})
	}
	return acct, nil
}

func (s *service) DeletedAccounts(ctx context.Context) ([]state.DeletedAccount, error) {
	entries, err := s.state.DeletedAccounts(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load deleted accounts")
	}
	return entries, nil
}

func linkable(acct *models.VendorAccount) error {
	switch {
	case acct.StripeAccountID == "":
		return pkgerrors.New(pkgerrors.CodeStateConflict, "vendor has no connected account")
	case acct.Status == enums.VendorAccountDeleted:
		return pkgerrors.New(pkgerrors.CodeAccountDeleted, "connected account was deleted; relink required").
			WithDetails(map[string]any{"stripe_account_id": acct.StripeAccountID})
	}
	return nil
}
