package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/connect-reconciler/api/responses"
	"github.com/angelmondragon/connect-reconciler/api/validators"
	"github.com/angelmondragon/connect-reconciler/internal/vendors"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

// VendorOnboarding is the slice of the vendors service the onboarding routes use.
type VendorOnboarding interface {
	Link(ctx context.Context, input vendors.LinkInput) (*models.VendorAccount, error)
	OnboardingLink(ctx context.Context, vendorID int64, refreshURL, returnURL string) (*stripe.AccountLink, error)
	CompleteOnboarding(ctx context.Context, vendorID int64) (*models.VendorAccount, error)
}

type connectRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Country string `json:"country" validate:"omitempty,len=2"`
}

type onboardingLinkRequest struct {
	RefreshURL string `json:"refresh_url" validate:"required,url"`
	ReturnURL  string `json:"return_url" validate:"required,url"`
}

// VendorConnect creates the vendor's connected account, or returns the live one.
func VendorConnect(svc VendorOnboarding, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.PathInt64(r, "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body connectRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		acct, err := svc.Link(ctx, vendors.LinkInput{
			VendorID: vendorID,
			Email:    validators.SanitizeString(body.Email, 0),
			Country:  validators.CountryCode(body.Country),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, newVendorAccountResponse(acct))
	}
}

func VendorOnboardingLink(svc VendorOnboarding, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.PathInt64(r, "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body onboardingLinkRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		link, err := svc.OnboardingLink(ctx, vendorID, body.RefreshURL, body.ReturnURL)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"url":        link.URL,
			"expires_at": time.Unix(link.ExpiresAt, 0).UTC(),
		})
	}
}

// VendorOnboardingComplete is the return target after hosted onboarding.
func VendorOnboardingComplete(svc VendorOnboarding, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.PathInt64(r, "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		acct, err := svc.CompleteOnboarding(ctx, vendorID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, newVendorAccountResponse(acct))
	}
}
