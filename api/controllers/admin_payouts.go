package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/connect-reconciler/api/responses"
	"github.com/angelmondragon/connect-reconciler/api/validators"
	"github.com/angelmondragon/connect-reconciler/internal/payouts"
	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
)

// PayoutAdmin is the slice of the payouts service operators reach over HTTP.
type PayoutAdmin interface {
	Query(ctx context.Context, f payouts.Filter) ([]models.Payout, error)
	Summary(ctx context.Context, vendorID *int64, from, to *time.Time) (payouts.Summary, error)
	CreateManualPayout(ctx context.Context, input payouts.ManualPayoutInput) (*payouts.ManualPayoutResult, error)
	UpdateSchedule(ctx context.Context, vendorID int64, input payouts.ScheduleInput) (*stripe.Account, error)
}

type manualPayoutRequest struct {
	Amount      string `json:"amount" validate:"required"`
	Currency    string `json:"currency" validate:"required,len=3"`
	Description string `json:"description" validate:"omitempty,max=255"`
}

type payoutScheduleRequest struct {
	Interval      string `json:"interval" validate:"required,oneof=manual daily weekly monthly"`
	DelayDays     *int64 `json:"delay_days" validate:"omitempty,min=0"`
	WeeklyAnchor  string `json:"weekly_anchor" validate:"omitempty,oneof=monday tuesday wednesday thursday friday saturday sunday"`
	MonthlyAnchor *int64 `json:"monthly_anchor" validate:"omitempty,min=1,max=31"`
}

type payoutListResponse struct {
	Payouts []payoutResponse `json:"payouts"`
	Count   int              `json:"count"`
}

func AdminListPayouts(svc PayoutAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		filter, err := parsePayoutFilter(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		records, err := svc.Query(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		out := make([]payoutResponse, 0, len(records))
		for _, rec := range records {
			out = append(out, newPayoutResponse(rec))
		}
		responses.WriteSuccess(w, payoutListResponse{Payouts: out, Count: len(out)})
	}
}

func AdminPayoutSummary(svc PayoutAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.ParseQueryInt64Ptr(r, "vendor_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		from, err := validators.ParseQueryTime(r, "from")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		to, err := validators.ParseQueryTime(r, "to")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		summary, err := svc.Summary(ctx, vendorID, from, to)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}

// AdminCreatePayout answers 201 with the payout, or 202 with the retry id
// when the provider failed transiently and the request was queued.
func AdminCreatePayout(svc PayoutAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.PathInt64(r, "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body manualPayoutRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(body.Amount))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount must be a decimal").
				WithDetails(map[string]any{"field": "amount"}))
			return
		}

		result, err := svc.CreateManualPayout(ctx, payouts.ManualPayoutInput{
			VendorID:    vendorID,
			Amount:      amount,
			Currency:    validators.CurrencyCode(body.Currency),
			Description: validators.SanitizeString(body.Description, 255),
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if result.Payout == nil {
			responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]any{
				"queued":   true,
				"retry_id": result.RetryID,
			})
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, map[string]any{
			"payout_id": result.Payout.ID,
			"status":    string(result.Payout.Status),
			"amount":    result.Payout.Amount,
			"currency":  string(result.Payout.Currency),
		})
	}
}

func AdminUpdatePayoutSchedule(svc PayoutAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.PathInt64(r, "vendorID")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var body payoutScheduleRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		acct, err := svc.UpdateSchedule(ctx, vendorID, payouts.ScheduleInput{
			Interval:      body.Interval,
			DelayDays:     body.DelayDays,
			WeeklyAnchor:  body.WeeklyAnchor,
			MonthlyAnchor: body.MonthlyAnchor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		resp := map[string]any{"vendor_id": vendorID, "account_id": acct.ID}
		if acct.Settings != nil && acct.Settings.Payouts != nil && acct.Settings.Payouts.Schedule != nil {
			resp["interval"] = string(acct.Settings.Payouts.Schedule.Interval)
		}
		responses.WriteSuccess(w, resp)
	}
}

func parsePayoutFilter(r *http.Request) (payouts.Filter, error) {
	q := r.URL.Query()
	f := payouts.Filter{
		Status:   strings.TrimSpace(q.Get("status")),
		Currency: validators.CurrencyCode(q.Get("currency")),
		PayoutID: strings.TrimSpace(q.Get("payout_id")),
	}
	var err error
	if f.VendorID, err = validators.ParseQueryInt64Ptr(r, "vendor_id"); err != nil {
		return f, err
	}
	if f.MinAmount, err = validators.ParseQueryDecimal(r, "min_amount"); err != nil {
		return f, err
	}
	if f.MaxAmount, err = validators.ParseQueryDecimal(r, "max_amount"); err != nil {
		return f, err
	}
	if f.CreatedAfter, err = validators.ParseQueryTime(r, "created_after"); err != nil {
		return f, err
	}
	if f.CreatedBefore, err = validators.ParseQueryTime(r, "created_before"); err != nil {
		return f, err
	}
	if f.Limit, err = validators.ParseQueryInt(r, "limit", 100, 1, 1000); err != nil {
		return f, err
	}
	return f, nil
}
