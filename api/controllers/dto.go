package controllers

import (
	"time"

	"github.com/angelmondragon/connect-reconciler/pkg/db/models"
)

type vendorAccountResponse struct {
	VendorID          int64      `json:"vendor_id"`
	StripeAccountID   string     `json:"stripe_account_id,omitempty"`
	Status            string     `json:"status"`
	ChargesEnabled    bool       `json:"charges_enabled"`
	PayoutsEnabled    bool       `json:"payouts_enabled"`
	DetailsSubmitted  bool       `json:"details_submitted"`
	LastCheckedAt     *time.Time `json:"last_checked_at,omitempty"`
	DeletedDetectedAt *time.Time `json:"deleted_detected_at,omitempty"`
}

func newVendorAccountResponse(a *models.VendorAccount) vendorAccountResponse {
	return vendorAccountResponse{
		VendorID:          a.VendorID,
		StripeAccountID:   a.StripeAccountID,
		Status:            string(a.Status),
		ChargesEnabled:    a.ChargesEnabled,
		PayoutsEnabled:    a.PayoutsEnabled,
		DetailsSubmitted:  a.DetailsSubmitted,
		LastCheckedAt:     a.LastCheckedAt,
		DeletedDetectedAt: a.DeletedDetectedAt,
	}
}

type payoutResponse struct {
	PayoutID       string     `json:"payout_id"`
	VendorID       int64      `json:"vendor_id"`
	AccountID      string     `json:"stripe_account_id"`
	Amount         string     `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	ArrivalDate    *time.Time `json:"arrival_date,omitempty"`
	LastEventType  string     `json:"last_event_type"`
	LastEventAt    time.Time  `json:"last_event_at"`
	FailureCode    *string    `json:"failure_code,omitempty"`
	FailureMessage *string    `json:"failure_message,omitempty"`
}

func newPayoutResponse(p models.Payout) payoutResponse {
	return payoutResponse{
		PayoutID:       p.PayoutID,
		VendorID:       p.VendorID,
		AccountID:      p.StripeAccountID,
		Amount:         p.Amount.String(),
		Currency:       p.Currency,
		Status:         string(p.Status),
		CreatedAt:      p.PayoutCreatedAt,
		ArrivalDate:    p.ArrivalDate,
		LastEventType:  p.LastEventType,
		LastEventAt:    p.LastEventAt,
		FailureCode:    p.FailureCode,
		FailureMessage: p.FailureMessage,
	}
}

type droppedRetryResponse struct {
	ID          string    `json:"id"`
	Kind        string    `json:"kind"`
	Payload     string    `json:"payload"`
	LastError   string    `json:"last_error"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
	DroppedAt   time.Time `json:"dropped_at"`
}

func newDroppedRetryResponse(d models.RetryQueueDropped) droppedRetryResponse {
	return droppedRetryResponse{
		ID:          d.ID,
		Kind:        string(d.Kind),
		Payload:     d.Payload,
		LastError:   d.LastError,
		Attempts:    d.Attempts,
		MaxAttempts: d.MaxAttempts,
		EnqueuedAt:  d.EnqueuedAt,
		DroppedAt:   d.DroppedAt,
	}
}
