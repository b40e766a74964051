package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/connect-reconciler/api/responses"
	eventrouter "github.com/angelmondragon/connect-reconciler/internal/webhooks"
	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
	"github.com/angelmondragon/connect-reconciler/pkg/logger"
	"github.com/angelmondragon/connect-reconciler/pkg/metrics"
)

const defaultMaxBodyBytes int64 = 1 << 20

type eventDispatcher interface {
	Dispatch(ctx context.Context, event eventrouter.Event) (eventrouter.Result, error)
}

type signatureVerifier interface {
	VerifyWebhook(payload []byte, signatureHeader, secret string) (stripe.Event, error)
}

type duplicateGuard interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// StripeWebhookParams wires the webhook endpoint. Guard is optional.
type StripeWebhookParams struct {
	Dispatcher    eventDispatcher
	Verifier      signatureVerifier
	WebhookSecret string
	Guard         duplicateGuard
	MaxBodyBytes  int64
	Metrics       *metrics.WebhookMetrics
	Logger        *logger.Logger
}

type ackResponse struct {
	Received bool `json:"received"`
	Handled  bool `json:"handled"`
}

// StripeWebhook verifies and dispatches provider events. Once an event is
// verified it is always acknowledged with 200, whatever the handler did.
func StripeWebhook(p StripeWebhookParams) http.HandlerFunc {
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	maxBody := p.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if p.Dispatcher == nil || p.Verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBody))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				p.Metrics.Observe("", metrics.OutcomeRejected)
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "webhook body too large"))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if len(payload) == 0 || sigHeader == "" {
			p.Metrics.Observe("", metrics.OutcomeRejected)
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "missing body or stripe signature"))
			return
		}

		if p.WebhookSecret == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConfiguration, "webhook secret not configured"))
			return
		}

		verified, err := p.Verifier.VerifyWebhook(payload, sigHeader, p.WebhookSecret)
		if err != nil {
			p.Metrics.Observe("", metrics.OutcomeRejected)
			if pkgerrors.As(err) == nil {
				err = pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "webhook verification failed")
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		event := eventrouter.FromStripe(verified)
		ctx = logg.WithEventID(ctx, event.ID)

		if p.Guard != nil {
			seen, err := p.Guard.Seen(ctx, event.ID)
			if err != nil {
				logg.Error(ctx, "webhook duplicate check failed", err)
			} else if seen {
				p.Metrics.Observe(event.RawType, metrics.OutcomeDuplicate)
				logg.Info(ctx, "duplicate webhook event skipped")
				responses.WriteJSON(w, http.StatusOK, ackResponse{Received: true})
				return
			}
		}

		result, err := p.Dispatcher.Dispatch(ctx, event)
		if err != nil {
			logg.Error(logg.WithField(ctx, "event_type", event.RawType), "webhook handler failed", err)
		}

		responses.WriteJSON(w, http.StatusOK, ackResponse{Received: true, Handled: result.Handled})
	}
}
