package stripe

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	pkgerrors "github.com/angelmondragon/connect-reconciler/pkg/errors"
)

// AccountDeletedError signals that a connected account no longer exists
// upstream. Every code path that sees it converges on the same remediation.
type AccountDeletedError struct {
	AccountID string
	cause     error
}

func (e *AccountDeletedError) Error() string {
	return fmt.Sprintf("stripe account %s no longer exists", e.AccountID)
}

func (e *AccountDeletedError) Unwrap() error { return e.cause }

// AsAccountDeleted extracts the deleted account id from err, if any.
func AsAccountDeleted(err error) (string, bool) {
	var deleted *AccountDeletedError
	if errors.As(err, &deleted) {
		return deleted.AccountID, true
	}
	return "", false
}

// IsResourceMissing reports whether err is Stripe's "no such resource" failure.
func IsResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	if stripeErr.Code == stripe.ErrorCodeResourceMissing {
		return true
	}
	return strings.Contains(strings.ToLower(stripeErr.Msg), "no such account")
}

// translateAccountError is translateError for calls addressing the account
// itself, where any resource-missing answer means the account is gone.
func translateAccountError(op, accountID string, err error) error {
	if err != nil && accountID != "" && IsResourceMissing(err) {
		return accountDeleted(op, accountID, err)
	}
	return translateError(op, accountID, err)
}

// translateError maps stripe-go failures onto the service error taxonomy.
// For calls merely scoped to accountID, deletion is only inferred when the
// upstream message names that account.
func translateError(op, accountID string, err error) error {
	if err == nil {
		return nil
	}

	if accountID != "" && mentionsMissingAccount(err, accountID) {
		return accountDeleted(op, accountID, err)
	}

	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		details := map[string]any{
			"code":        string(stripeErr.Code),
			"type":        string(stripeErr.Type),
			"http_status": stripeErr.HTTPStatusCode,
			"request_id":  stripeErr.RequestID,
		}
		return pkgerrors.Wrap(pkgerrors.CodeProviderAPI, err, op).
			WithDetails(details).
			WithRetryable(retryableStatus(stripeErr.HTTPStatusCode))
	}

	// Transport failures never reached Stripe; always worth another try.
	return pkgerrors.Wrap(pkgerrors.CodeProviderAPI, err, op).WithRetryable(true)
}

func retryableStatus(status int) bool {
	return status == 0 || status == http.StatusTooManyRequests || status == http.StatusConflict || status >= 500
}

func translateWebhookError(err error) error {
	switch {
	case errors.Is(err, webhook.ErrNotSigned),
		errors.Is(err, webhook.ErrInvalidHeader),
		errors.Is(err, webhook.ErrNoValidSignature),
		errors.Is(err, webhook.ErrTooOld):
		return pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "webhook signature verification failed")
	default:
		return pkgerrors.Wrap(pkgerrors.CodePayloadMalformed, err, "webhook payload could not be parsed")
	}
}

func accountDeleted(op, accountID string, err error) error {
	deleted := &AccountDeletedError{AccountID: accountID, cause: err}
	return pkgerrors.Wrap(pkgerrors.CodeAccountDeleted, deleted, op).
		WithDetails(map[string]any{"stripe_account_id": accountID})
}

func mentionsMissingAccount(err error, accountID string) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || !strings.Contains(stripeErr.Msg, accountID) {
		return false
	}
	msg := strings.ToLower(stripeErr.Msg)
	return stripeErr.Code == stripe.ErrorCodeResourceMissing ||
		strings.Contains(msg, "no such account") ||
		strings.Contains(msg, "does not exist")
}
